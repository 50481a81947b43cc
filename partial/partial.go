// Package partial implements the partial-transfer splitter of spec.md §4.J:
// breaking an oversize table read or write into bounded chunks and
// concatenating (or replaying) them, with progress reporting. Requests
// larger than the per-request cap are always decomposed, even when the
// caller used the non-partial API — ReadTable/WriteTable short-circuit to a
// single whole request when the size fits.
package partial

import "github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"

// Progress reports bytes completed out of total; may be nil.
type Progress func(done, total int)

// ReadExec performs one partial read at the given offset and length cap,
// returning whatever bytes the peer actually returned (which may be fewer
// than requested, at the final chunk).
type ReadExec func(offset uint32, length uint16) ([]byte, error)

// ReadTable reads total bytes starting at offset 0, in chunks no larger than
// cap, concatenating the results. If total <= cap it issues exactly one
// call to exec.
func ReadTable(exec ReadExec, total int, cap uint16, progress Progress) ([]byte, error) {
	if total < 0 {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "negative total length %d", total)
	}
	if cap == 0 {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "zero per-request cap")
	}
	out := make([]byte, 0, total)
	var offset uint32
	for len(out) < total {
		remaining := total - len(out)
		chunkLen := cap
		if remaining < int(cap) {
			chunkLen = uint16(remaining)
		}
		chunk, err := exec(offset, chunkLen)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		offset += uint32(len(chunk))
		if progress != nil {
			progress(len(out), total)
		}
		if len(chunk) == 0 {
			return nil, cerrors.New(cerrors.Meter, "ExpectedDataSizeDifferent", "partial read returned zero bytes before completion (%d/%d)", len(out), total)
		}
	}
	return out[:total], nil
}

// WriteExec performs one partial write of data at the given offset.
type WriteExec func(offset uint32, data []byte) error

// WriteTable writes all of data, in chunks no larger than cap. If
// len(data) <= cap it issues exactly one call to exec.
func WriteTable(exec WriteExec, data []byte, cap uint16, progress Progress) error {
	if cap == 0 {
		return cerrors.New(cerrors.Software, "InvalidParameter", "zero per-request cap")
	}
	total := len(data)
	var offset uint32
	for int(offset) < total {
		end := int(offset) + int(cap)
		if end > total {
			end = total
		}
		chunk := data[offset:end]
		if err := exec(offset, chunk); err != nil {
			return err
		}
		offset += uint32(len(chunk))
		if progress != nil {
			progress(int(offset), total)
		}
	}
	if total == 0 {
		if err := exec(0, nil); err != nil {
			return err
		}
		if progress != nil {
			progress(0, 0)
		}
	}
	return nil
}
