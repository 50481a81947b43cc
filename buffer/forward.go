// Package buffer provides the two byte containers the protocol engine
// assembles APDUs with: an append-only forward buffer with a cursor reader,
// and a bidirectional buffer that reserves a header region so an outgoing
// APDU's ACSE header can be wrapped around its body after the body's final
// size is known.
package buffer

import (
	"fmt"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
)

// Forward is a simple append-only byte buffer.
type Forward struct {
	data []byte
}

// NewForward wraps an existing byte slice (e.g. a received APDU) for
// sequential reading, or starts empty for building one up with Append.
func NewForward(data []byte) *Forward {
	return &Forward{data: data}
}

// Append adds bytes to the tail of the buffer.
func (f *Forward) Append(b []byte) { f.data = append(f.data, b...) }

// Bytes returns the buffer's full contents.
func (f *Forward) Bytes() []byte { return f.data }

// Len returns the number of bytes currently in the buffer.
func (f *Forward) Len() int { return len(f.data) }

// Reader is a cursor over a Forward buffer's bytes. Multiple readers may be
// created over the same buffer; none of them mutate it.
type Reader struct {
	data []byte
	pos  int
	end  int // exclusive; narrowed by Narrow
}

// NewReader returns a reader positioned at the start of the buffer.
func (f *Forward) NewReader() *Reader {
	return &Reader{data: f.data, pos: 0, end: len(f.data)}
}

// NewReader returns a reader over an arbitrary byte slice (used when parsing
// a standalone received APDU rather than a Forward buffer under
// construction).
func NewReader(data []byte) *Reader {
	return &Reader{data: data, pos: 0, end: len(data)}
}

// Remaining reports how many bytes are left before the reader's end
// position (which may have been narrowed).
func (r *Reader) Remaining() int { return r.end - r.pos }

// Pos returns the reader's current absolute offset into the buffer.
func (r *Reader) Pos() int { return r.pos }

// End returns the reader's current end position.
func (r *Reader) End() int { return r.end }

// Narrow restricts the reader's end position, e.g. to the length declared by
// a BER length field for one EPSEM service. Narrowing past the underlying
// data, or before the current cursor position, is a programmer error.
func (r *Reader) Narrow(end int) {
	if end < r.pos || end > len(r.data) {
		panic(fmt.Sprintf("buffer: invalid narrow to %d (pos=%d len=%d)", end, r.pos, len(r.data)))
	}
	r.end = end
}

// NarrowRelative narrows the reader to n bytes measured from the current
// cursor position — the shape epsem.Parser.BeginService uses to bound a
// single service's body.
func (r *Reader) NarrowRelative(n int) {
	r.Narrow(r.pos + n)
}

// ResetEnd restores the reader's end position to the full underlying data
// length, undoing any previous Narrow. epsem.Parser calls this before
// reading the next service's length out of a multi-service body.
func (r *Reader) ResetEnd() {
	r.end = len(r.data)
}

// SkipToEnd advances the cursor to the reader's current end position,
// discarding any unread trailing bytes of a narrowed service — used so a
// service whose parser didn't consume its full declared length doesn't
// desynchronize the next service's length read.
func (r *Reader) SkipToEnd() {
	r.pos = r.end
}

// ReadU8 reads a single byte, or returns ExpectedDataSizeDifferent if the
// reader has run past its (possibly narrowed) end.
func (r *Reader) ReadU8() (byte, error) {
	if r.pos >= r.end {
		return 0, expectedSizeMismatch(r)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > r.end {
		return nil, expectedSizeMismatch(r)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU16 reads a big-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadU24 reads a big-endian, 3-byte unsigned integer into a uint32.
func (r *Reader) ReadU24() (uint32, error) {
	b, err := r.ReadBytes(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadU32 reads a big-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// ReadBERLength reads a BER length field (1 to 3 octets here, per spec.md
// §4.B): a single byte below 0x80 is the length itself; otherwise the low 7
// bits of the first byte give the count of following big-endian length
// octets (at most 3 in this protocol).
func (r *Reader) ReadBERLength() (int, error) {
	first, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	if first < 0x80 {
		return int(first), nil
	}
	count := int(first &^ 0x80)
	if count == 0 || count > 3 {
		return 0, cerrors.New(cerrors.Meter, "BadFileFormat", "invalid BER length octet count %d", count)
	}
	n := 0
	for i := 0; i < count; i++ {
		b, err := r.ReadU8()
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(b)
	}
	return n, nil
}

func expectedSizeMismatch(r *Reader) error {
	return cerrors.New(cerrors.Software, "ExpectedDataSizeDifferent",
		"read past end of buffer (pos=%d end=%d len=%d)", r.pos, r.end, len(r.data))
}
