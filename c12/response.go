package c12

import "github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"

// CheckResponse reads the one-byte C12 response status from r and, on
// failure, reads every remaining byte in r's current (possibly narrowed)
// frame as trailing parameters and returns a *NokResponse — a NOK response
// carries nothing else, so whatever bytes the caller scoped r to beyond the
// status byte belong to the error. A zero status, or any status in
// [0x20,0x80) (spec.md §9 Open Question #2 — preserved verbatim as a
// protocol extension range, not an error, flagged here rather than silently
// reinterpreted), is success and returns nil, leaving r positioned for the
// caller to keep reading a normal response body.
func CheckResponse(r *buffer.Reader) error {
	b, err := r.ReadU8()
	if err != nil {
		return err
	}
	code := Code(b)
	if code == OK {
		return nil
	}
	if b >= 0x20 && b < 0x80 {
		return nil
	}
	var params []byte
	if n := r.Remaining(); n > 0 {
		params, err = r.ReadBytes(n)
		if err != nil {
			return err
		}
	}
	return &NokResponse{Code: code, Params: params}
}
