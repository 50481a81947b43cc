package c12

import (
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
)

const CodeWait byte = 0x70

// WaitRequest writes the Wait service: one byte of seconds. Used both as an
// ordinary application call and, with a small seconds value, as the
// background keep-alive's periodic no-op.
func WaitRequest(body *buffer.Bidi, seconds byte) {
	epsem.SendServiceWithData(body, CodeWait, []byte{seconds})
}
