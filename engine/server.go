package engine

import (
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/c12"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
)

// ServerStart, ServerReset, ProcessIncomingEPSEM, and ServerEnd are thin
// pass-throughs for emulation/testing (spec.md §4.K): they let a test build
// a scripted meter on top of the same session/table-service machinery the
// client half uses, without a second implementation of the wire format.

// ServerStart resets session state for a fresh emulated server run.
func (e *Engine) ServerStart() {
	e.sess.Reset()
	e.sess.SetInSession(true)
}

// ServerReset clears session state, as if the emulated meter had been
// power-cycled.
func (e *Engine) ServerReset() {
	e.sess.Reset()
}

// ServerEnd tears down the emulated server's session state.
func (e *Engine) ServerEnd() {
	e.sess.Reset()
	e.sess.SetInSession(false)
}

// ProcessIncomingEPSEM takes one EPSEM request body (control byte already
// stripped) and returns the EPSEM response body an ideal meter would send
// back: OK for every table read/write/procedure/Logon/Security/Wait/Logoff/
// Terminate service it recognizes, SNS for anything else. It has no
// persistent table store — a full TableRead returns an empty payload and
// TableReadPartial a zero-filled payload of the requested length — so it exists to drive engine_test.go's
// channel/fake scripted-meter tests, not as a real table server.
func (e *Engine) ProcessIncomingEPSEM(request []byte) []byte {
	in := epsem.NewParser(request)
	out := buffer.NewBidi(0)

	for {
		ok, err := in.BeginService()
		if err != nil || !ok {
			break
		}
		code, err := in.ServiceCode()
		if err != nil {
			break
		}
		serveOne(in, out, code)
		in.EndService()
	}
	return out.Body()
}

func serveOne(in *epsem.Parser, out *buffer.Bidi, code byte) {
	r := in.Reader()
	switch code {
	case c12.CodeLogon:
		_, _ = r.ReadBytes(14) // user-id, user, session-timeout
		epsem.SendServiceWithData(out, 0x00, []byte{0, 60})
	case c12.CodeSecurity:
		n := r.Remaining()
		if n >= 20 {
			_, _ = r.ReadBytes(20)
			if n > 20 {
				_, _ = r.ReadBytes(n - 20)
			}
		}
		epsem.SendService(out, 0x00)
	case c12.CodeWait:
		_, _ = r.ReadBytes(r.Remaining())
		epsem.SendService(out, 0x00)
	case c12.CodeLogoff, c12.CodeTerminate:
		epsem.SendService(out, 0x00)
	case c12.CodeTableRead:
		table, err := r.ReadU16()
		if err != nil {
			return
		}
		data := make([]byte, 0)
		writeTableReadResponse(out, table, data)
	case c12.CodeTableReadPartial:
		_, _ = r.ReadU16()
		_, _ = r.ReadU24()
		length, err := r.ReadU16()
		if err != nil {
			return
		}
		writeTableReadResponse(out, 0, make([]byte, length))
	case c12.CodeTableWrite:
		_, _ = r.ReadU16()
		length, err := r.ReadU16()
		if err != nil {
			return
		}
		_, _ = r.ReadBytes(int(length))
		_, _ = r.ReadU8()
		epsem.SendService(out, 0x00)
	case c12.CodeTableWritePartial:
		_, _ = r.ReadU16()
		_, _ = r.ReadU24()
		length, err := r.ReadU16()
		if err != nil {
			return
		}
		_, _ = r.ReadBytes(int(length))
		_, _ = r.ReadU8()
		epsem.SendService(out, 0x00)
	default:
		epsem.SendService(out, 0x02) // SNS: service not supported
	}
}

func writeTableReadResponse(out *buffer.Bidi, _ uint16, data []byte) {
	payload := make([]byte, 2+len(data)+1)
	payload[0] = byte(len(data) >> 8)
	payload[1] = byte(len(data))
	copy(payload[2:], data)
	payload[len(payload)-1] = c12.Checksum(data)
	epsem.SendServiceWithData(out, 0x00, payload)
}
