package c12

import (
	"encoding/binary"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
)

const (
	CodeLogoff  byte = 0x52
	CodeTerminate byte = 0x21
	CodeLogon   byte = 0x50
)

// userFieldSize is the fixed width of Logon's "user" field (spec.md §4.F).
const userFieldSize = 10

// LogonRequest writes the Logon service: u16 user-id, 10 bytes of user
// (space-padded/truncated), u16 session-timeout (seconds).
func LogonRequest(body *buffer.Bidi, userID uint16, user string, sessionTimeout uint16) {
	data := make([]byte, 2+userFieldSize+2)
	binary.BigEndian.PutUint16(data[0:2], userID)
	copy(data[2:2+userFieldSize], padUser(user))
	binary.BigEndian.PutUint16(data[2+userFieldSize:], sessionTimeout)
	epsem.SendServiceWithData(body, CodeLogon, data)
}

func padUser(user string) []byte {
	out := make([]byte, userFieldSize)
	for i := range out {
		out[i] = ' '
	}
	copy(out, user)
	return out
}

// LogonResponse parses a Logon response: status, u16 negotiated-timeout.
func LogonResponse(data []byte) (negotiatedTimeout uint16, err error) {
	p := epsem.NewParser(data)
	if _, err := p.BeginService(); err != nil {
		return 0, err
	}
	r := p.Reader()
	if err := CheckResponse(r); err != nil {
		return 0, err
	}
	negotiatedTimeout, err = r.ReadU16()
	return negotiatedTimeout, err
}

// LogoffRequest writes the bodiless Logoff service.
func LogoffRequest(body *buffer.Bidi) {
	epsem.SendService(body, CodeLogoff)
}

// TerminateRequest writes the bodiless Terminate service.
func TerminateRequest(body *buffer.Bidi) {
	epsem.SendService(body, CodeTerminate)
}

// StatusOnlyResponse parses a response carrying only a status byte
// (Logoff, Terminate, Security, Wait, TableWrite, TableWritePartial).
func StatusOnlyResponse(data []byte) error {
	p := epsem.NewParser(data)
	if _, err := p.BeginService(); err != nil {
		return err
	}
	return CheckResponse(p.Reader())
}
