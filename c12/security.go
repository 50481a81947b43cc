package c12

import (
	"encoding/binary"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
)

const CodeSecurity byte = 0x51

// passwordFieldSize is the fixed width of Security's password field.
const passwordFieldSize = 20

// PasswordEntry is a zero-on-drop password container, mirroring
// eax.Key.Destroy's zeroization pattern for the password-list fallback
// (spec.md §4.F).
type PasswordEntry struct {
	bytes [passwordFieldSize]byte
	set   bool
}

// NewPasswordEntry copies password (truncated/space-padded to 20 bytes).
func NewPasswordEntry(password string) *PasswordEntry {
	e := &PasswordEntry{set: true}
	for i := range e.bytes {
		e.bytes[i] = ' '
	}
	copy(e.bytes[:], password)
	return e
}

// Destroy zero-fills the password. Safe to call multiple times.
func (e *PasswordEntry) Destroy() {
	for i := range e.bytes {
		e.bytes[i] = 0
	}
	e.set = false
}

func (e *PasswordEntry) bytesOrErr() ([]byte, error) {
	if !e.set {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "password entry has been destroyed")
	}
	return e.bytes[:], nil
}

// SecurityKeyEntry is the C12.22 analog of PasswordEntry for the AES key
// used for EAX (spec.md §4.F's security-key list fallback).
type SecurityKeyEntry struct {
	bytes [16]byte
	set   bool
}

// NewSecurityKeyEntry copies key (must be 16 bytes).
func NewSecurityKeyEntry(key []byte) (*SecurityKeyEntry, error) {
	if len(key) != 16 {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "security key must be 16 bytes, got %d", len(key))
	}
	e := &SecurityKeyEntry{set: true}
	copy(e.bytes[:], key)
	return e, nil
}

// Destroy zero-fills the key. Safe to call multiple times.
func (e *SecurityKeyEntry) Destroy() {
	for i := range e.bytes {
		e.bytes[i] = 0
	}
	e.set = false
}

func (e *SecurityKeyEntry) Bytes() ([]byte, error) {
	if !e.set {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "security key entry has been destroyed")
	}
	return e.bytes[:], nil
}

// SecurityRequest writes the Security service for session mode: 20-byte
// password only.
func SecurityRequest(body *buffer.Bidi, password *PasswordEntry) error {
	pw, err := password.bytesOrErr()
	if err != nil {
		return err
	}
	epsem.SendServiceWithData(body, CodeSecurity, pw)
	return nil
}

// SecuritySessionlessRequest writes the Security service for sessionless
// mode: 20-byte password followed by u16 user-id.
func SecuritySessionlessRequest(body *buffer.Bidi, password *PasswordEntry, userID uint16) error {
	pw, err := password.bytesOrErr()
	if err != nil {
		return err
	}
	data := make([]byte, passwordFieldSize+2)
	copy(data, pw)
	binary.BigEndian.PutUint16(data[passwordFieldSize:], userID)
	epsem.SendServiceWithData(body, CodeSecurity, data)
	return nil
}
