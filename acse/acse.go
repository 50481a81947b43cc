// Package acse builds and destructures the ACSE header of a C12.22 APDU:
// the outer 0x60-tagged element carrying application context, AP titles,
// invocation ids, the calling authentication value, and the
// user-information-external wrapper around the EPSEM body. It also
// implements the canonified-cleartext construction EAX authenticates over.
//
// The encode/parse shape is grounded on the teacher's
// rmcpHeader/ipmi20SessionHeader pack()/parse pair and
// sol.Session.buildAuthenticatedPacket (optional trailer appended only when
// an algorithm is active), generalized from IPMI's fixed-width session
// header to C12.22's tagged, variable, optional-field ACSE header.
package acse

import (
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/ber"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/eax"
)

// Tag values for the ACSE elements, spec.md §3/§4.D.
const (
	TagApplicationContext  byte = 0xA1
	TagCalledAPTitle       byte = 0xA2
	TagCalledInvocationID  byte = 0xA4
	TagCallingAPTitle      byte = 0xA6
	TagCallingAEQualifier  byte = 0xA7
	TagCallingInvocationID byte = 0xA8
	TagCallingAuthValue    byte = 0xAC
	TagOuter               byte = 0x60
	TagUserInfoExternal    byte = 0xBE
	Tag28                  byte = 0x28
	Tag81                  byte = 0x81
)

// SecurityMode mirrors spec.md §3.
type SecurityMode int

const (
	SecurityUndefined SecurityMode = -1
	SecurityClear     SecurityMode = 0
	SecurityClearAuth SecurityMode = 1
	SecurityCipherAuth SecurityMode = 2
)

// ResponseControl mirrors spec.md §3.
type ResponseControl int

const (
	ResponseAlways      ResponseControl = 0
	ResponseOnException ResponseControl = 1
	ResponseNever       ResponseControl = 2
)

// EpsemControl packs the EPSEM control byte's bit fields (spec.md §3).
type EpsemControl struct {
	Recovery        bool
	Proxy           bool
	EdClassPresent  bool
	SecurityMode    SecurityMode
	ResponseControl ResponseControl
}

// Byte packs the fields into the wire representation:
// reserved(1) | recovery(1) | proxy(1) | ed-class-present(1) | security-mode(2) | response-control(2).
func (c EpsemControl) Byte() byte {
	var b byte
	if c.Recovery {
		b |= 1 << 6
	}
	if c.Proxy {
		b |= 1 << 5
	}
	if c.EdClassPresent {
		b |= 1 << 4
	}
	b |= byte(c.SecurityMode&0x3) << 2
	b |= byte(c.ResponseControl & 0x3)
	return b
}

// ParseEpsemControl unpacks a control byte.
func ParseEpsemControl(b byte) EpsemControl {
	return EpsemControl{
		Recovery:        b&(1<<6) != 0,
		Proxy:           b&(1<<5) != 0,
		EdClassPresent:  b&(1<<4) != 0,
		SecurityMode:    SecurityMode((b >> 2) & 0x3),
		ResponseControl: ResponseControl(b & 0x3),
	}
}

// Header is the set of ACSE fields spec.md §3 names, all optional except
// where noted.
type Header struct {
	ApplicationContext  string // absolute OID
	CalledAPTitle       string // absolute or relative OID
	CalledInvocationID  *uint32
	CallingAPTitle      string
	CallingAEQualifier  *uint32
	CallingInvocationID *uint32 // always present outgoing
	AuthKeyID           *byte
	AuthIV              *uint32
	RawAuthElement      []byte // the AC element's raw bytes, as received (for canonification on parse)
	IsResponse          bool   // set by Parse when a called-invocation-id element was present
}

// AuthValuePresent reports whether the calling authentication value is set.
func (h *Header) AuthValuePresent() bool {
	return h.AuthKeyID != nil && h.AuthIV != nil
}

// EncodeInput is everything Encode needs beyond the Header itself.
type EncodeInput struct {
	Header       Header
	Control      EpsemControl
	Body         []byte // the concatenated EPSEM services, cleartext
	Key          *eax.Key
	ApTitleOctets []byte // calling AP title, raw octets, for the EAX nonce
	IsResponse   bool    // called-invocation-id is only sent on responses
}

// Encode builds a complete APDU per spec.md §4.D's seven-step procedure and
// returns the outgoing bytes.
func Encode(in EncodeInput) ([]byte, error) {
	headerReserve := 1024 // MaximumLegacyApduHeaderSize; always enough head-room.
	buf := buffer.NewBidi(headerReserve)

	// Step 1: control byte prepended to body.
	buf.Append(in.Body)
	bodyWithControl := append([]byte{in.Control.Byte()}, in.Body...)

	secMode := in.Control.SecurityMode
	macSize := 0
	if secMode != SecurityClear {
		macSize = eax.TagSize
	}

	// Step 2: BER length of (current size + MAC size). "Current size" is the
	// control byte plus body, since that's what PSEM content comprises.
	epsemLen := len(bodyWithControl) + macSize
	lenBytes := ber.EncodeLength(epsemLen)

	// We rebuild the buffer from scratch now that we know the exact layout,
	// since the control byte must sit *inside* the 81-wrapped region.
	buf = buffer.NewBidi(headerReserve)
	buf.Append(in.Body)
	buf.Prepend([]byte{in.Control.Byte()})
	// Prepend `81 <len>`.
	buf.Prepend(lenBytes)
	buf.Prepend([]byte{Tag81})

	// `81 <len> <control>`, without the body — the slice canonify covers.
	epsemHeaderPrefix := append([]byte{Tag81}, lenBytes...)
	epsemHeaderPrefix = append(epsemHeaderPrefix, in.Control.Byte())

	innerRegion := buf.Bytes() // `81 <len> <control> <body>`, length needed for the 0x28 wrapper

	// Step 3: wrap with `28 <len>` then `BE <len>`.
	innerLen := ber.EncodeLength(len(innerRegion))
	buf.Prepend(innerLen)
	buf.Prepend([]byte{Tag28})
	outerInnerLen := ber.EncodeLength(len(buf.Bytes()))
	buf.Prepend(outerInnerLen)
	buf.Prepend([]byte{TagUserInfoExternal})

	// Step 4: AC element, only if security != clear and this is the first
	// use of this key-id/IV in the session (caller decides via
	// in.Header.AuthKeyID/AuthIV being non-nil — session.State only fills
	// these in when it needs to (re)send them).
	if secMode != SecurityClear && in.Header.AuthValuePresent() {
		ac := encodeAuthValue(*in.Header.AuthKeyID, *in.Header.AuthIV)
		buf.Prepend(ac)
		in.Header.RawAuthElement = ac
	}

	// Step 5: run encrypt/authenticate over the canonified cleartext, then
	// append the MAC (cipher+auth encrypts the body in place first).
	if secMode != SecurityClear {
		if in.Header.AuthKeyID == nil || in.Header.AuthIV == nil {
			return nil, cerrors.New(cerrors.Software, "InvalidParameter", "security mode %v requires key-id and IV", secMode)
		}
		var iv [4]byte
		putU32(iv[:], *in.Header.AuthIV)
		e := eax.New(in.Key, iv, in.ApTitleOctets)

		if secMode == SecurityCipherAuth {
			canon := canonify(in.Header, epsemHeaderPrefix, *in.Header.AuthKeyID, iv, nil)
			ciphertext, tag, err := e.Encrypt(canon, in.Body)
			if err != nil {
				return nil, err
			}
			// Splice ciphertext over the plaintext body we already wrote.
			copy(buf.Body()[len(buf.Body())-len(in.Body):], ciphertext)
			buf.Append(tag[:])
		} else {
			// Clear+auth: the EAX tag covers the cleartext body too, so it
			// actually authenticates the service data, not just the header.
			canon := canonify(in.Header, epsemHeaderPrefix, *in.Header.AuthKeyID, iv, in.Body)
			tag, err := e.Authenticate(canon)
			if err != nil {
				return nil, err
			}
			buf.Append(tag[:])
		}
	}

	// Step 6: prepend outer ACSE elements in descending order (A8, A7, A6,
	// A4, A2, A1) so the final buffer reads ascending.
	if in.Header.CallingInvocationID != nil {
		buf.PrependTaggedU32(TagCallingInvocationID, ber.EncodeMinimalUnsigned(*in.Header.CallingInvocationID))
	}
	if in.Header.CallingAEQualifier != nil {
		buf.PrependTaggedU32(TagCallingAEQualifier, ber.EncodeMinimalUnsigned(*in.Header.CallingAEQualifier))
	}
	if in.Header.CallingAPTitle != "" {
		encoded, err := ber.EncodeTaggedUID(TagCallingAPTitle, in.Header.CallingAPTitle)
		if err != nil {
			return nil, err
		}
		buf.Prepend(encoded)
	}
	if in.IsResponse && in.Header.CalledInvocationID != nil {
		buf.PrependTaggedU32(TagCalledInvocationID, ber.EncodeMinimalUnsigned(*in.Header.CalledInvocationID))
	}
	if in.Header.CalledAPTitle != "" {
		encoded, err := ber.EncodeTaggedUID(TagCalledAPTitle, in.Header.CalledAPTitle)
		if err != nil {
			return nil, err
		}
		buf.Prepend(encoded)
	}
	if in.Header.ApplicationContext != "" {
		encoded, err := ber.EncodeTaggedUID(TagApplicationContext, in.Header.ApplicationContext)
		if err != nil {
			return nil, err
		}
		buf.Prepend(encoded)
	}

	// Step 7: outer BER length and 0x60 tag.
	buf.Prepend(ber.EncodeLength(len(buf.Bytes())))
	buf.Prepend([]byte{TagOuter})

	return append([]byte(nil), buf.Bytes()...), nil
}

func encodeAuthValue(keyID byte, iv uint32) []byte {
	// AC 0F A2 0D A0 0B A1 09 80 01 <key-id> 81 04 <iv>
	var ivb [4]byte
	putU32(ivb[:], iv)
	a1 := append([]byte{0xA1, 0x09, 0x80, 0x01, keyID, 0x81, 0x04}, ivb[:]...)
	a0 := append([]byte{0xA0, 0x0B}, a1...)
	ac := append([]byte{0xAC, 0x0F}, a0...)
	return ac
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
