package acse

import (
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/ber"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/eax"
)

// ParseInput carries the APDU bytes plus the context a bare APDU can't
// reconstruct on its own: the current session's AES key, the calling AP
// title octets feeding the EAX nonce, and the key-id/IV to assume when an
// incoming APDU omits the AC element because it's reusing the last one
// this session already established.
type ParseInput struct {
	APDU                 []byte
	Key                  *eax.Key
	CallingAPTitleOctets []byte
	FallbackKeyID        *byte
	FallbackIV           *uint32
}

// Parse destructures a received APDU, verifying its authentication tag (and
// decrypting its body, for cipher+auth) before returning the EPSEM control
// byte and cleartext service content. A tag mismatch surfaces as a
// Security-kind error (PossibleTamperingDetected), never a panic.
func Parse(in ParseInput) (*Header, EpsemControl, []byte, error) {
	r := buffer.NewReader(in.APDU)

	tag, err := r.ReadU8()
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	if tag != TagOuter {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "expected outer ACSE tag 0x60, got 0x%02X", tag)
	}
	outerLen, err := ber.DecodeLength(r)
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	outerEnd := r.Pos() + outerLen
	r.Narrow(outerEnd)

	h := &Header{}
	var isResponse bool

	for r.Remaining() > 0 {
		t, err := r.ReadU8()
		if err != nil {
			return nil, EpsemControl{}, nil, err
		}
		switch t {
		case TagApplicationContext:
			oid, err := ber.DecodeUID(r, false)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.ApplicationContext = oid
		case TagCalledAPTitle:
			oid, err := ber.DecodeUID(r, true)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.CalledAPTitle = oid
		case TagCalledInvocationID:
			v, err := ber.DecodeTaggedUnsigned(r)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.CalledInvocationID = &v
			isResponse = true
		case TagCallingAPTitle:
			oid, err := ber.DecodeUID(r, true)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.CallingAPTitle = oid
		case TagCallingAEQualifier:
			v, err := ber.DecodeTaggedUnsigned(r)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.CallingAEQualifier = &v
		case TagCallingInvocationID:
			v, err := ber.DecodeTaggedUnsigned(r)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.CallingInvocationID = &v
		case TagCallingAuthValue:
			ln, err := ber.DecodeLength(r)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			start := r.Pos()
			keyID, iv, err := parseAuthValueBody(r, ln)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.AuthKeyID = &keyID
			h.AuthIV = &iv
			h.RawAuthElement = append([]byte(nil), in.APDU[start-2:r.Pos()]...)
			r.Narrow(outerEnd) // parseAuthValueBody narrowed to the AC element's own bound; restore the outer frame
		case TagUserInfoExternal:
			body, control, epsemHeader, err := parseUserInfo(r)
			if err != nil {
				return nil, EpsemControl{}, nil, err
			}
			h.IsResponse = isResponse
			return finish(h, control, body, epsemHeader, in)
		default:
			return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "unexpected ACSE tag 0x%02X", t)
		}
	}
	return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "APDU missing user-information element")
}

func parseAuthValueBody(r *buffer.Reader, ln int) (byte, uint32, error) {
	end := r.Pos() + ln
	r.Narrow(end)
	// AC body: A0 0B A1 09 80 01 <key-id> 81 04 <iv:4>
	if _, err := r.ReadBytes(4); err != nil { // A0 0B A1 09
		return 0, 0, err
	}
	if _, err := r.ReadBytes(2); err != nil { // 80 01
		return 0, 0, err
	}
	keyID, err := r.ReadU8()
	if err != nil {
		return 0, 0, err
	}
	if _, err := r.ReadBytes(2); err != nil { // 81 04
		return 0, 0, err
	}
	iv, err := r.ReadU32()
	if err != nil {
		return 0, 0, err
	}
	return keyID, iv, nil
}

// parseUserInfo unwraps `BE <len> 28 <len> 81 <len> <control> <body...>`,
// returning the EPSEM control byte, the raw service content exactly as it
// came off the wire (ciphertext for cipher+auth, cleartext otherwise, MAC
// bytes still attached when security is active), and the `81 <len> <control>`
// prefix canonify covers.
func parseUserInfo(r *buffer.Reader) ([]byte, EpsemControl, []byte, error) {
	outerLen, err := ber.DecodeLength(r)
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	r.Narrow(r.Pos() + outerLen)

	tag28, err := r.ReadU8()
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	if tag28 != Tag28 {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "expected tag 0x28, got 0x%02X", tag28)
	}
	innerLen, err := ber.DecodeLength(r)
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	r.Narrow(r.Pos() + innerLen)

	tag81, err := r.ReadU8()
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	if tag81 != Tag81 {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "expected tag 0x81, got 0x%02X", tag81)
	}
	epsemLen, err := ber.DecodeLength(r)
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	lenBytes := ber.EncodeLength(epsemLen)
	payload, err := r.ReadBytes(epsemLen)
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	if len(payload) < 1 {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "empty EPSEM payload")
	}
	control := ParseEpsemControl(payload[0])

	epsemHeaderPrefix := append([]byte{Tag81}, lenBytes...)
	epsemHeaderPrefix = append(epsemHeaderPrefix, payload[0])

	return payload[1:], control, epsemHeaderPrefix, nil
}

func finish(h *Header, control EpsemControl, wireBody []byte, epsemHeaderPrefix []byte, in ParseInput) (*Header, EpsemControl, []byte, error) {
	if control.SecurityMode == SecurityClear {
		return h, control, wireBody, nil
	}

	if len(wireBody) < eax.TagSize {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Meter, "BadFileFormat", "EPSEM payload too short for MAC")
	}
	macStart := len(wireBody) - eax.TagSize
	content := wireBody[:macStart]
	var wantTag [eax.TagSize]byte
	copy(wantTag[:], wireBody[macStart:])

	keyID := h.AuthKeyID
	iv := h.AuthIV
	if keyID == nil {
		keyID = in.FallbackKeyID
	}
	if iv == nil {
		iv = in.FallbackIV
	}
	if keyID == nil || iv == nil {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Security, "SecurityUnsupportedAlgorithm", "no key-id/IV available to verify secured APDU")
	}

	var ivb [4]byte
	putU32(ivb[:], *iv)
	e := eax.New(in.Key, ivb, in.CallingAPTitleOctets)

	if control.SecurityMode == SecurityCipherAuth {
		canon := canonify(*h, epsemHeaderPrefix, *keyID, ivb, nil)
		plaintext, ok, err := e.Decrypt(canon, content, wantTag)
		if err != nil {
			return nil, EpsemControl{}, nil, err
		}
		if !ok {
			return nil, EpsemControl{}, nil, cerrors.New(cerrors.Security, "PossibleTamperingDetected", "EAX tag mismatch on secured APDU")
		}
		return h, control, plaintext, nil
	}

	// Clear+auth: content is already cleartext; it must feed the same
	// canonified buffer the sender authenticated, body included.
	canon := canonify(*h, epsemHeaderPrefix, *keyID, ivb, content)
	ok, err := e.Verify(canon, wantTag)
	if err != nil {
		return nil, EpsemControl{}, nil, err
	}
	if !ok {
		return nil, EpsemControl{}, nil, cerrors.New(cerrors.Security, "PossibleTamperingDetected", "EAX tag mismatch on secured APDU")
	}
	return h, control, content, nil
}
