package acse

import "github.com/ElsterSolutionsOpensource/C12Adapter-sub004/ber"

// canonify builds the associated-data buffer EAX authenticates over, per
// spec.md §4.C: every ACSE element present, in ascending tag order
// (A1 application context, A2 called AP title, A4 called invocation id,
// A6 calling AP title, A7 calling AE qualifier, A8 calling invocation id),
// omitting whichever weren't present on the outgoing/incoming packet; then
// the APDU header bytes through the EPSEM control byte (`81 <len> <control>`,
// without the body); then the AC element's raw form if one was present on
// the wire; then the one-byte key-id; then the 4-byte IV; then — clear+auth
// only — the cleartext EPSEM body. Cipher+auth passes the body to
// Encrypt/Decrypt as the encrypted leg instead of folding it in here, so
// callers pass a nil clearBody for that mode.
//
// This mirrors sol.Session's RAKP canonicalization, which also concatenates
// session/role/name fields ahead of the payload before computing its
// integrity HMAC, rather than MACing the wire bytes directly.
func canonify(h Header, epsemHeaderPrefix []byte, keyID byte, iv [4]byte, clearBody []byte) []byte {
	var out []byte
	if h.ApplicationContext != "" {
		if enc, err := ber.EncodeTaggedUID(TagApplicationContext, h.ApplicationContext); err == nil {
			out = append(out, enc...)
		}
	}
	if h.CalledAPTitle != "" {
		if enc, err := ber.EncodeTaggedUID(TagCalledAPTitle, h.CalledAPTitle); err == nil {
			out = append(out, enc...)
		}
	}
	if h.CalledInvocationID != nil {
		out = append(out, ber.EncodeTaggedUnsigned(TagCalledInvocationID, *h.CalledInvocationID)...)
	}
	if h.CallingAPTitle != "" {
		if enc, err := ber.EncodeTaggedUID(TagCallingAPTitle, h.CallingAPTitle); err == nil {
			out = append(out, enc...)
		}
	}
	if h.CallingAEQualifier != nil {
		out = append(out, ber.EncodeTaggedUnsigned(TagCallingAEQualifier, *h.CallingAEQualifier)...)
	}
	if h.CallingInvocationID != nil {
		out = append(out, ber.EncodeTaggedUnsigned(TagCallingInvocationID, *h.CallingInvocationID)...)
	}

	out = append(out, epsemHeaderPrefix...)

	if len(h.RawAuthElement) > 0 {
		out = append(out, h.RawAuthElement...)
	}
	out = append(out, keyID)
	out = append(out, iv[:]...)
	out = append(out, clearBody...)
	return out
}
