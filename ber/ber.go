// Package ber implements the subset of ISO 8825 (BER) encoding the ACSE
// layer needs: variable-width lengths, OID ("UID") encoding, and
// minimal-width tagged unsigned integers. It is hand-rolled rather than
// built on a generic BER-TLV library (see DESIGN.md) because C12.22's OID
// packing and unsigned encoding are protocol-specific, and because a
// reflect-based mapper would conflict with spec.md §1's exclusion of
// reflection/property dispatch.
package ber

import (
	"strconv"
	"strings"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
)

// EncodeLength encodes n as a BER length: a single byte if n < 0x80,
// otherwise 0x80|octetCount followed by the big-endian value, using at most
// 3 length octets (spec.md §4.B).
func EncodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var octets []byte
	for shift := 16; shift >= 0; shift -= 8 {
		b := byte(n >> uint(shift))
		if len(octets) > 0 || b != 0 || shift == 0 {
			octets = append(octets, b)
		}
	}
	return append([]byte{0x80 | byte(len(octets))}, octets...)
}

// DecodeLength reads a BER length from r, rejecting an octet count above 3.
func DecodeLength(r *buffer.Reader) (int, error) {
	return r.ReadBERLength()
}

// IsUIDRelative reports whether s (a dotted-decimal OID string) is relative,
// i.e. begins with '.'.
func IsUIDRelative(s string) bool {
	return strings.HasPrefix(s, ".")
}

// EncodeTaggedUID encodes oid (dotted-decimal, absolute or relative) into
// packed base-128 octets wrapped as `<tag> <len> <value>`. Per spec.md §4.B,
// for absolute OIDs the first two arcs collapse into a single first octet
// (40*arc0 + arc1), exactly as standard ASN.1 OID encoding does.
func EncodeTaggedUID(tag byte, oid string) ([]byte, error) {
	value, err := encodeUIDValue(oid)
	if err != nil {
		return nil, err
	}
	out := []byte{tag}
	out = append(out, EncodeLength(len(value))...)
	out = append(out, value...)
	return out, nil
}

// EncodeUIDValue returns the packed base-128 octets for oid, without any
// tag/length wrapper — used when an OID's raw value bytes feed something
// other than a tagged ACSE element (e.g. the EAX nonce's AP-title octets).
func EncodeUIDValue(oid string) ([]byte, error) {
	return encodeUIDValue(oid)
}

func encodeUIDValue(oid string) ([]byte, error) {
	relative := IsUIDRelative(oid)
	s := oid
	if relative {
		s = s[1:]
	}
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ".")
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, cerrors.New(cerrors.Software, "InvalidParameter", "invalid OID arc %q in %q", p, oid)
		}
		arcs[i] = v
	}
	if relative {
		var out []byte
		for _, a := range arcs {
			out = append(out, encodeBase128(a)...)
		}
		return out, nil
	}
	if len(arcs) < 2 {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "absolute OID %q needs at least two arcs", oid)
	}
	first := arcs[0]*40 + arcs[1]
	out := encodeBase128(first)
	for _, a := range arcs[2:] {
		out = append(out, encodeBase128(a)...)
	}
	return out, nil
}

func encodeBase128(v uint64) []byte {
	if v == 0 {
		return []byte{0x00}
	}
	var rev []byte
	for v > 0 {
		rev = append(rev, byte(v&0x7F))
		v >>= 7
	}
	out := make([]byte, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		b := rev[i]
		if i != 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// DecodeUID decodes a packed base-128 OID value (read via r) back into its
// dotted-decimal string form. relative selects whether the value is decoded
// as a relative OID (each arc stands alone) or absolute (the first octet
// group expands into two leading arcs).
func DecodeUID(r *buffer.Reader, relative bool) (string, error) {
	ln, err := DecodeLength(r)
	if err != nil {
		return "", err
	}
	raw, err := r.ReadBytes(ln)
	if err != nil {
		return "", err
	}
	arcs, err := decodeBase128Arcs(raw)
	if err != nil {
		return "", err
	}
	if len(arcs) == 0 {
		if relative {
			return ".", nil
		}
		return "", nil
	}
	var parts []string
	if relative {
		for _, a := range arcs {
			parts = append(parts, strconv.FormatUint(a, 10))
		}
		return "." + strings.Join(parts, "."), nil
	}
	first := arcs[0]
	arc0 := first / 40
	if arc0 > 2 {
		arc0 = 2
	}
	arc1 := first - arc0*40
	parts = append(parts, strconv.FormatUint(arc0, 10), strconv.FormatUint(arc1, 10))
	for _, a := range arcs[1:] {
		parts = append(parts, strconv.FormatUint(a, 10))
	}
	return strings.Join(parts, "."), nil
}

func decodeBase128Arcs(raw []byte) ([]uint64, error) {
	var arcs []uint64
	var cur uint64
	inArc := false
	for _, b := range raw {
		cur = cur<<7 | uint64(b&0x7F)
		inArc = true
		if b&0x80 == 0 {
			arcs = append(arcs, cur)
			cur = 0
			inArc = false
		}
	}
	if inArc {
		return nil, cerrors.New(cerrors.Meter, "BadFileFormat", "truncated base-128 OID arc")
	}
	return arcs, nil
}

// EncodeTaggedUnsigned encodes `<tag> <len> <minimal big-endian value>`,
// dropping leading zero bytes (but keeping at least one byte for value 0).
func EncodeTaggedUnsigned(tag byte, v uint32) []byte {
	value := EncodeMinimalUnsigned(v)
	out := []byte{tag, byte(len(value))}
	return append(out, value...)
}

// EncodeMinimalUnsigned returns the minimal-width big-endian encoding of v.
func EncodeMinimalUnsigned(v uint32) []byte {
	if v == 0 {
		return []byte{0}
	}
	var rev []byte
	for v > 0 {
		rev = append(rev, byte(v))
		v >>= 8
	}
	out := make([]byte, len(rev))
	for i, b := range rev {
		out[len(rev)-1-i] = b
	}
	return out
}

// DecodeTaggedUnsigned reads a length-prefixed big-endian unsigned value
// (the tag itself is assumed already consumed by the caller).
func DecodeTaggedUnsigned(r *buffer.Reader) (uint32, error) {
	ln, err := DecodeLength(r)
	if err != nil {
		return 0, err
	}
	raw, err := r.ReadBytes(ln)
	if err != nil {
		return 0, err
	}
	var v uint32
	for _, b := range raw {
		v = v<<8 | uint32(b)
	}
	return v, nil
}
