// Package epsem packs and parses the EPSEM service stream: the
// concatenated `<BER length><command byte>[<body>]` services that make up an APDU's
// EPSEM content once the ACSE control byte has been stripped off. It has no
// knowledge of C12 response codes (that lives in package c12, which
// consumes epsem.Parser's Reader) so the two packages don't import each
// other.
package epsem

import (
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/ber"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
)

// SendService appends a bodiless service: BER length 1, then the code.
func SendService(body *buffer.Bidi, code byte) {
	body.Append(ber.EncodeLength(1))
	body.Append([]byte{code})
}

// SendServiceWithData appends `<BER length of 1+len(data)> <code> <data>`,
// per spec.md §4.E — the length covers the command byte plus its body.
func SendServiceWithData(body *buffer.Bidi, code byte, data []byte) {
	body.Append(ber.EncodeLength(1 + len(data)))
	body.Append([]byte{code})
	body.Append(data)
}

// Parser walks a sequence of services out of a received EPSEM body.
type Parser struct {
	r *buffer.Reader
}

// NewParser wraps data (the EPSEM body, ACSE control byte already removed)
// for sequential service reads.
func NewParser(data []byte) *Parser {
	return &Parser{r: buffer.NewReader(data)}
}

// Reader exposes the underlying cursor for services that need direct field
// access (e.g. table read/write bodies with their own internal layout, or
// c12.CheckResponse's status-byte-plus-parameters read).
func (p *Parser) Reader() *buffer.Reader { return p.r }

// Remaining reports how many bytes are left to parse.
func (p *Parser) Remaining() int { return p.r.Remaining() }

// ServiceCode reads the one-byte response/command code for the next
// service. Per spec.md §9's documented Open Question, codes in [0x20,0x80)
// are protocol extensions, not NOK responses — despite being non-zero, they
// are returned as-is, and the caller is expected to interpret them as
// ordinary service identifiers rather than routing them through
// c12.CheckResponse.
func (p *Parser) ServiceCode() (byte, error) {
	return p.r.ReadU8()
}

// BeginService reads the BER length prefixing the next service entry and
// narrows the reader to exactly that many bytes, mirroring the teacher's
// ReceiveServiceLength/ReceiveServiceCodeIgnoreLength pair (spec.md §4.E):
// every EPSEM service, request or response, is `<BER length> <code> [body]`.
// It resets the reader's end position to the full buffer first so it can be
// called repeatedly across a multi-service body. ok is false once no
// services remain.
func (p *Parser) BeginService() (ok bool, err error) {
	p.r.ResetEnd()
	if p.r.Remaining() == 0 {
		return false, nil
	}
	n, err := ber.DecodeLength(p.r)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	p.r.NarrowRelative(n)
	return true, nil
}

// EndService skips to the end of the current service's narrowed frame, so
// the next BeginService starts at the right offset even when the service's
// own parser left trailing bytes unread (e.g. a NOK whose parameter bytes
// the caller chose not to consume).
func (p *Parser) EndService() {
	p.r.SkipToEnd()
}
