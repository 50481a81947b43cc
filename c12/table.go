package c12

import (
	"encoding/binary"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/epsem"
)

const (
	CodeTableRead        byte = 0x30
	CodeTableReadPartial byte = 0x3F
	CodeTableWrite       byte = 0x40
	CodeTableWritePartial byte = 0x4F
)

// TableReadRequest writes a full TableRead service: u16 table-number.
func TableReadRequest(body *buffer.Bidi, table uint16) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, table)
	epsem.SendServiceWithData(body, CodeTableRead, data)
}

// TableReadPartialRequest writes a TableReadPartial service: u16 table,
// u24 offset, u16 length.
func TableReadPartialRequest(body *buffer.Bidi, table uint16, offset uint32, length uint16) {
	data := make([]byte, 2+3+2)
	binary.BigEndian.PutUint16(data[0:2], table)
	putU24(data[2:5], offset)
	binary.BigEndian.PutUint16(data[5:7], length)
	epsem.SendServiceWithData(body, CodeTableReadPartial, data)
}

// TableReadResponse parses a TableRead/TableReadPartial response: status,
// u16 len, len bytes of data, u8 checksum. The checksum is verified against
// Checksum(data); a mismatch surfaces as InvalidChecksum.
func TableReadResponse(raw []byte) ([]byte, error) {
	p := epsem.NewParser(raw)
	if _, err := p.BeginService(); err != nil {
		return nil, err
	}
	r := p.Reader()
	if err := CheckResponse(r); err != nil {
		return nil, err
	}
	length, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}
	check, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if !VerifyChecksum(data, check) {
		return nil, cerrors.New(cerrors.Meter, "InvalidChecksum", "table read checksum mismatch")
	}
	return data, nil
}

// TableWriteRequest writes a full TableWrite service: u16 table, u16 len,
// data, checksum.
func TableWriteRequest(body *buffer.Bidi, table uint16, data []byte) {
	payload := make([]byte, 2+2+len(data)+1)
	binary.BigEndian.PutUint16(payload[0:2], table)
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(data)))
	copy(payload[4:], data)
	payload[len(payload)-1] = Checksum(data)
	epsem.SendServiceWithData(body, CodeTableWrite, payload)
}

// TableWritePartialRequest writes a TableWritePartial service: u16 table,
// u24 offset, u16 len, data, checksum.
func TableWritePartialRequest(body *buffer.Bidi, table uint16, offset uint32, data []byte) {
	payload := make([]byte, 2+3+2+len(data)+1)
	binary.BigEndian.PutUint16(payload[0:2], table)
	putU24(payload[2:5], offset)
	binary.BigEndian.PutUint16(payload[5:7], uint16(len(data)))
	copy(payload[7:], data)
	payload[len(payload)-1] = Checksum(data)
	epsem.SendServiceWithData(body, CodeTableWritePartial, payload)
}

func putU24(dst []byte, v uint32) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}
