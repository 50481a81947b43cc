package c12

import (
	"encoding/binary"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
)

// Procedure invocation rides on the standard procedure-initiate/response
// tables: ST7 (table 7) carries the call, ST8 (table 8) carries the result,
// per spec.md §4.F. engine.Engine.ExecuteFunction's two round trips are plain
// TableWrite/TableRead calls against these two table numbers.
const (
	ProcedureInitiateTable byte = 7
	ProcedureResponseTable byte = 8
)

// ResultRetryable is the only ST8 result code spec.md §4.F allows the
// application-layer procedure retry counter to retry on.
const ResultRetryable byte = 1

// ProcedureRequestBody builds the ST7 payload: <u16 N> <u8 seq>
// <request-bytes>, with N big-endian; ProcedureRequestBodyLE is the
// little-endian (meter_is_little_endian) form.
func ProcedureRequestBody(procNum uint16, seq byte, request []byte) []byte {
	data := make([]byte, 2+1+len(request))
	putProcNum(data[0:2], procNum, false)
	data[2] = seq
	copy(data[3:], request)
	return data
}

// ProcedureRequestBodyLE is ProcedureRequestBody with N written
// little-endian, for meters whose meter_is_little_endian flag is set.
func ProcedureRequestBodyLE(procNum uint16, seq byte, request []byte) []byte {
	data := make([]byte, 2+1+len(request))
	putProcNum(data[0:2], procNum, true)
	data[2] = seq
	copy(data[3:], request)
	return data
}

func putProcNum(dst []byte, n uint16, little bool) {
	if little {
		dst[0] = byte(n)
		dst[1] = byte(n >> 8)
	} else {
		binary.BigEndian.PutUint16(dst, n)
	}
}

// ProcedureCall writes the table-write half of a procedure invocation
// (ST7): TableWrite into ProcedureInitiateTable with the
// ProcedureRequestBody payload.
func ProcedureCall(body *buffer.Bidi, requestBody []byte) {
	TableWriteRequest(body, uint16(ProcedureInitiateTable), requestBody)
}

// ProcedureResult is the decoded ST8 response.
type ProcedureResult struct {
	ProcNumEcho uint16
	SeqEcho     byte
	ResultCode  byte
	Data        []byte
}

// BadProcedureResult surfaces a non-zero ST8 result code, per spec.md §4.F.
type BadProcedureResult struct {
	Code byte
}

func (e *BadProcedureResult) Error() string {
	return cerrors.New(cerrors.Meter, "BadProcedureResult", "procedure result code %d", e.Code).Error()
}

// ParseProcedureResponse decodes the table-read response body returned by
// reading ProcedureResponseTable (the ST8 half of a procedure invocation):
// <u16 N-echo> <u8 seq-echo> <u8 result-code> <response-bytes>.
//
// Per spec.md §9's documented decision, the sequence-number echo is never
// compared against what was sent — ParseProcedureResponse returns it for the
// caller to inspect but does not itself validate it.
func ParseProcedureResponse(tableData []byte) (*ProcedureResult, error) {
	if len(tableData) < 4 {
		return nil, cerrors.New(cerrors.Meter, "ExpectedDataSizeDifferent", "ST8 response shorter than its 4-byte header")
	}
	res := &ProcedureResult{
		ProcNumEcho: binary.BigEndian.Uint16(tableData[0:2]),
		SeqEcho:     tableData[2],
		ResultCode:  tableData[3],
		Data:        tableData[4:],
	}
	if res.ResultCode != 0 {
		return res, &BadProcedureResult{Code: res.ResultCode}
	}
	return res, nil
}
