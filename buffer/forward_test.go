package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForwardAppendBytes(t *testing.T) {
	f := NewForward(nil)
	f.Append([]byte{1, 2})
	f.Append([]byte{3})
	require.Equal(t, 3, f.Len())
	require.Equal(t, []byte{1, 2, 3}, f.Bytes())
}

func TestReaderSequentialReads(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB, 0xCC})
	b, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), b)

	u16, err := r.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0203), u16)

	rest, err := r.ReadBytes(4)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0xAA, 0xBB, 0xCC}, rest)
	require.Zero(t, r.Remaining())
}

func TestReaderReadU24AndU32(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	u24, err := r.ReadU24()
	require.NoError(t, err)
	require.Equal(t, uint32(0x010203), u24)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x04050607), u32)
}

func TestReaderReadPastEndErrors(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadBytes(2)
	require.Error(t, err)

	r2 := NewReader(nil)
	_, err = r2.ReadU8()
	require.Error(t, err)
}

func TestReaderNarrowAndResetEnd(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	r.NarrowRelative(2)
	require.Equal(t, 2, r.Remaining())

	b, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, byte(1), b)

	r.SkipToEnd()
	require.Equal(t, 2, r.Pos())

	r.ResetEnd()
	require.Equal(t, 3, r.Remaining())
}

func TestReaderNarrowPanicsOnInvalidRange(t *testing.T) {
	defer func() {
		require.NotNil(t, recover(), "expected panic narrowing past buffer end")
	}()
	r := NewReader([]byte{1, 2})
	r.Narrow(5)
}

func TestReaderReadBERLength(t *testing.T) {
	r := NewReader([]byte{0x05})
	n, err := r.ReadBERLength()
	require.NoError(t, err)
	require.Equal(t, 5, n)

	r2 := NewReader([]byte{0x82, 0x01, 0x00})
	n2, err := r2.ReadBERLength()
	require.NoError(t, err)
	require.Equal(t, 0x0100, n2)
}

func TestReaderReadBERLengthRejectsOversizeCount(t *testing.T) {
	r := NewReader([]byte{0x84, 0, 0, 0, 0})
	_, err := r.ReadBERLength()
	require.Error(t, err)
}
