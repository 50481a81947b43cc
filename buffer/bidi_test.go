package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBidiAppendBody(t *testing.T) {
	b := NewBidi(8)
	b.Append([]byte{1, 2, 3})
	require.Equal(t, []byte{1, 2, 3}, b.Body())
}

func TestBidiPrependWrapsOutward(t *testing.T) {
	b := NewBidi(8)
	b.Append([]byte{0xAA, 0xBB})
	b.Prepend([]byte{0x02}) // innermost header byte
	b.Prepend([]byte{0x01}) // outermost header byte
	require.Equal(t, []byte{0x01, 0x02, 0xAA, 0xBB}, b.Bytes())
	require.Equal(t, []byte{0xAA, 0xBB}, b.Body(), "Body should still exclude header")
}

func TestBidiPrependBeyondReserveGrows(t *testing.T) {
	b := NewBidi(1)
	b.Append([]byte{0xEE})
	for i := 0; i < 10; i++ {
		b.Prepend([]byte{byte(i)})
	}
	require.Len(t, b.Bytes(), 11)
	require.Equal(t, byte(0xEE), b.Bytes()[10], "body byte displaced by head growth")
}

func TestBidiPrependTaggedU32(t *testing.T) {
	b := NewBidi(8)
	b.Append([]byte{0x01})
	b.PrependTaggedU32(0x80, []byte{0x01, 0x02})
	require.Equal(t, []byte{0x80, 0x02, 0x01, 0x02, 0x01}, b.Bytes())
}

func TestBidiPrependU16(t *testing.T) {
	b := NewBidi(8)
	b.Append([]byte{0xFF})
	b.PrependU16(0x0102)
	require.Equal(t, []byte{0x01, 0x02, 0xFF}, b.Bytes())
}
