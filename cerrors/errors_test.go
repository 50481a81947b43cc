package cerrors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndIs(t *testing.T) {
	err := New(Meter, "InvalidChecksum", "checksum mismatch: %d != %d", 1, 2)
	require.True(t, Is(err, "InvalidChecksum"), "expected Is to match on Code")
	require.False(t, Is(err, "OtherCode"), "expected Is to reject mismatched Code")
	require.Contains(t, err.Error(), "checksum mismatch: 1 != 2")
}

func TestAsError(t *testing.T) {
	err := New(Security, "PossibleTamperingDetected", "tag mismatch")
	e, ok := AsError(err)
	require.True(t, ok, "expected AsError to succeed")
	require.Equal(t, Security, e.Kind)

	_, ok = AsError(errors.New("plain"))
	require.False(t, ok, "expected AsError to fail on a plain error")
}

func TestAnnotateIsIdempotent(t *testing.T) {
	err := New(Communication, "ChannelReadTimeout", "timed out")
	once := Annotate(err, "TableRead")
	twice := Annotate(once, "TableRead")
	require.Equal(t, once.Error(), twice.Error(), "Annotate should be idempotent")
	require.True(t, strings.HasPrefix(once.Error(), "in TableRead: "))
}

func TestAnnotateWrapsPlainErrors(t *testing.T) {
	err := errors.New("boom")
	annotated := Annotate(err, "Logon")
	require.Contains(t, annotated.Error(), "boom")
	require.Contains(t, annotated.Error(), "Logon")
}

func TestRetriesExpiredIsIdempotent(t *testing.T) {
	err := New(Meter, "C12ServiceResponseBSY", "busy")
	once := RetriesExpired(err)
	twice := RetriesExpired(once)
	require.Equal(t, once.Error(), twice.Error(), "RetriesExpired should be idempotent")
	require.True(t, strings.HasPrefix(once.Error(), "retries expired with error: "))
}

func TestWithBytesRead(t *testing.T) {
	err := New(Communication, "ChannelReadTimeout", "short read").WithBytesRead(7)
	require.Equal(t, 7, err.BytesRead)
}

func TestNilErrorsPassThrough(t *testing.T) {
	require.Nil(t, Annotate(nil, "X"))
	require.Nil(t, RetriesExpired(nil))
}
