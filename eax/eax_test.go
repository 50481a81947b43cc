package eax

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *Key {
	t.Helper()
	k, err := NewKey(make([]byte, KeySize))
	require.NoError(t, err)
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k := testKey(t)
	e1 := New(k, [4]byte{1, 2, 3, 4}, []byte{0x0A, 0x0B})
	plaintext := []byte("table read response body")
	assoc := []byte("header bytes")

	ciphertext, tag, err := e1.Encrypt(assoc, plaintext)
	require.NoError(t, err)

	e2 := New(k, [4]byte{1, 2, 3, 4}, []byte{0x0A, 0x0B})
	got, ok, err := e2.Decrypt(assoc, ciphertext, tag)
	require.NoError(t, err)
	require.True(t, ok, "expected tag to verify")
	if diff := cmp.Diff(plaintext, got); diff != "" {
		t.Errorf("decrypted plaintext mismatch (-want +got):\n%s", diff)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	k := testKey(t)
	e := New(k, [4]byte{1, 2, 3, 4}, []byte{0x0A})
	ciphertext, tag, err := e.Encrypt([]byte("hdr"), []byte("secret"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF
	_, ok, err := e.Decrypt([]byte("hdr"), ciphertext, tag)
	require.NoError(t, err)
	require.False(t, ok, "expected tamper detection to fail verification")
}

func TestDecryptRejectsTamperedAssociatedData(t *testing.T) {
	k := testKey(t)
	e := New(k, [4]byte{9, 9, 9, 9}, []byte{0x01})
	ciphertext, tag, err := e.Encrypt([]byte("hdr-a"), []byte("secret"))
	require.NoError(t, err)

	_, ok, err := e.Decrypt([]byte("hdr-b"), ciphertext, tag)
	require.NoError(t, err)
	require.False(t, ok, "expected associated-data mismatch to fail verification")
}

func TestAuthenticateAndVerifyClearMode(t *testing.T) {
	k := testKey(t)
	e1 := New(k, [4]byte{5, 6, 7, 8}, []byte{0xAA, 0xBB, 0xCC})
	tag, err := e1.Authenticate([]byte("clear header + body"))
	require.NoError(t, err)

	e2 := New(k, [4]byte{5, 6, 7, 8}, []byte{0xAA, 0xBB, 0xCC})
	ok, err := e2.Verify([]byte("clear header + body"), tag)
	require.NoError(t, err)
	require.True(t, ok, "expected clear+auth tag to verify")
}

func TestVerifyRejectsWrongTag(t *testing.T) {
	k := testKey(t)
	e := New(k, [4]byte{1}, []byte{0x01})
	var badTag [TagSize]byte
	ok, err := e.Verify([]byte("anything"), badTag)
	require.NoError(t, err)
	require.False(t, ok, "expected zero tag to fail verification")
}

func TestKeyDestroyBlocksFurtherUse(t *testing.T) {
	k := testKey(t)
	k.Destroy()
	e := New(k, [4]byte{1}, []byte{1})
	_, _, err := e.Encrypt(nil, []byte("x"))
	require.Error(t, err, "expected error using a destroyed key")
}

func TestNewKeyRejectsWrongLength(t *testing.T) {
	_, err := NewKey(make([]byte, 10))
	require.Error(t, err, "expected error for non-16-byte key")
}
