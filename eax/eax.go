// Package eax implements AES-128 EAX mode authenticated encryption as used
// by ANSI C12.22: CTR-mode encryption combined with three OMAC1/CMAC
// evaluations (over the nonce, the associated data, and the ciphertext),
// with the resulting tag truncated to 4 bytes for the wire. The OMAC leg
// uses github.com/aead/cmac (see DESIGN.md) rather than a hand-rolled CMAC.
package eax

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"github.com/aead/cmac"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
)

// TagSize is the truncated EAX tag length C12.22 puts on the wire.
const TagSize = 4

// KeySize is the AES-128 key length this profile uses exclusively.
const KeySize = 16

// Key is a zero-on-drop AES-128 key container, mirroring the teacher's
// derived session keys (k1/k2) and spec.md §9's zeroization design note.
type Key struct {
	bytes [KeySize]byte
	set   bool
}

// NewKey copies k (which must be 16 bytes) into a new Key.
func NewKey(k []byte) (*Key, error) {
	if len(k) != KeySize {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "AES key must be %d bytes, got %d", KeySize, len(k))
	}
	key := &Key{set: true}
	copy(key.bytes[:], k)
	return key, nil
}

// Destroy zero-fills the key material. Safe to call multiple times.
func (k *Key) Destroy() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
	k.set = false
}

func (k *Key) block() (cipher.Block, error) {
	if !k.set {
		return nil, cerrors.New(cerrors.Software, "InvalidParameter", "AES key has been destroyed or was never set")
	}
	return aes.NewCipher(k.bytes[:])
}

// EAX wraps a Key with the nonce-construction rule C12.22 uses:
// DoInitializeEax(apTitle) pads/truncates the 4-byte IV against the calling
// AP title's octets to form the 16-byte EAX nonce.
type EAX struct {
	key   *Key
	nonce [16]byte
}

// New initializes an EAX context for one APDU: iv is the 4-byte
// initialization vector, apTitle is the calling AP title's raw octets.
func New(key *Key, iv [4]byte, apTitle []byte) *EAX {
	e := &EAX{key: key}
	copy(e.nonce[:4], iv[:])
	copy(e.nonce[4:], apTitle) // truncates apTitle to at most 12 bytes; zero-pads otherwise
	return e
}

// omac computes OMAC_t(message) = CMAC(key, pad0(t) || message), the
// per-EAX-spec "tweak by block index" construction, using a single
// concatenated buffer so github.com/aead/cmac sees one message.
func (e *EAX) omac(t byte, message []byte) ([]byte, error) {
	block, err := e.key.block()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, aes.BlockSize+len(message))
	buf[aes.BlockSize-1] = t
	copy(buf[aes.BlockSize:], message)
	return cmac.Sum(buf, block, aes.BlockSize)
}

// Authenticate computes the EAX tag over associatedData with an empty
// ciphertext — used for the clear+auth security mode, where the EPSEM body
// is carried in the clear but still covered by the canonified header as
// associated data (spec.md §4.C).
func (e *EAX) Authenticate(associatedData []byte) ([TagSize]byte, error) {
	return e.tag(associatedData, nil)
}

// Encrypt CTR-encrypts plaintext in place conceptually (a new slice is
// returned) and computes the tag over associatedData and the resulting
// ciphertext — the cipher+auth security mode.
func (e *EAX) Encrypt(associatedData, plaintext []byte) (ciphertext []byte, tag [TagSize]byte, err error) {
	block, err := e.key.block()
	if err != nil {
		return nil, tag, err
	}
	ciphertext = make([]byte, len(plaintext))
	stream := cipher.NewCTR(block, e.nonce[:])
	stream.XORKeyStream(ciphertext, plaintext)
	tag, err = e.tag(associatedData, ciphertext)
	return ciphertext, tag, err
}

// Decrypt reverses Encrypt and verifies the tag in constant time, returning
// ok=false on any mismatch (PossibleTamperingDetected at the caller).
func (e *EAX) Decrypt(associatedData, ciphertext []byte, wantTag [TagSize]byte) (plaintext []byte, ok bool, err error) {
	gotTag, err := e.tag(associatedData, ciphertext)
	if err != nil {
		return nil, false, err
	}
	if subtle.ConstantTimeCompare(gotTag[:], wantTag[:]) != 1 {
		return nil, false, nil
	}
	block, err := e.key.block()
	if err != nil {
		return nil, false, err
	}
	plaintext = make([]byte, len(ciphertext))
	stream := cipher.NewCTR(block, e.nonce[:])
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, true, nil
}

// Verify checks a standalone authenticate-only tag (clear+auth mode),
// without any ciphertext to decrypt.
func (e *EAX) Verify(associatedData []byte, wantTag [TagSize]byte) (bool, error) {
	gotTag, err := e.tag(associatedData, nil)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(gotTag[:], wantTag[:]) == 1, nil
}

func (e *EAX) tag(associatedData, ciphertext []byte) ([TagSize]byte, error) {
	var out [TagSize]byte
	n, err := e.omac(0, e.nonce[:])
	if err != nil {
		return out, err
	}
	h, err := e.omac(1, associatedData)
	if err != nil {
		return out, err
	}
	c, err := e.omac(2, ciphertext)
	if err != nil {
		return out, err
	}
	var full [16]byte
	for i := range full {
		full[i] = n[i] ^ h[i] ^ c[i]
	}
	copy(out[:], full[:TagSize])
	return out, nil
}
