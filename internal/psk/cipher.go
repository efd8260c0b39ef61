// Package psk implements the pass-phrase-derived symmetric cipher used
// both for the PSK challenge exchange (spec.md §4.2) and for payload block
// encoding (spec.md §3, component C2). The AES-GCM construction mirrors
// PeerCord's peer/impl/crypto.go EncryptDH/DecryptDH: a random nonce
// prefixed to the ciphertext, sealed/opened through the same AEAD.
package psk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/xerrors"
)

// kdfSalt is fixed rather than random: both sides derive the same key
// independently from the shared pass-phrase alone, with no side channel to
// exchange a salt over before the key is needed.
var kdfSalt = []byte("wavecast-psk-v1")

const (
	kdfIterations = 4096
	keyLen        = 32 // AES-256
)

// Cipher is a pass-phrase-keyed AES-GCM AEAD.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a Cipher from pass, rendered under encoding.
func New(pass string, encoding Encoding) (*Cipher, error) {
	key := pbkdf2.Key(encoding.Encode(pass), kdfSalt, kdfIterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Errorf("psk: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Errorf("psk: new gcm: %w", err)
	}
	return &Cipher{aead: gcm}, nil
}

// NonceSize is the AEAD's nonce length.
func (c *Cipher) NonceSize() int { return c.aead.NonceSize() }

// Overhead is the AEAD's per-message authentication tag size.
func (c *Cipher) Overhead() int { return c.aead.Overhead() }

// EncodedLength returns the ciphertext length (nonce prefix + tag
// included) for a plaintext of n bytes, used by the block-size derivation
// in spec.md §4.5.
func (c *Cipher) EncodedLength(n int) int {
	return c.aead.NonceSize() + n + c.aead.Overhead()
}

// Encode seals plaintext under a freshly drawn random nonce, prefixed to
// the returned ciphertext.
func (c *Cipher) Encode(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, xerrors.Errorf("psk: draw nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decode opens a ciphertext produced by Encode or EncodeWithNonce.
func (c *Cipher) Decode(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, xerrors.Errorf("psk: ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, xerrors.Errorf("psk: open: %w", err)
	}
	return plaintext, nil
}

// EncodeWithNonce seals plaintext under an explicit nonce, derived to the
// AEAD's nonce size via SHA-256. Used by the challenge-response exchange
// (spec.md §4.2 step 4) so that both sides can reproduce the exact same
// ciphertext for a byte-for-byte comparison, which a fresh random nonce
// per call would make impossible.
func (c *Cipher) EncodeWithNonce(seed []byte, plaintext []byte) []byte {
	nonce := deriveNonce(seed, c.aead.NonceSize())
	return c.aead.Seal(nonce, nonce, plaintext, nil)
}

func deriveNonce(seed []byte, size int) []byte {
	sum := sha256.Sum256(seed)
	return sum[:size]
}
