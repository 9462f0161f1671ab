package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

// ErrDecryptionFailed is returned by [Sealer.Open] when the ciphertext
// fails authentication: tampered data, truncation, or a wrong master
// key. Plaintext is never returned on this path.
var ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

const sealNonceSize = 12

// Sealer encrypts and decrypts small secrets (TOTP seed material) with
// AES-256-GCM. The AES key is derived from the master key with SHA-256,
// so the master key may be any non-trivial byte string.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from masterKey and returns a sealer.
// Master keys shorter than 16 bytes are rejected.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("master key must be at least 16 bytes")
	}

	key := sha256.Sum256(masterKey)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext || tag)
// with a fresh random 12-byte nonce per call.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	if s == nil || s.aead == nil {
		return "", errors.New("sealer not initialized")
	}

	nonce := make([]byte, sealNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by [Sealer.Seal]. Any authentication
// failure returns [ErrDecryptionFailed]; garbage is never returned.
func (s *Sealer) Open(encoded string) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, errors.New("sealer not initialized")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(raw) < sealNonceSize+s.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	nonce, ciphertext := raw[:sealNonceSize], raw[sealNonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
