// Package crypto seals object payloads with XChaCha20-Poly1305.
//
// Blob layout on disk: nonce (24 bytes) || ciphertext || tag (16 bytes).
// Each object is bound to its location by passing "bucket/key" as
// associated data, so a blob copied to another path fails authentication.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the master key length in bytes.
const KeySize = chacha20poly1305.KeySize

var (
	ErrInvalidKeySize = errors.New("crypto: master key must be 32 bytes")
	ErrCiphertext     = errors.New("crypto: ciphertext too short")
	ErrDecrypt        = errors.New("crypto: decryption failed")
)

// Engine encrypts and decrypts payload blobs with a single master key.
type Engine struct {
	key []byte
}

// NewEngine copies the 32-byte master key.
func NewEngine(masterKey []byte) (*Engine, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeySize, len(masterKey))
	}
	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &Engine{key: key}, nil
}

// AssociatedData returns the canonical binding for an object location.
func AssociatedData(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

// Encrypt seals plaintext with a fresh random nonce and returns the full
// blob: nonce || ciphertext || tag.
func (e *Engine) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, associatedData), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering with the blob
// or a mismatched associated data yields ErrDecrypt; the caller must not
// surface the distinction to clients.
func (e *Engine) Decrypt(blob, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, ErrCiphertext
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[chacha20poly1305.NonceSizeX:], associatedData)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
