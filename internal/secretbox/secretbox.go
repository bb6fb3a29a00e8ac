// Package secretbox seals reservation codes with AES-GCM under a single
// process-scoped key.
//
// The key is loaded from configuration at start-up and never logged.
// Rotation is a full redeploy: ciphertext written under the old key is
// unreadable afterwards, which is acceptable because deals expire within
// hours.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecrypt is returned when ciphertext fails authentication — a wrong
// key or tampered data. The cause is deliberately not distinguished.
var ErrDecrypt = errors.New("secretbox: decryption failed")

// Box seals and opens short secrets. Safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// New creates a Box from a base64-encoded AES key (16 or 32 bytes decoded,
// selecting AES-128 or AES-256).
func New(encodedKey string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		// Accept the URL-safe alphabet too; generated keys use it.
		key, err = base64.URLEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("secretbox: key is not base64: %w", err)
		}
	}
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("secretbox: key must be 16 or 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the ciphertext.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secretbox: nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts ciphertext produced by Seal.
func (b *Box) Open(ciphertext []byte) (string, error) {
	if len(ciphertext) < b.aead.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := ciphertext[:b.aead.NonceSize()], ciphertext[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh base64-encoded 32-byte key, for scripts/genkey.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("secretbox: generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
