package market

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// memoBytes yields 8 URL-safe characters, matching what fits comfortably
// in a memo instruction while keeping collisions rare. Uniqueness is
// enforced by the database, not by this generator.
const memoBytes = 6

// NewMemo returns a short URL-safe payment memo.
func NewMemo() (string, error) {
	b := make([]byte, memoBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("market: generate memo: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewReservationCode returns a fresh "RES-" prefixed fulfillment code.
func NewReservationCode() (string, error) {
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("market: generate reservation code: %w", err)
	}
	return "RES-" + base64.RawURLEncoding.EncodeToString(b), nil
}
