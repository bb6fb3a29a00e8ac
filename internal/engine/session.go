package engine

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionTTL is how long a negotiation session handle stays valid.
const sessionTTL = 10 * time.Minute

// SessionSigner mints negotiation session tokens: Ed25519-signed JWTs
// with a "sess_" prefix. Tokens are opaque handles for the caller; they
// are not an authentication credential.
type SessionSigner struct {
	key ed25519.PrivateKey
	now func() time.Time
}

// NewSessionSigner creates a signer. A nil key generates an ephemeral
// one, which is fine for a single-process engine: sessions do not outlive
// a restart.
func NewSessionSigner(key ed25519.PrivateKey) (*SessionSigner, error) {
	if key == nil {
		var err error
		_, key, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("engine: generate session key: %w", err)
		}
	}
	return &SessionSigner{key: key, now: time.Now}, nil
}

// Mint issues a session token bound to the caller and item, returning the
// token and its expiry.
func (s *SessionSigner) Mint(agentDID, itemID string) (string, time.Time, error) {
	now := s.now().UTC()
	expires := now.Add(sessionTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub":  agentDID,
		"item": itemID,
		"iat":  now.Unix(),
		"exp":  expires.Unix(),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("engine: sign session token: %w", err)
	}
	return "sess_" + signed, expires, nil
}
