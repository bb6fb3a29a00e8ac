// Package sigcheck authenticates edge requests: every call must carry a
// detached Ed25519 signature from a did:key caller over a canonical message
// derived from the method, path, timestamp, and body.
package sigcheck

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Request header names for the signature scheme.
const (
	HeaderAgentID   = "X-Agent-ID"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// TimestampTolerance is the allowed clock skew in either direction.
// Together with the signature it bounds the replay window.
const TimestampTolerance = 60 * time.Second

// Verification failure classes. All of them map to HTTP 401; the split
// exists for logging and tests, not for the caller.
var (
	ErrMissingHeader  = errors.New("sigcheck: missing required security header")
	ErrMalformedID    = errors.New("sigcheck: malformed caller id")
	ErrBadSignature   = errors.New("sigcheck: signature verification failed")
	ErrStaleTimestamp = errors.New("sigcheck: timestamp outside tolerance window")
	// ErrMalformedBody is the one 400-class failure: the body is not valid JSON.
	ErrMalformedBody = errors.New("sigcheck: request body is not canonicalizable JSON")
)

var didPattern = regexp.MustCompile(`^did:key:[0-9a-fA-F]{64}$`)

// VerifiedCaller is attached to the request context after verification.
type VerifiedCaller struct {
	DID        string
	Reputation float64
}

// Verifier checks request signatures against the engine clock.
type Verifier struct {
	now func() time.Time
}

// New creates a Verifier using the wall clock.
func New() *Verifier {
	return &Verifier{now: time.Now}
}

// NewWithClock creates a Verifier with an injected clock, for tests.
func NewWithClock(now func() time.Time) *Verifier {
	return &Verifier{now: now}
}

// Verify authenticates one request. On success it returns the verified
// caller and the canonical body bytes — handlers must decode those bytes
// rather than re-parsing the raw body, so they see exactly the structure
// that was hashed and signed.
func (v *Verifier) Verify(method, path, agentID, timestamp, signature string, body []byte) (VerifiedCaller, []byte, error) {
	if agentID == "" || timestamp == "" || signature == "" {
		return VerifiedCaller{}, nil, ErrMissingHeader
	}

	if !didPattern.MatchString(agentID) {
		return VerifiedCaller{}, nil, fmt.Errorf("%w: want did:key:<64 hex chars>", ErrMalformedID)
	}
	pubKey, err := hex.DecodeString(strings.TrimPrefix(agentID, "did:key:"))
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return VerifiedCaller{}, nil, fmt.Errorf("%w: public key is not 32 bytes", ErrMalformedID)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return VerifiedCaller{}, nil, fmt.Errorf("%w: timestamp is not unix seconds", ErrStaleTimestamp)
	}
	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > TimestampTolerance {
		return VerifiedCaller{}, nil, fmt.Errorf("%w: skew %ds", ErrStaleTimestamp, skew)
	}

	canonical, err := CanonicalizeBody(body)
	if err != nil {
		return VerifiedCaller{}, nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return VerifiedCaller{}, nil, fmt.Errorf("%w: signature is not 64 hex-encoded bytes", ErrBadSignature)
	}

	msg := CanonicalMessage(method, path, timestamp, canonical)
	if !ed25519.Verify(ed25519.PublicKey(pubKey), msg, sig) {
		return VerifiedCaller{}, nil, ErrBadSignature
	}

	return VerifiedCaller{DID: agentID, Reputation: 1.0}, canonical, nil
}

// CanonicalMessage builds the signed message: METHOD ∥ PATH ∥ TIMESTAMP ∥
// BODY_HASH with no separators, where BODY_HASH is the lowercase hex
// SHA-256 of the canonical body (hash of the empty string for no body).
// The method is uppercased defensively; callers must send it uppercase.
func CanonicalMessage(method, path, timestamp string, canonicalBody []byte) []byte {
	sum := sha256.Sum256(canonicalBody)
	bodyHash := hex.EncodeToString(sum[:])
	return []byte(strings.ToUpper(method) + path + timestamp + bodyHash)
}

// Sign produces the signature for a request; the counterpart of Verify,
// used by tests and client SDKs.
func Sign(priv ed25519.PrivateKey, method, path, timestamp string, body []byte) (string, error) {
	canonical, err := CanonicalizeBody(body)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, CanonicalMessage(method, path, timestamp, canonical))
	return hex.EncodeToString(sig), nil
}

// DIDForPublicKey derives the did:key identifier from an Ed25519 public key.
func DIDForPublicKey(pub ed25519.PublicKey) string {
	return "did:key:" + hex.EncodeToString(pub)
}
