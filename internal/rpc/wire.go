// Package rpc is the internal wire protocol between the edge and the
// engine: CBOR-encoded messages with integer field tags over HTTP. Tags are
// append-only, so either side can be deployed ahead of the other; unknown
// fields are skipped by the codec.
package rpc

import (
	"errors"
	"fmt"
)

// MetadataRequestID is the transport metadata header carrying the
// correlation id across the tier boundary.
const MetadataRequestID = "x-request-id"

// ContentType identifies the wire encoding.
const ContentType = "application/cbor"

// AgentIdentity describes the caller as verified by the edge.
type AgentIdentity struct {
	DID             string  `cbor:"1,keyasint,omitempty"`
	ReputationScore float64 `cbor:"2,keyasint,omitempty"`
}

// NegotiateRequest asks the engine to evaluate a bid.
type NegotiateRequest struct {
	RequestID    string        `cbor:"1,keyasint,omitempty"`
	ItemID       string        `cbor:"2,keyasint"`
	BidAmount    float64       `cbor:"3,keyasint"`
	CurrencyCode string        `cbor:"4,keyasint"`
	Agent        AgentIdentity `cbor:"5,keyasint"`
}

// NegotiateResponse carries the decision union. Exactly one of Accepted,
// Countered, Rejected, UIRequired is set.
type NegotiateResponse struct {
	SessionToken string          `cbor:"1,keyasint,omitempty"`
	ValidUntil   int64           `cbor:"2,keyasint,omitempty"`
	Accepted     *OfferAccepted  `cbor:"3,keyasint,omitempty"`
	Countered    *OfferCountered `cbor:"4,keyasint,omitempty"`
	Rejected     *OfferRejected  `cbor:"5,keyasint,omitempty"`
	UIRequired   *UIRequired     `cbor:"6,keyasint,omitempty"`
}

// ResultKind names the populated variant, or "" if none (a protocol error).
func (r *NegotiateResponse) ResultKind() string {
	switch {
	case r.Accepted != nil:
		return "accepted"
	case r.Countered != nil:
		return "countered"
	case r.Rejected != nil:
		return "rejected"
	case r.UIRequired != nil:
		return "ui_required"
	}
	return ""
}

// OfferAccepted carries the final price and the settlement reveal. The
// reveal fields are mutually exclusive: a reservation code when crypto is
// off, payment instructions when the deal is locked on-chain.
type OfferAccepted struct {
	FinalPrice      float64              `cbor:"1,keyasint"`
	ReservationCode string               `cbor:"2,keyasint,omitempty"`
	CryptoPayment   *PaymentInstructions `cbor:"3,keyasint,omitempty"`
}

// OfferCountered proposes a higher price.
type OfferCountered struct {
	ProposedPrice float64 `cbor:"1,keyasint"`
	ReasonCode    string  `cbor:"2,keyasint,omitempty"`
	Message       string  `cbor:"3,keyasint,omitempty"`
}

// OfferRejected terminates the negotiation.
type OfferRejected struct {
	ReasonCode string `cbor:"1,keyasint"`
}

// UIRequired asks for human confirmation.
type UIRequired struct {
	TemplateID string            `cbor:"1,keyasint"`
	Context    map[string]string `cbor:"2,keyasint,omitempty"`
}

// PaymentInstructions tells the buyer how to settle a locked deal.
type PaymentInstructions struct {
	DealID        string  `cbor:"1,keyasint"`
	WalletAddress string  `cbor:"2,keyasint"`
	Amount        float64 `cbor:"3,keyasint"`
	Currency      string  `cbor:"4,keyasint"`
	Memo          string  `cbor:"5,keyasint"`
	Network       string  `cbor:"6,keyasint"`
	ExpiresAt     int64   `cbor:"7,keyasint"`
}

// CheckDealStatusRequest polls a locked deal.
type CheckDealStatusRequest struct {
	DealID string `cbor:"1,keyasint"`
}

// CheckDealStatusResponse reports the deal state. Instructions is set for
// PENDING; Secret and Proof are set for PAID.
type CheckDealStatusResponse struct {
	Status       string               `cbor:"1,keyasint"`
	Secret       *DealSecret          `cbor:"2,keyasint,omitempty"`
	Proof        *PaymentProof        `cbor:"3,keyasint,omitempty"`
	Instructions *PaymentInstructions `cbor:"4,keyasint,omitempty"`
}

// DealSecret is the revealed reservation payload.
type DealSecret struct {
	ReservationCode string  `cbor:"1,keyasint"`
	ItemName        string  `cbor:"2,keyasint,omitempty"`
	FinalPrice      float64 `cbor:"3,keyasint,omitempty"`
	PaidAt          int64   `cbor:"4,keyasint,omitempty"`
}

// PaymentProof is the on-chain settlement evidence.
type PaymentProof struct {
	TransactionHash string `cbor:"1,keyasint"`
	BlockNumber     string `cbor:"2,keyasint,omitempty"`
	FromAddress     string `cbor:"3,keyasint,omitempty"`
	ConfirmedAt     int64  `cbor:"4,keyasint,omitempty"`
}

// ErrorReply is the wire error envelope.
type ErrorReply struct {
	Code      string `cbor:"1,keyasint"`
	Message   string `cbor:"2,keyasint,omitempty"`
	RequestID string `cbor:"3,keyasint,omitempty"`
}

// Stable engine reason codes. The edge maps these to HTTP statuses; the
// engine never leaks Go error text across the boundary for non-internal
// failures.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnimplemented   = "UNIMPLEMENTED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// Error is a typed RPC failure carrying a stable reason code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the reason code from an error chain, defaulting to
// INTERNAL for untyped errors.
func CodeOf(err error) string {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return CodeInternal
}
