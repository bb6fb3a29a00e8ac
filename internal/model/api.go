package model

import "time"

// NegotiateHTTPRequest is the body of POST /v1/negotiate.
type NegotiateHTTPRequest struct {
	ItemID       string  `json:"item_id"`
	BidAmount    float64 `json:"bid_amount"`
	CurrencyCode string  `json:"currency_code"`
	AgentDID     string  `json:"agent_did"`
}

// NegotiateHTTPResponse is the public shape of a negotiation outcome.
// Data carries the status-specific payload for accepted/countered/rejected;
// ActionRequired is set instead when status is ui_required.
type NegotiateHTTPResponse struct {
	SessionToken    string          `json:"session_token"`
	Status          DecisionKind    `json:"status"`
	ValidUntil      int64           `json:"valid_until"`
	PaymentRequired bool            `json:"payment_required,omitempty"`
	Data            map[string]any  `json:"data,omitempty"`
	ActionRequired  *ActionRequired `json:"action_required,omitempty"`
}

// ActionRequired describes a UI confirmation step.
type ActionRequired struct {
	Template string            `json:"template"`
	Context  map[string]string `json:"context"`
}

// PaymentInstructionsJSON is the wire projection of PaymentInstructions.
type PaymentInstructionsJSON struct {
	DealID        string  `json:"deal_id"`
	WalletAddress string  `json:"wallet_address"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Memo          string  `json:"memo"`
	Network       string  `json:"network"`
	ExpiresAt     int64   `json:"expires_at"`
}

// DealStatusHTTPResponse is the body of POST /v1/deals/{deal_id}/status.
type DealStatusHTTPResponse struct {
	Status              DealStatus               `json:"status"`
	Secret              *DealSecretJSON          `json:"secret,omitempty"`
	Proof               *PaymentProofJSON        `json:"proof,omitempty"`
	PaymentInstructions *PaymentInstructionsJSON `json:"payment_instructions,omitempty"`
}

// DealSecretJSON is the revealed reservation payload.
type DealSecretJSON struct {
	ReservationCode string  `json:"reservation_code"`
	ItemName        string  `json:"item_name"`
	FinalPrice      float64 `json:"final_price"`
	PaidAt          int64   `json:"paid_at"`
}

// PaymentProofJSON is the on-chain settlement evidence.
type PaymentProofJSON struct {
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     string `json:"block_number"`
	FromAddress     string `json:"from_address"`
	ConfirmedAt     int64  `json:"confirmed_at"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every error response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stable API error codes. Auth failures share deliberately coarse codes so
// responses never reveal which verification step failed beyond the class.
const (
	ErrCodeAuthMissing     = "AUTH_MISSING"
	ErrCodeAuthMalformed   = "AUTH_MALFORMED"
	ErrCodeAuthExpired     = "AUTH_EXPIRED"
	ErrCodeAuthBadSig      = "AUTH_BAD_SIGNATURE"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeFeatureDisabled = "FEATURE_DISABLED"
	ErrCodeUpstream        = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the body of GET /readyz: per-dependency states plus the
// overall verdict.
type ReadyResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
