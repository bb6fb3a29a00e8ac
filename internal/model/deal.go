package model

import (
	"time"

	"github.com/google/uuid"
)

// DealStatus is the settlement state of a locked deal. Transitions are
// monotonic: PENDING → PAID or PENDING → EXPIRED, never back.
type DealStatus string

const (
	DealPending DealStatus = "PENDING"
	DealPaid    DealStatus = "PAID"
	DealExpired DealStatus = "EXPIRED"
)

// Deal is a negotiation outcome locked behind a crypto payment. The
// reservation secret is stored as AES-GCM ciphertext and only ever leaves
// the engine decrypted inside a PAID status response.
type Deal struct {
	ID           uuid.UUID
	ItemID       string
	ItemName     string // snapshot; the catalog row may change after locking
	FinalPrice   float64
	CryptoAmount float64
	Currency     string // "SOL" or "USDC"
	Memo         string // globally unique short token bound into the transfer
	BuyerDID     *string
	Secret       []byte // encrypted reservation code
	Status       DealStatus

	// Populated on the first PENDING → PAID transition.
	TransactionHash *string
	BlockNumber     *string
	FromAddress     *string
	PaidAt          *time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// PaymentProof is the on-chain evidence recorded when a deal transitions
// to PAID.
type PaymentProof struct {
	TransactionHash string
	BlockNumber     string
	FromAddress     string
	ConfirmedAt     time.Time
}

// PaymentInstructions tells the buyer how to settle a locked deal. This is
// the only projection of a deal the edge ever sees.
type PaymentInstructions struct {
	DealID        uuid.UUID
	WalletAddress string
	Amount        float64
	Currency      string
	Memo          string
	Network       string
	ExpiresAt     time.Time
}

// DealSecret is the decrypted payload revealed after payment confirmation.
type DealSecret struct {
	ReservationCode string
	ItemName        string
	FinalPrice      float64
	PaidAt          time.Time
}

// DealStatusView is the engine's answer to a status check. Exactly one of
// the optional fields is populated per status: Instructions for PENDING,
// Secret+Proof for PAID, neither for EXPIRED.
type DealStatusView struct {
	Status       DealStatus
	Instructions *PaymentInstructions
	Secret       *DealSecret
	Proof        *PaymentProof
}
