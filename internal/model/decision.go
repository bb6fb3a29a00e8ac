// Package model defines the haggle domain types shared by the edge and the
// engine: caller identities, catalog items, pricing decisions, locked deals,
// and the HTTP API envelopes.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// DecisionKind discriminates the pricing decision union.
type DecisionKind string

const (
	DecisionAccepted   DecisionKind = "accepted"
	DecisionCountered  DecisionKind = "countered"
	DecisionRejected   DecisionKind = "rejected"
	DecisionUIRequired DecisionKind = "ui_required"
)

// Stable reason codes carried on countered/rejected decisions.
const (
	ReasonBelowFloor    = "BELOW_FLOOR"
	ReasonItemNotFound  = "ITEM_NOT_FOUND"
	ReasonOfferTooLow   = "OFFER_TOO_LOW"
	ReasonStrategyError = "STRATEGY_ERROR"
	ReasonNegotiation   = "NEGOTIATION_ONGOING"
)

// TemplateHighValueConfirm is the UI template requested for bids above the
// high-value threshold.
const TemplateHighValueConfirm = "high_value_confirm"

// Decision is the outcome of a pricing strategy evaluation. Exactly one of
// the variant pointers is non-nil, matching Kind. Construct via Accept,
// Counter, Reject, or RequireUI so the invariant holds.
type Decision struct {
	Kind       DecisionKind
	Accepted   *Accepted
	Countered  *Countered
	Rejected   *Rejected
	UIRequired *UIRequired
}

// Accepted carries the agreed price and the settlement reveal.
type Accepted struct {
	FinalPrice float64
	Reveal     Reveal
}

// Countered proposes a higher price back to the caller.
type Countered struct {
	ProposedPrice float64
	ReasonCode    string
	Message       string
}

// Rejected terminates the negotiation with a stable reason code.
type Rejected struct {
	ReasonCode string
}

// UIRequired asks the caller to confirm through a human-visible surface.
type UIRequired struct {
	TemplateID string
	Context    map[string]string
}

// Accept builds an accepted decision. The reveal is attached later by the
// engine (reservation code or payment lock) — strategies never choose it.
func Accept(finalPrice float64) Decision {
	return Decision{Kind: DecisionAccepted, Accepted: &Accepted{FinalPrice: finalPrice}}
}

// Counter builds a countered decision.
func Counter(proposedPrice float64, reasonCode, message string) Decision {
	return Decision{Kind: DecisionCountered, Countered: &Countered{
		ProposedPrice: proposedPrice,
		ReasonCode:    reasonCode,
		Message:       message,
	}}
}

// Reject builds a rejected decision.
func Reject(reasonCode string) Decision {
	return Decision{Kind: DecisionRejected, Rejected: &Rejected{ReasonCode: reasonCode}}
}

// RequireUI builds a ui_required decision.
func RequireUI(templateID string, ctx map[string]string) Decision {
	return Decision{Kind: DecisionUIRequired, UIRequired: &UIRequired{
		TemplateID: templateID,
		Context:    ctx,
	}}
}

// Validate checks the exactly-one-variant invariant and the per-variant
// price constraints from the negotiation protocol.
func (d Decision) Validate() error {
	set := 0
	if d.Accepted != nil {
		set++
	}
	if d.Countered != nil {
		set++
	}
	if d.Rejected != nil {
		set++
	}
	if d.UIRequired != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("model: decision must carry exactly one variant, got %d", set)
	}
	switch d.Kind {
	case DecisionAccepted:
		if d.Accepted == nil {
			return fmt.Errorf("model: kind %q without matching variant", d.Kind)
		}
	case DecisionCountered:
		if d.Countered == nil {
			return fmt.Errorf("model: kind %q without matching variant", d.Kind)
		}
	case DecisionRejected:
		if d.Rejected == nil {
			return fmt.Errorf("model: kind %q without matching variant", d.Kind)
		}
	case DecisionUIRequired:
		if d.UIRequired == nil {
			return fmt.Errorf("model: kind %q without matching variant", d.Kind)
		}
	default:
		return fmt.Errorf("model: unknown decision kind %q", d.Kind)
	}
	return nil
}

// RevealKind discriminates the settlement artifact on an accepted decision.
type RevealKind string

const (
	RevealReservationCode RevealKind = "reservation_code"
	RevealPaymentLock     RevealKind = "payment_lock"
)

// Reveal is the settlement artifact attached to an accepted decision:
// either an immediate reservation code or a payment lock that defers the
// code behind an on-chain transfer. The two are mutually exclusive and the
// choice is immutable for the session.
type Reveal struct {
	Kind            RevealKind
	ReservationCode string    // set iff Kind == RevealReservationCode
	DealID          uuid.UUID // set iff Kind == RevealPaymentLock
}
