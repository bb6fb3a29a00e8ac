// Package pricing converts fiat amounts into on-chain settlement amounts.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal places carried per currency: lamports for SOL, token base units
// for the stablecoin.
const (
	solPlaces    = 9
	stablePlaces = 6
)

// Converter turns USD prices into crypto amounts using fixed rates loaded
// at start-up. Oracle-backed rates are a recognized but unimplemented
// option; config.Load rejects use_fixed_rates=false before a Converter is
// ever built.
type Converter struct {
	usdPerNative decimal.Decimal
	usdPerStable decimal.Decimal
}

// New creates a fixed-rate converter. usdPerStable is normally 1 (peg).
func New(usdPerNative, usdPerStable float64) (*Converter, error) {
	if usdPerNative <= 0 {
		return nil, fmt.Errorf("pricing: usd_per_native must be positive, got %v", usdPerNative)
	}
	if usdPerStable <= 0 {
		return nil, fmt.Errorf("pricing: usd_per_stable must be positive, got %v", usdPerStable)
	}
	return &Converter{
		usdPerNative: decimal.NewFromFloat(usdPerNative),
		usdPerStable: decimal.NewFromFloat(usdPerStable),
	}, nil
}

// USDToCrypto converts a USD amount into the target currency, rounded to
// the currency's native precision.
func (c *Converter) USDToCrypto(usdAmount float64, currency string) (float64, error) {
	if usdAmount <= 0 {
		return 0, fmt.Errorf("pricing: amount must be positive, got %v", usdAmount)
	}
	usd := decimal.NewFromFloat(usdAmount)

	switch currency {
	case "SOL":
		out, _ := usd.DivRound(c.usdPerNative, solPlaces).Float64()
		return out, nil
	case "USDC":
		out, _ := usd.DivRound(c.usdPerStable, stablePlaces).Float64()
		return out, nil
	default:
		return 0, fmt.Errorf("pricing: unsupported currency %q", currency)
	}
}
