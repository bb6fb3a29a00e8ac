// Package chain verifies crypto payments against a blockchain. A Watcher
// scans recent transfers to the receiving wallet and matches them to a
// deal by memo and amount.
package chain

import (
	"context"

	"github.com/haggle-ai/haggle/internal/model"
)

// Watcher probes the chain for a payment settling a locked deal.
//
// FindPayment returns (nil, nil) when no matching finalized transfer
// exists yet. A non-nil error means the probe itself failed and the
// caller must not conclude anything about payment state.
type Watcher interface {
	// Address is the receiving wallet address buyers pay into.
	Address() string
	// Network names the chain cluster, e.g. "devnet" or "mainnet-beta".
	Network() string
	FindPayment(ctx context.Context, amount float64, memo, currency string) (*model.PaymentProof, error)
}
