package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/haggle-ai/haggle/internal/model"
)

const (
	// signatureScanLimit bounds how far back one probe looks. Payments
	// older than the last 100 transfers to the wallet are treated as not
	// found; the deal expires and the buyer contacts support.
	signatureScanLimit = 100

	// probeBudget caps one FindPayment call end to end, including the
	// single retry. Status checks are interactive; better to answer
	// PENDING late than hang.
	probeBudget = 5 * time.Second

	lamportsPerSOL = 1_000_000_000

	// amountTolerance absorbs rounding between the quoted amount and the
	// on-chain transfer: 0.01% relative.
	amountTolerance = 1e-4
)

// Memo program v1 id. solana.MemoProgramID is the v2 deployment; wallets
// still occasionally emit v1 instructions.
var memoProgramV1 = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

// solanaRPC is the subset of the RPC client the watcher uses. Narrowed so
// tests can substitute a fake.
type solanaRPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// SolanaWatcher matches finalized transfers to the receiving wallet
// against deal memos. Native SOL is detected through lamport balance
// deltas, the stablecoin through token balance deltas, so both plain
// transfers and program-wrapped ones are caught.
type SolanaWatcher struct {
	client     solanaRPC
	wallet     solana.PublicKey
	network    string
	stableMint solana.PublicKey
	logger     *slog.Logger
}

// NewSolanaWatcher connects to the cluster at rpcURL. walletKey is the
// base58 private key of the receiving wallet; only the derived public
// address is retained.
func NewSolanaWatcher(rpcURL, walletKey, network, stableMint string, logger *slog.Logger) (*SolanaWatcher, error) {
	key, err := solana.PrivateKeyFromBase58(walletKey)
	if err != nil {
		return nil, fmt.Errorf("chain: parse wallet key: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(stableMint)
	if err != nil {
		return nil, fmt.Errorf("chain: parse stable token mint: %w", err)
	}
	return &SolanaWatcher{
		client:     rpc.New(rpcURL),
		wallet:     key.PublicKey(),
		network:    network,
		stableMint: mint,
		logger:     logger,
	}, nil
}

func (w *SolanaWatcher) Address() string { return w.wallet.String() }
func (w *SolanaWatcher) Network() string { return w.network }

// FindPayment scans recent finalized transactions for one that carries the
// deal memo and moved the expected amount to the wallet. Transient RPC
// failures are retried once with jitter inside the probe budget.
func (w *SolanaWatcher) FindPayment(ctx context.Context, amount float64, memo, currency string) (*model.PaymentProof, error) {
	ctx, cancel := context.WithTimeout(ctx, probeBudget)
	defer cancel()

	proof, err := w.scan(ctx, amount, memo, currency)
	if err == nil || ctx.Err() != nil {
		return proof, err
	}

	jitter := time.Duration(rand.Int63n(int64(200 * time.Millisecond)))
	select {
	case <-time.After(100*time.Millisecond + jitter):
	case <-ctx.Done():
		return nil, fmt.Errorf("chain: probe: %w", ctx.Err())
	}
	return w.scan(ctx, amount, memo, currency)
}

func (w *SolanaWatcher) scan(ctx context.Context, amount float64, memo, currency string) (*model.PaymentProof, error) {
	limit := signatureScanLimit
	sigs, err := w.client.GetSignaturesForAddressWithOpts(ctx, w.wallet, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: list signatures: %w", err)
	}

	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		// The signature listing includes the memo when one exists; use it
		// to avoid fetching obviously unrelated transactions.
		if sig.Memo != nil && !strings.Contains(*sig.Memo, memo) {
			continue
		}

		proof, err := w.inspect(ctx, sig.Signature, amount, memo, currency)
		if err != nil {
			return nil, err
		}
		if proof != nil {
			return proof, nil
		}
	}
	return nil, nil
}

// inspect fetches one transaction and decides whether it settles the deal.
// Returns (nil, nil) when it does not.
func (w *SolanaWatcher) inspect(ctx context.Context, sig solana.Signature, amount float64, memo, currency string) (*model.PaymentProof, error) {
	maxVersion := uint64(0)
	result, err := w.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("chain: get transaction %s: %w", sig, err)
	}
	if result == nil || result.Meta == nil || result.Meta.Err != nil {
		return nil, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		w.logger.Debug("chain: undecodable transaction", "signature", sig.String(), "error", err)
		return nil, nil
	}

	if !hasMemo(tx, memo) {
		return nil, nil
	}

	var from string
	var ok bool
	switch currency {
	case "SOL":
		from, ok = w.matchLamports(tx, result.Meta, amount)
	case "USDC":
		from, ok = w.matchToken(result.Meta, amount)
	default:
		return nil, fmt.Errorf("chain: unsupported currency %q", currency)
	}
	if !ok {
		w.logger.Debug("chain: memo matched but amount did not",
			"signature", sig.String(), "memo", memo, "expected", amount, "currency", currency)
		return nil, nil
	}

	confirmedAt := time.Now().UTC()
	if result.BlockTime != nil {
		confirmedAt = result.BlockTime.Time().UTC()
	}
	return &model.PaymentProof{
		TransactionHash: sig.String(),
		BlockNumber:     strconv.FormatUint(result.Slot, 10),
		FromAddress:     from,
		ConfirmedAt:     confirmedAt,
	}, nil
}

// hasMemo reports whether any memo-program instruction carries exactly the
// deal memo. Substring matches would let one transaction embedding several
// memos settle more than one deal, so the payload must equal the memo
// byte for byte.
func hasMemo(tx *solana.Transaction, memo string) bool {
	keys := tx.Message.AccountKeys
	for _, ins := range tx.Message.Instructions {
		if int(ins.ProgramIDIndex) >= len(keys) {
			continue
		}
		program := keys[ins.ProgramIDIndex]
		if !program.Equals(solana.MemoProgramID) && !program.Equals(memoProgramV1) {
			continue
		}
		if string(ins.Data) == memo {
			return true
		}
	}
	return false
}

// matchLamports checks the wallet's lamport delta against the expected SOL
// amount. The sender is attributed to the account with the largest
// negative delta, which covers plain transfers and fee-paying senders
// alike.
func (w *SolanaWatcher) matchLamports(tx *solana.Transaction, meta *rpc.TransactionMeta, amount float64) (string, bool) {
	keys := tx.Message.AccountKeys
	if len(meta.PreBalances) != len(keys) || len(meta.PostBalances) != len(keys) {
		return "", false
	}

	walletDelta := int64(0)
	sender := ""
	largestDebit := int64(0)
	for i, key := range keys {
		delta := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if key.Equals(w.wallet) {
			walletDelta = delta
			continue
		}
		if delta < largestDebit {
			largestDebit = delta
			sender = key.String()
		}
	}
	if walletDelta <= 0 {
		return "", false
	}

	expected := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(lamportsPerSOL))
	if !withinTolerance(decimal.NewFromInt(walletDelta), expected) {
		return "", false
	}
	return sender, true
}

// matchToken checks the wallet's stablecoin balance delta. Amounts are
// compared in base units from the raw token balance strings.
func (w *SolanaWatcher) matchToken(meta *rpc.TransactionMeta, amount float64) (string, bool) {
	received := decimal.Zero
	sender := ""
	decimals := int32(0)

	pre := make(map[uint16]decimal.Decimal)
	preOwner := make(map[uint16]string)
	for _, tb := range meta.PreTokenBalances {
		if !tb.Mint.Equals(w.stableMint) {
			continue
		}
		v, err := decimal.NewFromString(tb.UiTokenAmount.Amount)
		if err != nil {
			continue
		}
		pre[tb.AccountIndex] = v
		if tb.Owner != nil {
			preOwner[tb.AccountIndex] = tb.Owner.String()
		}
	}

	seen := make(map[uint16]bool)
	for _, tb := range meta.PostTokenBalances {
		if !tb.Mint.Equals(w.stableMint) {
			continue
		}
		post, err := decimal.NewFromString(tb.UiTokenAmount.Amount)
		if err != nil {
			continue
		}
		seen[tb.AccountIndex] = true
		delta := post.Sub(pre[tb.AccountIndex])

		owner := preOwner[tb.AccountIndex]
		if tb.Owner != nil {
			owner = tb.Owner.String()
		}
		switch {
		case owner == w.wallet.String() && delta.IsPositive():
			received = received.Add(delta)
			decimals = int32(tb.UiTokenAmount.Decimals)
		case delta.IsNegative():
			sender = owner
		}
	}
	// An account emptied to zero can be omitted from post balances.
	for idx, preAmt := range pre {
		if !seen[idx] && preAmt.IsPositive() && preOwner[idx] != w.wallet.String() {
			sender = preOwner[idx]
		}
	}

	if received.IsZero() {
		return "", false
	}
	expected := decimal.NewFromFloat(amount).Shift(decimals)
	if !withinTolerance(received, expected) {
		return "", false
	}
	return sender, true
}

// withinTolerance reports |got-want| <= want * amountTolerance.
func withinTolerance(got, want decimal.Decimal) bool {
	if want.IsZero() {
		return got.IsZero()
	}
	diff := got.Sub(want).Abs()
	return diff.LessThanOrEqual(want.Mul(decimal.NewFromFloat(amountTolerance)))
}
