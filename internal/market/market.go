// Package market owns the locked-deal lifecycle: creating a deal behind a
// crypto payment, probing the chain on status checks, and driving the
// PENDING to PAID or EXPIRED transition exactly once.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haggle-ai/haggle/internal/chain"
	"github.com/haggle-ai/haggle/internal/model"
	"github.com/haggle-ai/haggle/internal/pricing"
	"github.com/haggle-ai/haggle/internal/secretbox"
	"github.com/haggle-ai/haggle/internal/storage"
)

// memoAttempts bounds regeneration on unique-index collisions. With
// 48-bit memos, hitting this means the generator is broken.
const memoAttempts = 5

// DealStore is the persistence surface the market needs.
type DealStore interface {
	CreateDeal(ctx context.Context, deal *model.Deal) error
	GetDeal(ctx context.Context, id uuid.UUID) (*model.Deal, error)
	MarkDealPaid(ctx context.Context, id uuid.UUID, proof *model.PaymentProof) (bool, error)
	ExpireDeal(ctx context.Context, id uuid.UUID) (bool, error)
}

// ErrDealNotFound is returned by Check for unknown deal ids.
var ErrDealNotFound = errors.New("market: deal not found")

// Service locks deals and settles them. Safe for concurrent use; all
// state transitions go through conditional updates in the store, so any
// number of concurrent status checks produce at most one transition.
type Service struct {
	store   DealStore
	box     *secretbox.Box
	conv    *pricing.Converter
	watcher chain.Watcher
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New creates the market service.
func New(store DealStore, box *secretbox.Box, conv *pricing.Converter, watcher chain.Watcher, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		box:     box,
		conv:    conv,
		watcher: watcher,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Lock creates a PENDING deal for an accepted negotiation and returns the
// payment instructions. The reservation code is generated here, sealed,
// and not revealed until the payment is confirmed.
func (s *Service) Lock(ctx context.Context, item *model.Item, finalPrice float64, currency, buyerDID string) (*model.PaymentInstructions, error) {
	cryptoAmount, err := s.conv.USDToCrypto(finalPrice, currency)
	if err != nil {
		return nil, fmt.Errorf("market: price deal: %w", err)
	}

	code, err := NewReservationCode()
	if err != nil {
		return nil, err
	}
	sealed, err := s.box.Seal(code)
	if err != nil {
		return nil, fmt.Errorf("market: seal reservation code: %w", err)
	}

	now := s.now().UTC()
	deal := &model.Deal{
		ID:           uuid.New(),
		ItemID:       item.ID,
		ItemName:     item.Name,
		FinalPrice:   finalPrice,
		CryptoAmount: cryptoAmount,
		Currency:     currency,
		Secret:       sealed,
		Status:       model.DealPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if buyerDID != "" {
		deal.BuyerDID = &buyerDID
	}

	for attempt := 0; ; attempt++ {
		memo, err := NewMemo()
		if err != nil {
			return nil, err
		}
		deal.Memo = memo

		err = s.store.CreateDeal(ctx, deal)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrDuplicateMemo) && attempt+1 < memoAttempts {
			s.logger.Warn("memo collision, regenerating", "deal_id", deal.ID)
			continue
		}
		return nil, fmt.Errorf("market: lock deal: %w", err)
	}

	s.logger.Info("deal locked",
		"deal_id", deal.ID,
		"item_id", deal.ItemID,
		"amount", deal.CryptoAmount,
		"currency", deal.Currency,
		"expires_at", deal.ExpiresAt,
	)
	return s.instructions(deal), nil
}

// Check reports the current deal state, advancing it when warranted:
// an overdue PENDING deal is expired, and a PENDING deal whose payment
// has landed on chain is marked PAID. Both transitions are conditional
// updates; when a concurrent check wins, the loser re-reads and reports
// the winner's outcome.
func (s *Service) Check(ctx context.Context, dealID uuid.UUID) (*model.DealStatusView, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	if deal.Status != model.DealPending {
		return s.view(deal)
	}

	if !s.now().Before(deal.ExpiresAt) {
		won, err := s.store.ExpireDeal(ctx, deal.ID)
		if err != nil {
			return nil, err
		}
		if !won {
			return s.reread(ctx, deal.ID)
		}
		s.logger.Info("deal expired", "deal_id", deal.ID)
		return &model.DealStatusView{Status: model.DealExpired}, nil
	}

	proof, err := s.watcher.FindPayment(ctx, deal.CryptoAmount, deal.Memo, deal.Currency)
	if err != nil {
		// Probe failure is not evidence of non-payment. Stay PENDING and
		// let a later check retry.
		s.logger.Warn("chain probe failed", "deal_id", deal.ID, "error", err)
		return &model.DealStatusView{Status: model.DealPending, Instructions: s.instructions(deal)}, nil
	}
	if proof == nil {
		return &model.DealStatusView{Status: model.DealPending, Instructions: s.instructions(deal)}, nil
	}

	won, err := s.store.MarkDealPaid(ctx, deal.ID, proof)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.reread(ctx, deal.ID)
	}

	s.logger.Info("deal paid",
		"deal_id", deal.ID,
		"transaction_hash", proof.TransactionHash,
		"from_address", proof.FromAddress,
	)

	code, err := s.box.Open(deal.Secret)
	if err != nil {
		return nil, fmt.Errorf("market: open reservation code: %w", err)
	}
	return &model.DealStatusView{
		Status: model.DealPaid,
		Secret: &model.DealSecret{
			ReservationCode: code,
			ItemName:        deal.ItemName,
			FinalPrice:      deal.FinalPrice,
			PaidAt:          proof.ConfirmedAt,
		},
		Proof: proof,
	}, nil
}

// reread builds the view after losing a conditional update race. The
// winner has already moved the deal to a terminal state.
func (s *Service) reread(ctx context.Context, dealID uuid.UUID) (*model.DealStatusView, error) {
	deal, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	return s.view(deal)
}

// view renders a deal in its stored state without advancing it.
func (s *Service) view(deal *model.Deal) (*model.DealStatusView, error) {
	switch deal.Status {
	case model.DealPending:
		return &model.DealStatusView{Status: model.DealPending, Instructions: s.instructions(deal)}, nil

	case model.DealExpired:
		return &model.DealStatusView{Status: model.DealExpired}, nil

	case model.DealPaid:
		code, err := s.box.Open(deal.Secret)
		if err != nil {
			return nil, fmt.Errorf("market: open reservation code: %w", err)
		}
		view := &model.DealStatusView{
			Status: model.DealPaid,
			Secret: &model.DealSecret{
				ReservationCode: code,
				ItemName:        deal.ItemName,
				FinalPrice:      deal.FinalPrice,
			},
		}
		if deal.PaidAt != nil {
			view.Secret.PaidAt = *deal.PaidAt
		}
		if deal.TransactionHash != nil {
			view.Proof = &model.PaymentProof{TransactionHash: *deal.TransactionHash}
			if deal.BlockNumber != nil {
				view.Proof.BlockNumber = *deal.BlockNumber
			}
			if deal.FromAddress != nil {
				view.Proof.FromAddress = *deal.FromAddress
			}
			if deal.PaidAt != nil {
				view.Proof.ConfirmedAt = *deal.PaidAt
			}
		}
		return view, nil

	default:
		return nil, fmt.Errorf("market: deal %s has unknown status %q", deal.ID, deal.Status)
	}
}

func (s *Service) instructions(deal *model.Deal) *model.PaymentInstructions {
	return &model.PaymentInstructions{
		DealID:        deal.ID,
		WalletAddress: s.watcher.Address(),
		Amount:        deal.CryptoAmount,
		Currency:      deal.Currency,
		Memo:          deal.Memo,
		Network:       s.watcher.Network(),
		ExpiresAt:     deal.ExpiresAt,
	}
}
