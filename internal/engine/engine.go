// Package engine is the decision tier: it evaluates bids through a
// pricing strategy and settles accepted offers, either with an immediate
// reservation code or by locking the deal behind a crypto payment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/haggle-ai/haggle/internal/ctxutil"
	"github.com/haggle-ai/haggle/internal/market"
	"github.com/haggle-ai/haggle/internal/model"
	"github.com/haggle-ai/haggle/internal/rpc"
	"github.com/haggle-ai/haggle/internal/storage"
	"github.com/haggle-ai/haggle/internal/strategy"
)

// ItemStore is the catalog surface the engine reads.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (*model.Item, error)
}

// Market is the locked-deal lifecycle the engine delegates to. Nil when
// crypto settlement is disabled.
type Market interface {
	Lock(ctx context.Context, item *model.Item, finalPrice float64, currency, buyerDID string) (*model.PaymentInstructions, error)
	Check(ctx context.Context, dealID uuid.UUID) (*model.DealStatusView, error)
}

// Service implements the engine side of the edge/engine wire contract.
type Service struct {
	items         ItemStore
	pricer        strategy.Strategy
	market        Market
	sessions      *SessionSigner
	cryptoEnabled bool
	currency      string
	logger        *slog.Logger
}

// New creates the engine service. market may be nil iff cryptoEnabled is
// false.
func New(items ItemStore, pricer strategy.Strategy, mkt Market, sessions *SessionSigner, cryptoEnabled bool, currency string, logger *slog.Logger) *Service {
	return &Service{
		items:         items,
		pricer:        pricer,
		market:        mkt,
		sessions:      sessions,
		cryptoEnabled: cryptoEnabled,
		currency:      currency,
		logger:        logger,
	}
}

// Negotiate evaluates one bid and returns the decision. Strategy outcomes
// (including rejections) are successful responses; rpc errors are
// reserved for malformed requests and engine faults.
func (s *Service) Negotiate(ctx context.Context, req *rpc.NegotiateRequest) (*rpc.NegotiateResponse, error) {
	if req.ItemID == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "item_id is required")
	}
	if req.BidAmount <= 0 {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "bid_amount must be positive")
	}
	// Bids are quoted in fiat; settlement happens in the configured crypto
	// currency. A SOL/USDC request code overrides the settlement currency,
	// anything else besides fiat is rejected.
	currency := s.currency
	if s.cryptoEnabled {
		switch req.CurrencyCode {
		case "", "USD":
		case "SOL", "USDC":
			currency = req.CurrencyCode
		default:
			return nil, rpc.Errorf(rpc.CodeInvalidArgument, "unsupported currency %q", req.CurrencyCode)
		}
	}

	logger := s.logger.With(
		"request_id", ctxutil.RequestIDFromContext(ctx),
		"item_id", req.ItemID,
		"agent_did", req.Agent.DID,
	)
	logger.Info("negotiation started", "bid", req.BidAmount)

	sessionToken, validUntil, err := s.sessions.Mint(req.Agent.DID, req.ItemID)
	if err != nil {
		return nil, err
	}
	resp := &rpc.NegotiateResponse{
		SessionToken: sessionToken,
		ValidUntil:   validUntil.Unix(),
	}

	item, err := s.items.GetItem(ctx, req.ItemID)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Info("negotiation rejected", "reason", model.ReasonItemNotFound)
		resp.Rejected = &rpc.OfferRejected{ReasonCode: model.ReasonItemNotFound}
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: load item: %w", err)
	}
	if !item.Active {
		logger.Info("negotiation rejected", "reason", model.ReasonItemNotFound)
		resp.Rejected = &rpc.OfferRejected{ReasonCode: model.ReasonItemNotFound}
		return resp, nil
	}

	decision, err := s.pricer.Evaluate(ctx, item, req.BidAmount, req.Agent.ReputationScore)
	if err != nil {
		return nil, fmt.Errorf("engine: evaluate bid: %w", err)
	}
	if err := decision.Validate(); err != nil {
		return nil, fmt.Errorf("engine: strategy produced invalid decision: %w", err)
	}

	switch decision.Kind {
	case model.DecisionAccepted:
		accepted := &rpc.OfferAccepted{FinalPrice: decision.Accepted.FinalPrice}
		if s.cryptoEnabled {
			instructions, err := s.market.Lock(ctx, item, decision.Accepted.FinalPrice, currency, req.Agent.DID)
			if err != nil {
				return nil, fmt.Errorf("engine: lock deal: %w", err)
			}
			accepted.CryptoPayment = instructionsWire(instructions)
			logger.Info("offer locked for payment",
				"final_price", decision.Accepted.FinalPrice,
				"deal_id", instructions.DealID,
				"currency", instructions.Currency,
			)
		} else {
			code, err := market.NewReservationCode()
			if err != nil {
				return nil, err
			}
			accepted.ReservationCode = code
			logger.Info("offer accepted", "final_price", decision.Accepted.FinalPrice)
		}
		resp.Accepted = accepted

	case model.DecisionCountered:
		logger.Info("offer countered",
			"bid", req.BidAmount,
			"proposed", decision.Countered.ProposedPrice,
			"reason", decision.Countered.ReasonCode,
		)
		resp.Countered = &rpc.OfferCountered{
			ProposedPrice: decision.Countered.ProposedPrice,
			ReasonCode:    decision.Countered.ReasonCode,
			Message:       decision.Countered.Message,
		}

	case model.DecisionRejected:
		logger.Info("negotiation rejected", "reason", decision.Rejected.ReasonCode)
		resp.Rejected = &rpc.OfferRejected{ReasonCode: decision.Rejected.ReasonCode}

	case model.DecisionUIRequired:
		logger.Info("human confirmation required", "template", decision.UIRequired.TemplateID)
		resp.UIRequired = &rpc.UIRequired{
			TemplateID: decision.UIRequired.TemplateID,
			Context:    decision.UIRequired.Context,
		}
	}

	return resp, nil
}

// CheckDealStatus reports and advances a locked deal.
func (s *Service) CheckDealStatus(ctx context.Context, req *rpc.CheckDealStatusRequest) (*rpc.CheckDealStatusResponse, error) {
	if !s.cryptoEnabled {
		return nil, rpc.Errorf(rpc.CodeUnimplemented, "crypto settlement is disabled")
	}

	dealID, err := uuid.Parse(req.DealID)
	if err != nil {
		return nil, rpc.Errorf(rpc.CodeInvalidArgument, "deal_id is not a valid UUID")
	}

	view, err := s.market.Check(ctx, dealID)
	if errors.Is(err, market.ErrDealNotFound) {
		return nil, rpc.Errorf(rpc.CodeNotFound, "deal %s not found", dealID)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: check deal: %w", err)
	}

	resp := &rpc.CheckDealStatusResponse{Status: string(view.Status)}
	if view.Instructions != nil {
		resp.Instructions = instructionsWire(view.Instructions)
	}
	if view.Secret != nil {
		resp.Secret = &rpc.DealSecret{
			ReservationCode: view.Secret.ReservationCode,
			ItemName:        view.Secret.ItemName,
			FinalPrice:      view.Secret.FinalPrice,
			PaidAt:          view.Secret.PaidAt.Unix(),
		}
	}
	if view.Proof != nil {
		resp.Proof = &rpc.PaymentProof{
			TransactionHash: view.Proof.TransactionHash,
			BlockNumber:     view.Proof.BlockNumber,
			FromAddress:     view.Proof.FromAddress,
			ConfirmedAt:     view.Proof.ConfirmedAt.Unix(),
		}
	}
	return resp, nil
}

func instructionsWire(in *model.PaymentInstructions) *rpc.PaymentInstructions {
	return &rpc.PaymentInstructions{
		DealID:        in.DealID.String(),
		WalletAddress: in.WalletAddress,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Memo:          in.Memo,
		Network:       in.Network,
		ExpiresAt:     in.ExpiresAt.Unix(),
	}
}
