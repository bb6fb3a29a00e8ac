package edge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/haggle-ai/haggle/internal/ctxutil"
	"github.com/haggle-ai/haggle/internal/model"
	"github.com/haggle-ai/haggle/internal/rpc"
)

// Engine is the edge's view of the decision tier.
type Engine interface {
	Negotiate(ctx context.Context, req *rpc.NegotiateRequest) (*rpc.NegotiateResponse, error)
	CheckDealStatus(ctx context.Context, req *rpc.CheckDealStatusRequest) (*rpc.CheckDealStatusResponse, error)
	Ping(ctx context.Context) error
}

// Handlers holds the edge HTTP handlers and their dependencies.
type Handlers struct {
	engine           Engine
	logger           *slog.Logger
	negotiateTimeout time.Duration
	statusTimeout    time.Duration
}

// NewHandlers creates the handler set.
func NewHandlers(engine Engine, negotiateTimeout, statusTimeout time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine:           engine,
		logger:           logger,
		negotiateTimeout: negotiateTimeout,
		statusTimeout:    statusTimeout,
	}
}

// HandleNegotiate translates POST /v1/negotiate onto the engine wire call.
func (h *Handlers) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	var body model.NegotiateHTTPRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if body.ItemID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "item_id is required")
		return
	}
	if body.BidAmount <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "bid_amount must be positive")
		return
	}

	caller, ok := ctxutil.CallerFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeAuthMissing, "missing authentication headers")
		return
	}
	// The signed identity wins; a body that claims a different agent is a
	// confused or hostile client.
	if body.AgentDID != "" && body.AgentDID != caller.DID {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "agent_did does not match signing identity")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.negotiateTimeout)
	defer cancel()

	resp, err := h.engine.Negotiate(ctx, &rpc.NegotiateRequest{
		RequestID:    ctxutil.RequestIDFromContext(r.Context()),
		ItemID:       body.ItemID,
		BidAmount:    body.BidAmount,
		CurrencyCode: body.CurrencyCode,
		Agent: rpc.AgentIdentity{
			DID:             caller.DID,
			ReputationScore: caller.Reputation,
		},
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	out := model.NegotiateHTTPResponse{
		SessionToken: resp.SessionToken,
		ValidUntil:   resp.ValidUntil,
	}
	switch {
	case resp.Accepted != nil:
		out.Status = model.DecisionAccepted
		out.Data = map[string]any{"final_price": resp.Accepted.FinalPrice}
		if resp.Accepted.CryptoPayment != nil {
			out.PaymentRequired = true
			out.Data["payment_instructions"] = paymentInstructionsJSON(resp.Accepted.CryptoPayment)
		} else {
			out.Data["reservation_code"] = resp.Accepted.ReservationCode
		}
	case resp.Countered != nil:
		out.Status = model.DecisionCountered
		out.Data = map[string]any{
			"proposed_price": resp.Countered.ProposedPrice,
			"reason_code":    resp.Countered.ReasonCode,
		}
		if resp.Countered.Message != "" {
			out.Data["message"] = resp.Countered.Message
		}
	case resp.Rejected != nil:
		out.Status = model.DecisionRejected
		out.Data = map[string]any{"reason_code": resp.Rejected.ReasonCode}
	case resp.UIRequired != nil:
		out.Status = model.DecisionUIRequired
		out.ActionRequired = &model.ActionRequired{
			Template: resp.UIRequired.TemplateID,
			Context:  resp.UIRequired.Context,
		}
	default:
		h.logger.Error("engine returned no decision variant",
			"request_id", ctxutil.RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "invalid engine response")
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleDealStatus translates POST /v1/deals/{deal_id}/status.
func (h *Handlers) HandleDealStatus(w http.ResponseWriter, r *http.Request) {
	dealID := r.PathValue("deal_id")
	if dealID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "deal_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.statusTimeout)
	defer cancel()

	resp, err := h.engine.CheckDealStatus(ctx, &rpc.CheckDealStatusRequest{DealID: dealID})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	out := model.DealStatusHTTPResponse{Status: model.DealStatus(resp.Status)}
	if resp.Instructions != nil {
		pi := paymentInstructionsJSON(resp.Instructions)
		out.PaymentInstructions = &pi
	}
	if resp.Secret != nil {
		out.Secret = &model.DealSecretJSON{
			ReservationCode: resp.Secret.ReservationCode,
			ItemName:        resp.Secret.ItemName,
			FinalPrice:      resp.Secret.FinalPrice,
			PaidAt:          resp.Secret.PaidAt,
		}
	}
	if resp.Proof != nil {
		out.Proof = &model.PaymentProofJSON{
			TransactionHash: resp.Proof.TransactionHash,
			BlockNumber:     resp.Proof.BlockNumber,
			FromAddress:     resp.Proof.FromAddress,
			ConfirmedAt:     resp.Proof.ConfirmedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHealth answers the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok"})
}

// readyProbeTimeout bounds the engine reachability check so a wedged
// engine cannot stall the orchestrator's probe.
const readyProbeTimeout = 2 * time.Second

// HandleReady answers the readiness probe with per-dependency states.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyProbeTimeout)
	defer cancel()

	deps := map[string]string{"engine": "ok"}
	status := http.StatusOK
	overall := "ok"

	if err := h.engine.Ping(ctx); err != nil {
		h.logger.Warn("readiness probe: engine unreachable", "error", err)
		deps["engine"] = "unreachable"
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	writeJSON(w, status, model.ReadyResponse{Status: overall, Dependencies: deps})
}

// writeEngineError maps a wire error to the public HTTP surface.
func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, model.ErrCodeUpstream, "engine timed out")
		return
	}

	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) {
		h.logger.Error("engine call failed",
			"error", err, "request_id", ctxutil.RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "engine unavailable")
		return
	}

	switch rpcErr.Code {
	case rpc.CodeInvalidArgument:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, rpcErr.Message)
	case rpc.CodeNotFound:
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, rpcErr.Message)
	case rpc.CodeUnimplemented:
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeFeatureDisabled, rpcErr.Message)
	case rpc.CodeUnavailable:
		writeError(w, r, http.StatusBadGateway, model.ErrCodeUpstream, "engine unavailable")
	default:
		h.logger.Error("engine call failed",
			"code", rpcErr.Code, "error", err, "request_id", ctxutil.RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

func paymentInstructionsJSON(in *rpc.PaymentInstructions) model.PaymentInstructionsJSON {
	return model.PaymentInstructionsJSON{
		DealID:        in.DealID,
		WalletAddress: in.WalletAddress,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Memo:          in.Memo,
		Network:       in.Network,
		ExpiresAt:     in.ExpiresAt,
	}
}
