package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haggle-ai/haggle/internal/ctxutil"
)

// maxMessageBytes bounds inbound RPC bodies. Requests are tiny; anything
// larger is malformed or hostile.
const maxMessageBytes = 1 << 20

var tracer = otel.Tracer("haggle/rpc")

// Service is the engine-side contract served over the wire.
type Service interface {
	Negotiate(ctx context.Context, req *NegotiateRequest) (*NegotiateResponse, error)
	CheckDealStatus(ctx context.Context, req *CheckDealStatusRequest) (*CheckDealStatusResponse, error)
}

// HealthFunc reports engine dependency health for /healthz.
type HealthFunc func(ctx context.Context) error

// Server exposes a Service over CBOR/HTTP.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the RPC server. health may be nil (always healthy).
func NewServer(addr string, svc Service, health HealthFunc, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.Handle("POST /rpc/v1/negotiate", handle(logger, "Negotiate",
		func(ctx context.Context, req *NegotiateRequest) (*NegotiateResponse, error) {
			return svc.Negotiate(ctx, req)
		}))
	mux.Handle("POST /rpc/v1/deal-status", handle(logger, "CheckDealStatus",
		func(ctx context.Context, req *CheckDealStatusRequest) (*CheckDealStatusResponse, error) {
			return svc.CheckDealStatus(ctx, req)
		}))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving RPC requests.
func (s *Server) Start() error {
	s.logger.Info("rpc server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("rpc server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// handle adapts one typed operation to the wire: decode CBOR, bind the
// correlation id from metadata, invoke, encode the reply or the error
// envelope.
func handle[Req, Resp any](logger *slog.Logger, op string, fn func(context.Context, *Req) (*Resp, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(MetadataRequestID)
		ctx := ctxutil.WithRequestID(r.Context(), reqID)

		ctx, span := tracer.Start(ctx, "rpc."+op,
			trace.WithAttributes(attribute.String("rpc.request_id", reqID)))
		defer span.End()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			writeRPCError(w, reqID, Errorf(CodeInvalidArgument, "read request: %v", err))
			return
		}

		var req Req
		if err := cbor.Unmarshal(body, &req); err != nil {
			writeRPCError(w, reqID, Errorf(CodeInvalidArgument, "decode request: %v", err))
			return
		}

		start := time.Now()
		resp, err := fn(ctx, &req)
		if err != nil {
			code := CodeOf(err)
			level := slog.LevelWarn
			if code == CodeInternal {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "rpc call failed",
				"op", op,
				"code", code,
				"error", err,
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			writeRPCError(w, reqID, err)
			return
		}

		out, err := cbor.Marshal(resp)
		if err != nil {
			logger.Error("rpc encode failed", "op", op, "error", err, "request_id", reqID)
			writeRPCError(w, reqID, Errorf(CodeInternal, "encode response"))
			return
		}

		w.Header().Set("Content-Type", ContentType)
		w.Header().Set(MetadataRequestID, reqID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	})
}

// writeRPCError encodes the error envelope. Internal errors carry only the
// correlation id; the message stays server-side.
func writeRPCError(w http.ResponseWriter, reqID string, err error) {
	reply := ErrorReply{Code: CodeOf(err), RequestID: reqID}

	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr.Code != CodeInternal {
		reply.Message = rpcErr.Message
	} else {
		reply.Message = "internal error"
	}

	out, mErr := cbor.Marshal(reply)
	if mErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(statusForCode(reply.Code))
	_, _ = w.Write(out)
}

// statusForCode picks the transport status for an error envelope. The edge
// keys off the envelope code, not this status; it exists for non-haggle
// clients and debugging with curl.
func statusForCode(code string) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnimplemented:
		return http.StatusNotImplemented
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
