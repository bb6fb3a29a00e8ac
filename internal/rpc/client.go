package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/haggle-ai/haggle/internal/ctxutil"
)

// Client is the edge-side handle to the engine. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the engine at addr (host:port or URL).
// Per-call deadlines come from the caller's context; the transport-level
// timeout is a backstop against a wedged connection.
func NewClient(addr string) *Client {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Negotiate forwards a negotiation request to the engine.
func (c *Client) Negotiate(ctx context.Context, req *NegotiateRequest) (*NegotiateResponse, error) {
	var resp NegotiateResponse
	if err := c.call(ctx, "/rpc/v1/negotiate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckDealStatus polls a locked deal.
func (c *Client) CheckDealStatus(ctx context.Context, req *CheckDealStatusRequest) (*CheckDealStatusResponse, error) {
	var resp CheckDealStatusResponse
	if err := c.call(ctx, "/rpc/v1/deal-status", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping checks engine reachability for the edge readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("rpc: build ping: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: ping engine: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: engine unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// call performs one round trip: encode, attach correlation metadata, send,
// decode the reply or the error envelope.
func (c *Client) call(ctx context.Context, path string, in, out any) error {
	payload, err := cbor.Marshal(in)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentType)
	if reqID := ctxutil.RequestIDFromContext(ctx); reqID != "" {
		httpReq.Header.Set(MetadataRequestID, reqID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Deadline and cancellation surface as context errors so callers
		// can tell a slow engine from an unreachable one.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("rpc: call %s: %w", path, ctxErr)
		}
		return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("engine unreachable: %v", err)}
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxMessageBytes))
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var reply ErrorReply
		if err := cbor.Unmarshal(body, &reply); err != nil || reply.Code == "" {
			return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("engine returned status %d", httpResp.StatusCode)}
		}
		return &Error{Code: reply.Code, Message: reply.Message}
	}

	if err := cbor.Unmarshal(body, out); err != nil {
		return fmt.Errorf("rpc: decode response: %w", err)
	}
	return nil
}
