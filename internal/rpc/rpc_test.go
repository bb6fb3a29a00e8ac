package rpc

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle-ai/haggle/internal/ctxutil"
	"github.com/haggle-ai/haggle/internal/testutil"
)

// fakeService scripts the engine side of the wire for transport tests.
type fakeService struct {
	negotiate func(ctx context.Context, req *NegotiateRequest) (*NegotiateResponse, error)
	status    func(ctx context.Context, req *CheckDealStatusRequest) (*CheckDealStatusResponse, error)
}

func (f *fakeService) Negotiate(ctx context.Context, req *NegotiateRequest) (*NegotiateResponse, error) {
	return f.negotiate(ctx, req)
}

func (f *fakeService) CheckDealStatus(ctx context.Context, req *CheckDealStatusRequest) (*CheckDealStatusResponse, error) {
	return f.status(ctx, req)
}

func newTestPair(t *testing.T, svc Service) *Client {
	t.Helper()
	srv := NewServer(":0", svc, nil, testutil.TestLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL)
}

func TestClientServer_NegotiateRoundTrip(t *testing.T) {
	var gotReqID string
	svc := &fakeService{
		negotiate: func(ctx context.Context, req *NegotiateRequest) (*NegotiateResponse, error) {
			gotReqID = ctxutil.RequestIDFromContext(ctx)
			assert.Equal(t, "sku-1", req.ItemID)
			assert.Equal(t, 50.0, req.BidAmount)
			assert.Equal(t, "did:key:aa", req.Agent.DID)
			return &NegotiateResponse{
				SessionToken: "sess_x",
				ValidUntil:   1700000600,
				Accepted: &OfferAccepted{
					FinalPrice:      50,
					ReservationCode: "RES-abc",
				},
			}, nil
		},
	}
	client := newTestPair(t, svc)

	ctx := ctxutil.WithRequestID(context.Background(), "req-42")
	resp, err := client.Negotiate(ctx, &NegotiateRequest{
		RequestID: "req-42",
		ItemID:    "sku-1",
		BidAmount: 50,
		Agent:     AgentIdentity{DID: "did:key:aa", ReputationScore: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, "req-42", gotReqID, "request id should cross the wire via metadata")
	assert.Equal(t, "sess_x", resp.SessionToken)
	assert.Equal(t, "accepted", resp.ResultKind())
	require.NotNil(t, resp.Accepted)
	assert.Equal(t, "RES-abc", resp.Accepted.ReservationCode)
	assert.Nil(t, resp.Accepted.CryptoPayment)
}

func TestClientServer_ErrorEnvelope(t *testing.T) {
	svc := &fakeService{
		status: func(ctx context.Context, req *CheckDealStatusRequest) (*CheckDealStatusResponse, error) {
			return nil, Errorf(CodeNotFound, "deal %s not found", req.DealID)
		},
	}
	client := newTestPair(t, svc)

	_, err := client.CheckDealStatus(context.Background(), &CheckDealStatusRequest{DealID: "xyz"})
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeNotFound, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "xyz")
}

func TestClientServer_InternalErrorsAreOpaque(t *testing.T) {
	svc := &fakeService{
		negotiate: func(context.Context, *NegotiateRequest) (*NegotiateResponse, error) {
			return nil, errors.New("pq: connection reset while reading floor_price")
		},
	}
	client := newTestPair(t, svc)

	_, err := client.Negotiate(context.Background(), &NegotiateRequest{ItemID: "sku-1"})
	require.Error(t, err)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternal, rpcErr.Code)
	assert.Equal(t, "internal error", rpcErr.Message, "internal detail must not cross the boundary")
}

func TestClient_EngineUnreachable(t *testing.T) {
	client := NewClient("127.0.0.1:1") // nothing listens here

	_, err := client.Negotiate(context.Background(), &NegotiateRequest{ItemID: "sku-1"})
	require.Error(t, err)
	assert.Equal(t, CodeUnavailable, CodeOf(err))
}

func TestNegotiateResponse_ResultKind(t *testing.T) {
	assert.Equal(t, "", (&NegotiateResponse{}).ResultKind())
	assert.Equal(t, "countered", (&NegotiateResponse{Countered: &OfferCountered{}}).ResultKind())
	assert.Equal(t, "rejected", (&NegotiateResponse{Rejected: &OfferRejected{}}).ResultKind())
	assert.Equal(t, "ui_required", (&NegotiateResponse{UIRequired: &UIRequired{}}).ResultKind())
}

func TestWire_UnknownFieldsAreSkipped(t *testing.T) {
	// A newer peer may append fields; older decoders must ignore them.
	type futureRequest struct {
		DealID string `cbor:"1,keyasint"`
		Extra  string `cbor:"9,keyasint"`
	}
	payload, err := cbor.Marshal(futureRequest{DealID: "d-1", Extra: "new field"})
	require.NoError(t, err)

	var req CheckDealStatusRequest
	require.NoError(t, cbor.Unmarshal(payload, &req))
	assert.Equal(t, "d-1", req.DealID)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInvalidArgument, CodeOf(Errorf(CodeInvalidArgument, "bad")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))

	wrapped := errors.Join(errors.New("outer"), Errorf(CodeUnimplemented, "off"))
	assert.Equal(t, CodeUnimplemented, CodeOf(wrapped))
}
