package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haggle-ai/haggle/internal/model"
	"github.com/haggle-ai/haggle/internal/testutil"
)

// fakeCompletions serves an OpenAI-compatible chat completions endpoint
// that always answers with the given verdict JSON.
func fakeCompletions(t *testing.T, verdict string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": verdict}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestLLM(t *testing.T, baseURL string) *LLM {
	t.Helper()
	return NewLLM(baseURL, "test-key", "test-model", NewRule(1000), testutil.TestLogger())
}

func TestLLM_CounterWithinBounds(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"counter","price":100,"message":"How about 100?","reasoning":"anchor high"}`)
	l := newTestLLM(t, ts.URL)

	d, err := l.Evaluate(context.Background(), testItem(), 60, 1.0)
	require.NoError(t, err)
	require.NoError(t, d.Validate())

	require.Equal(t, model.DecisionCountered, d.Kind)
	assert.Equal(t, 100.0, d.Countered.ProposedPrice)
	assert.Equal(t, model.ReasonNegotiation, d.Countered.ReasonCode)
	assert.Equal(t, "How about 100?", d.Countered.Message)
}

func TestLLM_CounterClampedToFloor(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"counter","price":40,"message":"deal at 40"}`)
	l := newTestLLM(t, ts.URL)

	d, err := l.Evaluate(context.Background(), testItem(), 30, 1.0)
	require.NoError(t, err)
	require.Equal(t, model.DecisionCountered, d.Kind)
	assert.Equal(t, 80.0, d.Countered.ProposedPrice, "model counter below floor is raised to the floor")
}

func TestLLM_CounterClampedToBasePrice(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"counter","price":500,"message":""}`)
	l := newTestLLM(t, ts.URL)

	d, err := l.Evaluate(context.Background(), testItem(), 60, 1.0)
	require.NoError(t, err)
	require.Equal(t, model.DecisionCountered, d.Kind)
	assert.Equal(t, 120.0, d.Countered.ProposedPrice)
}

func TestLLM_AcceptBelowFloorOverridden(t *testing.T) {
	// The model may not give the item away, whatever it says.
	ts := fakeCompletions(t, `{"action":"accept","price":30}`)
	l := newTestLLM(t, ts.URL)

	d, err := l.Evaluate(context.Background(), testItem(), 30, 1.0)
	require.NoError(t, err)
	require.Equal(t, model.DecisionCountered, d.Kind)
	assert.Equal(t, 80.0, d.Countered.ProposedPrice)
	assert.Equal(t, model.ReasonBelowFloor, d.Countered.ReasonCode)
}

func TestLLM_AcceptHighValueEscalates(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"accept","price":1500}`)
	l := newTestLLM(t, ts.URL)
	item := testItem()
	item.FloorPrice = 900

	d, err := l.Evaluate(context.Background(), item, 1500, 1.0)
	require.NoError(t, err)
	assert.Equal(t, model.DecisionUIRequired, d.Kind)
}

func TestLLM_Reject(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"reject","reasoning":"insulting offer"}`)
	l := newTestLLM(t, ts.URL)

	d, err := l.Evaluate(context.Background(), testItem(), 1, 1.0)
	require.NoError(t, err)
	require.Equal(t, model.DecisionRejected, d.Kind)
	assert.Equal(t, model.ReasonOfferTooLow, d.Rejected.ReasonCode)
}

func TestLLM_MessageQuotingFloorIsDropped(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"counter","price":100,"message":"our minimum is 80.00 but I can do 100"}`)
	l := newTestLLM(t, ts.URL)

	d, err := l.Evaluate(context.Background(), testItem(), 60, 1.0)
	require.NoError(t, err)
	require.Equal(t, model.DecisionCountered, d.Kind)
	assert.Empty(t, d.Countered.Message, "a message leaking the floor must not reach the caller")
}

func TestLLM_MalformedVerdictIsAnError(t *testing.T) {
	ts := fakeCompletions(t, `certainly! here is my answer: accept`)
	l := newTestLLM(t, ts.URL)

	_, err := l.Evaluate(context.Background(), testItem(), 90, 1.0)
	require.Error(t, err, "an unparseable verdict must not turn into a decision")
	assert.Contains(t, err.Error(), "parse verdict")
}

func TestLLM_UnknownActionIsAnError(t *testing.T) {
	ts := fakeCompletions(t, `{"action":"ponder","price":90}`)
	l := newTestLLM(t, ts.URL)

	_, err := l.Evaluate(context.Background(), testItem(), 50, 1.0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestLLM_ServerErrorIsAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)
	l := newTestLLM(t, ts.URL)

	_, err := l.Evaluate(context.Background(), testItem(), 90, 1.0)
	require.Error(t, err, "a failed completion surfaces to the engine, never a silent accept")
	assert.Contains(t, err.Error(), "status 503")
}

func TestNew_SelectsStrategy(t *testing.T) {
	s, err := New("rule", 1000, "", "", testutil.TestLogger())
	require.NoError(t, err)
	assert.IsType(t, &Rule{}, s)

	s, err = New("mistral-large-latest", 1000, "https://api.mistral.ai/v1", "k", testutil.TestLogger())
	require.NoError(t, err)
	assert.IsType(t, &LLM{}, s)

	_, err = New("mistral-large-latest", 1000, "", "", testutil.TestLogger())
	assert.Error(t, err, "model strategies need a base URL")
}
