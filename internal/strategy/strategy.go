// Package strategy decides how the engine responds to a bid. Strategies
// see the engine-private floor price; nothing they return may leak it
// except as an explicit counter at the floor.
package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haggle-ai/haggle/internal/model"
)

// Strategy evaluates one bid against one item. Implementations must be
// safe for concurrent use; the engine shares a single instance across
// requests.
type Strategy interface {
	Evaluate(ctx context.Context, item *model.Item, bid float64, reputation float64) (model.Decision, error)
}

// New builds the configured strategy. name is "rule" for the
// deterministic policy; any other value is taken as an LLM model tag.
func New(name string, highValueThreshold float64, llmBaseURL, llmAPIKey string, logger *slog.Logger) (Strategy, error) {
	rule := NewRule(highValueThreshold)
	if name == "rule" {
		return rule, nil
	}
	if llmBaseURL == "" {
		return nil, fmt.Errorf("strategy: model %q requires HAGGLE_LLM_BASE_URL", name)
	}
	return NewLLM(llmBaseURL, llmAPIKey, name, rule, logger), nil
}
