package strategy

import (
	"context"
	"fmt"

	"github.com/haggle-ai/haggle/internal/model"
)

// Rule is the deterministic pricing policy: counter below the floor,
// accept at or above it, and escalate high-value bids to a human.
type Rule struct {
	highValueThreshold float64
}

// NewRule creates the rule strategy. Bids strictly above threshold are
// never auto-accepted.
func NewRule(highValueThreshold float64) *Rule {
	return &Rule{highValueThreshold: highValueThreshold}
}

func (r *Rule) Evaluate(_ context.Context, item *model.Item, bid float64, _ float64) (model.Decision, error) {
	if bid < item.FloorPrice {
		return model.Counter(item.FloorPrice, model.ReasonBelowFloor,
			fmt.Sprintf("We can offer %s at %.2f.", item.Name, item.FloorPrice)), nil
	}
	if bid > r.highValueThreshold {
		return model.RequireUI(model.TemplateHighValueConfirm, map[string]string{
			"item_name": item.Name,
			"price":     fmt.Sprintf("%.2f", bid),
		}), nil
	}
	return model.Accept(bid), nil
}
