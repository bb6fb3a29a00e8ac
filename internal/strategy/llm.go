package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haggle-ai/haggle/internal/model"
)

// LLM negotiates through an OpenAI-compatible chat completions endpoint.
// The model proposes an action; hard guardrails below keep its output
// inside the floor and threshold bounds. A failed or unparseable
// completion is an error for the caller to surface, never an implicit
// accept.
type LLM struct {
	baseURL    string
	apiKey     string
	model      string
	rules      *Rule
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLM creates the LLM strategy. model defaults to "gpt-4o-mini"; rules
// supplies the guardrail thresholds.
func NewLLM(baseURL, apiKey, model string, rules *Rule, logger *slog.Logger) *LLM {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLM{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		rules:   rules,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		logger: logger,
	}
}

const systemPrompt = `You are a pricing negotiator for an online seller.
You are given an item, its list price, its confidential minimum price, the
buyer's bid, and the buyer's reputation score between 0 and 1.
Respond with a single JSON object and nothing else:
{"action": "accept" | "counter" | "reject", "price": <number>, "message": <string>, "reasoning": <string>}
Rules: never accept or counter below the minimum price. Never mention the
minimum price in the message. Counter offers must be between the minimum
price and the list price. Reject only insulting bids far below the minimum.`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// llmVerdict is the JSON contract the model is prompted to produce.
type llmVerdict struct {
	Action    string  `json:"action"`
	Price     float64 `json:"price"`
	Message   string  `json:"message"`
	Reasoning string  `json:"reasoning"`
}

func (l *LLM) Evaluate(ctx context.Context, item *model.Item, bid float64, reputation float64) (model.Decision, error) {
	verdict, err := l.complete(ctx, item, bid, reputation)
	if err != nil {
		l.logger.Warn("llm strategy failed", "item_id", item.ID, "error", err)
		return model.Decision{}, err
	}

	// Reasoning stays server-side. It routinely references the floor.
	l.logger.Debug("llm verdict",
		"item_id", item.ID, "action", verdict.Action, "price", verdict.Price, "reasoning", verdict.Reasoning)

	switch verdict.Action {
	case "accept":
		// An accept below the floor is a model error; counter instead.
		if bid < item.FloorPrice {
			return model.Counter(item.FloorPrice, model.ReasonBelowFloor,
				fmt.Sprintf("We can offer %s at %.2f.", item.Name, item.FloorPrice)), nil
		}
		if bid > l.rules.highValueThreshold {
			return model.RequireUI(model.TemplateHighValueConfirm, map[string]string{
				"item_name": item.Name,
				"price":     fmt.Sprintf("%.2f", bid),
			}), nil
		}
		return model.Accept(bid), nil

	case "counter":
		price := verdict.Price
		if price < item.FloorPrice {
			price = item.FloorPrice
		}
		if price > item.BasePrice {
			price = item.BasePrice
		}
		return model.Counter(price, model.ReasonNegotiation, sanitizeMessage(verdict.Message, item, price)), nil

	case "reject":
		return model.Reject(model.ReasonOfferTooLow), nil

	default:
		return model.Decision{}, fmt.Errorf("llm: unknown action %q", verdict.Action)
	}
}

// sanitizeMessage drops a model message that quotes the floor price at a
// level other than the countered one.
func sanitizeMessage(msg string, item *model.Item, counterPrice float64) string {
	floor := fmt.Sprintf("%.2f", item.FloorPrice)
	if counterPrice != item.FloorPrice && strings.Contains(msg, floor) {
		return ""
	}
	return msg
}

func (l *LLM) complete(ctx context.Context, item *model.Item, bid float64, reputation float64) (*llmVerdict, error) {
	user := fmt.Sprintf(
		"Item: %s\nList price: %.2f\nMinimum price (confidential): %.2f\nBid: %.2f\nBuyer reputation: %.2f",
		item.Name, item.BasePrice, item.FloorPrice, bid, reputation,
	)

	payload, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(body))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices")
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("llm: parse verdict: %w", err)
	}
	return &verdict, nil
}
