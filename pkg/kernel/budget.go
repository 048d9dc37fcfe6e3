package kernel

import (
	"context"
	"math"

	"github.com/kashaf12/mandate-sub001/pkg/executor"
	"github.com/kashaf12/mandate-sub001/pkg/ids"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/kashaf12/mandate-sub001/pkg/pricing"
)

// Message is one entry in an LLM conversation, used only to estimate
// input token count before the call is made.
type Message struct {
	Role    string
	Content string
}

// charsPerToken approximates tokens from raw character count (spec
// §4.9: "~4 characters per token").
const charsPerToken = 4

// DefaultFreeModelMaxOutputTokens bounds maxOutputTokens when the
// resolved output price is zero (a free/local model) — without this,
// the budget formula would divide by zero and produce an unusable
// "unlimited" signal.
const DefaultFreeModelMaxOutputTokens = 4096

// BudgetedLLMFunc receives the computed output-token ceiling and
// performs the actual provider call.
type BudgetedLLMFunc func(ctx context.Context, maxOutputTokens int64) (any, error)

// ExecuteLLMWithBudget estimates input cost from messages, computes a
// budget-bounded maxOutputTokens ceiling, and invokes fn with it (spec
// §4.9). The constructed action carries an estimated cost for
// admission; ExecuteLLM-style post-processing (token extraction,
// actual cost attachment) still applies to the result.
func (c *Client) ExecuteLLMWithBudget(ctx context.Context, provider, model string, messages []Message, fn BudgetedLLMFunc) (*executor.Result, error) {
	inputTokens := estimateInputTokens(messages)

	price, found := pricing.Lookup(toPricingTable(c.mandate.CustomPricing), c.pricing, provider, model)
	inputCost := 0.0
	if found {
		inputCost = pricing.Cost(price, inputTokens, 0)
	}

	remaining, err := c.GetRemainingBudget(ctx)
	if err != nil {
		return nil, err
	}

	maxOutputTokens := resolveMaxOutputTokens(remaining, inputCost, price, found)

	action := &policy.Action{
		ID:            ids.GenerateActionID("llm", ""),
		Kind:          policy.ActionLLMCall,
		AgentID:       c.mandate.AgentID,
		Provider:      provider,
		Model:         model,
		EstimatedCost: inputCost,
		CostType:      policy.CostCognition,
		InputTokens:   &inputTokens,
	}

	return c.ExecuteLLM(ctx, action, func(ctx context.Context) (any, error) {
		return fn(ctx, maxOutputTokens)
	})
}

func estimateInputTokens(messages []Message) int64 {
	var chars int
	for _, m := range messages {
		chars += len(m.Content)
	}
	return int64(math.Ceil(float64(chars) / charsPerToken))
}

// resolveMaxOutputTokens implements spec §4.9's formula:
// floor((remainingBudget - inputCost) / outputPrice * 1e6), zero when
// the budget is already exhausted, and the configured free-model
// default when the resolved price has no output cost.
func resolveMaxOutputTokens(remaining *float64, inputCost float64, price pricing.Price, priced bool) int64 {
	if !priced || price.OutputPrice == 0 {
		return DefaultFreeModelMaxOutputTokens
	}
	if remaining == nil {
		return DefaultFreeModelMaxOutputTokens
	}
	budgetLeft := *remaining - inputCost
	if budgetLeft <= 0 {
		return 0
	}
	return int64(math.Floor(budgetLeft / price.OutputPrice * 1e6))
}
