package kernel

import (
	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/kashaf12/mandate-sub001/pkg/pricing"
)

// toPricingTable adapts a mandate's CustomPricing (expressed in terms
// of policy.Price, so pkg/policy has no dependency on pkg/pricing)
// into the pricing.Table shape pricing.Lookup expects.
func toPricingTable(m map[string]map[string]policy.Price) pricing.Table {
	if m == nil {
		return nil
	}
	out := make(pricing.Table, len(m))
	for provider, models := range m {
		converted := make(map[string]pricing.Price, len(models))
		for model, p := range models {
			converted[model] = pricing.Price{InputPrice: p.InputPrice, OutputPrice: p.OutputPrice}
		}
		out[provider] = converted
	}
	return out
}

// LLMResult wraps a raw LLM provider response with the token usage and
// cost the façade extracted from it, implementing executor.CostReporter
// so the executor's commit phase charges the authoritative actual cost
// instead of the estimate (spec §3, §4.9).
type LLMResult struct {
	Raw          any
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// ReportedCost implements executor.CostReporter.
func (r *LLMResult) ReportedCost() (float64, bool) {
	return r.Cost, true
}

// ExtractTokenUsage recognizes the two known provider usage shapes
// (spec §4.9): OpenAI-style prompt_tokens/completion_tokens and
// Anthropic-style input_tokens/output_tokens, both as either a nested
// "usage" map or top-level fields on a map[string]any result.
func ExtractTokenUsage(raw any) (inputTokens, outputTokens int64, ok bool) {
	m, isMap := raw.(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	usage, hasUsage := m["usage"].(map[string]any)
	if !hasUsage {
		usage = m
	}

	if pt, ok1 := toInt64(usage["prompt_tokens"]); ok1 {
		ct, _ := toInt64(usage["completion_tokens"])
		return pt, ct, true
	}
	if it, ok1 := toInt64(usage["input_tokens"]); ok1 {
		ot, _ := toInt64(usage["output_tokens"])
		return it, ot, true
	}
	return 0, 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
