// Package pricing resolves provider/model token prices and computes
// cognition cost for LLM calls.
package pricing

// Price is the per-1,000,000-token price for a model.
type Price struct {
	InputPrice  float64 // USD per 1e6 input tokens
	OutputPrice float64 // USD per 1e6 output tokens
}

// Table is a two-level provider -> model -> Price map. "*" as a model
// key is the per-provider wildcard; Lookup never consults a "*"
// provider key.
type Table map[string]map[string]Price

// DefaultTable is the built-in pricing table. Callers may override or
// extend it via a mandate's CustomPricing; unknown provider/model
// pairs price at zero rather than erroring (spec §4.2(e)).
func DefaultTable() Table {
	return Table{
		"anthropic": {
			"claude-opus-4":   {InputPrice: 15.0, OutputPrice: 75.0},
			"claude-sonnet-4": {InputPrice: 3.0, OutputPrice: 15.0},
			"claude-haiku-4":  {InputPrice: 0.8, OutputPrice: 4.0},
			"*":               {InputPrice: 3.0, OutputPrice: 15.0},
		},
		"openai": {
			"gpt-4o":      {InputPrice: 2.5, OutputPrice: 10.0},
			"gpt-4o-mini": {InputPrice: 0.15, OutputPrice: 0.6},
			"*":           {InputPrice: 2.5, OutputPrice: 10.0},
		},
		"*": {
			"*": {InputPrice: 0, OutputPrice: 0},
		},
	}
}

// Lookup resolves a price following the order defined by spec §4.2:
// (a) custom exact, (b) custom wildcard provider, (c) built-in exact,
// (d) built-in wildcard, (e) unknown -> zero price (ok=false).
func Lookup(custom, builtin Table, provider, model string) (Price, bool) {
	if p, ok := lookupExact(custom, provider, model); ok {
		return p, true
	}
	if p, ok := lookupWildcardProvider(custom, provider); ok {
		return p, true
	}
	if p, ok := lookupExact(builtin, provider, model); ok {
		return p, true
	}
	if p, ok := lookupWildcardProvider(builtin, provider); ok {
		return p, true
	}
	return Price{}, false
}

func lookupExact(t Table, provider, model string) (Price, bool) {
	if t == nil {
		return Price{}, false
	}
	models, ok := t[provider]
	if !ok {
		return Price{}, false
	}
	p, ok := models[model]
	return p, ok
}

func lookupWildcardProvider(t Table, provider string) (Price, bool) {
	if t == nil {
		return Price{}, false
	}
	models, ok := t[provider]
	if !ok {
		return Price{}, false
	}
	p, ok := models["*"]
	return p, ok
}

// Cost computes (inputTokens/1e6)*InputPrice + (outputTokens/1e6)*OutputPrice.
func Cost(p Price, inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)/1e6)*p.InputPrice + (float64(outputTokens)/1e6)*p.OutputPrice
}
