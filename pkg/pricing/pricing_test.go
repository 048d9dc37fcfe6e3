package pricing_test

import (
	"testing"

	"github.com/kashaf12/mandate-sub001/pkg/pricing"
	"github.com/stretchr/testify/assert"
)

func TestLookup_CustomExactBeatsEverything(t *testing.T) {
	custom := pricing.Table{"acme": {"model-x": {InputPrice: 1, OutputPrice: 2}}}
	builtin := pricing.DefaultTable()

	p, ok := pricing.Lookup(custom, builtin, "acme", "model-x")
	assert.True(t, ok)
	assert.Equal(t, 1.0, p.InputPrice)
}

func TestLookup_CustomWildcardProvider(t *testing.T) {
	custom := pricing.Table{"local-llm": {"*": {InputPrice: 0, OutputPrice: 0}}}
	builtin := pricing.DefaultTable()

	p, ok := pricing.Lookup(custom, builtin, "local-llm", "whatever")
	assert.True(t, ok)
	assert.Equal(t, 0.0, p.InputPrice)
}

func TestLookup_BuiltinExactAndWildcard(t *testing.T) {
	builtin := pricing.DefaultTable()

	p, ok := pricing.Lookup(nil, builtin, "anthropic", "claude-opus-4")
	assert.True(t, ok)
	assert.Equal(t, 15.0, p.InputPrice)

	p, ok = pricing.Lookup(nil, builtin, "anthropic", "claude-unknown-model")
	assert.True(t, ok)
	assert.Equal(t, 3.0, p.InputPrice) // falls back to anthropic's "*"
}

func TestLookup_UnknownIsZeroNotError(t *testing.T) {
	builtin := pricing.DefaultTable()
	p, ok := pricing.Lookup(nil, builtin, "totally-unknown-provider", "model")
	assert.False(t, ok) // no entry matches; the zero Price means zero cost
	assert.Equal(t, 0.0, p.InputPrice)
	assert.Equal(t, 0.0, p.OutputPrice)
}

func TestCost(t *testing.T) {
	p := pricing.Price{InputPrice: 3.0, OutputPrice: 15.0}
	cost := pricing.Cost(p, 1_000_000, 500_000)
	assert.InDelta(t, 3.0+7.5, cost, 1e-9)
}
