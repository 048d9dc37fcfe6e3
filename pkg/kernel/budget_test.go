package kernel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kashaf12/mandate-sub001/pkg/kernel"
)

func TestExecuteLLMWithBudget_ComputesCeiling(t *testing.T) {
	m := baseMandate()
	c := newClient(t, m)

	var gotMax int64
	_, err := c.ExecuteLLMWithBudget(context.Background(), "anthropic", "claude-haiku-4",
		[]kernel.Message{{Role: "user", Content: "hello there, how are you today"}},
		func(ctx context.Context, maxOutputTokens int64) (any, error) {
			gotMax = maxOutputTokens
			return map[string]any{"usage": map[string]any{"input_tokens": int64(8), "output_tokens": int64(4)}}, nil
		})
	require.NoError(t, err)
	assert.Greater(t, gotMax, int64(0))
}

func TestExecuteLLMWithBudget_ZeroWhenExhausted(t *testing.T) {
	m := baseMandate()
	// "hi" estimates to exactly 1 input token; claude-haiku-4 prices
	// input at 0.8/1e6, so a ceiling exactly equal to the input cost
	// leaves nothing for output tokens without tripping admission.
	m.MaxCostTotal = f64(0.8 / 1e6)
	c := newClient(t, m)

	var gotMax int64
	_, err := c.ExecuteLLMWithBudget(context.Background(), "anthropic", "claude-haiku-4",
		[]kernel.Message{{Role: "user", Content: "hi"}},
		func(ctx context.Context, maxOutputTokens int64) (any, error) {
			gotMax = maxOutputTokens
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotMax)
}

func TestExecuteLLMWithBudget_FreeModelUsesDefault(t *testing.T) {
	m := baseMandate()
	c := newClient(t, m)

	var gotMax int64
	_, err := c.ExecuteLLMWithBudget(context.Background(), "local", "llama-free",
		[]kernel.Message{{Role: "user", Content: "hi"}},
		func(ctx context.Context, maxOutputTokens int64) (any, error) {
			gotMax = maxOutputTokens
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, int64(kernel.DefaultFreeModelMaxOutputTokens), gotMax)
}
