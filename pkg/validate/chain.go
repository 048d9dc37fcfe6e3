package validate

import "github.com/kashaf12/mandate-sub001/pkg/policy"

// Chain runs a sequence of policy.ArgValidator layers in order. Each
// layer receives the previous layer's TransformedArgs (falling back to
// the original args if a layer didn't transform anything), so a
// predicate that canonicalizes a field is visible to the next layer
// and in the chain's final TransformedArgs. The chain fails closed on
// the first layer that rejects.
func Chain(layers ...policy.ArgValidator) policy.ArgValidator {
	return chainValidator{layers: layers}
}

type chainValidator struct {
	layers []policy.ArgValidator
}

func (c chainValidator) Validate(tool string, args map[string]any, agentID string) policy.ValidationResult {
	current := args
	for _, layer := range c.layers {
		result := layer.Validate(tool, current, agentID)
		if !result.Allowed {
			return result
		}
		if result.TransformedArgs != nil {
			current = result.TransformedArgs
		}
	}
	return policy.ValidationResult{Allowed: true, TransformedArgs: current}
}
