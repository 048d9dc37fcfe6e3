package policy

import (
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/pattern"
)

// Evaluate is the pure admission function (spec §4.4). The precedence
// below is strict and total-ordered; no step may be skipped or
// reordered, and none of them mutate state.
func Evaluate(action *Action, mandate *Mandate, state *AgentState) Decision {
	// 1. Replay protection.
	if _, seen := state.SeenActionIDs[action.ID]; seen {
		return Block(CodeDuplicateAction, "action id already seen", true, 0)
	}
	if action.IdempotencyKey != "" {
		if _, seen := state.SeenIdempotencyKeys[action.IdempotencyKey]; seen {
			return Block(CodeDuplicateAction, "idempotency key already seen", true, 0)
		}
	}

	// 2. Kill switch.
	if state.Killed {
		return Block(CodeAgentKilled, killReason(state), true, 0)
	}

	// 3. Expiration.
	if mandate.ExpiresAt != nil && action.Timestamp.After(*mandate.ExpiresAt) {
		return Block(CodeMandateExpired, "mandate expired", true, 0)
	}

	var toolPolicy *ToolPolicy
	if action.Kind == ActionToolCall {
		toolPolicy = mandate.ToolPolicyFor(action.Tool)

		// 4. Tool allow/deny list.
		if !pattern.IsToolAllowed(action.Tool, mandate.AllowedTools, mandate.DeniedTools) {
			code := CodeToolNotAllowed
			if pattern.MatchAny(action.Tool, mandate.DeniedTools) {
				code = CodeToolDenied
			}
			return Block(code, "tool not permitted by mandate", true, 0)
		}

		// 5 & 6. Argument validation (structural schema, then predicate).
		// The engine itself does not know how to run a schema/predicate;
		// it delegates to the tool policy's ArgValidator, which must
		// already combine both layers and return a single pass/fail.
		if toolPolicy != nil && toolPolicy.ArgValidator != nil {
			result := toolPolicy.ArgValidator.Validate(action.Tool, action.Args, action.AgentID)
			if !result.Allowed {
				reason := result.Reason
				if reason == "" {
					reason = "argument validation failed"
				}
				return Block(CodeArgumentValidationFailed, reason, true, 0)
			}
		}

		// 7. Per-tool cost ceiling.
		if toolPolicy != nil && toolPolicy.MaxCostPerCall != nil && action.EstimatedCost > *toolPolicy.MaxCostPerCall {
			return Block(CodeCostLimitExceeded, "estimated cost exceeds tool cost ceiling", true, 0)
		}

		// 8. Per-tool rate limit.
		if toolPolicy != nil && toolPolicy.RateLimit != nil {
			if d, blocked := checkRateLimit(action, toolPolicy.RateLimit, toolCounterOf(state, action.Tool)); blocked {
				return d
			}
		}
	}

	// 9. Agent-level per-call cost ceiling.
	if mandate.MaxCostPerCall != nil && action.EstimatedCost > *mandate.MaxCostPerCall {
		return Block(CodeCostLimitExceeded, "estimated cost exceeds mandate per-call ceiling", true, 0)
	}

	// 10. Agent-level cumulative cost ceiling.
	if mandate.MaxCostTotal != nil && state.CumulativeCost+action.EstimatedCost > *mandate.MaxCostTotal {
		return Block(CodeCostLimitExceeded, "cumulative cost would exceed mandate total ceiling", true, 0)
	}

	// 11. Agent-level rate limit.
	if mandate.RateLimit != nil {
		counter := &ToolCounter{Count: state.CallCount, WindowStart: state.WindowStart}
		if d, blocked := checkRateLimit(action, mandate.RateLimit, counter); blocked {
			return d
		}
	}

	return buildAllow(action, mandate, state)
}

func killReason(state *AgentState) string {
	if state.KilledReason != "" {
		return state.KilledReason
	}
	return "agent killed"
}

func toolCounterOf(state *AgentState, tool string) *ToolCounter {
	if state.ToolCounters == nil {
		return &ToolCounter{}
	}
	if c, ok := state.ToolCounters[tool]; ok {
		return c
	}
	return &ToolCounter{}
}

// checkRateLimit applies the fixed-window semantics documented in
// DESIGN.md: the window is active (and thus enforceable) when the
// action timestamp still falls inside [WindowStart, WindowStart+Window);
// once it falls outside, the window is considered expired and the
// state manager will reset it on commit, so evaluation treats it as
// not currently active (the check is advisory to admission, commit is
// authoritative for the reset).
func checkRateLimit(action *Action, rl *RateLimit, counter *ToolCounter) (Decision, bool) {
	if rl.MaxCalls <= 0 {
		return Decision{}, false
	}
	windowEnd := counter.WindowStart.Add(time.Duration(rl.WindowMs) * time.Millisecond)
	windowActive := !counter.WindowStart.IsZero() && action.Timestamp.Before(windowEnd)
	if windowActive && counter.Count >= rl.MaxCalls {
		retryAfter := windowEnd.Sub(action.Timestamp)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Block(CodeRateLimitExceeded, "rate limit exceeded", false, retryAfter.Milliseconds()), true
	}
	return Decision{}, false
}

func buildAllow(action *Action, mandate *Mandate, state *AgentState) Decision {
	var remainingCost *float64
	if mandate.MaxCostTotal != nil {
		r := *mandate.MaxCostTotal - (state.CumulativeCost + action.EstimatedCost)
		remainingCost = &r
	}
	var remainingCalls *int
	if mandate.RateLimit != nil && mandate.RateLimit.MaxCalls > 0 {
		r := mandate.RateLimit.MaxCalls - state.CallCount
		remainingCalls = &r
	}
	return Allow("allowed", remainingCost, remainingCalls)
}
