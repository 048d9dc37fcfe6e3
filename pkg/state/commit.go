package state

import (
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// applyCommit mutates st in place per spec §4.6's shared commit
// semantics. Memory.CommitSuccess and Distributed.CommitSuccess (the
// non-atomic path) both use it; the Distributed manager's atomic path
// mutates budget/rate/replay state inside the Lua script instead.
func applyCommit(st *policy.AgentState, action *policy.Action, chargedCost float64, agentRateLimit, toolRateLimit *policy.RateLimit) {
	st.CumulativeCost += chargedCost
	switch action.CostType {
	case policy.CostCognition:
		st.CognitionCost += chargedCost
	default:
		st.ExecutionCost += chargedCost
	}

	st.SeenActionIDs[action.ID] = struct{}{}
	if action.IdempotencyKey != "" {
		st.SeenIdempotencyKeys[action.IdempotencyKey] = struct{}{}
	}

	advanceWindow(&st.WindowStart, &st.CallCount, action.Timestamp, agentRateLimit)

	if action.Kind == policy.ActionToolCall && toolRateLimit != nil {
		counter, ok := st.ToolCounters[action.Tool]
		if !ok {
			counter = &policy.ToolCounter{}
			st.ToolCounters[action.Tool] = counter
		}
		advanceWindow(&counter.WindowStart, &counter.Count, action.Timestamp, toolRateLimit)
	}

	delete(st.ExecutionLeases, action.ID)
}

// advanceWindow implements the fixed-window reset rule: if the action
// falls on or after windowStart+windowMs, the window resets to start
// at the action's timestamp with count 1; otherwise the count just
// increments.
func advanceWindow(windowStart *time.Time, count *int, ts time.Time, rl *policy.RateLimit) {
	if rl == nil || rl.WindowMs <= 0 {
		*count++
		return
	}
	windowEnd := windowStart.Add(time.Duration(rl.WindowMs) * time.Millisecond)
	if windowStart.IsZero() || !ts.Before(windowEnd) {
		*windowStart = ts
		*count = 1
		return
	}
	*count++
}

// expireLeases removes lease entries whose deadline has passed,
// providing the passive cleanup spec §4.6 describes ("On any get, the
// state manager removes lease entries whose deadline has passed").
func expireLeases(st *policy.AgentState, now time.Time) {
	for actionID, deadline := range st.ExecutionLeases {
		if now.After(deadline) {
			delete(st.ExecutionLeases, actionID)
		}
	}
}
