// Package audit implements the audit sink (spec §4.8): one structured
// entry per terminal policy evaluation, with console, in-memory, file,
// no-op, and fan-out flavors. A Sink must never propagate an error to
// its caller — logging is best-effort and never influences admission
// (spec §6 "Logger errors never propagate").
package audit

import (
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// Entry is one audit record per terminal evaluation (spec §3).
type Entry struct {
	ID             string    `json:"id"`
	ActionID       string    `json:"action_id"`
	AgentID        string    `json:"agent_id"`
	MandateID      string    `json:"mandate_id"`
	TraceID        string    `json:"trace_id,omitempty"`
	ParentActionID string    `json:"parent_action_id,omitempty"`
	SpanID         string    `json:"span_id,omitempty"`

	Kind     policy.ActionKind `json:"kind"`
	Tool     string            `json:"tool,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Model    string            `json:"model,omitempty"`

	Outcome policy.DecisionOutcome `json:"outcome"`
	Reason  string                 `json:"reason"`
	Code    policy.BlockCode       `json:"code,omitempty"`

	EstimatedCost  *float64 `json:"estimated_cost,omitempty"`
	ActualCost     *float64 `json:"actual_cost,omitempty"`
	ChargedCost    *float64 `json:"charged_cost,omitempty"`
	CumulativeCost *float64 `json:"cumulative_cost,omitempty"`

	DurationMs            int64  `json:"duration_ms,omitempty"`
	VerificationOutcome   string `json:"verification_outcome,omitempty"`
	VerificationReason    string `json:"verification_reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Sink consumes audit entries. Log has no return value: a sink that
// cannot write (e.g. the file sink after it disables itself) drops the
// entry rather than reporting an error to the caller.
type Sink interface {
	Log(entry Entry)
}
