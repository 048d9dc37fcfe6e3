package kernel

import (
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/ids"
	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// ToolActionParams are the caller-supplied fields for NewToolAction.
// Timestamp defaults to time.Now() when zero.
type ToolActionParams struct {
	AgentID        string
	Tool           string
	Args           map[string]any
	EstimatedCost  float64
	IdempotencyKey string
	TraceID        string
	ParentActionID string
	Timestamp      time.Time
}

// NewToolAction builds a tool-call Action with a deterministic id when
// IdempotencyKey is set, enforcing the retry contract from spec §6:
// same idempotency key -> same action id -> caught by replay
// protection; new intent -> new id.
func NewToolAction(p ToolActionParams) *policy.Action {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &policy.Action{
		ID:             ids.GenerateActionID("tool", p.IdempotencyKey),
		Kind:           policy.ActionToolCall,
		AgentID:        p.AgentID,
		Timestamp:      ts,
		IdempotencyKey: p.IdempotencyKey,
		TraceID:        p.TraceID,
		ParentActionID: p.ParentActionID,
		EstimatedCost:  p.EstimatedCost,
		CostType:       policy.CostExecution,
		Tool:           p.Tool,
		Args:           p.Args,
	}
}

// LLMActionParams are the caller-supplied fields for NewLLMAction.
type LLMActionParams struct {
	AgentID        string
	Provider       string
	Model          string
	EstimatedCost  float64
	InputTokens    *int64
	OutputTokens   *int64
	IdempotencyKey string
	TraceID        string
	ParentActionID string
	Timestamp      time.Time
}

// NewLLMAction builds an LLM-call Action, following the same
// deterministic-id contract as NewToolAction.
func NewLLMAction(p LLMActionParams) *policy.Action {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &policy.Action{
		ID:             ids.GenerateActionID("llm", p.IdempotencyKey),
		Kind:           policy.ActionLLMCall,
		AgentID:        p.AgentID,
		Timestamp:      ts,
		IdempotencyKey: p.IdempotencyKey,
		TraceID:        p.TraceID,
		ParentActionID: p.ParentActionID,
		EstimatedCost:  p.EstimatedCost,
		CostType:       policy.CostCognition,
		Provider:       p.Provider,
		Model:          p.Model,
		InputTokens:    p.InputTokens,
		OutputTokens:   p.OutputTokens,
	}
}
