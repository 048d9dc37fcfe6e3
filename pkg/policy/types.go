// Package policy implements the data model (spec §3) and the pure
// admission policy engine (spec §4.4) for the mandate kernel.
//
// Evaluate is a pure function: same inputs always produce the same
// Decision, and it never mutates State. All state mutation happens in
// pkg/state, driven by pkg/executor.
package policy

import "time"

// CostType distinguishes cognitive (LLM) cost from effectful (tool) cost.
type CostType string

const (
	CostCognition CostType = "COGNITION"
	CostExecution CostType = "EXECUTION"
)

// ChargingPolicyKind tags the charging policy variant (spec §4.5).
type ChargingPolicyKind string

const (
	ChargeAttemptBased ChargingPolicyKind = "ATTEMPT_BASED"
	ChargeSuccessBased ChargingPolicyKind = "SUCCESS_BASED" // default
	ChargeTiered       ChargingPolicyKind = "TIERED"
	ChargeCustom       ChargingPolicyKind = "CUSTOM"
)

// Outcome is the record the charging evaluator and the verifier
// operate on (spec §4.5, §4.7).
type Outcome struct {
	Executed            bool
	ExecutionSuccess    bool
	VerificationSuccess bool
	EstimatedCost       *float64
	ActualCost          *float64
}

// CustomChargeFunc is the user-supplied pure function backing the
// CUSTOM charging policy.
type CustomChargeFunc func(Outcome) float64

// TieredCost defines the per-tier amounts for ChargeTiered.
type TieredCost struct {
	AttemptCost      float64
	SuccessCost      float64
	VerificationCost float64 // charged only when HasVerification is set
	HasVerification  bool
}

// ChargingPolicy is a tagged variant over the four charging strategies
// in spec §4.5.
type ChargingPolicy struct {
	Kind   ChargingPolicyKind
	Tiered TieredCost        // used when Kind == ChargeTiered
	Custom CustomChargeFunc  // used when Kind == ChargeCustom
}

// RateLimit bounds call volume within a rolling window, evaluated as a
// fixed window pinned to the stored WindowStart (spec §9 open question:
// in-process path uses fixed-window semantics; the distributed
// tool-rate path uses a sliding window instead — see pkg/state).
type RateLimit struct {
	MaxCalls int
	WindowMs int64
}

// ArgValidator validates and optionally transforms tool arguments. It
// must be pure: it receives only what's in the call, never reaches for
// external state (spec §4.3).
type ArgValidator interface {
	Validate(tool string, args map[string]any, agentID string) ValidationResult
}

// ValidationResult is the outcome of schema+predicate validation.
type ValidationResult struct {
	Allowed         bool
	Reason          string
	TransformedArgs map[string]any
}

// Verifier is a pure function from (action, result, mandate) to a
// verification decision (spec §4.7, §9).
type Verifier interface {
	Verify(action *Action, result any, mandate *Mandate) (bool, string)
}

// ToolPolicy carries per-tool overrides (spec §3).
type ToolPolicy struct {
	MaxCostPerCall        *float64
	RateLimit             *RateLimit
	ChargingPolicy        *ChargingPolicy
	ArgValidator          ArgValidator
	Verifier              Verifier
	ExecutionLeaseMs      int64
	VerificationTimeoutMs int64
}

// Mandate is the immutable authority envelope (spec §3).
type Mandate struct {
	MandateID           string
	AgentID             string
	Principal           string
	IssuedAt            time.Time
	ExpiresAt           *time.Time
	MaxCostPerCall       *float64
	MaxCostTotal         *float64
	RateLimit            *RateLimit
	AllowedTools         []string
	DeniedTools          []string
	ToolPolicies         map[string]*ToolPolicy
	DefaultChargingPolicy ChargingPolicy
	CustomPricing        map[string]map[string]Price
}

// Price mirrors pricing.Price without importing pkg/pricing, so the
// data model has no dependency on the pricing package's lookup logic.
type Price struct {
	InputPrice  float64
	OutputPrice float64
}

// ToolPolicyFor returns the tool-specific policy, or nil if none is
// configured for tool.
func (m *Mandate) ToolPolicyFor(tool string) *ToolPolicy {
	if m.ToolPolicies == nil {
		return nil
	}
	return m.ToolPolicies[tool]
}

// ActionKind tags the two action variants (spec §3).
type ActionKind string

const (
	ActionToolCall ActionKind = "tool_call"
	ActionLLMCall  ActionKind = "llm_call"
)

// Action is a single proposed operation subject to admission control.
type Action struct {
	ID              string
	Kind            ActionKind
	AgentID         string
	Timestamp       time.Time
	IdempotencyKey  string
	TraceID         string
	ParentActionID  string
	EstimatedCost   float64
	CostType        CostType

	// Tool variant
	Tool string
	Args map[string]any

	// LLM variant
	Provider         string
	Model            string
	InputTokens      *int64
	OutputTokens     *int64
}

// ToolCounter tracks per-tool call volume for the agent-mandate pair.
type ToolCounter struct {
	Count       int
	WindowStart time.Time
}

// AgentState is the mutable per-(agentID, mandateID) accounting record
// (spec §3). It is created lazily and mutated only by the state
// manager — never by the policy engine.
type AgentState struct {
	AgentID    string
	MandateID  string

	CumulativeCost float64
	CognitionCost  float64
	ExecutionCost  float64
	CallCount      int
	WindowStart    time.Time

	ToolCounters map[string]*ToolCounter

	SeenActionIDs       map[string]struct{}
	SeenIdempotencyKeys map[string]struct{}
	ExecutionLeases     map[string]time.Time // actionID -> lease expiry

	Killed       bool
	KilledAt     *time.Time
	KilledReason string
}

// NewAgentState returns a zeroed AgentState for (agentID, mandateID).
func NewAgentState(agentID, mandateID string) *AgentState {
	return &AgentState{
		AgentID:             agentID,
		MandateID:           mandateID,
		ToolCounters:        make(map[string]*ToolCounter),
		SeenActionIDs:       make(map[string]struct{}),
		SeenIdempotencyKeys: make(map[string]struct{}),
		ExecutionLeases:     make(map[string]time.Time),
	}
}

// BlockCode is the closed enum of admission-block reasons (spec §3).
type BlockCode string

const (
	CodeToolNotAllowed          BlockCode = "TOOL_NOT_ALLOWED"
	CodeToolDenied               BlockCode = "TOOL_DENIED"
	CodeCostLimitExceeded         BlockCode = "COST_LIMIT_EXCEEDED"
	CodeRateLimitExceeded         BlockCode = "RATE_LIMIT_EXCEEDED"
	CodeMandateExpired            BlockCode = "MANDATE_EXPIRED"
	CodeAgentKilled               BlockCode = "AGENT_KILLED"
	CodeDuplicateAction           BlockCode = "DUPLICATE_ACTION"
	CodeArgumentValidationFailed  BlockCode = "ARGUMENT_VALIDATION_FAILED"
	CodeVerificationFailed        BlockCode = "VERIFICATION_FAILED"
	CodeExecutionTimeout          BlockCode = "EXECUTION_TIMEOUT"
	CodeVerificationTimeout       BlockCode = "VERIFICATION_TIMEOUT"
)

// DecisionOutcome tags ALLOW/BLOCK/DEFER (spec §4.7, §9 — DEFER is
// reserved and currently unhandled: the executor treats it as an
// internal error).
type DecisionOutcome string

const (
	OutcomeAllow DecisionOutcome = "ALLOW"
	OutcomeBlock DecisionOutcome = "BLOCK"
	OutcomeDefer DecisionOutcome = "DEFER"
)

// Decision is the result of policy evaluation (spec §3).
type Decision struct {
	Outcome        DecisionOutcome
	Reason         string
	RemainingCost  *float64
	RemainingCalls *int

	Code         BlockCode
	RetryAfterMs int64
	Hard         bool
}

// Allow builds an ALLOW decision.
func Allow(reason string, remainingCost *float64, remainingCalls *int) Decision {
	return Decision{Outcome: OutcomeAllow, Reason: reason, RemainingCost: remainingCost, RemainingCalls: remainingCalls}
}

// Block builds a BLOCK decision.
func Block(code BlockCode, reason string, hard bool, retryAfterMs int64) Decision {
	return Decision{Outcome: OutcomeBlock, Reason: reason, Code: code, Hard: hard, RetryAfterMs: retryAfterMs}
}
