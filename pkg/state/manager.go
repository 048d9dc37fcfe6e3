// Package state implements the state manager (spec §4.6): per-(agent,
// mandate) counters, replay sets, rate windows, kill flag, and
// execution leases, behind an interface with two implementations —
// Memory (single-process) and Distributed (Redis-backed, spec §4.6's
// atomic check-and-commit).
package state

import (
	"context"
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// Manager is the capability set every state backend must implement.
type Manager interface {
	Get(ctx context.Context, agentID, mandateID string) (*policy.AgentState, error)
	CommitSuccess(ctx context.Context, action *policy.Action, st *policy.AgentState, chargedCost float64, agentRateLimit, toolRateLimit *policy.RateLimit) error
	Kill(ctx context.Context, st *policy.AgentState, reason string) error
	IsKilled(ctx context.Context, agentID, mandateID string) (bool, error)
	Remove(ctx context.Context, agentID string) error
	Close() error
}

// KillSubscriber is the optional capability for receiving kill
// broadcasts (spec §4.6 "Kill propagation"). Both backends implement
// it: Distributed delivers kills over its pub/sub channel, and Memory
// invokes the registered callbacks synchronously from Kill.
type KillSubscriber interface {
	OnKill(agentID string, cb func(reason string))
	OffKill(agentID string)
}

// AtomicCommitter is the optional capability for the distributed
// backend's server-side check-and-commit (spec §4.6's Lua script).
// The executor type-asserts for this capability to choose the atomic
// vs. non-atomic admission path (spec §4.7 phase 1, §9).
type AtomicCommitter interface {
	CheckAndCommit(ctx context.Context, action *policy.Action, mandate *policy.Mandate) (policy.Decision, error)
}

// Resurrector is the optional capability for clearing a kill flag
// (spec §3: "resurrection is explicit"). Both backends implement it.
type Resurrector interface {
	Resurrect(ctx context.Context, st *policy.AgentState) error
}

// LeaseReserver is the optional capability for execution-lease
// bookkeeping (spec §4.7 phase 2). Both backends implement it; the
// executor type-asserts for it only when a tool policy configures a
// nonzero ExecutionLeaseMs.
type LeaseReserver interface {
	ReserveLease(st *policy.AgentState, actionID string, expiresAt time.Time)
	ReleaseLease(st *policy.AgentState, actionID string)
}
