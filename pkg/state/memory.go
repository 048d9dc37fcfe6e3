package state

import (
	"context"
	"sync"
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// SnapshotStore is the optional write-through persistence hook for
// Memory (spec §4.10 in SPEC_FULL.md). A nil store means pure
// in-memory, single-process operation.
type SnapshotStore interface {
	Save(ctx context.Context, st *policy.AgentState) error
	Load(ctx context.Context, agentID, mandateID string) (*policy.AgentState, bool, error)
}

// Memory is the single-process state manager backed by a map. Callers
// must serialize the admission -> execute -> commit window themselves
// per (agentID, mandateID); Memory does not lock across that window
// (spec §5).
type Memory struct {
	mu       sync.Mutex
	states   map[string]*policy.AgentState
	killCbs  map[string][]func(reason string)
	snapshot SnapshotStore
}

// NewMemory creates an in-memory state manager. store may be nil.
func NewMemory(store SnapshotStore) *Memory {
	return &Memory{
		states:  make(map[string]*policy.AgentState),
		killCbs: make(map[string][]func(reason string)),
		snapshot: store,
	}
}

func key(agentID, mandateID string) string { return agentID + "\x00" + mandateID }

// Get returns the AgentState for (agentID, mandateID), creating it
// lazily with zeroed counters if absent, and passively expiring any
// stale execution leases.
func (m *Memory) Get(ctx context.Context, agentID, mandateID string) (*policy.AgentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(agentID, mandateID)
	st, ok := m.states[k]
	if !ok {
		if m.snapshot != nil {
			if loaded, found, err := m.snapshot.Load(ctx, agentID, mandateID); err == nil && found {
				st = loaded
			}
		}
		if st == nil {
			st = policy.NewAgentState(agentID, mandateID)
		}
		m.states[k] = st
	}
	expireLeases(st, time.Now())
	return st, nil
}

// CommitSuccess applies the shared commit semantics and, if a
// snapshot store is configured, persists the result.
func (m *Memory) CommitSuccess(ctx context.Context, action *policy.Action, st *policy.AgentState, chargedCost float64, agentRateLimit, toolRateLimit *policy.RateLimit) error {
	m.mu.Lock()
	applyCommit(st, action, chargedCost, agentRateLimit, toolRateLimit)
	m.mu.Unlock()

	if m.snapshot != nil {
		return m.snapshot.Save(ctx, st)
	}
	return nil
}

// Kill marks st killed and fires any registered callbacks
// synchronously (Memory observes kills in-process; there is no
// cross-process broadcast to wait on).
func (m *Memory) Kill(ctx context.Context, st *policy.AgentState, reason string) error {
	m.mu.Lock()
	now := time.Now()
	st.Killed = true
	st.KilledAt = &now
	st.KilledReason = reason
	cbs := append([]func(string){}, m.killCbs[st.AgentID]...)
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(reason)
	}
	if m.snapshot != nil {
		return m.snapshot.Save(ctx, st)
	}
	return nil
}

// Resurrect clears the kill flag, allowing a fresh start under the
// same mandate (spec §3: "resurrection is explicit").
func (m *Memory) Resurrect(ctx context.Context, st *policy.AgentState) error {
	m.mu.Lock()
	st.Killed = false
	st.KilledAt = nil
	st.KilledReason = ""
	m.mu.Unlock()
	if m.snapshot != nil {
		return m.snapshot.Save(ctx, st)
	}
	return nil
}

// IsKilled reports the kill flag for (agentID, mandateID).
func (m *Memory) IsKilled(ctx context.Context, agentID, mandateID string) (bool, error) {
	st, err := m.Get(ctx, agentID, mandateID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return st.Killed, nil
}

// Remove deletes all mandate states tracked for agentID.
func (m *Memory) Remove(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, st := range m.states {
		if st.AgentID == agentID {
			delete(m.states, k)
		}
	}
	return nil
}

// Close releases resources. Memory holds none beyond the map.
func (m *Memory) Close() error { return nil }

// Clear resets all state, for test isolation.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*policy.AgentState)
}

// OnKill registers a callback invoked (synchronously, from the Kill
// caller's goroutine) whenever agentID is killed.
func (m *Memory) OnKill(agentID string, cb func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killCbs[agentID] = append(m.killCbs[agentID], cb)
}

// OffKill removes all callbacks registered for agentID.
func (m *Memory) OffKill(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.killCbs, agentID)
}

// ReserveLease records actionID's lease expiry; called by the executor
// before invoking fn() when the matched tool policy configures a
// lease (spec §4.7 phase 2).
func (m *Memory) ReserveLease(st *policy.AgentState, actionID string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.ExecutionLeases[actionID] = expiresAt
}

// ReleaseLease removes actionID's lease, called on success or failure.
func (m *Memory) ReleaseLease(st *policy.AgentState, actionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(st.ExecutionLeases, actionID)
}

var _ Manager = (*Memory)(nil)
var _ KillSubscriber = (*Memory)(nil)
var _ Resurrector = (*Memory)(nil)
var _ LeaseReserver = (*Memory)(nil)
