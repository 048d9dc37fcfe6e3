package state

import (
	"context"
	"testing"
	"time"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetCreatesLazily(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	st, err := m.Get(ctx, "agent-1", "mandate-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", st.AgentID)
	assert.Equal(t, 0, st.CallCount)
}

func TestMemory_CommitSuccessAdvancesWindowAndCost(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	st, _ := m.Get(ctx, "agent-1", "mandate-1")

	action := &policy.Action{ID: "a1", Kind: policy.ActionLLMCall, AgentID: "agent-1", Timestamp: time.Now(), CostType: policy.CostCognition}
	err := m.CommitSuccess(ctx, action, st, 1.5, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.5, st.CumulativeCost)
	assert.Equal(t, 1.5, st.CognitionCost)
	assert.Equal(t, 1, st.CallCount)
	_, seen := st.SeenActionIDs["a1"]
	assert.True(t, seen)
}

func TestMemory_KillFiresCallbacksAndIsKilled(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	st, _ := m.Get(ctx, "agent-1", "mandate-1")

	var gotReason string
	m.OnKill("agent-1", func(reason string) { gotReason = reason })

	require.NoError(t, m.Kill(ctx, st, "operator override"))
	assert.Equal(t, "operator override", gotReason)

	killed, err := m.IsKilled(ctx, "agent-1", "mandate-1")
	require.NoError(t, err)
	assert.True(t, killed)
}

func TestMemory_ResurrectClearsKillFlag(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	st, _ := m.Get(ctx, "agent-1", "mandate-1")
	require.NoError(t, m.Kill(ctx, st, "test"))

	require.NoError(t, m.Resurrect(ctx, st))
	assert.False(t, st.Killed)
	assert.Nil(t, st.KilledAt)
}

func TestMemory_OffKillStopsDelivery(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	st, _ := m.Get(ctx, "agent-1", "mandate-1")

	fired := false
	m.OnKill("agent-1", func(string) { fired = true })
	m.OffKill("agent-1")

	require.NoError(t, m.Kill(ctx, st, "x"))
	assert.False(t, fired)
}

func TestMemory_LeaseReserveAndReleaseAndPassiveExpiry(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	st, _ := m.Get(ctx, "agent-1", "mandate-1")

	m.ReserveLease(st, "a1", time.Now().Add(-time.Second))
	m.ReserveLease(st, "a2", time.Now().Add(time.Hour))
	assert.Len(t, st.ExecutionLeases, 2)

	// A subsequent Get passively expires the stale lease.
	st2, err := m.Get(ctx, "agent-1", "mandate-1")
	require.NoError(t, err)
	assert.Len(t, st2.ExecutionLeases, 1)
	_, stillLeased := st2.ExecutionLeases["a2"]
	assert.True(t, stillLeased)

	m.ReleaseLease(st2, "a2")
	assert.Empty(t, st2.ExecutionLeases)
}

func TestMemory_RemoveDropsAllMandatesForAgent(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	m.Get(ctx, "agent-1", "m1")
	m.Get(ctx, "agent-1", "m2")
	m.Get(ctx, "agent-2", "m1")

	require.NoError(t, m.Remove(ctx, "agent-1"))

	assert.Len(t, m.states, 1)
	_, ok := m.states[key("agent-2", "m1")]
	assert.True(t, ok)
}

func TestMemory_ClearResetsAllState(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	m.Get(ctx, "agent-1", "m1")
	m.Clear()
	assert.Empty(t, m.states)
}

type fakeSnapshotStore struct {
	saved map[string]*policy.AgentState
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{saved: make(map[string]*policy.AgentState)}
}

func (f *fakeSnapshotStore) Save(ctx context.Context, st *policy.AgentState) error {
	f.saved[key(st.AgentID, st.MandateID)] = st
	return nil
}

func (f *fakeSnapshotStore) Load(ctx context.Context, agentID, mandateID string) (*policy.AgentState, bool, error) {
	st, ok := f.saved[key(agentID, mandateID)]
	return st, ok, nil
}

func TestMemory_SnapshotStoreRoundTrip(t *testing.T) {
	store := newFakeSnapshotStore()
	m := NewMemory(store)
	ctx := context.Background()

	st, _ := m.Get(ctx, "agent-1", "mandate-1")
	action := &policy.Action{ID: "a1", Kind: policy.ActionLLMCall, AgentID: "agent-1", Timestamp: time.Now(), CostType: policy.CostCognition}
	require.NoError(t, m.CommitSuccess(ctx, action, st, 2.0, nil, nil))

	// A fresh Memory instance backed by the same store rehydrates state.
	m2 := NewMemory(store)
	st2, err := m2.Get(ctx, "agent-1", "mandate-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, st2.CumulativeCost)
}
