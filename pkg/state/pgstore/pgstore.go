// Package pgstore implements the optional Postgres-backed durable
// snapshot store (SPEC_FULL.md §4.10): a write-through persistence hook
// for pkg/state's in-memory manager, so a single-process deployment can
// survive a restart without standing up Redis. It is never required —
// state.NewMemory(nil) works exactly as it does without a store.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// Store persists policy.AgentState rows keyed by (agent_id, mandate_id)
// using an upsert-on-conflict statement, mirroring
// core/pkg/budget/postgres_store.go's Set.
type Store struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB. The caller owns the connection's
// lifecycle (driver, pooling, TLS); this package only issues queries.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema is the DDL for the backing table. Callers run it once during
// provisioning; pgstore does not run migrations itself.
const Schema = `
CREATE TABLE IF NOT EXISTS mandate_agent_state (
	agent_id              TEXT NOT NULL,
	mandate_id            TEXT NOT NULL,
	cumulative_cost       DOUBLE PRECISION NOT NULL,
	cognition_cost        DOUBLE PRECISION NOT NULL,
	execution_cost        DOUBLE PRECISION NOT NULL,
	call_count            INTEGER NOT NULL,
	window_start          TIMESTAMPTZ,
	tool_counters         JSONB NOT NULL,
	seen_action_ids       JSONB NOT NULL,
	seen_idempotency_keys JSONB NOT NULL,
	execution_leases      JSONB NOT NULL,
	killed                BOOLEAN NOT NULL,
	killed_at             TIMESTAMPTZ,
	killed_reason         TEXT,
	updated_at            TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (agent_id, mandate_id)
);
`

type row struct {
	ToolCounters        map[string]*policy.ToolCounter `json:"tool_counters"`
	SeenActionIDs       []string                       `json:"seen_action_ids"`
	SeenIdempotencyKeys []string                        `json:"seen_idempotency_keys"`
	ExecutionLeases     map[string]time.Time            `json:"execution_leases"`
}

// Save upserts st, matching the budget store's
// "INSERT ... ON CONFLICT DO UPDATE" idiom.
func (s *Store) Save(ctx context.Context, st *policy.AgentState) error {
	r := row{
		ToolCounters:        st.ToolCounters,
		SeenActionIDs:       keysOf(st.SeenActionIDs),
		SeenIdempotencyKeys: keysOf(st.SeenIdempotencyKeys),
		ExecutionLeases:     st.ExecutionLeases,
	}
	toolCounters, err := json.Marshal(r.ToolCounters)
	if err != nil {
		return fmt.Errorf("pgstore: marshal tool counters: %w", err)
	}
	actionIDs, err := json.Marshal(r.SeenActionIDs)
	if err != nil {
		return fmt.Errorf("pgstore: marshal seen action ids: %w", err)
	}
	idemKeys, err := json.Marshal(r.SeenIdempotencyKeys)
	if err != nil {
		return fmt.Errorf("pgstore: marshal seen idempotency keys: %w", err)
	}
	leases, err := json.Marshal(r.ExecutionLeases)
	if err != nil {
		return fmt.Errorf("pgstore: marshal execution leases: %w", err)
	}

	query := `
		INSERT INTO mandate_agent_state (
			agent_id, mandate_id, cumulative_cost, cognition_cost, execution_cost,
			call_count, window_start, tool_counters, seen_action_ids,
			seen_idempotency_keys, execution_leases, killed, killed_at,
			killed_reason, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
		ON CONFLICT (agent_id, mandate_id) DO UPDATE SET
			cumulative_cost       = EXCLUDED.cumulative_cost,
			cognition_cost        = EXCLUDED.cognition_cost,
			execution_cost        = EXCLUDED.execution_cost,
			call_count            = EXCLUDED.call_count,
			window_start          = EXCLUDED.window_start,
			tool_counters         = EXCLUDED.tool_counters,
			seen_action_ids       = EXCLUDED.seen_action_ids,
			seen_idempotency_keys = EXCLUDED.seen_idempotency_keys,
			execution_leases      = EXCLUDED.execution_leases,
			killed                = EXCLUDED.killed,
			killed_at             = EXCLUDED.killed_at,
			killed_reason         = EXCLUDED.killed_reason,
			updated_at            = NOW()
	`
	_, err = s.db.ExecContext(ctx, query,
		st.AgentID, st.MandateID, st.CumulativeCost, st.CognitionCost, st.ExecutionCost,
		st.CallCount, nullableTime(st.WindowStart), toolCounters, actionIDs,
		idemKeys, leases, st.Killed, nullableTimePtr(st.KilledAt), st.KilledReason,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save failed: %w", err)
	}
	return nil
}

// Load fetches a snapshot for (agentID, mandateID), returning
// found=false when no row exists yet (a brand-new agent/mandate pair).
func (s *Store) Load(ctx context.Context, agentID, mandateID string) (*policy.AgentState, bool, error) {
	query := `
		SELECT cumulative_cost, cognition_cost, execution_cost, call_count,
		       window_start, tool_counters, seen_action_ids,
		       seen_idempotency_keys, execution_leases, killed, killed_at, killed_reason
		FROM mandate_agent_state WHERE agent_id = $1 AND mandate_id = $2
	`
	r := s.db.QueryRowContext(ctx, query, agentID, mandateID)

	var (
		windowStart                              sql.NullTime
		killedAt                                  sql.NullTime
		toolCountersRaw, actionIDsRaw, idemRaw, leasesRaw []byte
	)
	st := policy.NewAgentState(agentID, mandateID)
	err := r.Scan(
		&st.CumulativeCost, &st.CognitionCost, &st.ExecutionCost, &st.CallCount,
		&windowStart, &toolCountersRaw, &actionIDsRaw, &idemRaw, &leasesRaw,
		&st.Killed, &killedAt, &st.KilledReason,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgstore: load failed: %w", err)
	}

	if windowStart.Valid {
		st.WindowStart = windowStart.Time
	}
	if killedAt.Valid {
		t := killedAt.Time
		st.KilledAt = &t
	}

	var toolCounters map[string]*policy.ToolCounter
	if err := json.Unmarshal(toolCountersRaw, &toolCounters); err == nil && toolCounters != nil {
		st.ToolCounters = toolCounters
	}
	var actionIDs, idemKeys []string
	_ = json.Unmarshal(actionIDsRaw, &actionIDs)
	_ = json.Unmarshal(idemRaw, &idemKeys)
	for _, id := range actionIDs {
		st.SeenActionIDs[id] = struct{}{}
	}
	for _, k := range idemKeys {
		st.SeenIdempotencyKeys[k] = struct{}{}
	}
	var leases map[string]time.Time
	if err := json.Unmarshal(leasesRaw, &leases); err == nil && leases != nil {
		st.ExecutionLeases = leases
	}

	return st, true, nil
}

func keysOf(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
