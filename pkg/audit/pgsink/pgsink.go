// Package pgsink implements the optional Postgres audit sink
// (SPEC_FULL.md §4.11): an additional Sink flavor beyond spec §4.8's
// minimum list, appending one row per audit.Entry to an audit_log
// table. It is opt-in and owned by the embedding application, not a
// change to the core's "no persistence beyond a pluggable sink"
// Non-goal.
package pgsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/kashaf12/mandate-sub001/pkg/audit"
)

// Schema is the DDL for the backing table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	mandate_id  TEXT NOT NULL,
	action_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	tool        TEXT,
	provider    TEXT,
	model       TEXT,
	outcome     TEXT NOT NULL,
	code        TEXT,
	reason      TEXT,
	entry       JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
`

// Sink appends audit entries to Postgres. Log is best-effort per
// audit.Sink's contract: a write failure is logged via slog and
// swallowed, never returned to the caller (spec §6 "Logger errors
// never propagate").
type Sink struct {
	db  *sql.DB
	log *slog.Logger
}

// New wraps an already-open *sql.DB.
func New(db *sql.DB) *Sink {
	return &Sink{db: db, log: slog.Default().With("component", "audit.pgsink")}
}

func (s *Sink) Log(entry audit.Entry) {
	if entry.ID == "" {
		entry.ID = audit.NewID()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		s.log.Warn("audit entry marshal failed", "error", err)
		return
	}
	_, err = s.db.ExecContext(context.Background(), `
		INSERT INTO audit_log (
			id, agent_id, mandate_id, action_id, kind, tool, provider, model,
			outcome, code, reason, entry, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING
	`,
		entry.ID, entry.AgentID, entry.MandateID, entry.ActionID, string(entry.Kind),
		entry.Tool, entry.Provider, entry.Model, string(entry.Outcome), string(entry.Code),
		entry.Reason, data, entry.Timestamp,
	)
	if err != nil {
		s.log.Warn("audit entry write failed", "error", err)
	}
}

var _ audit.Sink = (*Sink)(nil)
