package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// NewID mints a fresh audit entry id, mirroring core/pkg/audit/logger.go's
// uuid.New() id assignment. Callers stamp it once per logical Entry at
// emission time (pkg/executor/audit.go), before fanning out to sinks, so
// every sink in a FanOut — including pgsink, whose "id" primary key
// deduplicates retried inserts — sees the same id for the same entry.
func NewID() string {
	return uuid.NewString()
}

// NoopSink discards every entry. Useful as the default when a caller
// wants admission enforcement without any logging.
type NoopSink struct{}

func NewNoop() *NoopSink { return &NoopSink{} }

func (NoopSink) Log(Entry) {}

// MemorySink retains every entry for test introspection.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Log(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

// Entries returns a snapshot copy of everything logged so far.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear resets the sink, for test isolation.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// WriterSink writes one JSON object per line to an io.Writer, mirroring
// core/pkg/audit/logger.go's JSON-per-line console format.
type WriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewConsole logs JSON-per-line to stdout.
func NewConsole() *WriterSink {
	return NewWriter(os.Stdout)
}

// NewWriter logs JSON-per-line to w. w is assumed already safe for
// concurrent use by this sink's own locking; no further synchronization
// is required by the caller.
func NewWriter(w io.Writer) *WriterSink {
	return &WriterSink{writer: w}
}

func (s *WriterSink) Log(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(append(data, '\n'))
}

// FanOut logs to every backend; an individual backend's failure (panic
// recovered, or a degraded file handle) never affects the others —
// "settle all, ignore failures" (spec §4.8, §9).
type FanOut struct {
	sinks []Sink
}

// NewFanOut bundles sinks into one.
func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

func (f *FanOut) Log(entry Entry) {
	for _, s := range f.sinks {
		logSafely(s, entry)
	}
}

// logSafely recovers from a panicking Sink implementation so one
// misbehaving backend cannot take down admission or the other sinks
// in a FanOut (spec §6 "Logger errors never propagate").
func logSafely(s Sink, entry Entry) {
	defer func() { _ = recover() }()
	s.Log(entry)
}

var (
	_ Sink = (*NoopSink)(nil)
	_ Sink = (*MemorySink)(nil)
	_ Sink = (*WriterSink)(nil)
	_ Sink = (*FanOut)(nil)
)
