package audit

import (
	"encoding/json"
	"os"
	"sync"
)

// FileSink appends one JSON object per line to a file, opening it
// lazily on first Log. A write error disables further writes rather
// than surfacing — a degraded audit sink must never degrade admission
// (spec §5 "A degraded audit sink never degrades admission").
type FileSink struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	openErr  bool
	disabled bool
}

// NewFile returns a sink that appends to path, creating it if absent.
// The file is not opened until the first Log call.
func NewFile(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Log(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return
	}
	if s.file == nil && !s.openErr {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			s.openErr = true
			s.disabled = true
			return
		}
		s.file = f
	}
	if s.file == nil {
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		s.disabled = true
	}
}

// Close releases the underlying file handle, if open.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var _ Sink = (*FileSink)(nil)
