package telemetry

import "sync"

// Entry is one recorded call against a MemorySink.
type Entry struct {
	Level  string
	Msg    string
	Fields []any
}

// MemorySink is a trivial in-memory Sink for tests that need to assert on
// what the core logged, without standing up a real zap encoder.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Info(msg string, fields ...any)  { m.record("info", msg, fields) }
func (m *MemorySink) Warn(msg string, fields ...any)  { m.record("warn", msg, fields) }
func (m *MemorySink) Error(msg string, fields ...any) { m.record("error", msg, fields) }

func (m *MemorySink) record(level, msg string, fields []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

// Entries returns a copy of every call recorded so far.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
