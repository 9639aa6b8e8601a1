package logger

import (
	"strings"
	"sync"
)

// TestLogger records entries in memory so tests can assert on what a
// component logged. Children created by With and Named share the record.
type TestLogger struct {
	sink   *entrySink
	name   string
	fields []Field
}

type entrySink struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Logger  string
	Level   string
	Message string
	Fields  []Field
}

// NewTestLogger creates an empty TestLogger.
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &entrySink{}}
}

func (l *TestLogger) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields) }
func (l *TestLogger) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields) }
func (l *TestLogger) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields) }
func (l *TestLogger) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields) }
func (l *TestLogger) Fatal(msg string, fields ...Field) { l.log("FATAL", msg, fields) }

func (l *TestLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &TestLogger{sink: l.sink, name: l.name, fields: merged}
}

func (l *TestLogger) Named(name string) Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &TestLogger{sink: l.sink, name: full, fields: l.fields}
}

func (l *TestLogger) Sync() error { return nil }

func (l *TestLogger) log(level, msg string, fields []Field) {
	all := make([]Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{
		Logger:  l.name,
		Level:   level,
		Message: msg,
		Fields:  all,
	})
}

// GetEntries returns a copy of every recorded entry.
func (l *TestLogger) GetEntries() []LogEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	entries := make([]LogEntry, len(l.sink.entries))
	copy(entries, l.sink.entries)
	return entries
}

// Contains reports whether any entry at level has a message containing substr.
func (l *TestLogger) Contains(level, substr string) bool {
	for _, e := range l.GetEntries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Clear drops all recorded entries.
func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = l.sink.entries[:0]
}
