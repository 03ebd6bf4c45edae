package logging

import (
	"sync"
	"time"
)

// Level represents the severity level of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Entry represents a single diagnostic log entry.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// Logger manages diagnostic logs in memory with a bounded window.
type Logger struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// NewLogger creates a new logger with the specified maximum entry count.
func NewLogger(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Logger{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Log adds an entry with the specified level, message and optional source.
func (l *Logger) Log(level Level, message string, source ...string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
	}
	if len(source) > 0 {
		entry.Source = source[0]
	}

	l.entries = append(l.entries, entry)

	if len(l.entries) > l.maxSize {
		// Re-slice into a fresh buffer so capacity can't grow unbounded.
		start := len(l.entries) - l.maxSize
		newEntries := make([]Entry, l.maxSize)
		copy(newEntries, l.entries[start:])
		l.entries = newEntries
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, source ...string) {
	l.Log(LevelDebug, message, source...)
}

// Info logs an info message.
func (l *Logger) Info(message string, source ...string) {
	l.Log(LevelInfo, message, source...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, source ...string) {
	l.Log(LevelWarn, message, source...)
}

// Error logs an error message.
func (l *Logger) Error(message string, source ...string) {
	l.Log(LevelError, message, source...)
}

// Entries returns a copy of all retained entries.
func (l *Logger) Entries() []Entry {
	if l == nil {
		return []Entry{}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

// Clear removes all retained entries.
func (l *Logger) Clear() {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Count returns the number of retained entries.
func (l *Logger) Count() int {
	if l == nil {
		return 0
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
