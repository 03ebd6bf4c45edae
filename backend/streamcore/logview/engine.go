// Package logview maintains the visible log view for a pod or workload
// stream: a bounded keep-last-N buffer of ingested lines plus a live,
// user-editable filter. Grep mode prunes high-volume output; simple and
// regex modes highlight matches without losing context.
package logview

import (
	"strings"
	"sync"

	"github.com/luxury-yacht/console/backend/internal/config"
)

// Engine owns the log ring buffer for one stream. All methods are safe for
// concurrent use; the buffer itself is never shared outward.
type Engine struct {
	logger Logger

	mu       sync.RWMutex
	capacity int
	ring     []Entry
	start    int
	count    int
	nextSeq  uint64
	spec     FilterSpec
	match    matcher
}

// NewEngine constructs an engine with the given buffer capacity; a
// non-positive capacity falls back to the default.
func NewEngine(capacity int, logger Logger) *Engine {
	if capacity <= 0 {
		capacity = config.LogViewDefaultCapacity
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		logger:   logger,
		capacity: capacity,
		ring:     make([]Entry, capacity),
		nextSeq:  1,
	}
}

// Ingest appends a line to the buffer, evicting the oldest entry beyond
// capacity, and reports whether the entry is surfaced by the current filter.
// In grep mode non-matching entries are retained but not rendered; in the
// highlight modes every entry is rendered.
func (e *Engine) Ingest(container, message, timestamp string, isPrevious bool) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := Entry{
		SequenceID: e.nextSeq,
		Container:  container,
		Message:    message,
		Timestamp:  timestamp,
		IsPrevious: isPrevious,
	}
	e.nextSeq++

	if e.count < e.capacity {
		e.ring[(e.start+e.count)%e.capacity] = entry
		e.count++
	} else {
		e.ring[e.start] = entry
		e.start = (e.start + 1) % e.capacity
	}

	if e.spec.Mode != ModeGrep {
		return entry, true
	}
	matched, _ := e.match.match(StripANSI(message))
	return entry, matched
}

// SetFilter installs a new filter and re-renders the entire buffer against
// it on the next Rendered call.
func (e *Engine) SetFilter(spec FilterSpec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spec = spec
	e.match = compileFilter(spec)
	if e.match.invalid {
		e.logger.Warn("logview: invalid filter pattern, matching literally", "LogView")
	}
}

// Filter returns the currently installed filter.
func (e *Engine) Filter() FilterSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spec
}

// InvalidPattern reports whether the current regex-mode term failed to
// compile and matching fell back to the literal term.
func (e *Engine) InvalidPattern() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.match.invalid
}

// Clear empties the buffer and resets sequence numbering. It does not touch
// the underlying stream connection.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = 0
	e.count = 0
	e.nextSeq = 1
}

// Len returns the number of retained entries.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.count
}

// Entries returns a copy of the full retained buffer in ingestion order,
// regardless of the active filter.
func (e *Engine) Entries() []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Entry {
	out := make([]Entry, 0, e.count)
	for i := 0; i < e.count; i++ {
		out = append(out, e.ring[(e.start+i)%e.capacity])
	}
	return out
}

// Rendered applies the active filter to the retained buffer and returns the
// lines the UI should show, in sequence order. Matching always runs against
// the ANSI-stripped message.
func (e *Engine) Rendered() []RenderedEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries := e.snapshotLocked()
	filterMode := e.spec.Mode == ModeGrep

	out := make([]RenderedEntry, 0, len(entries))
	for _, entry := range entries {
		stripped := StripANSI(entry.Message)
		matched, ranges := e.match.match(stripped)
		if filterMode && !matched {
			continue
		}
		rendered := RenderedEntry{Entry: entry}
		rendered.Message = stripped
		if matched && e.spec.Term != "" {
			rendered.Matches = ranges
		}
		out = append(out, rendered)
	}
	return out
}

// Export renders the full retained buffer (unfiltered, ANSI-stripped) as
// text for the download and copy paths.
func (e *Engine) Export() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var b strings.Builder
	for i := 0; i < e.count; i++ {
		entry := e.ring[(e.start+i)%e.capacity]
		if entry.Container != "" {
			b.WriteString("[")
			b.WriteString(entry.Container)
			b.WriteString("] ")
		}
		b.WriteString(StripANSI(entry.Message))
		b.WriteString("\n")
	}
	return b.String()
}
