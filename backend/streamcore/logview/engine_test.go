package logview

import (
	"fmt"
	"strings"
	"testing"
)

func ingestLines(e *Engine, lines ...string) {
	for _, line := range lines {
		e.Ingest("app", line, "", false)
	}
}

func TestBufferKeepsLastNInOrder(t *testing.T) {
	e := NewEngine(100, nil)
	for i := 0; i < 150; i++ {
		e.Ingest("app", fmt.Sprintf("line-%d", i), "", false)
	}

	entries := e.Entries()
	if len(entries) != 100 {
		t.Fatalf("expected capacity-bounded buffer of 100, got %d", len(entries))
	}
	for i, entry := range entries {
		want := fmt.Sprintf("line-%d", i+50)
		if entry.Message != want {
			t.Fatalf("entry %d: expected %q, got %q", i, want, entry.Message)
		}
	}
	// Sequence IDs stay monotonic across eviction.
	for i := 1; i < len(entries); i++ {
		if entries[i].SequenceID != entries[i-1].SequenceID+1 {
			t.Fatalf("sequence gap at %d: %d then %d", i, entries[i-1].SequenceID, entries[i].SequenceID)
		}
	}
}

func TestSimpleModeMatchesLiterally(t *testing.T) {
	e := NewEngine(0, nil)
	ingestLines(e, "metric a.b recorded", "metric axb recorded", "no metrics here")

	e.SetFilter(FilterSpec{Term: "a.b", Mode: ModeSimple, CaseSensitive: true})
	rendered := e.Rendered()

	// Highlight mode: every line renders, only the literal match is marked.
	if len(rendered) != 3 {
		t.Fatalf("simple mode must not prune lines, got %d", len(rendered))
	}
	if len(rendered[0].Matches) != 1 {
		t.Fatalf("expected literal a.b match on first line, got %v", rendered[0].Matches)
	}
	if len(rendered[1].Matches) != 0 {
		t.Fatalf("the dot must not act as a wildcard, got %v", rendered[1].Matches)
	}

	// Escaping then matching behaves exactly like strings.Contains.
	for _, entry := range e.Entries() {
		matched, _ := compileFilter(FilterSpec{Term: "a.b", Mode: ModeSimple, CaseSensitive: true}).match(entry.Message)
		if matched != strings.Contains(entry.Message, "a.b") {
			t.Fatalf("literal match diverged from strings.Contains for %q", entry.Message)
		}
	}
}

func TestSimpleModeCaseInsensitiveByDefault(t *testing.T) {
	e := NewEngine(0, nil)
	ingestLines(e, "ERROR: disk full", "error: retrying", "all good")

	e.SetFilter(FilterSpec{Term: "error", Mode: ModeSimple})
	rendered := e.Rendered()
	marked := 0
	for _, r := range rendered {
		if len(r.Matches) > 0 {
			marked++
		}
	}
	if marked != 2 {
		t.Fatalf("expected case-insensitive matching to mark 2 lines, got %d", marked)
	}
}

func TestGrepModePrunesNonMatching(t *testing.T) {
	e := NewEngine(0, nil)
	ingestLines(e, "app.err", "app.log", "system.err")

	e.SetFilter(FilterSpec{Term: "*.err", Mode: ModeGrep})
	rendered := e.Rendered()
	if len(rendered) != 2 {
		t.Fatalf("expected grep to keep only .err lines, got %d: %v", len(rendered), rendered)
	}
	if rendered[0].Message != "app.err" || rendered[1].Message != "system.err" {
		t.Fatalf("unexpected grep results: %v", rendered)
	}

	// The underlying buffer is untouched.
	if e.Len() != 3 {
		t.Fatalf("grep must retain non-matching entries, buffer has %d", e.Len())
	}

	// Relaxing the filter brings pruned lines back.
	e.SetFilter(FilterSpec{})
	if got := len(e.Rendered()); got != 3 {
		t.Fatalf("expected all lines after filter reset, got %d", got)
	}
}

func TestGrepQuestionMarkMatchesSingleCharacter(t *testing.T) {
	m := compileFilter(FilterSpec{Term: "pod-?", Mode: ModeGrep, CaseSensitive: true})
	if ok, _ := m.match("pod-1 restarted"); !ok {
		t.Fatal("expected pod-? to match pod-1")
	}
	if ok, _ := m.match("pod restarted"); ok {
		t.Fatal("expected pod-? not to match bare pod")
	}
}

func TestInvalidRegexFallsBackToLiteral(t *testing.T) {
	e := NewEngine(0, nil)
	ingestLines(e, "broken [pattern here", "clean line")

	e.SetFilter(FilterSpec{Term: "[pattern", Mode: ModeRegex})
	if !e.InvalidPattern() {
		t.Fatal("expected invalid pattern to be reported")
	}

	rendered := e.Rendered()
	if len(rendered) != 2 {
		t.Fatalf("invalid pattern must not prune in highlight mode, got %d", len(rendered))
	}
	if len(rendered[0].Matches) != 1 {
		t.Fatalf("expected literal fallback to match raw term, got %v", rendered[0].Matches)
	}

	// Ingestion keeps working under the fallback.
	e.Ingest("app", "another [pattern line", "", false)
	if e.Len() != 3 {
		t.Fatalf("ingestion broke under invalid pattern, len=%d", e.Len())
	}
}

func TestValidRegexMatches(t *testing.T) {
	e := NewEngine(0, nil)
	ingestLines(e, "request took 153ms", "request took 9ms")

	e.SetFilter(FilterSpec{Term: `\d{3}ms`, Mode: ModeRegex})
	if e.InvalidPattern() {
		t.Fatal("valid pattern flagged invalid")
	}
	rendered := e.Rendered()
	if len(rendered[0].Matches) != 1 || len(rendered[1].Matches) != 0 {
		t.Fatalf("unexpected regex matches: %v / %v", rendered[0].Matches, rendered[1].Matches)
	}
}

func TestMatchingIgnoresANSISequences(t *testing.T) {
	e := NewEngine(0, nil)
	e.Ingest("app", "\x1b[31mERROR\x1b[0m: oops", "", false)

	e.SetFilter(FilterSpec{Term: "ERROR: oops", Mode: ModeSimple, CaseSensitive: true})
	rendered := e.Rendered()
	if len(rendered) != 1 || len(rendered[0].Matches) != 1 {
		t.Fatalf("expected match across stripped escape codes, got %+v", rendered)
	}
	if rendered[0].Message != "ERROR: oops" {
		t.Fatalf("expected stripped message, got %q", rendered[0].Message)
	}
}

func TestStripANSIHandlesOSC(t *testing.T) {
	in := "\x1b]0;title\x07plain \x1b[1;32mgreen\x1b[0m text"
	if got := StripANSI(in); got != "plain green text" {
		t.Fatalf("unexpected strip result %q", got)
	}
	if got := StripANSI("untouched"); got != "untouched" {
		t.Fatalf("plain text must pass through, got %q", got)
	}
}

func TestClearResetsSequenceNumbering(t *testing.T) {
	e := NewEngine(0, nil)
	ingestLines(e, "one", "two")
	e.Clear()
	if e.Len() != 0 {
		t.Fatalf("expected empty buffer after clear, got %d", e.Len())
	}
	entry, _ := e.Ingest("app", "fresh", "", false)
	if entry.SequenceID != 1 {
		t.Fatalf("expected sequence to restart at 1, got %d", entry.SequenceID)
	}
}

func TestIngestVisibilityUnderGrep(t *testing.T) {
	e := NewEngine(0, nil)
	e.SetFilter(FilterSpec{Term: "*.err", Mode: ModeGrep})

	if _, visible := e.Ingest("app", "app.err", "", false); !visible {
		t.Fatal("matching entry must be surfaced")
	}
	if _, visible := e.Ingest("app", "app.log", "", false); visible {
		t.Fatal("non-matching entry must not be surfaced in grep mode")
	}
	// Highlight modes surface everything at ingest time.
	e.SetFilter(FilterSpec{Term: "nomatch", Mode: ModeSimple})
	if _, visible := e.Ingest("app", "app.log", "", false); !visible {
		t.Fatal("highlight mode must surface non-matching entries")
	}
}

func TestMultiContainerTailScenario(t *testing.T) {
	e := NewEngine(100, nil)
	for i := 0; i < 150; i++ {
		container := "web"
		if i%2 == 1 {
			container = "sidecar"
		}
		message := fmt.Sprintf("line-%d", i)
		if i%10 == 0 {
			message = fmt.Sprintf("ERROR line-%d", i)
		}
		e.Ingest(container, message, "", false)
	}

	entries := e.Entries()
	if len(entries) != 100 {
		t.Fatalf("expected last 100 entries, got %d", len(entries))
	}
	// Arrival order and container tags preserved.
	if entries[0].Container != "web" || entries[1].Container != "sidecar" {
		t.Fatalf("container interleave lost: %q %q", entries[0].Container, entries[1].Container)
	}

	e.SetFilter(FilterSpec{Term: "ERROR", Mode: ModeSimple, CaseSensitive: true})
	rendered := e.Rendered()
	if len(rendered) != 100 {
		t.Fatalf("simple filter must not prune, got %d", len(rendered))
	}
	marked := 0
	for _, r := range rendered {
		if len(r.Matches) > 0 {
			marked++
		}
	}
	if marked != 10 {
		t.Fatalf("expected 10 marked ERROR lines in the retained window, got %d", marked)
	}
	if e.Len() != 100 {
		t.Fatal("filtering changed the underlying buffer")
	}
}

func TestExportIncludesContainerTags(t *testing.T) {
	e := NewEngine(0, nil)
	e.Ingest("web", "\x1b[31mfailed\x1b[0m", "", false)
	e.Ingest("", "no tag", "", false)

	out := e.Export()
	if out != "[web] failed\nno tag\n" {
		t.Fatalf("unexpected export output %q", out)
	}
}
