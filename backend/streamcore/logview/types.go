package logview

// Logger represents the minimal logging interface required by the log view.
type Logger interface {
	Debug(message string, source ...string)
	Info(message string, source ...string)
	Warn(message string, source ...string)
	Error(message string, source ...string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...string) {}
func (noopLogger) Info(string, ...string)  {}
func (noopLogger) Warn(string, ...string)  {}
func (noopLogger) Error(string, ...string) {}

// Mode selects how the filter term is interpreted.
type Mode string

const (
	// ModeSimple matches the term as a literal substring; regex
	// metacharacters in the term carry no special meaning.
	ModeSimple Mode = "simple"

	// ModeRegex uses the term verbatim as a regular expression.
	ModeRegex Mode = "regex"

	// ModeGrep applies shell-glob semantics (* and ?) and prunes
	// non-matching lines from the rendered view.
	ModeGrep Mode = "grep"
)

// FilterSpec is the user-editable filter. It is a pure value; changing it
// re-evaluates the full retained buffer.
type FilterSpec struct {
	Term          string `json:"term"`
	Mode          Mode   `json:"mode"`
	CaseSensitive bool   `json:"caseSensitive"`
}

// Entry is one retained log line. Identity is SequenceID, monotonic per
// stream, which is also the render sort key.
type Entry struct {
	SequenceID uint64 `json:"sequenceId"`
	Container  string `json:"container,omitempty"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp,omitempty"`
	IsPrevious bool   `json:"isPrevious,omitempty"`
}

// RenderedEntry is an entry as presented to the UI: the ANSI-stripped text
// plus the match ranges for highlight modes.
type RenderedEntry struct {
	Entry
	// Matches holds [start, end) byte offsets into the stripped message.
	// Empty for non-matching lines in highlight modes.
	Matches [][2]int `json:"matches,omitempty"`
}
