package logtail

import "time"

// Logger represents the minimal logging interface required by the log tailer.
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

// Options captures the parameters for one pod log tail.
type Options struct {
	Namespace string
	Pod       string
	// Container restricts the tail to one container. Empty or "all" tails
	// every container in the pod, init containers included.
	Container string
	TailLines int
	// Previous also fetches logs from the prior instance of each container,
	// which is what you want when diagnosing a crash loop.
	Previous bool
	// Follow keeps streaming after the initial history has been delivered.
	Follow bool
}

// Entry is one log line attributed to its source container.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	Pod        string `json:"pod"`
	Container  string `json:"container"`
	Line       string `json:"line"`
	IsInit     bool   `json:"isInit"`
	IsPrevious bool   `json:"isPrevious"`
}

// containerState tracks the last delivered line per container so a restarted
// follow stream does not redeliver lines the client already has.
type containerState struct {
	lastTimestamp time.Time
	lastLine      string
}
