package session

import (
	"context"
	"errors"
	"time"
)

// Logger represents the minimal logging interface required by the session
// manager.
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

// Scope identifies the cluster and namespace a session set belongs to.
type Scope struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
}

// Status enumerates the lifecycle states of a cloud shell session.
type Status string

const (
	StatusCreating    Status = "creating"
	StatusReady       Status = "ready"
	StatusTerminating Status = "terminating"
	StatusTerminated  Status = "terminated"
)

// Session is one remote shell session record. The backend, not the client,
// is authoritative for session existence; records are mutated only by poll
// responses or explicit delete.
type Session struct {
	ID        string    `json:"id"`
	PodName   string    `json:"podName"`
	Namespace string    `json:"namespace"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Active reports whether the session counts toward the session limit.
func (s Session) Active() bool {
	return s.Status == StatusReady || s.Status == StatusCreating
}

// API is the collaborator interface to the session backend.
type API interface {
	CreateSession(ctx context.Context, scope Scope) (Session, error)
	ListSessions(ctx context.Context, scope Scope) ([]Session, error)
	DeleteSession(ctx context.Context, scope Scope, id string) error
}

// ErrSessionLimit is returned by Create when the scope already holds the
// configured number of active sessions. No network call is made.
var ErrSessionLimit = errors.New("session limit reached")

// ErrPollingDisabled is returned by Poll while polling is disabled; a manual
// Retry is required to resume.
var ErrPollingDisabled = errors.New("session polling is disabled")

// Callbacks are how the UI learns about session lifecycle changes. They are
// never invoked after Close returns.
type Callbacks struct {
	// OnSessions delivers the reconciled session list after every
	// successful poll.
	OnSessions func(sessions []Session)

	// OnReady fires exactly once per session, when it first reaches the
	// ready state.
	OnReady func(sess Session)

	// OnFailure surfaces a classified poll or create failure.
	OnFailure func(kind FailureKind, err error)

	// OnUnavailable fires when polling is disabled, either immediately for
	// permission/configuration failures or after repeated temporary ones.
	OnUnavailable func(kind FailureKind)

	// OnReadyTimeout fires once when a created session fails to become
	// ready within the readiness window.
	OnReadyTimeout func(sessionID string)
}

func (c Callbacks) sessions(list []Session) {
	if c.OnSessions != nil {
		c.OnSessions(list)
	}
}

func (c Callbacks) ready(sess Session) {
	if c.OnReady != nil {
		c.OnReady(sess)
	}
}

func (c Callbacks) failure(kind FailureKind, err error) {
	if c.OnFailure != nil {
		c.OnFailure(kind, err)
	}
}

func (c Callbacks) unavailable(kind FailureKind) {
	if c.OnUnavailable != nil {
		c.OnUnavailable(kind)
	}
}

func (c Callbacks) readyTimeout(id string) {
	if c.OnReadyTimeout != nil {
		c.OnReadyTimeout(id)
	}
}
