// Package session creates, observes and reaps remote cloud shell sessions,
// and prevents pathological retry behaviour when the backend is persistently
// failing. One manager owns the session set for a (cluster, namespace) scope.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxury-yacht/console/backend/internal/config"
)

const pollRequestTimeout = 10 * time.Second

// Options configures a session manager. Zero values fall back to the
// defaults in internal/config.
type Options struct {
	API          API
	Scope        Scope
	Logger       Logger
	Callbacks    Callbacks
	SessionLimit int
	PollInterval time.Duration
	ReadyTimeout time.Duration
	Policy       PollPolicy
}

// Manager owns the session records for one scope. Other components only read
// session status through the callbacks to decide whether a connection
// manager should be told to connect.
type Manager struct {
	api          API
	scope        Scope
	logger       Logger
	callbacks    Callbacks
	limit        int
	pollInterval time.Duration
	readyTimeout time.Duration

	mu         sync.Mutex
	sessions   map[string]Session
	notified   map[string]bool
	waiters    map[string]context.CancelFunc
	policy     PollPolicy
	retryTimer *time.Timer
	closed     bool
}

// NewManager constructs a session manager for the given scope.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = config.SessionLimit
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.SessionPollInterval
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = config.SessionReadyTimeout
	}
	if opts.Policy == (PollPolicy{}) {
		opts.Policy = DefaultPollPolicy()
	}
	return &Manager{
		api:          opts.API,
		scope:        opts.Scope,
		logger:       opts.Logger,
		callbacks:    opts.Callbacks,
		limit:        opts.SessionLimit,
		pollInterval: opts.PollInterval,
		readyTimeout: opts.ReadyTimeout,
		sessions:     make(map[string]Session),
		notified:     make(map[string]bool),
		waiters:      make(map[string]context.CancelFunc),
		policy:       opts.Policy,
	}
}

// Create requests a new session. The limit is enforced client-side before
// any network call; the backend would reject the request anyway. A session
// returned already ready is usable immediately; otherwise the manager polls
// at short intervals until it becomes ready or the readiness window elapses.
func (m *Manager) Create(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("session manager is closed")
	}
	active := 0
	for _, sess := range m.sessions {
		if sess.Active() {
			active++
		}
	}
	if active >= m.limit {
		m.mu.Unlock()
		return Session{}, ErrSessionLimit
	}
	m.mu.Unlock()

	sess, err := m.api.CreateSession(ctx, m.scope)
	if err != nil {
		kind := Classify(err)
		m.logger.Warn(fmt.Sprintf("session: create failed (%s): %v", kind, err), "CloudShell")
		m.callbacks.failure(kind, err)
		return Session{}, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	readyNow := sess.Status == StatusReady && !m.notified[sess.ID]
	if readyNow {
		m.notified[sess.ID] = true
	}
	startWaiter := sess.Status == StatusCreating && !m.closed
	if startWaiter {
		waitCtx, cancel := context.WithCancel(context.Background())
		m.waiters[sess.ID] = cancel
		go m.awaitReady(waitCtx, sess.ID)
	}
	m.mu.Unlock()

	if readyNow {
		m.callbacks.ready(sess)
	}
	return sess, nil
}

// Poll reconciles the session list with the backend once. On success the
// consecutive-failure counter resets; on failure the error is classified and
// the backoff/disable policy applied.
func (m *Manager) Poll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session manager is closed")
	}
	if m.policy.Disabled {
		m.mu.Unlock()
		return ErrPollingDisabled
	}
	m.mu.Unlock()

	list, err := m.api.ListSessions(ctx, m.scope)
	if err != nil {
		m.handlePollFailure(err)
		return err
	}

	m.mu.Lock()
	m.policy = m.policy.Success()
	m.reconcileLocked(list)
	becameReady := m.collectReadyLocked()
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil
	}
	m.callbacks.sessions(sortSessions(list))
	for _, sess := range becameReady {
		m.callbacks.ready(sess)
	}
	return nil
}

// Delete requests termination. Regardless of outcome a fresh poll reconciles
// the visible list: the backend is authoritative for session existence.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	deleteErr := m.api.DeleteSession(ctx, m.scope, sessionID)
	if deleteErr != nil {
		m.logger.Warn(fmt.Sprintf("session: delete %s failed: %v", sessionID, deleteErr), "CloudShell")
	}
	if err := m.Poll(ctx); err != nil && deleteErr == nil {
		return err
	}
	return deleteErr
}

// Retry is the manual recovery action: it clears the disabled state, resets
// the failure counter and performs an immediate poll.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	m.policy = m.policy.Retry()
	m.mu.Unlock()
	return m.Poll(ctx)
}

// PollingDisabled reports whether automatic polling is currently disabled
// and the failure category that disabled it.
func (m *Manager) PollingDisabled() (bool, FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.Disabled, m.policy.DisabledBy
}

// Sessions returns the currently known session records.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return sortSessions(out)
}

// Close cancels pending retry timers and readiness waiters. No callback is
// invoked after Close.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	for id, cancel := range m.waiters {
		cancel()
		delete(m.waiters, id)
	}
}

func (m *Manager) handlePollFailure(err error) {
	kind := Classify(err)
	m.logger.Warn(fmt.Sprintf("session: poll failed (%s): %v", kind, err), "CloudShell")

	m.mu.Lock()
	policy, delay, retry := m.policy.Failure(kind)
	m.policy = policy
	closed := m.closed
	if retry && !closed {
		if m.retryTimer != nil {
			m.retryTimer.Stop()
		}
		m.retryTimer = time.AfterFunc(delay, m.scheduledPoll)
	}
	m.mu.Unlock()

	if closed {
		return
	}
	m.callbacks.failure(kind, err)
	if policy.Disabled {
		m.callbacks.unavailable(kind)
	}
}

func (m *Manager) scheduledPoll() {
	ctx, cancel := context.WithTimeout(context.Background(), pollRequestTimeout)
	defer cancel()
	_ = m.Poll(ctx)
}

// reconcileLocked replaces the known set with the backend's view, dropping
// bookkeeping for sessions the backend no longer lists.
func (m *Manager) reconcileLocked(list []Session) {
	next := make(map[string]Session, len(list))
	for _, sess := range list {
		next[sess.ID] = sess
	}
	for id := range m.sessions {
		if _, ok := next[id]; ok {
			continue
		}
		delete(m.notified, id)
		if cancel, ok := m.waiters[id]; ok {
			cancel()
			delete(m.waiters, id)
		}
	}
	m.sessions = next
}

// collectReadyLocked returns sessions that just transitioned to ready and
// marks them notified so the transition fires exactly once.
func (m *Manager) collectReadyLocked() []Session {
	var out []Session
	for id, sess := range m.sessions {
		if sess.Status != StatusReady || m.notified[id] {
			continue
		}
		m.notified[id] = true
		out = append(out, sess)
		if cancel, ok := m.waiters[id]; ok {
			cancel()
			delete(m.waiters, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// awaitReady polls at short intervals until the session becomes ready, the
// backend stops listing it, or the readiness window elapses.
func (m *Manager) awaitReady(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(m.readyTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			m.mu.Lock()
			delete(m.waiters, sessionID)
			closed := m.closed
			m.mu.Unlock()
			if !closed {
				m.logger.Warn(fmt.Sprintf("session: %s did not become ready in time", sessionID), "CloudShell")
				m.callbacks.readyTimeout(sessionID)
			}
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, pollRequestTimeout)
			_ = m.Poll(pollCtx)
			cancel()

			m.mu.Lock()
			sess, known := m.sessions[sessionID]
			m.mu.Unlock()
			if !known || sess.Status != StatusCreating {
				return
			}
		}
	}
}

func sortSessions(list []Session) []Session {
	out := make([]Session, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
