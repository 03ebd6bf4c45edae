package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

type fakeAPI struct {
	mu        sync.Mutex
	createOut Session
	createErr error
	creates   int

	listQueue [][]Session
	listErr   error
	lists     int

	deleteErr error
	deletes   int
}

func (f *fakeAPI) CreateSession(context.Context, Scope) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return f.createOut, f.createErr
}

func (f *fakeAPI) ListSessions(context.Context, Scope) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.listQueue) == 0 {
		return nil, nil
	}
	out := f.listQueue[0]
	if len(f.listQueue) > 1 {
		f.listQueue = f.listQueue[1:]
	}
	return out, nil
}

func (f *fakeAPI) DeleteSession(context.Context, Scope, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.deleteErr
}

func (f *fakeAPI) counts() (creates, lists, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.lists, f.deletes
}

type sessionRecorder struct {
	mu          sync.Mutex
	ready       []Session
	failures    []FailureKind
	unavailable []FailureKind
	timeouts    []string
}

func (r *sessionRecorder) callbacks() Callbacks {
	return Callbacks{
		OnReady: func(sess Session) {
			r.mu.Lock()
			r.ready = append(r.ready, sess)
			r.mu.Unlock()
		},
		OnFailure: func(kind FailureKind, _ error) {
			r.mu.Lock()
			r.failures = append(r.failures, kind)
			r.mu.Unlock()
		},
		OnUnavailable: func(kind FailureKind) {
			r.mu.Lock()
			r.unavailable = append(r.unavailable, kind)
			r.mu.Unlock()
		},
		OnReadyTimeout: func(id string) {
			r.mu.Lock()
			r.timeouts = append(r.timeouts, id)
			r.mu.Unlock()
		},
	}
}

func (r *sessionRecorder) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

func newTestManager(api API, rec *sessionRecorder) *Manager {
	return NewManager(Options{
		API:          api,
		Scope:        Scope{Cluster: "test", Namespace: "default"},
		Callbacks:    rec.callbacks(),
		SessionLimit: 2,
		PollInterval: 5 * time.Millisecond,
		ReadyTimeout: 200 * time.Millisecond,
		Policy:       PollPolicy{FailureLimit: 5, BaseDelay: 2 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	})
}

func TestCreateRejectedAtSessionLimit(t *testing.T) {
	api := &fakeAPI{}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	api.listQueue = [][]Session{{
		{ID: "a", Status: StatusReady},
		{ID: "b", Status: StatusCreating},
	}}
	require.NoError(t, m.Poll(context.Background()))

	_, err := m.Create(context.Background())
	require.ErrorIs(t, err, ErrSessionLimit)

	creates, _, _ := api.counts()
	require.Zero(t, creates, "limit must be enforced before any network call")
}

func TestTerminatedSessionsDoNotCountTowardLimit(t *testing.T) {
	api := &fakeAPI{createOut: Session{ID: "new", Status: StatusReady}}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	api.listQueue = [][]Session{{
		{ID: "a", Status: StatusTerminated},
		{ID: "b", Status: StatusTerminating},
	}}
	require.NoError(t, m.Poll(context.Background()))

	_, err := m.Create(context.Background())
	require.NoError(t, err)
}

func TestCreateReadyNotifiesImmediately(t *testing.T) {
	api := &fakeAPI{createOut: Session{ID: "s1", Status: StatusReady}}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	sess, err := m.Create(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusReady, sess.Status)
	require.Equal(t, 1, rec.readyCount())
}

func TestReadyNotifiedExactlyOnce(t *testing.T) {
	api := &fakeAPI{createOut: Session{ID: "s1", Status: StatusCreating}}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	_, err := m.Create(context.Background())
	require.NoError(t, err)

	api.mu.Lock()
	api.listQueue = [][]Session{
		{{ID: "s1", Status: StatusCreating}},
		{{ID: "s1", Status: StatusCreating}},
		{{ID: "s1", Status: StatusReady}},
	}
	api.mu.Unlock()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Poll(context.Background()))
	}
	require.Equal(t, 1, rec.readyCount(), "ready fires at the third poll")

	// Further polls list the same ready session and must not re-notify.
	require.NoError(t, m.Poll(context.Background()))
	require.NoError(t, m.Poll(context.Background()))
	require.Equal(t, 1, rec.readyCount())
}

func TestPermissionFailureDisablesPollingWithoutRetry(t *testing.T) {
	forbidden := apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "shell", errors.New("denied"))
	api := &fakeAPI{listErr: forbidden}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	require.Error(t, m.Poll(context.Background()))

	disabled, kind := m.PollingDisabled()
	require.True(t, disabled)
	require.Equal(t, FailurePermission, kind)

	// No retry timer may fire for this category.
	time.Sleep(50 * time.Millisecond)
	_, lists, _ := api.counts()
	require.Equal(t, 1, lists, "permission failure must not be retried")

	// Subsequent polls short-circuit while disabled.
	require.ErrorIs(t, m.Poll(context.Background()), ErrPollingDisabled)
	_, lists, _ = api.counts()
	require.Equal(t, 1, lists)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []FailureKind{FailurePermission}, rec.unavailable)
}

func TestTemporaryFailuresRetryThenDisable(t *testing.T) {
	api := &fakeAPI{listErr: apierrors.NewServiceUnavailable("down")}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	require.Error(t, m.Poll(context.Background()))

	// Four automatic retries follow the first failure; the fifth consecutive
	// failure disables polling.
	deadline := time.Now().Add(time.Second)
	for {
		if disabled, _ := m.PollingDisabled(); disabled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for polling to disable")
		}
		time.Sleep(2 * time.Millisecond)
	}

	_, lists, _ := api.counts()
	require.Equal(t, 5, lists, "expected the failure-limit number of attempts")

	time.Sleep(50 * time.Millisecond)
	_, lists, _ = api.counts()
	require.Equal(t, 5, lists, "no further attempts once disabled")
}

func TestManualRetryResumesPolling(t *testing.T) {
	api := &fakeAPI{listErr: apierrors.NewBadRequest("bad scope")}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	require.Error(t, m.Poll(context.Background()))
	disabled, _ := m.PollingDisabled()
	require.True(t, disabled)

	api.mu.Lock()
	api.listErr = nil
	api.listQueue = [][]Session{{{ID: "s1", Status: StatusReady}}}
	api.mu.Unlock()

	require.NoError(t, m.Retry(context.Background()))
	disabled, _ = m.PollingDisabled()
	require.False(t, disabled)
	require.Len(t, m.Sessions(), 1)
}

func TestDeleteAlwaysReconciles(t *testing.T) {
	api := &fakeAPI{deleteErr: errors.New("delete refused")}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	api.listQueue = [][]Session{{{ID: "s1", Status: StatusReady}}}
	require.Error(t, m.Delete(context.Background(), "s1"))

	_, lists, deletes := api.counts()
	require.Equal(t, 1, deletes)
	require.Equal(t, 1, lists, "a failed delete still triggers a reconcile poll")
}

func TestPollRemovesSessionsBackendNoLongerLists(t *testing.T) {
	api := &fakeAPI{}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	api.listQueue = [][]Session{
		{{ID: "s1", Status: StatusReady}, {ID: "s2", Status: StatusReady}},
		{{ID: "s2", Status: StatusReady}},
	}
	require.NoError(t, m.Poll(context.Background()))
	require.Len(t, m.Sessions(), 2)

	require.NoError(t, m.Poll(context.Background()))
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, "s2", sessions[0].ID)
}

func TestReadyTimeoutReportedOnce(t *testing.T) {
	api := &fakeAPI{createOut: Session{ID: "slow", Status: StatusCreating}}
	rec := &sessionRecorder{}
	m := NewManager(Options{
		API:          api,
		Scope:        Scope{Namespace: "default"},
		Callbacks:    rec.callbacks(),
		SessionLimit: 2,
		PollInterval: 5 * time.Millisecond,
		ReadyTimeout: 30 * time.Millisecond,
		Policy:       PollPolicy{FailureLimit: 5, BaseDelay: 2 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	})
	defer m.Close()

	api.mu.Lock()
	api.listQueue = [][]Session{{{ID: "slow", Status: StatusCreating}}}
	api.mu.Unlock()

	_, err := m.Create(context.Background())
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for {
		rec.mu.Lock()
		timeouts := len(rec.timeouts)
		rec.mu.Unlock()
		if timeouts > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for readiness timeout report")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// No duplicate report arrives later.
	time.Sleep(60 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{"slow"}, rec.timeouts)
	require.Zero(t, len(rec.ready))
}

func TestCreateFailureClassified(t *testing.T) {
	api := &fakeAPI{createErr: apierrors.NewUnauthorized("no token")}
	rec := &sessionRecorder{}
	m := newTestManager(api, rec)
	defer m.Close()

	_, err := m.Create(context.Background())
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []FailureKind{FailurePermission}, rec.failures)
}
