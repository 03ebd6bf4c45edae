package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPAPICreateSession(t *testing.T) {
	created := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/shell/sessions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":        "s1",
			"namespace": "shell-ns",
			"podName":   "shell-abc",
			"status":    "creating",
			"createdAt": created.Format(time.RFC3339Nano),
		})
	}))
	defer ts.Close()

	api := NewHTTPAPI(ts.URL, nil)
	sess, err := api.CreateSession(context.Background(), Scope{Namespace: "default"})
	require.NoError(t, err)
	require.Equal(t, "s1", sess.ID)
	require.Equal(t, "shell-abc", sess.PodName)
	require.Equal(t, "shell-ns", sess.Namespace)
	require.Equal(t, StatusCreating, sess.Status)
	require.True(t, sess.CreatedAt.Equal(created))
}

func TestHTTPAPIListSessions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": []map[string]any{
				{"id": "a", "status": "ready"},
				{"id": "b", "status": "terminating"},
			},
		})
	}))
	defer ts.Close()

	api := NewHTTPAPI(ts.URL, nil)
	sessions, err := api.ListSessions(context.Background(), Scope{Namespace: "default"})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, StatusReady, sessions[0].Status)
	require.Equal(t, "default", sessions[0].Namespace, "scope namespace fills in when the payload omits it")
}

func TestHTTPAPIDeleteSession(t *testing.T) {
	var deletedPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deletedPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	api := NewHTTPAPI(ts.URL, nil)
	require.NoError(t, api.DeleteSession(context.Background(), Scope{}, "s1"))
	require.Equal(t, "/api/v1/shell/sessions/s1", deletedPath)
}

func TestHTTPAPIErrorsClassifyLikeAPIErrors(t *testing.T) {
	cases := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusForbidden, FailurePermission},
		{http.StatusUnauthorized, FailurePermission},
		{http.StatusBadRequest, FailureConfiguration},
		{http.StatusTooManyRequests, FailureTemporary},
		{http.StatusServiceUnavailable, FailureTemporary},
	}

	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "denied by test"})
		}))

		api := NewHTTPAPI(ts.URL, nil)
		_, err := api.ListSessions(context.Background(), Scope{})
		require.Error(t, err, "status %d", tc.status)
		require.Equal(t, tc.kind, Classify(err), "status %d", tc.status)
		ts.Close()
	}
}
