package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/luxury-yacht/console/backend/cloudshell"
)

var (
	errSessionIDMissing = errors.New("session id not specified")
	errPodNotSpecified  = errors.New("pod not specified")
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !applyCORS(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	correlationID := getCorrelationID(r)

	switch r.Method {
	case http.MethodGet:
		sessions, err := s.store.List(r.Context())
		if err != nil {
			writeAPIError(w, err, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, correlationID, struct {
			Sessions []cloudshell.Session `json:"sessions"`
		}{Sessions: sessions})

	case http.MethodPost:
		sess, err := s.store.Create(r.Context())
		if errors.Is(err, cloudshell.ErrLimitExceeded) {
			writeError(w, http.StatusTooManyRequests, err, correlationID)
			return
		}
		if err != nil {
			writeAPIError(w, err, correlationID)
			return
		}
		writeJSON(w, http.StatusCreated, correlationID, sess)

	default:
		setCorrelationID(w, correlationID)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/shell/sessions/")
	if id, ok := strings.CutSuffix(rest, "/attach"); ok {
		s.handleAttach(w, r, id)
		return
	}

	if !applyCORS(w, r, http.MethodDelete) {
		return
	}
	correlationID := getCorrelationID(r)

	if r.Method != http.MethodDelete {
		setCorrelationID(w, correlationID)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if rest == "" {
		writeError(w, http.StatusBadRequest, errSessionIDMissing, correlationID)
		return
	}

	if err := s.store.Delete(r.Context(), rest); err != nil {
		writeAPIError(w, err, correlationID)
		return
	}
	setCorrelationID(w, correlationID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePodSubresource serves /api/v1/pods/{namespace}/{name}/restarts, the
// container restart metadata the log view shows next to previous-instance
// logs.
func (s *Server) handlePodSubresource(w http.ResponseWriter, r *http.Request) {
	if !applyCORS(w, r, http.MethodGet) {
		return
	}
	correlationID := getCorrelationID(r)

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/pods/"), "/")
	if len(parts) != 3 || parts[2] != "restarts" || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, errPodNotSpecified, correlationID)
		return
	}
	namespace, podName := parts[0], parts[1]

	pod, err := s.client.CoreV1().Pods(namespace).Get(r.Context(), podName, metav1.GetOptions{})
	if err != nil {
		writeAPIError(w, err, correlationID)
		return
	}

	restarts := make([]ContainerRestarts, 0, len(pod.Status.ContainerStatuses))
	for _, status := range pod.Status.ContainerStatuses {
		entry := ContainerRestarts{
			Container:    status.Name,
			RestartCount: status.RestartCount,
			HasPrevious:  status.RestartCount > 0 || status.LastTerminationState.Terminated != nil,
		}
		if term := status.LastTerminationState.Terminated; term != nil {
			entry.LastExitCode = &term.ExitCode
			entry.LastReason = term.Reason
			if !term.FinishedAt.IsZero() {
				t := term.FinishedAt.Time
				entry.LastFinishedAt = &t
			}
		}
		restarts = append(restarts, entry)
	}

	writeJSON(w, http.StatusOK, correlationID, struct {
		Pod        string              `json:"pod"`
		Namespace  string              `json:"namespace"`
		Containers []ContainerRestarts `json:"containers"`
	}{Pod: podName, Namespace: namespace, Containers: restarts})
}

// ContainerRestarts summarises a container's restart history.
type ContainerRestarts struct {
	Container      string     `json:"container"`
	RestartCount   int32      `json:"restartCount"`
	HasPrevious    bool       `json:"hasPrevious"`
	LastExitCode   *int32     `json:"lastExitCode,omitempty"`
	LastReason     string     `json:"lastReason,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
}

// writeAPIError maps Kubernetes API errors onto gateway HTTP statuses.
func writeAPIError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case apierrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err, correlationID)
	case apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, err, correlationID)
	case apierrors.IsBadRequest(err) || apierrors.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err, correlationID)
	case apierrors.IsTooManyRequests(err):
		writeError(w, http.StatusTooManyRequests, err, correlationID)
	default:
		writeError(w, http.StatusInternalServerError, err, correlationID)
	}
}
