package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// HTTPAPI implements API against the gateway's REST endpoints. Error
// responses are mapped back onto Kubernetes API errors so Classify treats a
// remote 403 the same as a local one.
type HTTPAPI struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPAPI constructs an HTTPAPI for the given gateway base URL.
func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAPI{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: client}
}

type sessionPayload struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	PodName   string `json:"podName"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// CreateSession requests a new shell session.
func (a *HTTPAPI) CreateSession(ctx context.Context, scope Scope) (Session, error) {
	var payload sessionPayload
	if err := a.do(ctx, http.MethodPost, "/api/v1/shell/sessions", nil, &payload); err != nil {
		return Session{}, err
	}
	return sessionFromPayload(payload, scope), nil
}

// ListSessions fetches the current session set.
func (a *HTTPAPI) ListSessions(ctx context.Context, scope Scope) ([]Session, error) {
	var payload struct {
		Sessions []sessionPayload `json:"sessions"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/shell/sessions", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(payload.Sessions))
	for _, item := range payload.Sessions {
		out = append(out, sessionFromPayload(item, scope))
	}
	return out, nil
}

// DeleteSession requests termination of one session.
func (a *HTTPAPI) DeleteSession(ctx context.Context, _ Scope, sessionID string) error {
	return a.do(ctx, http.MethodDelete, "/api/v1/shell/sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiErrorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var shellSessionsResource = schema.GroupResource{Resource: "shellsessions"}

// apiErrorFromResponse builds a StatusError matching the HTTP status so the
// existing classification rules apply unchanged.
func apiErrorFromResponse(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	message := body.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return apierrors.NewGenericServerResponse(
		resp.StatusCode,
		resp.Request.Method,
		shellSessionsResource,
		"",
		message,
		0,
		true,
	)
}

func sessionFromPayload(payload sessionPayload, scope Scope) Session {
	sess := Session{
		ID:        payload.ID,
		PodName:   payload.PodName,
		Namespace: payload.Namespace,
		Status:    Status(payload.Status),
	}
	if sess.Namespace == "" {
		sess.Namespace = scope.Namespace
	}
	if payload.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, payload.CreatedAt); err == nil {
			sess.CreatedAt = ts
		}
	}
	return sess
}
