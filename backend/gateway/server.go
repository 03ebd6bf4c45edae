// Package gateway exposes the HTTP surface of the console backend: the REST
// endpoints that manage cloud shell sessions and the websocket endpoints that
// stream terminal traffic and pod logs.
package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"k8s.io/client-go/kubernetes"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/luxury-yacht/console/backend/cloudshell"
	"github.com/luxury-yacht/console/backend/internal/config"
	"github.com/luxury-yacht/console/backend/logging"
	"github.com/luxury-yacht/console/backend/logtail"
)

// CorrelationIDHeader is the HTTP header used for request correlation.
const CorrelationIDHeader = "X-Correlation-ID"

// Logger represents the minimal logging interface required by the gateway.
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

// executorFactory builds the remote command executor for an exec URL. Tests
// substitute a fake so terminal bridging can be exercised without a cluster.
type executorFactory func(cfg *restclient.Config, execURL *url.URL) (remotecommand.Executor, error)

// Options configures a gateway Server.
type Options struct {
	Client     kubernetes.Interface
	RestConfig *restclient.Config
	Store      *cloudshell.Store
	Tailer     *logtail.Tailer
	Logger     Logger

	// Diagnostics, when set, exposes the in-memory log buffer at
	// /api/v1/diagnostics/logs.
	Diagnostics *logging.Logger
}

// Server routes gateway traffic. All endpoints are registered on a standard
// ServeMux via Register.
type Server struct {
	client      kubernetes.Interface
	restConfig  *restclient.Config
	store       *cloudshell.Store
	tailer      *logtail.Tailer
	logger      Logger
	diagnostics *logging.Logger
	upgrader    websocket.Upgrader
	newExecutor executorFactory
}

// NewServer constructs a gateway server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Server{
		client:      opts.Client,
		restConfig:  opts.RestConfig,
		store:       opts.Store,
		tailer:      opts.Tailer,
		logger:      opts.Logger,
		diagnostics: opts.Diagnostics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.GatewayReadBufferSize,
			WriteBufferSize: config.GatewayWriteBufferSize,
			// Prevent slow or stalled websocket upgrades from hanging indefinitely.
			HandshakeTimeout: config.GatewayHandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		newExecutor: fallbackExecutor,
	}
}

// Register attaches the gateway routes to the provided mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/shell/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/shell/sessions/", s.handleSessionByID)
	mux.HandleFunc("/api/v1/logs/stream", s.handleLogStream)
	mux.HandleFunc("/api/v1/pods/", s.handlePodSubresource)
	mux.HandleFunc("/api/v1/diagnostics/logs", s.handleDiagnosticsLogs)
}

func (s *Server) handleDiagnosticsLogs(w http.ResponseWriter, r *http.Request) {
	if !applyCORS(w, r, http.MethodGet) {
		return
	}
	correlationID := getCorrelationID(r)
	writeJSON(w, http.StatusOK, correlationID, struct {
		Entries []logging.Entry `json:"entries"`
	}{Entries: s.diagnostics.Entries()})
}

// getCorrelationID extracts the correlation ID from the request header or generates a new one.
func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		return id
	}
	return uuid.NewString()[:8]
}

func setCorrelationID(w http.ResponseWriter, correlationID string) {
	if correlationID != "" {
		w.Header().Set(CorrelationIDHeader, correlationID)
	}
}

func writeJSON(w http.ResponseWriter, status int, correlationID string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	setCorrelationID(w, correlationID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error, correlationID string) {
	writeJSON(w, status, correlationID, struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId,omitempty"`
	}{
		Code:          http.StatusText(status),
		Message:       err.Error(),
		CorrelationID: correlationID,
	})
}

func applyCORS(w http.ResponseWriter, r *http.Request, allowedMethods ...string) bool {
	origin := r.Header.Get("Origin")
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}

	if r.Method == http.MethodOptions {
		allowMethods := strings.Join(append(allowedMethods, http.MethodOptions), ", ")
		w.Header().Set("Access-Control-Allow-Methods", allowMethods)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	return true
}
