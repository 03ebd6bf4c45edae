package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/httpstream"
	"k8s.io/client-go/kubernetes/scheme"
	restclient "k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/luxury-yacht/console/backend/internal/config"
	"github.com/luxury-yacht/console/backend/streamcore/protocol"
)

// fallbackExecutor prefers websocket exec and falls back to SPDY when the
// upgrade fails, typically behind older API servers or HTTPS proxies.
func fallbackExecutor(cfg *restclient.Config, execURL *url.URL) (remotecommand.Executor, error) {
	websocketExec, err := remotecommand.NewWebSocketExecutor(cfg, http.MethodGet, execURL.String())
	if err != nil {
		return nil, fmt.Errorf("gateway: websocket executor: %w", err)
	}
	spdyExec, err := remotecommand.NewSPDYExecutor(cfg, http.MethodPost, execURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: spdy executor: %w", err)
	}
	return remotecommand.NewFallbackExecutor(websocketExec, spdyExec, func(err error) bool {
		return httpstream.IsUpgradeFailure(err) || httpstream.IsHTTPSProxyError(err)
	})
}

type terminalSizeQueue struct {
	ch   chan remotecommand.TerminalSize
	once sync.Once
}

func newTerminalSizeQueue() *terminalSizeQueue {
	return &terminalSizeQueue{ch: make(chan remotecommand.TerminalSize, 1)}
}

func (q *terminalSizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

func (q *terminalSizeQueue) Set(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	select {
	case q.ch <- remotecommand.TerminalSize{Width: uint16(cols), Height: uint16(rows)}:
	default:
	}
}

func (q *terminalSizeQueue) Close() {
	q.once.Do(func() { close(q.ch) })
}

// terminalBridge connects one websocket to one exec stream. Frame writes are
// serialised through writeMu; gorilla connections do not allow concurrent
// writers.
type terminalBridge struct {
	conn      *websocket.Conn
	logger    Logger
	sessionID string

	writeMu sync.Mutex

	stdinW    *io.PipeWriter
	sizeQueue *terminalSizeQueue
	cancel    context.CancelFunc
	once      sync.Once

	activityMu   sync.Mutex
	lastActivity time.Time
	startedAt    time.Time
}

func (b *terminalBridge) touchActivity() {
	b.activityMu.Lock()
	b.lastActivity = time.Now()
	b.activityMu.Unlock()
}

func (b *terminalBridge) idleDuration() time.Duration {
	b.activityMu.Lock()
	defer b.activityMu.Unlock()
	return time.Since(b.lastActivity)
}

func (b *terminalBridge) totalDuration() time.Duration {
	return time.Since(b.startedAt)
}

func (b *terminalBridge) close() {
	b.once.Do(func() {
		if b.stdinW != nil {
			_ = b.stdinW.Close()
		}
		if b.sizeQueue != nil {
			b.sizeQueue.Close()
		}
		if b.cancel != nil {
			b.cancel()
		}
		_ = b.conn.Close()
	})
}

func (b *terminalBridge) writeFrame(msg protocol.ServerMessage) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.conn.SetWriteDeadline(time.Now().Add(config.GatewayWriteTimeout)); err != nil {
		b.logger.Warn(fmt.Sprintf("terminal: write deadline failed: %v", err), "Terminal")
	}
	return b.conn.WriteJSON(msg)
}

func (b *terminalBridge) writeStatus(state protocol.State, message string) {
	err := b.writeFrame(protocol.ServerMessage{
		Type:   protocol.ServerMessageStatus,
		Status: &protocol.StatusPayload{Status: state, Message: message},
	})
	if err != nil && !isExpectedCloseError(err) {
		b.logger.Debug(fmt.Sprintf("terminal: status write failed: %v", err), "Terminal")
	}
}

// streamWriter adapts exec output into stdout or stderr frames.
type streamWriter struct {
	bridge *terminalBridge
	kind   protocol.ServerMessageType
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.bridge.touchActivity()
	if err := w.bridge.writeFrame(protocol.ServerMessage{Type: w.kind, Data: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Normal view transitions close the websocket without a close status or after we send a close.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if err == websocket.ErrCloseSent {
		return true
	}
	return websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// handleAttach upgrades the request and bridges the websocket to an exec
// stream inside the session's pod.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request, sessionID string) {
	if sessionID == "" {
		http.Error(w, "session id not specified", http.StatusBadRequest)
		return
	}

	podName, err := s.store.PodName(r.Context(), sessionID)
	if err != nil {
		writeAPIError(w, err, getCorrelationID(r))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("terminal: upgrade failed: %v", err), "Terminal")
		return
	}

	execCtx, cancel := context.WithCancel(context.Background())
	stdinR, stdinW := io.Pipe()
	sizeQueue := newTerminalSizeQueue()
	sizeQueue.Set(120, 40)

	now := time.Now()
	bridge := &terminalBridge{
		conn:         conn,
		logger:       s.logger,
		sessionID:    sessionID,
		stdinW:       stdinW,
		sizeQueue:    sizeQueue,
		cancel:       cancel,
		lastActivity: now,
		startedAt:    now,
	}
	defer bridge.close()

	executor, err := s.buildExecutor(podName)
	if err != nil {
		s.logger.Error(fmt.Sprintf("terminal: executor setup failed: %v", err), "Terminal")
		bridge.writeFrame(protocol.ServerMessage{Type: protocol.ServerMessageError, Error: err.Error()})
		bridge.writeStatus(protocol.StateError, "terminal setup failed")
		return
	}

	streamDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(fmt.Sprintf("terminal: panic in exec stream for %s: %v", sessionID, r), "Terminal")
				streamDone <- fmt.Errorf("exec stream panic: %v", r)
			}
		}()
		streamDone <- executor.StreamWithContext(execCtx, remotecommand.StreamOptions{
			Stdin:             stdinR,
			Stdout:            &streamWriter{bridge: bridge, kind: protocol.ServerMessageStdout},
			Stderr:            &streamWriter{bridge: bridge, kind: protocol.ServerMessageStderr},
			Tty:               true,
			TerminalSizeQueue: sizeQueue,
		})
	}()

	go s.monitorTerminalTimeout(execCtx, bridge)

	bridge.writeStatus(protocol.StateConnected, "")
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.terminalReadLoop(bridge)
	}()

	select {
	case err := <-streamDone:
		if err != nil && execCtx.Err() == nil {
			s.logger.Warn(fmt.Sprintf("terminal: exec stream for %s ended: %v", sessionID, err), "Terminal")
			bridge.writeFrame(protocol.ServerMessage{Type: protocol.ServerMessageError, Error: err.Error()})
			bridge.writeStatus(protocol.StateError, err.Error())
		} else {
			bridge.writeStatus(protocol.StateDisconnected, "shell exited")
		}
	case <-readDone:
		// Client went away; tear down the exec stream.
		cancel()
	}
}

// terminalReadLoop pumps client frames into the exec stream. Malformed
// frames are dropped.
func (s *Server) terminalReadLoop(bridge *terminalBridge) {
	for {
		_, frame, err := bridge.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Warn(fmt.Sprintf("terminal: read error for %s: %v", bridge.sessionID, err), "Terminal")
			}
			return
		}

		msg := protocol.DecodeClient(frame)
		if msg == nil {
			s.logger.Debug("terminal: dropping malformed client frame", "Terminal")
			continue
		}

		switch msg.Type {
		case protocol.ClientMessageInput:
			if msg.Data == "" {
				continue
			}
			bridge.touchActivity()
			if _, err := bridge.stdinW.Write([]byte(msg.Data)); err != nil {
				return
			}
		case protocol.ClientMessageResize:
			if msg.Resize != nil {
				bridge.sizeQueue.Set(msg.Resize.Cols, msg.Resize.Rows)
			}
		case protocol.ClientMessagePing:
			if err := bridge.writeFrame(protocol.ServerMessage{Type: protocol.ServerMessagePong}); err != nil {
				return
			}
		}
	}
}

func (s *Server) buildExecutor(podName string) (remotecommand.Executor, error) {
	execReq := s.client.CoreV1().
		RESTClient().
		Post().
		Resource("pods").
		Namespace(s.store.Namespace()).
		Name(podName).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: "shell",
			Command:   []string{"/bin/sh"},
			Stdin:     true,
			Stdout:    true,
			Stderr:    true,
			TTY:       true,
		}, scheme.ParameterCodec)
	return s.newExecutor(s.restConfig, execReq.URL())
}

// monitorTerminalTimeout terminates sessions that have been idle too long or
// have outlived the hard duration cap.
func (s *Server) monitorTerminalTimeout(ctx context.Context, bridge *terminalBridge) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if bridge.totalDuration() >= config.ShellMaxDuration {
				s.logger.Warn(fmt.Sprintf("terminal: session %s exceeded max duration, terminating", bridge.sessionID), "Terminal")
				bridge.writeStatus(protocol.StateDisconnected, "session exceeded maximum duration")
				bridge.close()
				return
			}
			if bridge.idleDuration() >= config.ShellIdleTimeout {
				s.logger.Warn(fmt.Sprintf("terminal: session %s idle timeout, terminating", bridge.sessionID), "Terminal")
				bridge.writeStatus(protocol.StateDisconnected, "session idle timeout")
				bridge.close()
				return
			}
		}
	}
}
