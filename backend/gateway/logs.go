package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luxury-yacht/console/backend/internal/config"
	"github.com/luxury-yacht/console/backend/logtail"
)

// logFrame is the websocket envelope for the log stream endpoint.
type logFrame struct {
	Type    string          `json:"type"` // "logs", "error" or "eof"
	Entries []logtail.Entry `json:"entries,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// handleLogStream upgrades the request and streams pod logs over the
// websocket. History is delivered first, then live lines in small batches so
// bursty containers do not produce a frame per line.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := logtail.Options{
		Namespace: query.Get("namespace"),
		Pod:       query.Get("pod"),
		Container: query.Get("container"),
		Previous:  query.Get("previous") == "true",
		Follow:    query.Get("follow") != "false",
	}
	if lines, err := strconv.Atoi(query.Get("tailLines")); err == nil && lines > 0 {
		opts.TailLines = lines
	}
	if opts.Namespace == "" || opts.Pod == "" {
		http.Error(w, "namespace and pod are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("logs: upgrade failed: %v", err), "LogStream")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &logSession{conn: conn, logger: s.logger, cancel: cancel}
	defer session.close()

	// Reads only matter for detecting client departure.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	entries, states, err := s.tailer.Tail(ctx, opts)
	if err != nil {
		session.write(logFrame{Type: "error", Error: err.Error()})
		return
	}
	if len(entries) > 0 {
		if !session.write(logFrame{Type: "logs", Entries: entries}) {
			return
		}
	}

	if !opts.Follow {
		session.write(logFrame{Type: "eof"})
		return
	}

	entriesCh := make(chan logtail.Entry, config.LogTailEntryBufferSize)
	errCh := make(chan error, 4)
	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		if err := s.tailer.Follow(ctx, opts, states, entriesCh, errCh); err != nil && ctx.Err() == nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	s.batchEntries(ctx, session, entriesCh, errCh, followDone)
}

// batchEntries coalesces live entries into frames, flushing on the batch
// window or when the batch fills.
func (s *Server) batchEntries(ctx context.Context, session *logSession, entriesCh <-chan logtail.Entry, errCh <-chan error, followDone <-chan struct{}) {
	var batch []logtail.Entry
	flushTimer := time.NewTimer(config.LogTailBatchWindow)
	if !flushTimer.Stop() {
		<-flushTimer.C
	}
	defer flushTimer.Stop()

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		ok := session.write(logFrame{Type: "logs", Entries: batch})
		batch = nil
		return ok
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-followDone:
			flush()
			session.write(logFrame{Type: "eof"})
			return
		case err := <-errCh:
			if !session.write(logFrame{Type: "error", Error: err.Error()}) {
				return
			}
		case entry := <-entriesCh:
			if len(batch) == 0 {
				flushTimer.Reset(config.LogTailBatchWindow)
			}
			batch = append(batch, entry)
			if len(batch) >= config.LogTailBatchMaxSize {
				if !flush() {
					return
				}
			}
		case <-flushTimer.C:
			if !flush() {
				return
			}
		}
	}
}

// logSession serialises websocket writes for one log stream.
type logSession struct {
	conn   *websocket.Conn
	logger Logger
	cancel context.CancelFunc

	writeMu sync.Mutex
	once    sync.Once
}

func (l *logSession) write(frame logFrame) bool {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(config.GatewayWriteTimeout)); err != nil {
		l.logger.Warn(fmt.Sprintf("logs: write deadline failed: %v", err), "LogStream")
	}
	if err := l.conn.WriteJSON(frame); err != nil {
		if !isExpectedCloseError(err) {
			l.logger.Warn(fmt.Sprintf("logs: write failed: %v", err), "LogStream")
		}
		l.close()
		return false
	}
	return true
}

func (l *logSession) close() {
	l.once.Do(func() {
		l.cancel()
		_ = l.conn.Close()
	})
}
