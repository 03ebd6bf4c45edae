// Package conn owns the lifecycle of a single logical streaming connection:
// dialling, frame dispatch, closure classification and bounded exponential
// reconnection. Inbound socket events, timer fires and user commands are all
// funnelled through one ordered queue processed by a single goroutine, so
// callbacks never race and stale sockets can never reach the caller.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luxury-yacht/console/backend/internal/config"
	"github.com/luxury-yacht/console/backend/streamcore/protocol"
)

type eventKind int

const (
	evConnect eventKind = iota
	evSend
	evDisconnect
	evDialed
	evFrame
	evClosed
	evRetry
)

type event struct {
	kind eventKind
	url  string
	msg  protocol.ClientMessage
	sock Socket
	data []byte
	err  error
	gen  uint64
}

// Options configures a connection manager. Zero values fall back to the
// defaults in internal/config.
type Options struct {
	Retry     RetryState
	Dialer    Dialer
	Logger    Logger
	Callbacks Callbacks
}

// Manager maintains one logical connection to a streaming endpoint,
// re-establishing it transparently on unintended loss.
type Manager struct {
	dialer    Dialer
	logger    Logger
	callbacks Callbacks

	events chan event
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	// Fields below are owned exclusively by the event loop goroutine.
	gen        uint64
	url        string
	sock       Socket
	state      protocol.State
	retry      RetryState
	retryTimer *time.Timer
}

// NewManager constructs a manager and starts its event loop. The initial
// state is disconnected; nothing happens until Connect is called.
func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = dialWebsocket
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Retry == (RetryState{}) {
		opts.Retry = DefaultRetryState()
	}
	m := &Manager{
		dialer:    opts.Dialer,
		logger:    opts.Logger,
		callbacks: opts.Callbacks,
		events:    make(chan event, config.ConnCommandBufferSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     protocol.StateDisconnected,
		retry:     opts.Retry,
	}
	go m.run()
	return m
}

// Connect establishes a connection to the given URL. Any prior socket is
// closed first with the closure marked intentional. An empty URL fails fast
// with the error state. Supplying a different URL starts a brand-new logical
// connection with fresh retry bookkeeping.
func (m *Manager) Connect(url string) {
	m.post(event{kind: evConnect, url: url})
}

// Send transmits a client message. If the connection is not currently open
// the frame is dropped with a warning; the remote shell, not this layer, is
// the source of truth for terminal state.
func (m *Manager) Send(msg protocol.ClientMessage) {
	m.post(event{kind: evSend, msg: msg})
}

// Disconnect closes the connection intentionally. It is never followed by an
// automatic reconnect and cancels any pending reconnect timer.
func (m *Manager) Disconnect() {
	m.post(event{kind: evDisconnect})
}

// Close tears the manager down. When Close returns, no callback will ever be
// invoked again.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.quit)
	})
	<-m.done
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.quit:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.quit:
			m.teardown()
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Manager) teardown() {
	m.gen++
	m.stopRetryTimer()
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evConnect:
		m.handleConnect(ev.url)
	case evSend:
		m.handleSend(ev.msg)
	case evDisconnect:
		m.handleDisconnect()
	case evDialed:
		m.handleDialed(ev)
	case evFrame:
		m.handleFrame(ev)
	case evClosed:
		m.handleClosed(ev)
	case evRetry:
		m.handleRetry(ev)
	}
}

func (m *Manager) handleConnect(url string) {
	// Invalidate events from any prior socket or pending timer before the
	// new dial starts; this is what makes the old closure intentional.
	m.gen++
	m.stopRetryTimer()
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}

	if url == "" {
		m.setState(protocol.StateError, "connection URL is required")
		return
	}

	m.url = url
	m.retry = m.retry.Reset()
	m.setState(protocol.StateConnecting, "")
	m.dial()
}

func (m *Manager) dial() {
	gen := m.gen
	url := m.url
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.ConnDialTimeout)
		defer cancel()
		sock, err := m.dialer(ctx, url)
		m.post(event{kind: evDialed, sock: sock, err: err, gen: gen})
	}()
}

func (m *Manager) handleDialed(ev event) {
	if ev.gen != m.gen {
		if ev.sock != nil {
			_ = ev.sock.Close()
		}
		return
	}
	if ev.err != nil {
		m.logger.Warn(fmt.Sprintf("conn: dial failed: %v", ev.err), "Connection")
		m.handleLoss()
		return
	}

	m.sock = ev.sock
	m.retry = m.retry.Reset()
	m.setState(protocol.StateConnected, "")
	go m.readPump(ev.sock, m.gen)
}

func (m *Manager) readPump(sock Socket, gen uint64) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			m.post(event{kind: evClosed, err: err, gen: gen})
			return
		}
		m.post(event{kind: evFrame, data: data, gen: gen})
	}
}

func (m *Manager) handleSend(msg protocol.ClientMessage) {
	if m.state != protocol.StateConnected || m.sock == nil {
		m.logger.Warn(fmt.Sprintf("conn: dropping %s frame while %s", msg.Type, m.state), "Connection")
		return
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		m.logger.Error(fmt.Sprintf("conn: failed to encode %s frame: %v", msg.Type, err), "Connection")
		return
	}
	if err := m.sock.SetWriteDeadline(time.Now().Add(config.ConnWriteTimeout)); err != nil {
		m.logger.Debug(fmt.Sprintf("conn: write deadline failed: %v", err), "Connection")
	}
	if err := m.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		// The read pump observes the broken socket and drives reconnection.
		m.logger.Warn(fmt.Sprintf("conn: write failed: %v", err), "Connection")
	}
}

func (m *Manager) handleDisconnect() {
	m.gen++
	m.stopRetryTimer()
	m.retry = m.retry.Reset()
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}
	m.setState(protocol.StateDisconnected, "")
}

func (m *Manager) handleClosed(ev event) {
	if ev.gen != m.gen {
		return
	}
	m.sock = nil
	if ev.err != nil {
		m.logger.Debug(fmt.Sprintf("conn: socket closed: %v", ev.err), "Connection")
	}
	m.handleLoss()
}

// handleLoss drives the reconnect state machine after an unintended closure
// or failed dial.
func (m *Manager) handleLoss() {
	if m.retry.Exhausted() {
		m.setState(protocol.StateDisconnected, "")
		m.callbacks.error("maximum reconnection attempts reached")
		return
	}

	next, delay := m.retry.Next()
	m.retry = next
	m.setState(protocol.StateConnecting, fmt.Sprintf("reconnecting (attempt %d/%d)", next.Attempts, next.MaxAttempts))

	gen := m.gen
	m.stopRetryTimer()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.post(event{kind: evRetry, gen: gen})
	})
}

func (m *Manager) handleRetry(ev event) {
	if ev.gen != m.gen {
		return
	}
	m.retryTimer = nil
	m.dial()
}

func (m *Manager) handleFrame(ev event) {
	if ev.gen != m.gen {
		return
	}
	msg := protocol.Decode(ev.data)
	if msg == nil {
		m.logger.Debug("conn: dropping malformed frame", "Connection")
		return
	}
	switch msg.Type {
	case protocol.ServerMessageStatus:
		if msg.Status == nil {
			return
		}
		// The server-asserted state wins over locally inferred state.
		m.setState(msg.Status.Status, msg.Status.Message)
	case protocol.ServerMessageError:
		// A shell-level error is not a transport failure.
		m.callbacks.error(msg.Error)
	default:
		m.callbacks.message(*msg)
	}
}

func (m *Manager) setState(state protocol.State, message string) {
	m.state = state
	m.callbacks.state(state, message)
}

func (m *Manager) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// dialWebsocket is the production dialer.
func dialWebsocket(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:   config.GatewayReadBufferSize,
		WriteBufferSize:  config.GatewayWriteBufferSize,
		HandshakeTimeout: config.ConnDialTimeout,
	}
	sock, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return sock, nil
}
