package conn

import (
	"context"
	"time"

	"github.com/luxury-yacht/console/backend/streamcore/protocol"
)

// Logger represents the minimal logging interface required by the connection
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

// Socket is the subset of a websocket connection the manager drives. It is
// satisfied by *websocket.Conn and by test fakes.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a socket to the given URL. The context bounds the handshake.
type Dialer func(ctx context.Context, url string) (Socket, error)

// Callbacks are the only channels through which the terminal surface and the
// log list learn anything from a connection. They are invoked from the
// manager's event loop goroutine, never concurrently, and never after Close
// returns.
type Callbacks struct {
	// OnState reports every connection state transition with an optional
	// human-readable message.
	OnState func(state protocol.State, message string)

	// OnMessage delivers every decoded non-control server frame (stdout,
	// stderr, resize, pong).
	OnMessage func(msg protocol.ServerMessage)

	// OnError surfaces shell-level and terminal transport errors. An error
	// does not imply a state change.
	OnError func(message string)
}

func (c Callbacks) state(state protocol.State, message string) {
	if c.OnState != nil {
		c.OnState(state, message)
	}
}

func (c Callbacks) message(msg protocol.ServerMessage) {
	if c.OnMessage != nil {
		c.OnMessage(msg)
	}
}

func (c Callbacks) error(message string) {
	if c.OnError != nil {
		c.OnError(message)
	}
}
