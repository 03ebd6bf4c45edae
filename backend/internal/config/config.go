/*
 * backend/internal/config/config.go
 *
 * Timing and capacity settings used across the streaming core.
 */

package config

import "time"

// Knobs for the websocket connection manager.
const (
	// ConnBackoffInitial is the delay before the first reconnect attempt.
	ConnBackoffInitial = 1 * time.Second

	// ConnBackoffMax caps the reconnect delay regardless of attempt count.
	ConnBackoffMax = 30 * time.Second

	// ConnMaxReconnectAttempts bounds automatic reconnection so an abandoned
	// view cannot redial forever.
	ConnMaxReconnectAttempts = 5

	// ConnDialTimeout bounds the websocket handshake on the client side.
	ConnDialTimeout = 10 * time.Second

	// ConnWriteTimeout bounds individual frame writes.
	ConnWriteTimeout = 10 * time.Second

	// ConnCommandBufferSize buffers commands and socket events feeding the
	// per-connection event loop.
	ConnCommandBufferSize = 256
)

// Knobs for the resize coordinator.
const (
	// ResizeDebounceWindow is how long a container size must stay settled
	// before a fit computation runs.
	ResizeDebounceWindow = 100 * time.Millisecond
)

// Knobs for the log view.
const (
	// LogViewDefaultCapacity is the default keep-last-N size of the log ring
	// buffer.
	LogViewDefaultCapacity = 10000
)

// Knobs for cloud shell session management.
const (
	// SessionPollInterval is the cadence for readiness polling after create.
	SessionPollInterval = 2 * time.Second

	// SessionReadyTimeout is how long a created session may stay in the
	// creating state before the manager reports a timeout.
	SessionReadyTimeout = 120 * time.Second

	// SessionPollBackoffInitial is the first retry delay after a temporary
	// poll failure.
	SessionPollBackoffInitial = 1 * time.Second

	// SessionPollBackoffMax caps the poll retry delay.
	SessionPollBackoffMax = 30 * time.Second

	// SessionPollFailureLimit disables polling after this many consecutive
	// temporary failures.
	SessionPollFailureLimit = 5

	// SessionLimit caps concurrent ready-or-creating sessions per scope.
	SessionLimit = 5
)

// Knobs for the stream gateway.
const (
	// GatewayReadBufferSize sizes the websocket read buffer.
	GatewayReadBufferSize = 4096

	// GatewayWriteBufferSize sizes the websocket write buffer.
	GatewayWriteBufferSize = 4096

	// GatewayHandshakeTimeout prevents slow or stalled websocket upgrades
	// from hanging indefinitely.
	GatewayHandshakeTimeout = 10 * time.Second

	// GatewayWriteTimeout bounds frame writes toward clients.
	GatewayWriteTimeout = 10 * time.Second

	// LogTailBackoffInitial is the initial backoff when a container log
	// follow reconnects.
	LogTailBackoffInitial = 1 * time.Second

	// LogTailBackoffMax is the cap for log follow reconnection backoff.
	LogTailBackoffMax = 30 * time.Second

	// LogTailBatchWindow controls the bundling window for log frames before
	// flushing to the client.
	LogTailBatchWindow = 250 * time.Millisecond

	// LogTailBatchMaxSize flushes a batch early once it reaches this size.
	LogTailBatchMaxSize = 64

	// LogTailEntryBufferSize buffers entries between the tailer and the
	// websocket writer.
	LogTailEntryBufferSize = 256

	// LogTailDefaultLines is the default initial tail length.
	LogTailDefaultLines = 1000

	// ShellIdleTimeout terminates exec sessions after this much inactivity.
	ShellIdleTimeout = 30 * time.Minute

	// ShellMaxDuration is the hard lifetime limit for an exec session.
	ShellMaxDuration = 8 * time.Hour
)
