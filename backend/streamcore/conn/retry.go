package conn

import (
	"time"

	"github.com/luxury-yacht/console/backend/internal/config"
)

// RetryState tracks reconnection bookkeeping for a single logical connection.
// It is a pure value: transitions return a new state so they can be unit
// tested without timers.
type RetryState struct {
	Attempts    int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryState returns the retry policy used for terminal and log-tail
// connections.
func DefaultRetryState() RetryState {
	return RetryState{
		MaxAttempts: config.ConnMaxReconnectAttempts,
		BaseDelay:   config.ConnBackoffInitial,
		MaxDelay:    config.ConnBackoffMax,
	}
}

// Exhausted reports whether no further automatic reconnects are permitted.
func (r RetryState) Exhausted() bool {
	return r.Attempts >= r.MaxAttempts
}

// Next records one more unintended closure and returns the delay to wait
// before the corresponding reconnect attempt: min(base*2^(attempts-1), max).
func (r RetryState) Next() (RetryState, time.Duration) {
	r.Attempts++
	return r, r.delayFor(r.Attempts)
}

// Reset clears the attempt counter. Called on every successful open and on
// every new logical connection.
func (r RetryState) Reset() RetryState {
	r.Attempts = 0
	return r
}

func (r RetryState) delayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}
