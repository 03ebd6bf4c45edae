package session

import (
	"time"

	"github.com/luxury-yacht/console/backend/internal/config"
)

// PollPolicy tracks the backoff/disable bookkeeping for session polling. It
// is a pure value: transitions return a new policy so they can be unit
// tested without timers.
type PollPolicy struct {
	ConsecutiveFailures int
	FailureLimit        int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	Disabled            bool
	DisabledBy          FailureKind
}

// DefaultPollPolicy returns the retry policy used for session polling.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		FailureLimit: config.SessionPollFailureLimit,
		BaseDelay:    config.SessionPollBackoffInitial,
		MaxDelay:     config.SessionPollBackoffMax,
	}
}

// Success clears the consecutive-failure counter.
func (p PollPolicy) Success() PollPolicy {
	p.ConsecutiveFailures = 0
	return p
}

// Failure records a classified failure and returns the updated policy, the
// delay before the next automatic poll, and whether one should be scheduled
// at all. Permission and configuration failures disable polling immediately:
// retrying cannot succeed without external intervention. Temporary and
// unknown failures back off exponentially until the failure limit disables
// polling.
func (p PollPolicy) Failure(kind FailureKind) (PollPolicy, time.Duration, bool) {
	if !kind.Retryable() {
		p.Disabled = true
		p.DisabledBy = kind
		return p, 0, false
	}

	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= p.FailureLimit {
		p.Disabled = true
		p.DisabledBy = kind
		return p, 0, false
	}
	return p, p.delayFor(p.ConsecutiveFailures), true
}

// Retry is the manual recovery action: it clears the disabled flag and the
// failure counter so polling can resume.
func (p PollPolicy) Retry() PollPolicy {
	p.Disabled = false
	p.DisabledBy = ""
	p.ConsecutiveFailures = 0
	return p
}

func (p PollPolicy) delayFor(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := p.BaseDelay
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
