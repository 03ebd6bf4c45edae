package session

import (
	"testing"
	"time"
)

func testPolicy() PollPolicy {
	return PollPolicy{FailureLimit: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func TestPermissionFailureDisablesImmediately(t *testing.T) {
	policy, delay, retry := testPolicy().Failure(FailurePermission)
	if retry {
		t.Fatal("permission failures must not schedule a retry")
	}
	if delay != 0 {
		t.Fatalf("expected zero delay, got %v", delay)
	}
	if !policy.Disabled || policy.DisabledBy != FailurePermission {
		t.Fatalf("expected disabled by permission, got %+v", policy)
	}
}

func TestConfigurationFailureDisablesImmediately(t *testing.T) {
	policy, _, retry := testPolicy().Failure(FailureConfiguration)
	if retry || !policy.Disabled {
		t.Fatalf("configuration failures must disable polling, got retry=%v policy=%+v", retry, policy)
	}
}

func TestTemporaryFailuresBackOffThenDisable(t *testing.T) {
	policy := testPolicy()
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, want := range expected {
		next, delay, retry := policy.Failure(FailureTemporary)
		if !retry {
			t.Fatalf("failure %d: expected a scheduled retry", i+1)
		}
		if delay != want {
			t.Fatalf("failure %d: expected delay %v, got %v", i+1, want, delay)
		}
		policy = next
	}

	// The fifth consecutive failure hits the limit and disables polling.
	policy, _, retry := policy.Failure(FailureTemporary)
	if retry || !policy.Disabled {
		t.Fatalf("expected polling disabled at the failure limit, got retry=%v policy=%+v", retry, policy)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	policy := testPolicy()
	policy, _, _ = policy.Failure(FailureTemporary)
	policy, _, _ = policy.Failure(FailureTemporary)
	policy = policy.Success()
	if policy.ConsecutiveFailures != 0 {
		t.Fatalf("expected counter reset, got %d", policy.ConsecutiveFailures)
	}

	// Backoff starts over after a success.
	_, delay, _ := policy.Failure(FailureTemporary)
	if delay != policy.BaseDelay {
		t.Fatalf("expected base delay after reset, got %v", delay)
	}
}

func TestManualRetryClearsDisabledState(t *testing.T) {
	policy := testPolicy()
	policy, _, _ = policy.Failure(FailurePermission)
	if !policy.Disabled {
		t.Fatal("setup: expected disabled policy")
	}
	policy = policy.Retry()
	if policy.Disabled || policy.ConsecutiveFailures != 0 || policy.DisabledBy != "" {
		t.Fatalf("expected retry to fully reset, got %+v", policy)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	policy := PollPolicy{FailureLimit: 100, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	for i := 0; i < 20; i++ {
		next, delay, retry := policy.Failure(FailureUnknown)
		if !retry {
			break
		}
		if delay > policy.MaxDelay {
			t.Fatalf("failure %d: delay %v exceeds cap", i+1, delay)
		}
		policy = next
	}
}
