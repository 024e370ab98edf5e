package backend

import (
	"testing"
	"time"
)

func TestDefaultRetryPolicySchedule(t *testing.T) {
	policy := DefaultRetryPolicy()

	if got := policy.MaxAttempts(); got != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", got)
	}

	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
	}
	for i, expected := range delays {
		got := policy.Delay(i + 1)
		if got != expected {
			t.Errorf("retry %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestRetryPolicyDelayOutOfRange(t *testing.T) {
	policy := DefaultRetryPolicy()

	if got := policy.Delay(0); got != 0 {
		t.Errorf("retry 0: expected 0, got %v", got)
	}
	if got := policy.Delay(4); got != 0 {
		t.Errorf("retry 4: expected 0, got %v", got)
	}
}

func TestRetryPolicyEmptySchedule(t *testing.T) {
	policy := RetryPolicy{}

	if got := policy.MaxAttempts(); got != 1 {
		t.Errorf("expected a single attempt with no retries, got %d", got)
	}
	if got := policy.Delay(1); got != 0 {
		t.Errorf("expected 0 delay, got %v", got)
	}
}
