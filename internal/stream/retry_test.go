package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if !policy.ShouldRetry(errors.New("connection refused"), 1) {
		t.Error("expected connection error to be retryable")
	}
	if policy.ShouldRetry(errors.New("error"), 3) {
		t.Error("should not retry after max attempts")
	}

	if d := policy.NextDelay(1); d != 500*time.Millisecond {
		t.Errorf("expected 500ms delay, got %v", d)
	}
	if d := policy.NextDelay(2); d != time.Second {
		t.Errorf("expected 1s delay, got %v", d)
	}
	if d := policy.NextDelay(10); d != policy.MaxDelay {
		t.Errorf("expected delay capped at %v, got %v", policy.MaxDelay, d)
	}
}

func TestRetryPolicyClassified(t *testing.T) {
	policy := DefaultRetryPolicy()
	if !policy.ShouldRetry(newError(KindCredentialFetch, "down", nil), 1) {
		t.Error("expected credential fetch error to be retryable")
	}
	if policy.ShouldRetry(newError(KindCredentialsInvalid, "timeout in message", nil), 1) {
		t.Error("classification should win over message matching")
	}
	if policy.ShouldRetry(errors.New("unauthorized"), 1) {
		t.Error("expected unauthorized to be permanent")
	}
	if policy.ShouldRetry(nil, 1) {
		t.Error("nil error should not be retryable")
	}
}

func TestRetryPolicyExecute(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
	calls := 0
	err := policy.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyExecuteStopsOnCancel(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func(context.Context) error {
			calls++
			return errors.New("timeout")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected last error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}
