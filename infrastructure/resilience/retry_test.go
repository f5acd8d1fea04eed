package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	
	err := Retry(context.Background(), cfg, func() error {
		return nil
	})
	
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	attempts := 0
	
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_AllFail(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}
	testErr := errors.New("always fail")

	err := Retry(context.Background(), cfg, func() error {
		return testErr
	})

	if err != testErr {
		t.Errorf("expected testErr, got %v", err)
	}
}

type nonRetryableErr struct{ msg string }

func (e *nonRetryableErr) Error() string      { return e.msg }
func (e *nonRetryableErr) IsRetryable() bool  { return false }

func TestRetry_StopsOnNonRetryableClassification(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}
	attempts := 0
	testErr := &nonRetryableErr{msg: "permanent"}

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("expected testErr, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before stopping, got %d", attempts)
	}
}

type retryableErr struct{ msg string }

func (e *retryableErr) Error() string    { return e.msg }
func (e *retryableErr) IsRetryable() bool { return true }

func TestRetry_ContinuesOnRetryableClassification(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	attempts := 0

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return &retryableErr{msg: "transient"}
	})

	if err == nil {
		t.Error("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}
