package rpcutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := WithRetry(context.Background(), func() (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 {
		t.Errorf("expected 7, got %d", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWithRetry_RetriesRetryableError(t *testing.T) {
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond}
	calls := 0
	result, err := WithRetryCustom(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 99, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 99 {
		t.Errorf("expected 99, got %d", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_GivesUpOnNonRetryableError(t *testing.T) {
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond}
	calls := 0
	_, err := WithRetryCustom(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("invalid signature")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond}
	calls := 0
	_, err := WithRetryCustom(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetry_StopsOnContextCancel(t *testing.T) {
	cfg := retryConfig{maxRetries: 5, baseDelay: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := WithRetryCustom(ctx, cfg, func() (int, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if calls != 1 {
		t.Errorf("expected retry loop to stop immediately after cancel, got %d calls", calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("invalid signature"), false},
		{errors.New("insufficient funds"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
