package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryAfterHint_FromTransientError(t *testing.T) {
	te := &TransientError{Err: errors.New("rate limited"), StatusCode: 429, RetryAfter: 2 * time.Second}

	hint, ok := RetryAfterHint(te)
	if !ok {
		t.Fatal("expected a hint")
	}
	if hint != 2*time.Second {
		t.Errorf("expected 2s, got %v", hint)
	}
}

func TestRetryAfterHint_WalksChain(t *testing.T) {
	te := &TransientError{Err: errors.New("rate limited"), StatusCode: 429, RetryAfter: time.Second}
	wrapped := fmt.Errorf("calling search: %w", te)

	hint, ok := RetryAfterHint(wrapped)
	if !ok {
		t.Fatal("expected a hint through the wrap")
	}
	if hint != time.Second {
		t.Errorf("expected 1s, got %v", hint)
	}
}

func TestRetryAfterHint_NoHint(t *testing.T) {
	if _, ok := RetryAfterHint(errors.New("plain")); ok {
		t.Error("expected no hint for a plain error")
	}
	if _, ok := RetryAfterHint(NewTransientError(errors.New("no hint"), 503)); ok {
		t.Error("expected no hint when RetryAfter is zero")
	}
	if _, ok := RetryAfterHint(nil); ok {
		t.Error("expected no hint for nil")
	}
}

func TestDoVal_HonorsRetryAfterHint(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	hint := 50 * time.Millisecond
	start := time.Now()
	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, &TransientError{Err: errors.New("rate limited"), StatusCode: 429, RetryAfter: hint}
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if elapsed < hint {
		t.Errorf("expected sleep of at least %v, took %v", hint, elapsed)
	}
}

func TestDoVal_HintCappedAtMaxBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	start := time.Now()
	_, _ = DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		return 0, &TransientError{Err: errors.New("rate limited"), StatusCode: 429, RetryAfter: time.Hour}
	})
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("expected the hint to be capped near MaxBackoff, took %v", elapsed)
	}
}
