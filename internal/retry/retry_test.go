package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"doerline/internal/apperr"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetriesRetryableUpToAttempts(t *testing.T) {
	calls := 0
	busy := errors.New("database is locked")
	err := Do(context.Background(), Policy{Attempts: 3, Sleep: noSleep}, "claim", func(context.Context) error {
		calls++
		return busy
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	var ue *apperr.UnavailableError
	if !errors.As(err, &ue) || ue.Op != "claim" {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Sleep: noSleep}, "quote", func(context.Context) error {
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoesNotRetryTerminalErrors(t *testing.T) {
	calls := 0
	terminal := apperr.ConflictError{Reason: "lost"}
	err := Do(context.Background(), Policy{Attempts: 5, Sleep: noSleep}, "claim", func(context.Context) error {
		calls++
		return terminal
	})
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
	var ce apperr.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict passthrough, got %v", err)
	}
}

func TestContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, BaseDelay: time.Hour}, "claim", func(context.Context) error {
		calls++
		cancel()
		return errors.New("connection refused")
	})
	if calls != 1 || err == nil {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
