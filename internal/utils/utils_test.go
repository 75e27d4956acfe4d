package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	base := 2 * time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	for i, expected := range want {
		if got := Backoff(base, i+1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}

	if Backoff(base, 0) != 0 {
		t.Fatalf("expected zero delay for attempt 0")
	}

	if Backoff(0, 3) != 0 {
		t.Fatalf("expected zero delay for zero base")
	}
}

func TestWaitForHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if err := WaitFor(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for zero wait on cancelled context, got %v", err)
	}
}

func TestWaitForSleeps(t *testing.T) {
	var slept time.Duration
	orig := sleep
	sleep = func(d time.Duration) { slept = d }
	t.Cleanup(func() { sleep = orig })

	if err := WaitFor(context.Background(), 4*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if slept != 4*time.Second {
		t.Fatalf("expected 4s sleep, got %s", slept)
	}
}
