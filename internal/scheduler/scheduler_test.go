package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextCycleAligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 8, 25, 10, 7, 0, 0, time.UTC)
	if got := s.nextCycle(now); !got.Equal(time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("nextCycle(10:07) = %v, want 10:30", got)
	}

	onBoundary := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	if got := s.nextCycle(onBoundary); !got.Equal(time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("nextCycle(10:30) = %v, want 11:00", got)
	}
}

func TestNextCycleUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	now := time.Date(2026, 8, 25, 10, 7, 0, 0, time.UTC)
	if got := s.nextCycle(now); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("nextCycle = %v, want now+1h", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunKeepsGoingAfterCycleError(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if calls.Add(1) >= 2 {
				cancel()
			}
			return errors.New("cycle failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not reach a second cycle")
	}
	if calls.Load() < 2 {
		t.Fatalf("cycle ran %d times, want at least 2 despite errors", calls.Load())
	}
}
