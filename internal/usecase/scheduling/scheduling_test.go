package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEveryRunsRepeatedly(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int32
	if err := s.Every("tick", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("task ran %d times, want >= 2", runs.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	s := New(testLogger())
	if err := s.Every("bad", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("zero interval should be rejected")
	}
	if err := s.Every("bad", -time.Second, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("negative interval should be rejected")
	}
}

func TestDuplicateTaskName(t *testing.T) {
	s := New(testLogger())
	noop := func(ctx context.Context) error { return nil }

	if err := s.Every("sweep", time.Minute, noop); err != nil {
		t.Fatalf("Every: %v", err)
	}
	if err := s.Every("sweep", time.Minute, noop); err == nil {
		t.Error("duplicate task name should be rejected")
	}
}

func TestCronInvalidExpression(t *testing.T) {
	s := New(testLogger())
	if err := s.Cron("bad", "not a cron expr", func(ctx context.Context) error { return nil }); err == nil {
		t.Error("invalid cron expression should be rejected")
	}
}

func TestRemove(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int32
	if err := s.Every("tick", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	s.Remove("tick")
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(80 * time.Millisecond)
	if runs.Load() != 0 {
		t.Errorf("removed task ran %d times", runs.Load())
	}

	// Removing an unknown task is a no-op.
	s.Remove("ghost")
}

func TestStopWaitsForRunningTask(t *testing.T) {
	s := New(testLogger())

	started := make(chan struct{})
	var finished atomic.Bool
	if err := s.Every("slow", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	s.Start(context.Background())
	<-started
	s.Stop()

	if !finished.Load() {
		t.Error("Stop should wait for the in-flight task to finish")
	}
}

func TestTaskErrorDoesNotStopSchedule(t *testing.T) {
	s := New(testLogger())

	var runs atomic.Int32
	if err := s.Every("flaky", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return fmt.Errorf("transient failure")
	}); err != nil {
		t.Fatalf("Every: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("failing task ran %d times, want >= 2", runs.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartIdempotent(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Stop()
	s.Stop()
}
