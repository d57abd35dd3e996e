package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New("UTC", time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewInvalidTimezone(t *testing.T) {
	if _, err := New("Not/AZone", 0, nil); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestAddJobValidation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	if err := s.AddJob("bad", "not a schedule", noop, nil); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.AddJob("sync", "@every 1m", noop, nil); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	if err := s.AddJob("sync", "@every 1m", noop, nil); err == nil {
		t.Error("expected error for duplicate job name")
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "sync" || jobs[0].Schedule != "@every 1m" {
		t.Errorf("jobs = %+v", jobs)
	}

	s.RemoveJob("sync")
	if len(s.ListJobs()) != 0 {
		t.Error("job should be removed")
	}
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	boom := errors.New("boom")
	s.AddJob("enrich", "@every 1h", func(context.Context) error {
		if runs.Add(1) == 2 {
			return boom
		}
		return nil
	}, func(context.Context) bool { return false })

	if err := s.RunNow(context.Background(), "enrich"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow(context.Background(), "enrich"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if runs.Load() != 2 {
		t.Errorf("runs = %d, RunNow should ignore the guard", runs.Load())
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestScheduledRespectsGuard(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	enabled := atomic.Bool{}
	s.AddJob("sync", "@every 1h", func(context.Context) error {
		runs.Add(1)
		return nil
	}, func(context.Context) bool { return enabled.Load() })

	j := s.jobs["sync"]
	s.scheduled(j)
	if runs.Load() != 0 {
		t.Error("disabled job should not run")
	}
	enabled.Store(true)
	s.scheduled(j)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

func TestScheduledSkipsOverlap(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	s.AddJob("dedup", "@every 1h", func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}, nil)

	j := s.jobs["dedup"]
	done := make(chan struct{})
	go func() {
		s.scheduled(j)
		close(done)
	}()
	<-started
	s.scheduled(j) // overlaps, must return immediately
	close(release)
	<-done

	if runs.Load() != 1 {
		t.Errorf("runs = %d, overlapping run should be skipped", runs.Load())
	}
}

func TestStopCancelsRunningJobs(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	s.AddJob("enrich", "@every 1h", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, nil)
	s.Start()

	go s.scheduled(s.jobs["enrich"])
	<-started
	s.Stop()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running job was not cancelled by Stop")
	}
}
