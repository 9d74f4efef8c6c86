package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeferred_FlushRunsInOrderAndContinuesPastFailures(t *testing.T) {
	d := NewDeferred(nil)
	var order []string

	d.ScheduleForLater(100*time.Millisecond, "a", func(ctx context.Context) error {
		order = append(order, "a")
		return nil
	})
	d.ScheduleForLater(time.Second, "b", func(ctx context.Context) error {
		order = append(order, "b")
		return errors.New("boom")
	})
	d.ScheduleForLater(0, "c", func(ctx context.Context) error {
		panic("bad task")
	})
	d.ScheduleForLater(0, "d", func(ctx context.Context) error {
		order = append(order, "d")
		return nil
	})

	if got := d.Delays(); len(got) != 4 || got[0] != 100*time.Millisecond || got[1] != time.Second {
		t.Fatalf("unexpected delays: %v", got)
	}

	failed := d.Flush(context.Background())
	if failed != 2 {
		t.Fatalf("expected 2 failures, got %d", failed)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "d" {
		t.Fatalf("unexpected order: %v", order)
	}
	if d.Pending() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestDeferred_TasksScheduledDuringFlushWaitForNextFlush(t *testing.T) {
	d := NewDeferred(nil)
	runs := 0
	d.ScheduleForLater(0, "outer", func(ctx context.Context) error {
		runs++
		d.ScheduleForLater(0, "inner", func(ctx context.Context) error {
			runs++
			return nil
		})
		return nil
	})

	d.Flush(context.Background())
	if runs != 1 || d.Pending() != 1 {
		t.Fatalf("expected inner task to stay queued, runs=%d pending=%d", runs, d.Pending())
	}
	d.Flush(context.Background())
	if runs != 2 {
		t.Fatalf("expected inner task to run on second flush, runs=%d", runs)
	}
}

func TestTimerScheduler_RunsAfterDelay(t *testing.T) {
	s := NewTimerScheduler(context.Background(), nil)
	var ran atomic.Bool
	s.ScheduleForLater(10*time.Millisecond, "x", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	s.ScheduleForLater(0, "fails", func(ctx context.Context) error {
		return errors.New("ignored")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !ran.Load() {
		t.Fatalf("expected task to run")
	}
}
