package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"leasing-telephony/pkg/logger"
)

// Deferred queues tasks instead of running them. Flush runs the queue deterministically.
type Deferred struct {
	mu    sync.Mutex
	queue []deferredTask
	log   *slog.Logger
}

type deferredTask struct {
	name  string
	delay time.Duration
	task  Task
}

func NewDeferred(log *slog.Logger) *Deferred {
	return &Deferred{log: logger.OrDiscard(log)}
}

func (d *Deferred) ScheduleForLater(delay time.Duration, name string, task Task) {
	if task == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, deferredTask{name: name, delay: delay, task: task})
}

// Pending reports how many tasks are waiting for Flush.
func (d *Deferred) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Delays returns the requested delays of the waiting tasks, in registration order.
func (d *Deferred) Delays() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]time.Duration, 0, len(d.queue))
	for _, t := range d.queue {
		out = append(out, t.delay)
	}
	return out
}

// Flush runs the tasks queued at call time sequentially, in registration order.
// A failing or panicking task is logged and the remaining tasks still run.
// Tasks scheduled while flushing stay queued for the next Flush.
// It returns the number of tasks that failed.
func (d *Deferred) Flush(ctx context.Context) int {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	failed := 0
	for _, t := range batch {
		if err := run(ctx, t.task); err != nil {
			failed++
			d.log.Warn("deferred task failed", "task", t.name, "err", err)
		}
	}
	return failed
}
