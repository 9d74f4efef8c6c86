// Package scheduler runs work after a delay. Components receive a Scheduler through their
// constructor; production wires a TimerScheduler and tests wire a Deferred.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"leasing-telephony/pkg/logger"
)

// Task is a unit of delayed work. A returned error is logged, never propagated.
type Task func(ctx context.Context) error

type Scheduler interface {
	// ScheduleForLater registers task to run once after delay. name is used for logs.
	ScheduleForLater(delay time.Duration, name string, task Task)
}

// TimerScheduler runs tasks on real timers, each in its own goroutine.
type TimerScheduler struct {
	base context.Context
	log  *slog.Logger
	wg   sync.WaitGroup
}

// NewTimerScheduler returns a scheduler whose tasks receive a context derived from base.
func NewTimerScheduler(base context.Context, log *slog.Logger) *TimerScheduler {
	return &TimerScheduler{base: context.WithoutCancel(base), log: logger.OrDiscard(log)}
}

func (s *TimerScheduler) ScheduleForLater(delay time.Duration, name string, task Task) {
	if task == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}
	s.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer s.wg.Done()
		if err := run(s.base, task); err != nil {
			s.log.Error("scheduled task failed", "task", name, "err", err)
		}
	})
}

// Wait blocks until every task scheduled so far has fired and returned, or ctx ends.
func (s *TimerScheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return task(ctx)
}
