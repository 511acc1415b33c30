// Package sched provides the single execution context the stabilization
// pipeline runs on: callbacks are posted or delayed onto one goroutine, and
// a delayed callback can be cancelled until the moment it runs.
package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handle cancels a scheduled callback. Cancel is idempotent.
type Handle interface {
	Cancel()
}

// Scheduler runs callbacks serially.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time
	// AfterFunc runs fn on the scheduler after d, unless cancelled first.
	AfterFunc(d time.Duration, fn func()) Handle
	// Post runs fn on the scheduler as soon as possible.
	Post(fn func())
}

// Loop is a Scheduler backed by real timers. All callbacks run on the
// goroutine that calls Run.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a Loop with the given queue capacity (default 256).
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run executes queued callbacks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Close stops the loop. Callbacks posted afterwards are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Now implements Scheduler.
func (l *Loop) Now() time.Time { return time.Now() }

// Post implements Scheduler. It blocks while the queue is full and gives up
// once the loop is closed. It must not be called from the loop goroutine
// with a full queue.
func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// AfterFunc implements Scheduler. A handle cancelled after its timer fired
// but before the callback reached the loop still prevents the callback.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Handle {
	h := &loopHandle{}
	h.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if h.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return h
}

type loopHandle struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func (h *loopHandle) Cancel() {
	h.cancelled.Store(true)
	h.timer.Stop()
}
