package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManual_RunsInDueOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []int
	m.AfterFunc(300*time.Millisecond, func() { order = append(order, 3) })
	m.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	m.AfterFunc(100*time.Millisecond, func() { order = append(order, 2) })

	m.Advance(99 * time.Millisecond)
	if len(order) != 0 {
		t.Fatalf("nothing should run before due time, got %v", order)
	}
	m.Advance(time.Second)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("order: got %v, want [1 2 3]", order)
	}
}

func TestManual_NowTracksCallbackTime(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManual(start)
	var seen time.Duration
	m.AfterFunc(220*time.Millisecond, func() { seen = m.Now().Sub(start) })
	m.Advance(time.Second)
	if seen != 220*time.Millisecond {
		t.Errorf("Now inside callback: got %v, want 220ms", seen)
	}
	if got := m.Now().Sub(start); got != time.Second {
		t.Errorf("Now after Advance: got %v, want 1s", got)
	}
}

func TestManual_ChainedCallbacksWithinOneAdvance(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	runs := 0
	m.AfterFunc(100*time.Millisecond, func() {
		runs++
		m.AfterFunc(100*time.Millisecond, func() { runs++ })
	})
	m.Advance(250 * time.Millisecond)
	if runs != 2 {
		t.Errorf("runs: got %d, want 2", runs)
	}
}

func TestManual_Cancel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ran := false
	h := m.AfterFunc(10*time.Millisecond, func() { ran = true })
	h.Cancel()
	h.Cancel()
	m.Advance(time.Second)
	if ran {
		t.Error("cancelled callback ran")
	}
	if m.Pending() != 0 {
		t.Errorf("Pending: got %d, want 0", m.Pending())
	}
}

func TestLoop_AfterFuncRunsOnLoop(t *testing.T) {
	l := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	done := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
}

func TestLoop_CancelledCallbackNeverRuns(t *testing.T) {
	l := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var ran atomic.Bool
	h := l.AfterFunc(20*time.Millisecond, func() { ran.Store(true) })
	h.Cancel()

	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled callback ran")
	}
}

func TestLoop_PostIsSerial(t *testing.T) {
	l := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var counter int // only touched on the loop goroutine
	done := make(chan int)
	for i := 0; i < 100; i++ {
		go l.Post(func() { counter++ })
	}
	// Wait until all increments are visible from the loop itself.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		l.Post(func() { done <- counter })
		if <-done == 100 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("posted callbacks did not all run")
}

func TestLoop_PostAfterCloseDoesNotBlock(t *testing.T) {
	l := NewLoop(1)
	l.Close()
	finished := make(chan struct{})
	go func() {
		l.Post(func() {})
		l.Post(func() {})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Post blocked on a closed loop")
	}
}
