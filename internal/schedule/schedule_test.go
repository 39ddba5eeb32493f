package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryStopsWhenFnReturnsFalse(t *testing.T) {
	var calls atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func(context.Context) bool {
		return calls.Add(1) < 3
	})

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestEveryStop(t *testing.T) {
	var calls atomic.Int32
	task := Every(context.Background(), 5*time.Millisecond, func(context.Context) bool {
		calls.Add(1)
		return true
	})
	time.Sleep(30 * time.Millisecond)
	task.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Error("task kept running after Stop")
	}
}

func TestRunHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, time.Hour, func(context.Context) bool { return true })
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAfterCancelled(t *testing.T) {
	var ran atomic.Bool
	task := After(context.Background(), 50*time.Millisecond, func(context.Context) { ran.Store(true) })
	task.Stop()
	time.Sleep(80 * time.Millisecond)
	if ran.Load() {
		t.Error("stopped task should not run")
	}
}

func TestAfterRuns(t *testing.T) {
	done := make(chan struct{})
	After(context.Background(), 5*time.Millisecond, func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task did not run")
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single run, got %d", got)
	}
	if d.Pending() {
		t.Error("nothing should be pending after the run")
	}
}

func TestDebouncerFlush(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() { calls.Add(1) })

	if d.Flush() {
		t.Error("Flush with nothing pending should not run")
	}
	d.Trigger()
	if !d.Flush() {
		t.Error("Flush should run the pending call")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDebouncerStop(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(40 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("stopped debouncer ran %d times", calls.Load())
	}
	if d.Flush() {
		t.Error("Flush after Stop should not run")
	}
}
