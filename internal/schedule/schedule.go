// Package schedule provides cancellable periodic and delayed tasks bound to
// the lifetime of their owner.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Run calls fn every interval until ctx is done or fn returns false.
// The first call happens after one interval.
func Run(ctx context.Context, interval time.Duration, fn func(context.Context) bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !fn(ctx) {
				return nil
			}
		}
	}
}

// Task is a scheduled job running in its own goroutine.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Every starts fn on a fixed interval in the background. The task ends when
// ctx is done, fn returns false, or Stop is called.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context) bool) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		_ = Run(ctx, interval, fn)
	}()
	return t
}

// After runs fn once after delay unless the task is stopped first.
func After(ctx context.Context, delay time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			fn(ctx)
		}
	}()
	return t
}

// Stop cancels the task and waits for a running call to return.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Done is closed once the task has ended.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Debouncer runs fn once the calls to Trigger have been quiet for delay.
// Each Trigger restarts the wait.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
}

// NewDebouncer creates a debouncer. Nothing runs until Trigger is called.
func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules fn, replacing any pending run.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Flush runs a pending call immediately. It reports whether anything ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.pending = false
	d.mu.Unlock()

	d.fn()
	return true
}

// Pending reports whether a call is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending call. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}
