// internal/session/timer.go
//
// Cancellable repeating timer that drives engine ticks.
// A Timer owns one goroutine; Stop cancels it without waiting, so it is safe
// to call from inside the tick callback itself.

package session

import (
	"context"
	"sync/atomic"
	"time"
)

// Timer calls fn every interval until stopped or until ctx is done.
type Timer struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// startTimer launches the ticker goroutine.
func startTimer(ctx context.Context, interval time.Duration, fn func(*Timer)) *Timer {
	ctx, cancel := context.WithCancel(ctx)
	t := &Timer{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				t.stopped.Store(true)
				return
			case <-ticker.C:
				if t.stopped.Load() {
					return
				}
				fn(t)
			}
		}
	}()
	return t
}

// Stop cancels the timer. It does not block; Done reports when the goroutine has exited.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	t.cancel()
}

// Stopped reports whether Stop was called or the parent context ended.
func (t *Timer) Stopped() bool { return t == nil || t.stopped.Load() }

// Done is closed once the timer goroutine has returned.
func (t *Timer) Done() <-chan struct{} { return t.done }
