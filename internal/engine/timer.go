package engine

import (
	"sync"
	"time"
)

// deadlineTimer fires a callback after a duration unless stopped. It is safe
// for concurrent use; a Stop that loses the race with the firing goroutine
// still suppresses the callback.
type deadlineTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// newDeadlineTimer creates and starts a timer that calls onFire after
// duration. onFire is called in a separate goroutine.
//
// Precondition: duration > 0; onFire must not be nil.
// Postcondition: Returns a running timer; onFire will be called unless Stop
// is called first.
func newDeadlineTimer(duration time.Duration, onFire func()) *deadlineTimer {
	dt := &deadlineTimer{}
	dt.timer = time.AfterFunc(duration, func() {
		dt.mu.Lock()
		stopped := dt.stopped
		dt.mu.Unlock()
		if !stopped {
			onFire()
		}
	})
	return dt
}

// Stop prevents the callback from firing. Safe to call multiple times.
//
// Postcondition: onFire will not be called after Stop returns.
func (dt *deadlineTimer) Stop() {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.stopped = true
	dt.timer.Stop()
}
