package presence

import (
	"sync"
	"time"
)

// throttle rate-limits a stream of updates to one call per interval, with a
// trailing edge: the most recent value inside a window is always sent, even
// if updates stop mid-window. Intermediate values are discarded.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	lastFire time.Time
	timer    *time.Timer
	pending  func()
	stopped  bool
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

// Do runs fn now if the window has elapsed, otherwise stores it as the
// trailing call, replacing any previously pending one.
func (t *throttle) Do(fn func()) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	if elapsed := now.Sub(t.lastFire); elapsed >= t.interval {
		t.lastFire = now
		t.mu.Unlock()
		fn()
		return
	}
	t.pending = fn
	if t.timer == nil {
		remaining := t.interval - now.Sub(t.lastFire)
		t.timer = time.AfterFunc(remaining, t.fireTrailing)
	}
	t.mu.Unlock()
}

func (t *throttle) fireTrailing() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	if fn != nil && !t.stopped {
		t.lastFire = time.Now()
	}
	stopped := t.stopped
	t.mu.Unlock()
	if fn != nil && !stopped {
		fn()
	}
}

// Stop cancels any trailing call. Subsequent Do calls are ignored.
func (t *throttle) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}
