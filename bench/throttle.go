package bench

import (
	"sync"
	"time"
)

// Throttle enforces a minimum interval between dispatches of the same key.
// Keys that have never been dispatched map to the zero time, so the first
// dispatch of any key is never delayed. Distinct keys never delay each other.
type Throttle struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Delay returns how long the caller should wait before dispatching key. The
// wait is computed under the lock but must be slept outside it, so a slow key
// never serializes the others.
func (t *Throttle) Delay(key string) time.Duration {
	if t.interval <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[key]
	if !ok {
		return 0
	}
	elapsed := time.Since(last)
	if elapsed >= t.interval {
		return 0
	}
	return t.interval - elapsed
}

// Touch records the dispatch instant for key. Call it after the operation
// returns, so the interval spaces out invocation starts rather than queue
// arrivals.
func (t *Throttle) Touch(key string) {
	if t.interval <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[key] = time.Now()
}
