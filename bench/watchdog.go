package bench

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Watchdog fires OnTimeout once when no activity has been observed for
// Timeout. Before the first Touch the idle clock runs from Start, and a
// waiting notice is logged every few seconds. The watchdog only observes;
// it never blocks the code it watches.
type Watchdog struct {
	// Timeout is the idle duration that triggers OnTimeout.
	Timeout time.Duration

	// Poll sets how often the idle clock is checked. (Default: 1s).
	Poll time.Duration

	// OnTimeout is invoked exactly once, from the watchdog's own goroutine.
	OnTimeout func()

	last int64
	once sync.Once
}

func NewWatchdog(timeout time.Duration, onTimeout func()) *Watchdog {
	return &Watchdog{
		Timeout:   timeout,
		Poll:      time.Second,
		OnTimeout: onTimeout,
	}
}

// Touch records activity, resetting the idle clock.
func (w *Watchdog) Touch() {
	atomic.StoreInt64(&w.last, time.Now().UnixNano())
}

// Start launches the poll loop. It exits when ctx is cancelled or after
// OnTimeout has fired.
func (w *Watchdog) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watchdog) run(ctx context.Context) {

	started := time.Now()
	ticker := time.NewTicker(w.Poll)
	defer ticker.Stop()

	var lastNotice time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var idle time.Duration
			if last := atomic.LoadInt64(&w.last); last == 0 {
				idle = time.Since(started)
				if remaining := w.Timeout - idle; remaining > 0 && time.Since(lastNotice) >= 5*time.Second {
					log.Infof("waiting for first event (idle %.1fs, %.1fs until timeout)", idle.Seconds(), remaining.Seconds())
					lastNotice = time.Now()
				}
			} else {
				idle = time.Since(time.Unix(0, last))
			}
			if idle >= w.Timeout {
				w.fire()
				return
			}
		}
	}
}

func (w *Watchdog) fire() {
	w.once.Do(func() {
		if w.OnTimeout != nil {
			w.OnTimeout()
		}
	})
}
