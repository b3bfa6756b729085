package bench

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithSignalCancel returns a context that is cancelled on SIGINT or SIGTERM,
// for tools that run until interrupted rather than through a Runner. The
// returned cancel releases the signal handler.
func WithSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
