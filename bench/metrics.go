package bench

import (
	"fmt"
	"io"
	"time"

	"github.com/rcrowley/go-metrics"
)

// meters holds the live counters behind the periodic status summary. The
// final report is computed from the Aggregator instead, so these only need to
// be cheap to update from the worker hot path.
type meters struct {
	registry metrics.Registry
	busy     metrics.Counter
	skipped  metrics.Counter
	requests metrics.Timer
}

func newMeters() *meters {
	r := metrics.NewRegistry()
	return &meters{
		registry: r,
		busy:     metrics.NewRegisteredCounter("busy", r),
		skipped:  metrics.NewRegisteredCounter("skipped", r),
		requests: metrics.NewRegisteredTimer("requests", r),
	}
}

func (m *meters) summary(w io.Writer, workers int, done, failed int64, elapsed time.Duration) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Status")
	fmt.Fprintln(w, "======")

	if c := m.skipped.Count(); c > 0 {
		fmt.Fprintf(w, "Skipped:\t%d from previous runs\n", c)
	}

	fmt.Fprintf(w, "Concurrency:\t%d / %d workers in use\n", m.busy.Count(), workers)
	fmt.Fprintf(w, "Done:\t%d (%d failed)\n", done, failed)
	fmt.Fprintf(w, "Rate:\t%.1f / sec (1m avg)\n", m.requests.Rate1())
	fmt.Fprintf(w, "Mean:\t%.1f ms\n", m.requests.Mean()/1000000)
	fmt.Fprintf(w, "95th:\t%.1f ms\n", m.requests.Percentile(0.95)/1000000)
	fmt.Fprintf(w, "Elapsed:\t%s\n", fmtDuration(elapsed))
}
