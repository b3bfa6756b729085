package bench

import (
	"sort"
	"sync"
	"time"
)

// sampleErrors is the number of failed outcomes retained for the report.
const sampleErrors = 10

// Aggregator accumulates outcomes from concurrently running workers. Record
// is the only mutation point; Snapshot copies the state, so callers never see
// a partially updated view.
type Aggregator struct {
	mu        sync.Mutex
	total     int64
	success   int64
	failed    int64
	latencies []time.Duration
	errs      []Outcome
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record adds one outcome to the totals. Outcomes with a non-zero Elapsed
// contribute a latency sample; the first few failures are kept verbatim for
// the report.
func (a *Aggregator) Record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	if o.OK {
		a.success++
	} else {
		a.failed++
		if len(a.errs) < sampleErrors {
			a.errs = append(a.errs, o)
		}
	}
	if o.Elapsed != 0 {
		a.latencies = append(a.latencies, o.Elapsed)
	}
}

// Counts returns the running totals without copying the latency samples.
func (a *Aggregator) Counts() (total, success, failed int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total, a.success, a.failed
}

// Snapshot is a point-in-time summary of everything recorded so far.
type Snapshot struct {
	Total   int64
	Success int64
	Failed  int64

	// Samples is the number of latency samples behind the percentiles below.
	Samples int
	Mean    time.Duration
	Min     time.Duration
	Max     time.Duration
	P50     time.Duration
	P90     time.Duration
	P95     time.Duration
	P99     time.Duration

	// Errors holds the first few failed outcomes, at most sampleErrors.
	Errors []Outcome
}

// Snapshot computes the current summary. The recorded latencies are copied
// and sorted on the way out, so recording order is preserved and repeated
// snapshots are consistent.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	sorted := make([]time.Duration, len(a.latencies))
	copy(sorted, a.latencies)
	s := Snapshot{
		Total:   a.total,
		Success: a.success,
		Failed:  a.failed,
		Errors:  append([]Outcome(nil), a.errs...),
	}
	a.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.Samples = len(sorted)
	if s.Samples == 0 {
		return s
	}

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	s.Mean = sum / time.Duration(s.Samples)
	s.Min = sorted[0]
	s.Max = sorted[s.Samples-1]
	s.P50 = percentile(sorted, 0.50)
	s.P90 = percentile(sorted, 0.90)
	s.P95 = percentile(sorted, 0.95)
	s.P99 = percentile(sorted, 0.99)

	return s
}

// percentile picks sorted[floor(n*p)], clamped to the last element. With few
// samples this biases high, which is the preferable direction for a latency
// report.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}
