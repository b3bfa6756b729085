package bench

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatsCollector(t *testing.T) {
	a := NewAggregator()
	a.Record(Outcome{OK: true, Elapsed: 10 * time.Millisecond})
	a.Record(Outcome{OK: true, Elapsed: 20 * time.Millisecond})
	a.Record(Outcome{Status: 500})

	c := NewStatsCollector("requests", a)

	expected := `
# HELP whc_bench_outcomes_total Total outcomes recorded, partitioned by result.
# TYPE whc_bench_outcomes_total counter
whc_bench_outcomes_total{result="fail",series="requests"} 1
whc_bench_outcomes_total{result="success",series="requests"} 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "whc_bench_outcomes_total"); err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(c, "whc_bench_latency_milliseconds"); n != 4 {
		t.Fatalf("expected 4 latency quantiles, got %d", n)
	}
}

func TestStatsCollectorNoSamples(t *testing.T) {
	c := NewStatsCollector("requests", NewAggregator())
	if n := testutil.CollectAndCount(c, "whc_bench_latency_milliseconds"); n != 0 {
		t.Fatalf("expected no latency series without samples, got %d", n)
	}
}
