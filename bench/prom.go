package bench

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	outcomesDesc = prometheus.NewDesc(
		"whc_bench_outcomes_total",
		"Total outcomes recorded, partitioned by result.",
		[]string{"series", "result"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		"whc_bench_latency_milliseconds",
		"Latency quantiles over all samples recorded so far.",
		[]string{"series", "quantile"}, nil,
	)
)

// StatsCollector exposes an Aggregator to Prometheus. The series label keeps
// several aggregators apart when one process records more than one.
type StatsCollector struct {
	series string
	agg    *Aggregator
}

func NewStatsCollector(series string, agg *Aggregator) *StatsCollector {
	return &StatsCollector{
		series: series,
		agg:    agg,
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- outcomesDesc
	ch <- latencyDesc
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(outcomesDesc, prometheus.CounterValue, float64(s.Success), c.series, "success")
	ch <- prometheus.MustNewConstMetric(outcomesDesc, prometheus.CounterValue, float64(s.Failed), c.series, "fail")

	if s.Samples == 0 {
		return
	}
	quantiles := []struct {
		name string
		d    time.Duration
	}{
		{"0.5", s.P50},
		{"0.9", s.P90},
		{"0.95", s.P95},
		{"0.99", s.P99},
	}
	for _, q := range quantiles {
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, float64(q.d)/float64(time.Millisecond), c.series, q.name)
	}
}

// StartMetricsServer serves the given collectors on addr under /metrics. The
// server is not torn down; it lives for the remainder of the process.
func StartMetricsServer(addr string, collectors ...prometheus.Collector) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("serving metrics on http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
}
