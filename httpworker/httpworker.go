// Package httpworker implements the http command stress tool: every device in
// the fleet receives a bench command once per round through the platform's
// command-send endpoint, or through the EMQX publish API.
package httpworker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/HJianBo/whc-bench/bench"
)

// detailLimit caps the response snippet kept on failed outcomes.
const detailLimit = 500

// Factory builds the per-shard operation. Each shard gets its own client, so
// shards never contend for the same connection pool.
func Factory(c *Config) bench.OperationFactory {
	return func(shard int) (bench.Operation, error) {
		client := newClient(c)
		return func(ctx context.Context, u bench.Unit) bench.Outcome {
			return send(ctx, client, c, u)
		}, nil
	}
}

func newClient(c *Config) *http.Client {
	concurrent := c.Concurrent
	if concurrent < 1 {
		concurrent = 10
	}
	maxIdle := 100
	if 2*concurrent > maxIdle {
		maxIdle = 2 * concurrent
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          maxIdle,
			MaxIdleConnsPerHost:   concurrent,
			MaxConnsPerHost:       concurrent,
			IdleConnTimeout:       30 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	}
}

// send posts one command and turns the response into an Outcome. Transport
// errors yield Status 0 and no latency sample; latency is measured up to the
// response headers, before the body is read.
func send(ctx context.Context, client *http.Client, c *Config, u bench.Unit) bench.Outcome {

	out := bench.Outcome{Key: u.Key, Round: u.Round}

	var body []byte
	var err error
	if c.EMQX {
		body, err = buildEMQXPayload(u.Key, u.Round, time.Now())
	} else {
		body, err = buildStandardPayload(u.Key, c.ProductID, time.Now())
	}
	if err != nil {
		out.Detail = err.Error()
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	if c.EMQX {
		req.Header.Set("Authorization", "Basic "+c.SK)
	} else {
		req.Header.Set("edgeNodeId", c.EdgeNodeID)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		out.Detail = err.Error()
		log.Warnf("device %s round %d: %v", u.Key, u.Round, err)
		return out
	}
	out.Elapsed = time.Since(start)
	out.Status = resp.StatusCode

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		out.Detail = "reading response: " + err.Error()
		log.Warnf("device %s round %d: %v", u.Key, u.Round, err)
		return out
	}
	snippet := string(raw)
	if len(snippet) > detailLimit {
		snippet = snippet[:detailLimit]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out.Detail = snippet
		log.Warnf("device %s round %d: status %d: %s", u.Key, u.Round, resp.StatusCode, snippet)
		return out
	}

	if c.EMQX {
		// The publish API carries no result code; any 2xx is a success.
		out.OK = true
		return out
	}

	var reply struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Code == nil {
		out.Detail = snippet
		log.Warnf("device %s round %d: no result code in response: %s", u.Key, u.Round, snippet)
		return out
	}
	if *reply.Code != 0 {
		out.Detail = snippet
		log.Warnf("device %s round %d: platform code %d: %s", u.Key, u.Round, *reply.Code, snippet)
		return out
	}

	out.OK = true
	return out
}

// Run loads the device fleet, drives every round through a Runner and prints
// the report. It returns once all units are done or the context is cancelled.
func Run(ctx context.Context, cancel context.CancelFunc, c *Config, out io.Writer) error {

	if err := c.Validate(); err != nil {
		return err
	}

	devices, err := bench.LoadDevices(ctx, c.Devices, c.DeviceCount)
	if err != nil {
		return err
	}

	r := bench.New(ctx, cancel)
	defer r.Exit()
	if c.Concurrent != 0 {
		r.Concurrency = c.Concurrent
	}
	if c.Shards != 0 {
		r.Shards = c.Shards
	}
	if c.Rounds != 0 {
		r.Rounds = c.Rounds
	}
	r.Interval = c.interval()
	r.Resume = c.Resume
	r.Quiet = c.Quiet
	r.SetTimeout(c.timeout())
	r.SetKeys(devices)
	r.SetOperationFactory(Factory(c))
	r.SetOutput(out)

	if c.Out != "" {
		if err := r.InitOutcomeLog(c.Out); err != nil {
			return err
		}
	}

	if c.MetricsAddr != "" {
		bench.StartMetricsServer(c.MetricsAddr, bench.NewStatsCollector("requests", r.Aggregator()))
	}

	mode := "standard"
	if c.EMQX {
		mode = "emqx"
	}
	log.Infof("sending %d rounds to %d devices via %s (%s mode, %d shards x %d workers, interval %s, timeout %s)",
		r.Rounds, len(devices), c.URL, mode, r.Shards, r.Concurrency, r.Interval, c.timeout())

	_, err = r.Start(ctx)
	return err
}
