// Package kafkaworker implements the kafka consume latency tool: it joins a
// consumer group, measures how far behind each message's send instant the
// delivery is, and logs every sample to CSV.
package kafkaworker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	log "github.com/sirupsen/logrus"

	"github.com/HJianBo/whc-bench/bench"
)

// progressEvery is how many messages pass between progress log lines.
const progressEvery = 1000

// Consumer reads one topic and records two latency series: broker latency
// (message timestamp to receipt) and tx start latency (the producer's
// tx_start_ts header to receipt).
type Consumer struct {
	config  *Config
	reader  *kafka.Reader
	out     *bench.Writer
	broker  *bench.Aggregator
	txStart *bench.Aggregator
	count   int64
}

// NewConsumer builds the reader and the latency log writer. The reader only
// connects on the first fetch.
func NewConsumer(c *Config) (*Consumer, error) {
	reader, err := newReader(c)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		config:  c,
		reader:  reader,
		out:     bench.NewWriter([]string{"messageTimestamp", "messageLatencyMs", "txStartLatencyMs"}),
		broker:  bench.NewAggregator(),
		txStart: bench.NewAggregator(),
	}, nil
}

func newMechanism(c *Config) (sasl.Mechanism, error) {
	switch c.saslMechanism() {
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		m, err := scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
		return m, errors.WithStack(err)
	case "SCRAM-SHA-512":
		m, err := scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
		return m, errors.WithStack(err)
	}
	return nil, errors.Errorf("unknown sasl mechanism %q", c.SASLMechanism)
}

func newReader(c *Config) (*kafka.Reader, error) {
	dialer := &kafka.Dialer{
		Timeout:   c.requestTimeout(),
		DualStack: true,
	}
	protocol := c.securityProtocol()
	if strings.HasPrefix(protocol, "SASL_") {
		m, err := newMechanism(c)
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = m
	}
	if strings.HasSuffix(protocol, "SSL") {
		dialer.TLS = &tls.Config{}
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.brokerList(),
		GroupID:        c.group(),
		Topic:          c.Topic,
		Dialer:         dialer,
		MinBytes:       1024,
		MaxBytes:       10 << 20,
		MaxWait:        100 * time.Millisecond,
		CommitInterval: time.Second,
	}), nil
}

// consume reads until the context is cancelled or the reader fails. The
// watchdog is touched on every receipt, so an idle topic ends the run.
func (k *Consumer) consume(ctx context.Context, watchdog *bench.Watchdog) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				if k.count == 0 {
					log.Warn("stopped before any message arrived")
				}
				return nil
			}
			if k.count == 0 {
				logConnectHints(k.config)
				return errors.Wrapf(err, "consuming %s from %s", k.config.Topic, k.config.Brokers)
			}
			log.WithError(err).Error("kafka read failed")
			k.broker.Record(bench.Outcome{Detail: err.Error()})
			return nil
		}
		receive := time.Now()
		watchdog.Touch()
		k.processMessage(m, receive)
	}
}

func logConnectHints(c *Config) {
	log.Warnf("check that the brokers (%s) are reachable and not firewalled", c.Brokers)
	log.Warnf("check that topic %q exists and group %q may read it", c.Topic, c.group())
	log.Warnf("check the security settings (%s, %s)", c.securityProtocol(), c.saslMechanism())
}

// processMessage turns one message into latency samples and a CSV row. A
// message with no usable timestamp is counted as a failure; a malformed
// tx_start_ts header only loses the tx start sample.
func (k *Consumer) processMessage(m kafka.Message, receive time.Time) {
	receiveMs := float64(receive.UnixNano()) / 1e6

	tsMs, ok := messageTimestamp(m)
	var brokerLatency float64
	if ok {
		brokerLatency = receiveMs - tsMs
		k.broker.Record(bench.Outcome{
			Key:     position(m),
			OK:      true,
			Elapsed: time.Duration(brokerLatency * float64(time.Millisecond)),
		})
	} else {
		k.broker.Record(bench.Outcome{Key: position(m), Detail: "no timestamp in message"})
	}

	var txLatency float64
	if raw, found := header(m, "tx_start_ts"); found {
		txMs, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			log.Warnf("bad tx_start_ts header %q on %s: %v", raw, position(m), err)
		} else {
			txLatency = receiveMs - txMs
			k.txStart.Record(bench.Outcome{
				Key:     position(m),
				OK:      true,
				Elapsed: time.Duration(txLatency * float64(time.Millisecond)),
			})
		}
	}

	k.out.Write([]string{
		strconv.FormatFloat(tsMs, 'f', 3, 64),
		strconv.FormatFloat(brokerLatency, 'f', 3, 64),
		strconv.FormatFloat(txLatency, 'f', 3, 64),
	})

	k.count++
	if k.count%progressEvery == 0 {
		log.Infof("consumed %d messages (broker latency %.2fms, tx start latency %.2fms)",
			k.count, brokerLatency, txLatency)
	}
}

// messageTimestamp finds the message's send instant in milliseconds: the
// broker timestamp when set, else a numeric timestamp field in the JSON
// body. Body values above 1e12 are taken as nanoseconds.
func messageTimestamp(m kafka.Message) (float64, bool) {
	if !m.Time.IsZero() {
		return float64(m.Time.UnixNano()) / 1e6, true
	}
	var body struct {
		Timestamp json.Number `json:"timestamp"`
	}
	dec := json.NewDecoder(bytes.NewReader(m.Value))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body.Timestamp == "" {
		return 0, false
	}
	ts, err := body.Timestamp.Float64()
	if err != nil {
		return 0, false
	}
	if ts > 1e12 {
		return ts / 1e6, true
	}
	return ts, true
}

func header(m kafka.Message, key string) ([]byte, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

func position(m kafka.Message) string {
	return fmt.Sprintf("%s/%d@%d", m.Topic, m.Partition, m.Offset)
}

func (k *Consumer) report(w io.Writer, elapsed time.Duration) {
	if w == nil {
		return
	}
	broker := k.broker.Snapshot()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Results")
	fmt.Fprintln(w, "=======")
	bench.WriteSummary(w, broker, elapsed)
	bench.WriteLatencies(w, "Broker latency", broker)
	bench.WriteLatencies(w, "Tx start latency", k.txStart.Snapshot())
	bench.WriteErrors(w, broker)
}

// Run consumes until the context is cancelled or the topic goes idle, then
// prints the report. Connection failures before the first message are
// returned as errors.
func Run(ctx context.Context, cancel context.CancelFunc, c *Config, out io.Writer) error {

	if err := c.Validate(); err != nil {
		return err
	}

	k, err := NewConsumer(c)
	if err != nil {
		return err
	}

	path := c.outPath()
	if err := k.out.OpenFile(path); err != nil {
		return err
	}
	k.out.Start()

	watchdog := bench.NewWatchdog(c.idleTimeout(), func() {
		log.Infof("no messages for %s, stopping", c.idleTimeout())
		cancel()
	})
	watchdog.Start(ctx)

	if c.MetricsAddr != "" {
		bench.StartMetricsServer(c.MetricsAddr,
			bench.NewStatsCollector("broker", k.broker),
			bench.NewStatsCollector("tx_start", k.txStart))
	}

	log.Infof("consuming %s from %s as group %s, latencies to %s",
		c.Topic, strings.Join(c.brokerList(), ","), c.group(), path)

	start := time.Now()
	err = k.consume(ctx, watchdog)

	if closeErr := k.reader.Close(); closeErr != nil {
		log.WithError(closeErr).Warn("closing kafka reader")
	}
	if !k.out.Stop(5 * time.Second) {
		log.Warn("Latency log writer failed to stop")
	}
	k.report(out, time.Since(start))
	return err
}
