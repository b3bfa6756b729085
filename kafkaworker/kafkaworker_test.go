package kafkaworker

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HJianBo/whc-bench/bench"
)

func newTestConsumer() (*Consumer, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	w := bench.NewWriter([]string{"messageTimestamp", "messageLatencyMs", "txStartLatencyMs"})
	w.SetOutput(buf)
	w.Start()
	return &Consumer{
		config:  &Config{Topic: "bench"},
		out:     w,
		broker:  bench.NewAggregator(),
		txStart: bench.NewAggregator(),
	}, buf
}

func rows(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	return records
}

func TestMessageTimestamp(t *testing.T) {

	sent := time.UnixMilli(1700000000123)
	ts, ok := messageTimestamp(kafka.Message{Time: sent})
	require.True(t, ok)
	assert.InDelta(t, 1700000000123.0, ts, 0.001)

	// The broker timestamp wins over the body.
	ts, ok = messageTimestamp(kafka.Message{Time: sent, Value: []byte(`{"timestamp":1}`)})
	require.True(t, ok)
	assert.InDelta(t, 1700000000123.0, ts, 0.001)

	// Nanoseconds in the body are scaled down to milliseconds.
	ts, ok = messageTimestamp(kafka.Message{Value: []byte(`{"timestamp":1700000000123456789}`)})
	require.True(t, ok)
	assert.InDelta(t, 1700000000123.456789, ts, 0.01)

	// At or below 1e12 the value is taken as milliseconds.
	ts, ok = messageTimestamp(kafka.Message{Value: []byte(`{"timestamp":999999999999}`)})
	require.True(t, ok)
	assert.InDelta(t, 999999999999.0, ts, 0.001)

	ts, ok = messageTimestamp(kafka.Message{Value: []byte(`{"timestamp":1000000000000}`)})
	require.True(t, ok)
	assert.InDelta(t, 1e12, ts, 0.001)

	for _, value := range []string{`{"timestamp":"abc"}`, `{"other":1}`, `junk`, ``} {
		_, ok = messageTimestamp(kafka.Message{Value: []byte(value)})
		assert.False(t, ok, "value %q produced a timestamp", value)
	}
}

func TestProcessMessage(t *testing.T) {

	k, buf := newTestConsumer()
	now := time.Now()
	sent := now.Add(-2 * time.Second)
	sentMs := float64(sent.UnixNano()) / 1e6

	k.processMessage(kafka.Message{
		Topic:   "bench",
		Value:   []byte(fmt.Sprintf(`{"timestamp":%d}`, sent.UnixNano())),
		Headers: []kafka.Header{{Key: "tx_start_ts", Value: []byte(fmt.Sprintf("%.3f", sentMs))}},
	}, now)

	require.True(t, k.out.Stop(time.Second))

	broker := k.broker.Snapshot()
	assert.Equal(t, int64(1), broker.Total)
	assert.Equal(t, int64(1), broker.Success)
	assert.Equal(t, 1, broker.Samples)
	assert.InDelta(t, 2000.0, broker.Mean.Seconds()*1000, 50)

	tx := k.txStart.Snapshot()
	assert.Equal(t, int64(1), tx.Total)
	assert.InDelta(t, 2000.0, tx.Mean.Seconds()*1000, 50)

	records := rows(t, buf)
	require.Len(t, records, 1)
	require.Len(t, records[0], 3)
	ts, err := strconv.ParseFloat(records[0][0], 64)
	require.NoError(t, err)
	assert.InDelta(t, sentMs, ts, 1)
	latency, err := strconv.ParseFloat(records[0][1], 64)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, latency, 50)
}

func TestProcessMessageNoTimestamp(t *testing.T) {

	k, buf := newTestConsumer()
	k.processMessage(kafka.Message{Topic: "bench", Value: []byte("junk")}, time.Now())
	require.True(t, k.out.Stop(time.Second))

	broker := k.broker.Snapshot()
	assert.Equal(t, int64(1), broker.Total)
	assert.Equal(t, int64(1), broker.Failed)
	assert.Equal(t, 0, broker.Samples)
	require.Len(t, broker.Errors, 1)
	assert.Equal(t, "no timestamp in message", broker.Errors[0].Detail)

	assert.Equal(t, int64(0), k.txStart.Snapshot().Total)

	records := rows(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"0.000", "0.000", "0.000"}, records[0])
}

func TestProcessMessageBadTxHeader(t *testing.T) {

	k, buf := newTestConsumer()
	k.processMessage(kafka.Message{
		Topic:   "bench",
		Time:    time.Now().Add(-time.Second),
		Headers: []kafka.Header{{Key: "tx_start_ts", Value: []byte("abc")}},
	}, time.Now())
	require.True(t, k.out.Stop(time.Second))

	assert.Equal(t, int64(1), k.broker.Snapshot().Success)
	assert.Equal(t, int64(0), k.txStart.Snapshot().Total)

	records := rows(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, "0.000", records[0][2])
}

func TestNewReaderDefaults(t *testing.T) {

	r, err := newReader(&Config{Topic: "events"})
	require.NoError(t, err)
	defer r.Close()

	cfg := r.Config()
	assert.Equal(t, []string{"127.0.0.1:9092"}, cfg.Brokers)
	assert.Equal(t, "whc-bench", cfg.GroupID)
	assert.Equal(t, "events", cfg.Topic)
	assert.Equal(t, 1024, cfg.MinBytes)
	assert.Equal(t, 10<<20, cfg.MaxBytes)
	assert.Equal(t, 100*time.Millisecond, cfg.MaxWait)
	assert.Equal(t, time.Second, cfg.CommitInterval)

	require.NotNil(t, cfg.Dialer)
	assert.Equal(t, 30*time.Second, cfg.Dialer.Timeout)
	assert.NotNil(t, cfg.Dialer.SASLMechanism)
	assert.Nil(t, cfg.Dialer.TLS)
}

func TestNewReaderProtocols(t *testing.T) {

	r, err := newReader(&Config{Topic: "events", SecurityProtocol: "PLAINTEXT"})
	require.NoError(t, err)
	assert.Nil(t, r.Config().Dialer.SASLMechanism)
	assert.Nil(t, r.Config().Dialer.TLS)
	r.Close()

	r, err = newReader(&Config{Topic: "events", SecurityProtocol: "SSL"})
	require.NoError(t, err)
	assert.Nil(t, r.Config().Dialer.SASLMechanism)
	assert.NotNil(t, r.Config().Dialer.TLS)
	r.Close()

	r, err = newReader(&Config{Topic: "events", SecurityProtocol: "SASL_SSL"})
	require.NoError(t, err)
	assert.NotNil(t, r.Config().Dialer.SASLMechanism)
	assert.NotNil(t, r.Config().Dialer.TLS)
	r.Close()
}

func TestNewMechanism(t *testing.T) {

	m, err := newMechanism(&Config{SASLUsername: "alice", SASLPassword: "secret"})
	require.NoError(t, err)
	pm, ok := m.(plain.Mechanism)
	require.True(t, ok)
	assert.Equal(t, "alice", pm.Username)
	assert.Equal(t, "secret", pm.Password)

	m, err = newMechanism(&Config{SASLMechanism: "SCRAM-SHA-256", SASLUsername: "a", SASLPassword: "b"})
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-256", m.Name())

	m, err = newMechanism(&Config{SASLMechanism: "SCRAM-SHA-512", SASLUsername: "a", SASLPassword: "b"})
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-512", m.Name())

	_, err = newMechanism(&Config{SASLMechanism: "GSSAPI"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {

	assert.NoError(t, (&Config{Topic: "events"}).Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Topic: "events", SASLMechanism: "GSSAPI"}).Validate())
	assert.Error(t, (&Config{Topic: "events", SecurityProtocol: "KERBEROS"}).Validate())
}

func TestConfigDefaults(t *testing.T) {

	c := &Config{Topic: "events"}
	assert.Equal(t, []string{"127.0.0.1:9092"}, c.brokerList())
	assert.Equal(t, "whc-bench", c.group())
	assert.Equal(t, 30*time.Second, c.requestTimeout())
	assert.Equal(t, 30*time.Second, c.idleTimeout())
	assert.Regexp(t, `^kafka_latency_\d+\.csv$`, c.outPath())

	c = &Config{Brokers: " a:9092, b:9092 ", Out: "latency.csv"}
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.brokerList())
	assert.Equal(t, "latency.csv", c.outPath())
}

func TestReport(t *testing.T) {

	k, _ := newTestConsumer()
	defer k.out.Stop(time.Second)
	k.broker.Record(bench.Outcome{OK: true, Elapsed: 10 * time.Millisecond})
	k.broker.Record(bench.Outcome{OK: true, Elapsed: 20 * time.Millisecond})
	k.broker.Record(bench.Outcome{Key: "bench/0@7", Detail: "no timestamp in message"})

	buf := new(bytes.Buffer)
	k.report(buf, 2*time.Second)

	out := buf.String()
	assert.Contains(t, out, "Results")
	assert.Contains(t, out, "Broker latency")
	assert.Contains(t, out, "Tx start latency")
	assert.Contains(t, out, "No samples.")
	assert.Contains(t, out, "no timestamp in message")
	assert.Regexp(t, `Total\:\s+3`, out)
	assert.Regexp(t, `Failed\:\s+1`, out)
}
