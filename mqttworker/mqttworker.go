// Package mqttworker implements the mqtt subscribe latency tool: one client
// per device, each subscribed to its own command topic, measuring how long
// every command took to arrive.
package mqttworker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/avast/retry-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/HJianBo/whc-bench/bench"
)

const (
	// connectWorkers caps how many devices connect at once, so a large fleet
	// does not stampede the broker.
	connectWorkers = 64

	connectAttempts = 3
	connectDelay    = 2 * time.Second
	connectTimeout  = 10 * time.Second

	// disconnectGrace is the paho quiesce in milliseconds.
	disconnectGrace = 250

	// snippetLimit caps the payload sample kept on failed outcomes.
	snippetLimit = 200
)

type device struct {
	id     string
	client mqtt.Client
	agg    *bench.Aggregator
	seq    atomic.Uint64
	online bool
}

func (d *device) topic() string {
	return fmt.Sprintf("/v1/devices/%s/command", d.id)
}

// Fleet is the whole device population: one MQTT client per device, a per
// device aggregator for the report, and a global one across all devices.
type Fleet struct {
	config   *Config
	devices  []*device
	global   *bench.Aggregator
	out      *bench.Writer
	watchdog *bench.Watchdog
}

func NewFleet(c *Config, ids []string) *Fleet {
	f := &Fleet{
		config: c,
		global: bench.NewAggregator(),
		out:    bench.NewWriter([]string{"deviceId", "no", "latencyMs"}),
	}
	f.out.FlushSize = 100
	for _, id := range ids {
		f.devices = append(f.devices, &device{id: id, agg: bench.NewAggregator()})
	}
	return f
}

// Connect brings the fleet online, a bounded number of devices at a time.
// Devices that fail every attempt stay in the fleet as error rows; only a
// completely offline fleet is an error.
func (f *Fleet) Connect(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(connectWorkers)

	var mu sync.Mutex
	var failed *multierror.Error

	for _, d := range f.devices {
		d := d
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := f.connect(d); err != nil {
				log.WithError(err).Warnf("[%s] connect failed", d.id)
				out := bench.Outcome{Key: d.id, Detail: "connect: " + err.Error()}
				d.agg.Record(out)
				f.global.Record(out)
				mu.Lock()
				failed = multierror.Append(failed, errors.Wrapf(err, "device %s", d.id))
				mu.Unlock()
				return nil
			}
			d.online = true
			return nil
		})
	}
	g.Wait()

	online := 0
	for _, d := range f.devices {
		if d.online {
			online++
		}
	}
	if online == 0 {
		if err := failed.ErrorOrNil(); err != nil {
			return errors.Wrap(err, "no devices connected")
		}
		return errors.New("no devices connected")
	}
	log.Infof("%d of %d devices connected", online, len(f.devices))
	return nil
}

func (f *Fleet) connect(d *device) error {
	opts := mqtt.NewClientOptions().
		AddBroker(f.config.brokerURL()).
		SetClientID(d.id).
		SetUsername(d.id).
		SetPassword(f.config.password()).
		SetKeepAlive(f.config.keepalive()).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warnf("[%s] connection lost", d.id)
		})
	client := mqtt.NewClient(opts)

	err := retry.Do(func() error {
		token := client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return errors.New("connect timed out")
		}
		return token.Error()
	}, retry.Attempts(connectAttempts), retry.Delay(connectDelay), retry.DelayType(retry.FixedDelay))
	if err != nil {
		return err
	}

	token := client.Subscribe(d.topic(), 1, f.handler(d))
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(disconnectGrace)
		return errors.New("subscribe timed out")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(disconnectGrace)
		return errors.WithStack(err)
	}

	d.client = client
	return nil
}

// handler builds the message callback for one device. The receive instant is
// taken before any parsing, so decode time never inflates the latency.
func (f *Fleet) handler(d *device) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		receive := time.Now().UnixNano()
		if f.watchdog != nil {
			f.watchdog.Touch()
		}

		ts, err := extractTimestamp(m.Payload())
		if err != nil {
			snippet := string(m.Payload())
			if len(snippet) > snippetLimit {
				snippet = snippet[:snippetLimit]
			}
			log.Warnf("[%s] %v: %s", d.id, err, snippet)
			out := bench.Outcome{Key: d.id, Detail: err.Error()}
			d.agg.Record(out)
			f.global.Record(out)
			return
		}

		latency := time.Duration(receive - ts)
		n := d.seq.Add(1)
		out := bench.Outcome{Key: d.id, OK: true, Elapsed: latency}
		d.agg.Record(out)
		f.global.Record(out)
		f.out.Write([]string{
			d.id,
			strconv.FormatUint(n, 10),
			strconv.FormatFloat(latency.Seconds()*1000, 'f', 3, 64),
		})
		log.Debugf("[%s] message %d, latency %.3fms", d.id, n, latency.Seconds()*1000)
	}
}

// Stop disconnects every online device.
func (f *Fleet) Stop() {
	for _, d := range f.devices {
		if d.online {
			d.client.Disconnect(disconnectGrace)
		}
	}
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%.3f ms", d.Seconds()*1000)
}

func (f *Fleet) report(w io.Writer, elapsed time.Duration) {
	if w == nil {
		return
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Results")
	fmt.Fprintln(w, "=======")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "Device\tMessages\tErrors\tMean\tMin\tMax\tP50\tP95\tP99\n")
	for _, d := range f.devices {
		s := d.agg.Snapshot()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.id, s.Success, s.Failed,
			millis(s.Mean), millis(s.Min), millis(s.Max),
			millis(s.P50), millis(s.P95), millis(s.P99))
	}
	tw.Flush()

	global := f.global.Snapshot()
	fmt.Fprintln(w, "")
	bench.WriteSummary(w, global, elapsed)
	bench.WriteLatencies(w, "Fleet latency", global)
	bench.WriteErrors(w, global)
}

// Run connects the fleet, then waits for a signal or the idle watchdog and
// prints the report. Commands only flow broker to device, so the run has no
// natural end of its own.
func Run(ctx context.Context, cancel context.CancelFunc, c *Config, out io.Writer) error {

	if err := c.Validate(); err != nil {
		return err
	}

	devices, err := bench.LoadDevices(ctx, c.Devices, c.DeviceCount)
	if err != nil {
		return err
	}

	f := NewFleet(c, devices)

	path := c.outPath()
	if err := f.out.OpenFile(path); err != nil {
		return err
	}
	f.out.Start()

	if c.IdleTimeout > 0 {
		f.watchdog = bench.NewWatchdog(c.idleTimeout(), func() {
			log.Infof("no messages for %s, stopping", c.idleTimeout())
			cancel()
		})
	}

	if c.MetricsAddr != "" {
		bench.StartMetricsServer(c.MetricsAddr, bench.NewStatsCollector("messages", f.global))
	}

	log.Infof("connecting %d devices to %s, latencies to %s", len(devices), c.brokerURL(), path)

	start := time.Now()
	if err := f.Connect(ctx); err != nil {
		f.out.Stop(time.Second)
		return err
	}
	if f.watchdog != nil {
		f.watchdog.Start(ctx)
	}

	log.Info("subscribed, waiting for commands")
	<-ctx.Done()

	f.Stop()
	if !f.out.Stop(5 * time.Second) {
		log.Warn("Latency log writer failed to stop")
	}
	f.report(out, time.Since(start))
	return nil
}
