package bench

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/leemcloughlin/gofarmhash"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Unit is a single dispatch: one key (usually a device id) at one round.
type Unit struct {
	Key   string
	Round int

	hash farmhash.Uint128
}

// Outcome is the result of dispatching one Unit. Status is the protocol
// status code, or 0 when the transport failed before a status was received.
// An Elapsed of zero means the operation produced no latency sample.
type Outcome struct {
	Key     string
	Round   int
	OK      bool
	Status  int
	Elapsed time.Duration
	Detail  string
}

// Operation performs one dispatch. Implementations must respect ctx
// cancellation; transport and protocol failures are folded into the returned
// Outcome rather than aborting the run.
type Operation func(ctx context.Context, u Unit) Outcome

// OperationFactory builds the Operation for one shard. The factory is called
// once per shard, so per-shard state (e.g. an http.Client with its own
// connection pool) hangs off the returned closure.
type OperationFactory func(shard int) (Operation, error)

// Runner drives a fixed set of keys through an Operation for a number of
// rounds. Units are fed through one bounded queue shared by all shards, each
// shard running Concurrency workers over its own Operation.
type Runner struct {
	// Concurrency sets the number of workers per shard. (Default: 10).
	Concurrency int

	// Shards sets the number of shards. Each shard gets its own Operation
	// from the factory. (Default: 1).
	Shards int

	// Rounds sets how many times each key is dispatched. (Default: 10).
	Rounds int

	// Interval sets the minimum spacing between dispatches of the same key.
	// Zero disables pacing. The first round never waits.
	Interval time.Duration

	// Resume instructs the runner to load the outcome log and skip units that
	// succeeded in a previous run. Failed units will be retried.
	Resume bool

	// Quiet suppresses the periodic status summary.
	Quiet bool

	softTimeout time.Duration
	hardTimeout time.Duration

	opFactory OperationFactory
	keys      []string

	throttle *Throttle
	agg      *Aggregator
	outcomes *Writer
	skip     map[farmhash.Uint128]struct{}

	units chan Unit

	outWriter io.Writer

	mainWait *sync.WaitGroup
	meters   *meters

	cancel        context.CancelFunc
	signalChannel chan os.Signal

	started time.Time
}

func New(ctx context.Context, cancel context.CancelFunc) *Runner {

	r := &Runner{
		Concurrency: 10,
		Shards:      1,
		Rounds:      10,
		softTimeout: 30 * time.Second,
		hardTimeout: 31 * time.Second,
		skip:        make(map[farmhash.Uint128]struct{}),
		mainWait:    new(sync.WaitGroup),
		agg:         NewAggregator(),
		cancel:      cancel,
	}
	r.meters = newMeters()

	// trap Ctrl+C and call cancel on the context
	r.signalChannel = make(chan os.Signal, 1)
	signal.Notify(r.signalChannel, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-r.signalChannel:
			r.cancel()
		case <-ctx.Done():
		}
	}()

	return r
}

// SetTimeout sets the deadline in the context passed to the operation. A
// further grace second is allowed before an overrunning operation is
// abandoned.
func (r *Runner) SetTimeout(timeout time.Duration) {
	r.softTimeout = timeout
	r.hardTimeout = timeout + time.Second
}

// SetOperationFactory sets the factory used to build each shard's Operation.
func (r *Runner) SetOperationFactory(f OperationFactory) {
	r.opFactory = f
}

// SetKeys sets the keys to dispatch. Every key is dispatched once per round.
func (r *Runner) SetKeys(keys []string) {
	r.keys = keys
}

// SetOutput sets the output, and allows the summary output to be redirected.
// The writer belongs to the caller and is never closed.
func (r *Runner) SetOutput(w io.Writer) {
	if w == nil {
		r.outWriter = nil
		return
	}
	r.outWriter = newThreadSafeWriter(w)
}

// Aggregator exposes the shared result aggregator, e.g. for metrics scraping.
func (r *Runner) Aggregator() *Aggregator {
	return r.agg
}

// Exit cancels any goroutines that are still processing, and closes all files.
func (r *Runner) Exit() {
	if r.outcomes != nil {
		r.outcomes.Stop(time.Second)
	}
	signal.Stop(r.signalChannel)
	r.cancel()
}

// Start validates the configuration and dispatches every key for every round,
// returning the final snapshot of recorded outcomes. On cancellation the
// in-flight operations finish, queued units are abandoned, and the snapshot
// reflects whatever completed.
func (r *Runner) Start(ctx context.Context) (Snapshot, error) {

	if r.opFactory == nil {
		return Snapshot{}, errors.New("no operation configured")
	}
	if len(r.keys) == 0 {
		return Snapshot{}, errors.New("no keys to dispatch")
	}
	if r.Concurrency < 1 {
		return Snapshot{}, errors.New("concurrency must be at least 1")
	}
	if r.Shards < 1 {
		return Snapshot{}, errors.New("shards must be at least 1")
	}
	if r.Rounds < 1 {
		return Snapshot{}, errors.New("rounds must be at least 1")
	}
	if r.Resume && r.outcomes == nil {
		return Snapshot{}, errors.New("resume mode needs an outcome log")
	}

	err := r.start(ctx)

	return r.agg.Snapshot(), err
}

func (r *Runner) start(ctx context.Context) error {

	r.throttle = NewThrottle(r.Interval)
	r.units = make(chan Unit, 2*r.Shards*r.Concurrency)
	r.started = time.Now()

	g, gctx := errgroup.WithContext(ctx)

	r.startFeed(gctx)
	r.startStatusLoop(gctx)
	if r.outcomes != nil {
		r.outcomes.Start()
	}

	for s := 0; s < r.Shards; s++ {
		s := s
		g.Go(func() error {
			return r.runShard(gctx, s)
		})
	}

	err := g.Wait()

	r.println("Waiting for the feed to finish...")
	r.mainWait.Wait()

	if r.outcomes != nil {
		if !r.outcomes.Stop(5 * time.Second) {
			log.Warn("outcome log was not fully flushed within the shutdown grace period")
		}
	}

	if err != nil {
		return err
	}

	r.printReport()
	return nil
}

// Elapsed reports the wall time since Start began dispatching.
func (r *Runner) Elapsed() time.Duration {
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}

// printReport writes the final report. Quiet only suppresses the periodic
// status; the report always prints when an output writer is set.
func (r *Runner) printReport() {
	if r.outWriter == nil {
		return
	}
	if c := r.meters.skipped.Count(); c > 0 {
		fmt.Fprintf(r.outWriter, "\nSkipped: %d from previous runs\n", c)
	}
	WriteReport(r.outWriter, r.agg.Snapshot(), r.Elapsed())
}

func newThreadSafeWriter(w io.Writer) *threadSafeWriter {
	return &threadSafeWriter{
		w: w,
	}
}

type threadSafeWriter struct {
	w io.Writer
	m sync.Mutex
}

func (t *threadSafeWriter) Write(p []byte) (n int, err error) {
	t.m.Lock()
	defer t.m.Unlock()
	return t.w.Write(p)
}
