package bench

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// runShard builds the shard's Operation and runs Concurrency workers over the
// shared unit channel until it closes or the context is cancelled.
func (r *Runner) runShard(ctx context.Context, shard int) error {

	op, err := r.opFactory(shard)
	if err != nil {
		return errors.Wrapf(err, "building operation for shard %d", shard)
	}

	wg := new(sync.WaitGroup)
	for i := 0; i < r.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case u, ok := <-r.units:
					if !ok {
						// exit gracefully
						return
					}
					r.process(ctx, op, u)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// process performs a single dispatch: pace the key, invoke the operation
// under the soft timeout, then record the outcome everywhere it is needed.
// A failing operation never halts the pool.
func (r *Runner) process(ctx context.Context, op Operation, u Unit) {

	// The first round establishes each key's baseline and never waits.
	if r.Interval > 0 && u.Round > 0 {
		if d := r.throttle.Delay(u.Key); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}
	}

	r.meters.busy.Inc(1)
	defer r.meters.busy.Dec(1)

	// Create a child context with the selected timeout
	child, cancel := context.WithTimeout(ctx, r.softTimeout)
	defer cancel()

	finished := make(chan struct{})

	var out Outcome
	go func() {
		out = op(child, u)
		close(finished)
	}()

	var hardTimeoutExceeded bool
	select {
	case <-finished:
		// When the operation finishes, cancel the child context.
		cancel()
	case <-ctx.Done():
		// In the event of the main context being cancelled, cancel the child
		// context and wait for the operation goroutine to exit.
		cancel()
		select {
		case <-finished:
			// Only continue when finished is closed - e.g. the operation
			// goroutine has exited.
		case <-time.After(r.hardTimeout):
			hardTimeoutExceeded = true
		}
	case <-time.After(r.hardTimeout):
		hardTimeoutExceeded = true
	}

	if hardTimeoutExceeded {
		// The operation is not respecting the context deadline. The goroutine
		// is abandoned, which leaks it until whatever it is blocked on gives
		// up, so make some noise - but a stuck request must not stop the run.
		log.Errorf("operation for %s round %d still running %s after its deadline, abandoning it", u.Key, u.Round, r.hardTimeout-r.softTimeout)
		r.record(u, Outcome{
			Key:    u.Key,
			Round:  u.Round,
			Status: 0,
			Detail: "abandoned: operation ignored its deadline",
		})
		return
	}

	r.record(u, out)
}

func (r *Runner) record(u Unit, out Outcome) {
	r.throttle.Touch(u.Key)
	r.agg.Record(out)
	if out.Elapsed != 0 {
		r.meters.requests.Update(out.Elapsed)
	}
	if r.outcomes != nil {
		r.outcomes.Write(outcomeToCsv(u, out))
	}
}
