package bench

import (
	"context"
)

// startFeed enqueues units round-major: every key at round 0, then every key
// at round 1, and so on. The queue send is select-guarded so cancellation
// stops production immediately and abandons whatever was never enqueued. The
// feed is the only closer of the unit channel; the close is the workers'
// graceful exit signal.
func (r *Runner) startFeed(ctx context.Context) {

	r.mainWait.Add(1)

	go func() {
		defer r.mainWait.Done()
		defer close(r.units)
		defer r.println("Exiting feed")

		logging := r.outcomes != nil

		for round := 0; round < r.Rounds; round++ {
			for _, key := range r.keys {
				u := Unit{Key: key, Round: round}
				if logging {
					u.hash = unitHash(u)
					// In resume mode, check to see if the unit succeeded in a
					// previous run (skip only contains successful units).
					if r.Resume {
						if _, skip := r.skip[u.hash]; skip {
							r.meters.skipped.Inc(1)
							continue
						}
					}
				}
				select {
				case r.units <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
