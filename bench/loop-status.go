package bench

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

func (r *Runner) startStatusLoop(ctx context.Context) {

	if r.Quiet || r.outWriter == nil {
		return
	}

	r.mainWait.Add(1)
	ticker := time.NewTicker(time.Second * 10)

	go func() {
		defer r.mainWait.Done()
		defer r.println("Exiting status loop")
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				r.printStatus()
			}
		}
	}()
}

// PrintStatus prints the status message to the output writer
func (r *Runner) PrintStatus(writer io.Writer) {
	w := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	total, _, failed := r.agg.Counts()
	r.meters.summary(w, r.Shards*r.Concurrency, total, failed, r.Elapsed())
	w.Flush()
}

func (r *Runner) printStatus() {

	if r.Quiet || r.outWriter == nil {
		return
	}

	r.PrintStatus(r.outWriter)
}

func (r *Runner) print(a ...interface{}) {
	if r.Quiet || r.outWriter == nil {
		return
	}
	fmt.Fprint(r.outWriter, a...)
}

func (r *Runner) println(a ...interface{}) {
	if r.Quiet || r.outWriter == nil {
		return
	}
	fmt.Fprintln(r.outWriter, a...)
}

func (r *Runner) printf(format string, a ...interface{}) {
	if r.Quiet || r.outWriter == nil {
		return
	}
	fmt.Fprintf(r.outWriter, format, a...)
}
