package bench

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteReport renders the standard end-of-run report: totals, the latency
// table and the retained error samples.
func WriteReport(w io.Writer, s Snapshot, elapsed time.Duration) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Results")
	fmt.Fprintln(w, "=======")
	WriteSummary(w, s, elapsed)
	WriteLatencies(w, "Latency", s)
	WriteErrors(w, s)
}

// WriteSummary renders the totals block. A zero elapsed omits the rate rows.
func WriteSummary(w io.Writer, s Snapshot, elapsed time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Success:\t%d\n", s.Success)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	if elapsed > 0 {
		fmt.Fprintf(tw, "Elapsed:\t%.2f s\n", elapsed.Seconds())
		if s.Total > 0 {
			fmt.Fprintf(tw, "Rate:\t%.2f / s\n", float64(s.Total)/elapsed.Seconds())
		}
	}
	if s.Total > 0 {
		fmt.Fprintf(tw, "Success rate:\t%.2f%%\n", 100*float64(s.Success)/float64(s.Total))
	}
	tw.Flush()
}

// WriteLatencies renders one latency table under the given label.
func WriteLatencies(w io.Writer, label string, s Snapshot) {
	fmt.Fprintf(w, "\n%s\n", label)
	for range label {
		fmt.Fprint(w, "-")
	}
	fmt.Fprintln(w, "")
	if s.Samples == 0 {
		fmt.Fprintln(w, "No samples.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Mean:\t%s\n", fmtMillis(s.Mean))
	fmt.Fprintf(tw, "Min:\t%s\n", fmtMillis(s.Min))
	fmt.Fprintf(tw, "Max:\t%s\n", fmtMillis(s.Max))
	fmt.Fprintf(tw, "P50:\t%s\n", fmtMillis(s.P50))
	fmt.Fprintf(tw, "P90:\t%s\n", fmtMillis(s.P90))
	fmt.Fprintf(tw, "P95:\t%s\n", fmtMillis(s.P95))
	fmt.Fprintf(tw, "P99:\t%s\n", fmtMillis(s.P99))
	tw.Flush()
}

// WriteErrors renders the retained failure samples, if any.
func WriteErrors(w io.Writer, s Snapshot) {
	if len(s.Errors) == 0 {
		return
	}
	fmt.Fprintf(w, "\nErrors (first %d)\n", len(s.Errors))
	fmt.Fprintln(w, "----------------")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, o := range s.Errors {
		if o.Status == 0 {
			fmt.Fprintf(tw, "%s\tround %d\terror: %s\n", o.Key, o.Round, o.Detail)
		} else {
			fmt.Fprintf(tw, "%s\tround %d\tstatus %d: %s\n", o.Key, o.Round, o.Status, o.Detail)
		}
	}
	tw.Flush()
}

func fmtMillis(d time.Duration) string {
	return fmt.Sprintf("%.2f ms", d.Seconds()*1000)
}

func fmtDuration(d time.Duration) string {
	sec := int(d.Seconds())
	min := sec / 60
	hr := min / 60
	if hr > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hr, min%60, sec%60)
	}
	return fmt.Sprintf("%02d:%02d", min%60, sec%60)
}
