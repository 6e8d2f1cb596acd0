package harness

import (
	"context"
	"fmt"
	"io"

	"github.com/hpc/Spindle/internal/collector/aggregator"
	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/internal/timing"
	"github.com/hpc/Spindle/internal/version"
)

const (
	MetricImportCollective = "importmpi"
	MetricLoad             = "import"
	MetricVisit            = "visit"
)

// Result is what reporting produced. Summaries hold the cross-rank view on
// rank 0, or the local view in single-machine mode; other ranks get none.
type Result struct {
	Timings     Timings
	Summaries   []aggregator.Summary
	Distributed bool
}

// PrintBanner prints the version banner, the startup latency when a launch
// timestamp was given, and the load phase banner.
func PrintBanner(w io.Writer, cfg *config.Config, distributed bool, now float64) {
	fmt.Fprintf(w, "%s\n\n", version.Banner())
	if cfg.HasStartTime {
		if distributed {
			fmt.Fprintf(w, "Pynamic: call  time = %10.6f\n\n", cfg.StartTime)
			fmt.Fprintf(w, "Pynamic: start time = %10.6f\n\n", now)
		}
		fmt.Fprintf(w, "startup time = %v secs\n", now-cfg.StartTime)
	}
	fmt.Fprintln(w, "pynamic driver beginning... now importing modules")
}

// PrintBanner prints the banner on the ranks that report.
func (r *Run) PrintBanner() {
	if r.leader() {
		PrintBanner(r.out, r.cfg, r.Distributed(), r.started)
	}
}

// Report prints the phase timings. Without a collective layer it prints the
// local times. Otherwise every rank reduces the three metrics in a fixed
// order and rank 0 prints mean, minimum and maximum of each.
func (r *Run) Report(ctx context.Context) (Result, error) {
	if err := r.advance(StateVisiting, StateReporting); err != nil {
		return Result{}, err
	}
	res := Result{Timings: r.timings, Distributed: r.Distributed()}

	if !r.Distributed() {
		fmt.Fprintf(r.out, "\nPynamic: module import time = %v secs\n", r.timings.Load)
		fmt.Fprintf(r.out, "Pynamic: module visit time = %v secs\n", r.timings.Visit)
		fmt.Fprintf(r.out, "Pynamic: module test passed!\n\n")
		res.Summaries = []aggregator.Summary{
			aggregator.Summarize(MetricLoad, []float64{r.timings.Load}),
			aggregator.Summarize(MetricVisit, []float64{r.timings.Visit}),
		}
		r.state = StateDone
		return res, nil
	}

	if r.leader() {
		fmt.Fprintf(r.out, "Pynamic: after import and visit time = %10.6f\n\n", timing.WallSeconds())
	}
	sums, ok, err := aggregator.ReduceAll(ctx, r.coll,
		aggregator.Metric{Name: MetricImportCollective, Value: r.timings.ImportCollective},
		aggregator.Metric{Name: MetricLoad, Value: r.timings.Load},
		aggregator.Metric{Name: MetricVisit, Value: r.timings.Visit},
	)
	if err != nil {
		return Result{}, fmt.Errorf("harness: %w", err)
	}
	if ok {
		res.Summaries = sums
		for i, s := range sums {
			if i == 0 {
				fmt.Fprintln(r.out)
			}
			fmt.Fprintf(r.out, "Pynamic: module %s time = %v secs\n", s.Name, s.Mean)
			fmt.Fprintf(r.out, "Pynamic: module %s time = %v secs (MIN)\n", s.Name, s.Min)
			fmt.Fprintf(r.out, "Pynamic: module %s time = %v secs (MAX)\n", s.Name, s.Max)
		}
		fmt.Fprintf(r.out, "Pynamic: module test passed!\n\n")
		fmt.Fprintf(r.out, "Pynamic: testing mpi capability...\n\n")
		fmt.Fprintf(r.out, "Pynamic: after reduce time = %10.6f\n\n", timing.WallSeconds())
	}
	r.state = StateDone
	return res, nil
}
