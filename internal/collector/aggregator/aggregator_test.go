package aggregator

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/hpc/Spindle/internal/collective"
)

func TestReduceAllMatchesLocalArithmetic(t *testing.T) {
	local := [][]float64{
		{0.010, 1.25, 0.5},
		{0.020, 1.75, 0.25},
		{0.015, 0.50, 0.75},
		{0.030, 2.00, 0.125},
	}
	names := []string{"importmpi", "import", "visit"}

	comms := collective.NewLocalGroup(len(local))
	ctx := context.Background()

	var rootSummaries []Summary
	var wg sync.WaitGroup
	for _, c := range comms {
		wg.Add(1)
		go func(c *collective.Comm) {
			defer wg.Done()
			vals := local[c.Rank()]
			metrics := make([]Metric, len(names))
			for i, n := range names {
				metrics[i] = Metric{Name: n, Value: vals[i]}
			}
			sums, ok, err := ReduceAll(ctx, c, metrics...)
			if err != nil {
				t.Error(err)
				return
			}
			if ok != (c.Rank() == 0) {
				t.Errorf("rank %d: valid = %v", c.Rank(), ok)
			}
			if ok {
				rootSummaries = sums
			}
		}(c)
	}
	wg.Wait()

	if len(rootSummaries) != len(names) {
		t.Fatalf("got %d summaries", len(rootSummaries))
	}
	for i, name := range names {
		column := make([]float64, len(local))
		for r := range local {
			column[r] = local[r][i]
		}
		want := Summarize(name, column)
		got := rootSummaries[i]
		if got.Name != name {
			t.Errorf("summary %d named %q, want %q", i, got.Name, name)
		}
		if math.Abs(got.Mean-want.Mean) > 1e-12 {
			t.Errorf("%s mean = %v, want %v", name, got.Mean, want.Mean)
		}
		if got.Min != want.Min || got.Max != want.Max {
			t.Errorf("%s min/max = %v/%v, want %v/%v", name, got.Min, got.Max, want.Min, want.Max)
		}
		if got.Ranks != len(local) {
			t.Errorf("%s ranks = %d", name, got.Ranks)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("visit", []float64{3, 1, 2})
	if s.Mean != 2 || s.Min != 1 || s.Max != 3 || s.Ranks != 3 {
		t.Fatalf("Summarize = %+v", s)
	}
	if empty := Summarize("none", nil); empty.Ranks != 0 || empty.Mean != 0 {
		t.Fatalf("empty summary = %+v", empty)
	}
}

func TestReduceMetricSingleRank(t *testing.T) {
	c := collective.NewLocalGroup(1)[0]
	s, ok, err := ReduceMetric(context.Background(), c, Metric{Name: "load", Value: 0.75})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || s.Mean != 0.75 || s.Min != 0.75 || s.Max != 0.75 {
		t.Fatalf("summary = %+v valid=%v", s, ok)
	}
}
