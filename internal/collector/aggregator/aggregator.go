package aggregator

import (
	"context"
	"fmt"

	"github.com/hpc/Spindle/pkg/types"
	"gonum.org/v1/gonum/floats"
)

// Metric is one rank's local value of a named timing.
type Metric struct {
	Name  string
	Value float64
}

// Summary is the cross-rank view of a metric, valid on the root rank.
type Summary struct {
	Name  string
	Mean  float64
	Min   float64
	Max   float64
	Ranks int
}

// ReduceMetric reduces m across all ranks with SUM, MIN and MAX, in that
// order, onto the root rank. The boolean is true on the root, where the
// summary is valid.
func ReduceMetric(ctx context.Context, coll types.Collective, m Metric) (Summary, bool, error) {
	sum, err := coll.Reduce(ctx, m.Value, types.OpSum, types.RootRank)
	if err != nil {
		return Summary{}, false, fmt.Errorf("reduce %s sum: %w", m.Name, err)
	}
	lo, err := coll.Reduce(ctx, m.Value, types.OpMin, types.RootRank)
	if err != nil {
		return Summary{}, false, fmt.Errorf("reduce %s min: %w", m.Name, err)
	}
	hi, err := coll.Reduce(ctx, m.Value, types.OpMax, types.RootRank)
	if err != nil {
		return Summary{}, false, fmt.Errorf("reduce %s max: %w", m.Name, err)
	}

	if coll.Rank() != types.RootRank {
		return Summary{Name: m.Name}, false, nil
	}
	size := coll.Size()
	return Summary{
		Name:  m.Name,
		Mean:  sum / float64(size),
		Min:   lo,
		Max:   hi,
		Ranks: size,
	}, true, nil
}

// ReduceAll reduces metrics in the order given. Every rank must pass the
// same names in the same order.
func ReduceAll(ctx context.Context, coll types.Collective, metrics ...Metric) ([]Summary, bool, error) {
	out := make([]Summary, 0, len(metrics))
	valid := false
	for _, m := range metrics {
		s, ok, err := ReduceMetric(ctx, coll, m)
		if err != nil {
			return nil, false, err
		}
		valid = ok
		out = append(out, s)
	}
	return out, valid, nil
}

// Summarize computes the summary of values held in one place, with the same
// arithmetic the collective path uses.
func Summarize(name string, values []float64) Summary {
	if len(values) == 0 {
		return Summary{Name: name}
	}
	return Summary{
		Name:  name,
		Mean:  floats.Sum(values) / float64(len(values)),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
		Ranks: len(values),
	}
}
