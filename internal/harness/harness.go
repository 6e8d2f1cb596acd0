// Package harness drives the load and visit phases of a benchmark run and
// reports their timings, locally or reduced across ranks.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hpc/Spindle/internal/collective"
	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/internal/timing"
	"github.com/hpc/Spindle/pkg/logutil"
	"github.com/hpc/Spindle/pkg/types"
	"go.uber.org/zap"
)

var ErrBadTransition = errors.New("harness: invalid state transition")

type State int

const (
	StateInit State = iota
	StateLoading
	StateVisiting
	StateReporting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoading:
		return "loading"
	case StateVisiting:
		return "visiting"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Timings are the local phase durations in seconds. ImportCollective stays
// zero when no collective layer is available.
type Timings struct {
	ImportCollective float64
	Load             float64
	Visit            float64
}

// Run holds everything one rank's benchmark run touches.
type Run struct {
	cfg    *config.Config
	loader types.UnitLoader
	out    io.Writer
	coll   types.Collective

	state   State
	probed  bool
	started float64
	timings Timings
	units   []types.Unit
	visited []int
}

func NewRun(cfg *config.Config, loader types.UnitLoader, out io.Writer) *Run {
	return &Run{
		cfg:     cfg,
		loader:  loader,
		out:     out,
		started: timing.WallSeconds(),
	}
}

func (r *Run) State() State                 { return r.state }
func (r *Run) Timings() Timings             { return r.timings }
func (r *Run) Collective() types.Collective { return r.coll }
func (r *Run) Distributed() bool            { return r.coll != nil }

// Visited returns unit indices in the order their entries ran.
func (r *Run) Visited() []int {
	return append([]int(nil), r.visited...)
}

func (r *Run) rank() int {
	if r.coll == nil {
		return types.RootRank
	}
	return r.coll.Rank()
}

// leader reports whether this rank prints the shared report lines.
func (r *Run) leader() bool {
	return r.rank() == types.RootRank
}

func (r *Run) advance(from, to State) error {
	if r.state != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrBadTransition, from, to, r.state)
	}
	r.state = to
	return nil
}

// Init runs the capability probe. A probe reporting ErrUnavailable, or no
// probe at all, selects the single-machine path. Any other failure is fatal.
func (r *Run) Init(ctx context.Context, probe collective.Probe) error {
	if r.state != StateInit || r.probed {
		return fmt.Errorf("%w: init while %s", ErrBadTransition, r.state)
	}
	r.probed = true
	if probe == nil {
		return nil
	}

	var coll types.Collective
	sample, err := timing.Measure(func() error {
		var err error
		coll, err = probe(ctx)
		return err
	})
	switch {
	case err == nil:
		r.coll = coll
		r.timings.ImportCollective = sample.Duration()
		logutil.GetLogger().Info("collective layer ready",
			zap.Int("rank", coll.Rank()), zap.Int("size", coll.Size()),
			zap.Float64("seconds", r.timings.ImportCollective))
	case errors.Is(err, collective.ErrUnavailable):
		logutil.GetLogger().Info("collective layer unavailable, running on a single machine", zap.Error(err))
	default:
		return fmt.Errorf("harness: initializing collective layer: %w", err)
	}
	return nil
}

// LoadAll loads units 0..N-1 in ascending order.
func (r *Run) LoadAll(ctx context.Context) error {
	if err := r.advance(StateInit, StateLoading); err != nil {
		return err
	}
	n := r.loader.Count()
	r.units = make([]types.Unit, 0, n)

	sample, err := timing.Measure(func() error {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			u, err := r.loader.Load(i)
			if err != nil {
				return fmt.Errorf("harness: loading unit %d: %w", i, err)
			}
			r.units = append(r.units, u)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.timings.Load = sample.Duration()
	logutil.GetLogger().Debug("units loaded", zap.Int("count", n), zap.Float64("seconds", r.timings.Load))
	return nil
}

// VisitAll invokes each loaded unit's entry once, in load order.
func (r *Run) VisitAll(ctx context.Context) error {
	if err := r.advance(StateLoading, StateVisiting); err != nil {
		return err
	}
	if r.leader() {
		fmt.Fprintln(r.out, "pynamic driver finished importing all modules... visiting all module functions")
	}

	r.visited = make([]int, 0, len(r.units))
	sample, err := timing.Measure(func() error {
		for _, u := range r.units {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := u.Entry(); err != nil {
				return fmt.Errorf("harness: visiting %s: %w", u.Name(), err)
			}
			r.visited = append(r.visited, u.Index())
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.timings.Visit = sample.Duration()
	logutil.GetLogger().Debug("units visited", zap.Int("count", len(r.visited)), zap.Float64("seconds", r.timings.Visit))
	return nil
}
