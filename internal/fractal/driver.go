package fractal

import (
	"context"
	"fmt"
	"io"

	"github.com/hpc/Spindle/internal/bitmap"
	"github.com/hpc/Spindle/internal/timing"
	"github.com/hpc/Spindle/pkg/logutil"
	"github.com/hpc/Spindle/pkg/types"
	"go.uber.org/zap"
)

type Driver struct {
	Params Params
	// Output is the bitmap path written by the root rank.
	Output string
	Out    io.Writer
}

type Result struct {
	Rows    Rows
	Elapsed float64
	// Pixels is the reduced image, set on the root rank only.
	Pixels []byte
}

func NewDriver(p Params, output string, out io.Writer) *Driver {
	return &Driver{Params: p, Output: output, Out: out}
}

// Run partitions the image by rows, renders the owned rows, sums every
// rank's buffer onto the root and has the root write the bitmap. Barriers
// bracket the phase on every rank.
func (d *Driver) Run(ctx context.Context, coll types.Collective) (Result, error) {
	logger := logutil.GetLogger()
	rank, size := coll.Rank(), coll.Size()

	if err := d.Params.Validate(); err != nil {
		return Result{}, err
	}
	rows, err := Partition(rank, size, d.Params.Height)
	if err != nil {
		return Result{}, err
	}

	start := timing.Now()
	if err := coll.Barrier(ctx); err != nil {
		return Result{}, fmt.Errorf("fractal: entry barrier: %w", err)
	}

	if rank == types.RootRank {
		fmt.Fprintf(d.Out, "Starting computation (%dx%d, %d ranks)\n", d.Params.Width, d.Params.Height, size)
	}

	local := d.Params.Render(rows)
	logger.Debug("rendered rows", zap.Int("rank", rank), zap.Int("y0", rows.Y0), zap.Int("y1", rows.Y1))

	master, err := coll.ReduceBytes(ctx, local, types.RootRank)
	if err != nil {
		return Result{}, fmt.Errorf("fractal: reduce: %w", err)
	}
	fmt.Fprintf(d.Out, "process %d done with computation!!\n", rank)

	res := Result{Rows: rows}
	if rank == types.RootRank {
		fmt.Fprintf(d.Out, "Header length is %d\n", bitmap.HeaderSize)
		fmt.Fprintf(d.Out, "BMP size is (%d, %d)\n", d.Params.Width, d.Params.Height)
		fmt.Fprintf(d.Out, "Data length is %d\n", len(master))
		if err := bitmap.WriteFile(d.Output, d.Params.Width, d.Params.Height, master); err != nil {
			return Result{}, fmt.Errorf("fractal: %w", err)
		}
		logger.Info("bitmap written", zap.String("path", d.Output), zap.Int("bytes", bitmap.HeaderSize+len(master)))
		res.Pixels = master
	}

	if err := coll.Barrier(ctx); err != nil {
		return Result{}, fmt.Errorf("fractal: exit barrier: %w", err)
	}
	res.Elapsed = timing.Since(start)

	if rank == types.RootRank {
		fmt.Fprintf(d.Out, "\nPynamic: fractal mpi time = %v secs\n", res.Elapsed)
		fmt.Fprintf(d.Out, "Pynamic: mpi test passed!\n")
	}
	return res, nil
}
