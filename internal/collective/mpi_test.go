//go:build mpi

package collective

import (
	"bytes"
	"context"
	"testing"

	"github.com/hpc/Spindle/pkg/types"
)

// MPI can be initialized once per process, so the whole world is exercised
// in one test. Run without mpirun it is a singleton world of one rank.
func TestMPIWorld(t *testing.T) {
	ctx := context.Background()
	coll, err := openMPI(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer coll.Close()

	if coll.Size() < 1 || coll.Rank() < 0 || coll.Rank() >= coll.Size() {
		t.Fatalf("rank %d of %d", coll.Rank(), coll.Size())
	}
	if err := coll.Barrier(ctx); err != nil {
		t.Fatal(err)
	}

	size := float64(coll.Size())
	value := float64(coll.Rank() + 1)
	cases := []struct {
		op   types.Op
		want float64
	}{
		{types.OpSum, size * (size + 1) / 2},
		{types.OpMin, 1},
		{types.OpMax, size},
	}
	for _, tc := range cases {
		got, err := coll.Reduce(ctx, value, tc.op, types.RootRank)
		if err != nil {
			t.Fatalf("%s: %v", tc.op, err)
		}
		if coll.Rank() == types.RootRank && got != tc.want {
			t.Errorf("%s = %v, want %v", tc.op, got, tc.want)
		}
	}

	data := make([]byte, coll.Size())
	data[coll.Rank()] = byte(10 + coll.Rank())
	got, err := coll.ReduceBytes(ctx, data, types.RootRank)
	if err != nil {
		t.Fatal(err)
	}
	if coll.Rank() == types.RootRank {
		want := make([]byte, coll.Size())
		for r := range want {
			want[r] = byte(10 + r)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReduceBytes = %v, want %v", got, want)
		}
	} else if got != nil {
		t.Fatalf("rank %d got root-only data", coll.Rank())
	}
}
