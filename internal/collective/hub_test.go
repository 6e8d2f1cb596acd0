package collective

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hpc/Spindle/pkg/types"
)

func TestHubBarrierWaitsForAll(t *testing.T) {
	hub := NewHub(3)
	ctx := context.Background()

	done := make(chan int, 3)
	for rank := 0; rank < 2; rank++ {
		go func(rank int) {
			if err := hub.Arrive(ctx, 1, rank); err != nil {
				t.Error(err)
			}
			done <- rank
		}(rank)
	}

	select {
	case r := <-done:
		t.Fatalf("rank %d left the barrier before the last arrival", r)
	case <-time.After(50 * time.Millisecond):
	}

	if err := hub.Arrive(ctx, 1, 2); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("barrier never released")
		}
	}
}

func TestHubBarrierContextCancel(t *testing.T) {
	hub := NewHub(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := hub.Arrive(ctx, 1, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestHubScalarReduce(t *testing.T) {
	values := []float64{4, 1.5, 9, 2.5}
	cases := []struct {
		op   types.Op
		want float64
	}{
		{types.OpSum, 17},
		{types.OpMin, 1.5},
		{types.OpMax, 9},
	}
	for i, tc := range cases {
		hub := NewHub(len(values))
		seq := uint64(i + 1)
		for rank, v := range values {
			c := Contribution{Rank: rank, Kind: KindScalar, Op: tc.op, Value: v}
			if err := hub.Contribute(context.Background(), seq, 0, c); err != nil {
				t.Fatal(err)
			}
		}
		res, err := hub.Result(context.Background(), seq)
		if err != nil {
			t.Fatal(err)
		}
		if res.Value != tc.want {
			t.Errorf("%s = %v, want %v", tc.op, res.Value, tc.want)
		}
	}
}

func TestHubBytesReduce(t *testing.T) {
	hub := NewHub(2)
	ctx := context.Background()
	a := []byte{1, 0, 3, 0}
	b := []byte{0, 2, 0, 4}
	if err := hub.Contribute(ctx, 1, 0, Contribution{Rank: 1, Kind: KindBytes, Op: types.OpSum, Data: b}); err != nil {
		t.Fatal(err)
	}
	if err := hub.Contribute(ctx, 1, 0, Contribution{Rank: 0, Kind: KindBytes, Op: types.OpSum, Data: a}); err != nil {
		t.Fatal(err)
	}
	res, err := hub.Result(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("sum = %v", res.Data)
	}
}

func TestHubRejectsMismatches(t *testing.T) {
	ctx := context.Background()

	hub := NewHub(2)
	if err := hub.Contribute(ctx, 1, 0, Contribution{Rank: 0, Kind: KindScalar, Op: types.OpSum}); err != nil {
		t.Fatal(err)
	}
	err := hub.Contribute(ctx, 1, 0, Contribution{Rank: 1, Kind: KindScalar, Op: types.OpMax})
	if !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("op mismatch: err = %v", err)
	}
	if err := hub.Arrive(ctx, 1, 1); !errors.Is(err, ErrOrderMismatch) {
		t.Fatalf("barrier on a reduce: err = %v", err)
	}
	err = hub.Contribute(ctx, 1, 0, Contribution{Rank: 0, Kind: KindScalar, Op: types.OpSum})
	if err == nil {
		t.Fatal("duplicate contribution accepted")
	}

	hub = NewHub(2)
	if err := hub.Contribute(ctx, 1, 0, Contribution{Rank: 0, Kind: KindBytes, Op: types.OpSum, Data: make([]byte, 3)}); err != nil {
		t.Fatal(err)
	}
	if err := hub.Contribute(ctx, 1, 0, Contribution{Rank: 1, Kind: KindBytes, Op: types.OpSum, Data: make([]byte, 4)}); err == nil {
		t.Fatal("buffer length mismatch accepted")
	}

	if err := hub.Contribute(ctx, 2, 0, Contribution{Rank: 5, Kind: KindScalar}); err == nil {
		t.Fatal("out of range rank accepted")
	}
	if _, err := hub.Result(ctx, 42); err == nil {
		t.Fatal("result for unknown call succeeded")
	}
}

func TestLocalGroup(t *testing.T) {
	values := []float64{0.25, 3, 1, 0.75, 2}
	comms := NewLocalGroup(len(values))
	ctx := context.Background()

	type out struct{ sum, min, max float64 }
	results := make([]out, len(comms))
	buffers := make([][]byte, len(comms))

	var wg sync.WaitGroup
	for _, c := range comms {
		wg.Add(1)
		go func(c *Comm) {
			defer wg.Done()
			coll, err := LocalProbe(c)(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			r := coll.Rank()
			var o out
			if o.sum, err = coll.Reduce(ctx, values[r], types.OpSum, 0); err != nil {
				t.Error(err)
			}
			if o.min, err = coll.Reduce(ctx, values[r], types.OpMin, 0); err != nil {
				t.Error(err)
			}
			if o.max, err = coll.Reduce(ctx, values[r], types.OpMax, 0); err != nil {
				t.Error(err)
			}
			if err := coll.Barrier(ctx); err != nil {
				t.Error(err)
			}
			data := make([]byte, len(values))
			data[r] = byte(r + 1)
			if buffers[r], err = coll.ReduceBytes(ctx, data, 0); err != nil {
				t.Error(err)
			}
			results[r] = o
		}(c)
	}
	wg.Wait()

	if got := results[0]; got.sum != 7 || got.min != 0.25 || got.max != 3 {
		t.Fatalf("root results = %+v", got)
	}
	for r := 1; r < len(results); r++ {
		if results[r] != (out{}) || buffers[r] != nil {
			t.Fatalf("rank %d received root-only results: %+v %v", r, results[r], buffers[r])
		}
	}
	if !bytes.Equal(buffers[0], []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("root buffer = %v", buffers[0])
	}
}

func TestCommRejectsBadRoot(t *testing.T) {
	comms := NewLocalGroup(1)
	if _, err := comms[0].Reduce(context.Background(), 1, types.OpSum, 3); err == nil {
		t.Fatal("root outside group accepted")
	}
}

func TestCommNonZeroRoot(t *testing.T) {
	comms := NewLocalGroup(3)
	ctx := context.Background()
	got := make([]float64, 3)
	var wg sync.WaitGroup
	for _, c := range comms {
		wg.Add(1)
		go func(c *Comm) {
			defer wg.Done()
			v, err := c.Reduce(ctx, float64(c.Rank()+1), types.OpSum, 2)
			if err != nil {
				t.Error(err)
			}
			got[c.Rank()] = v
		}(c)
	}
	wg.Wait()
	if got[2] != 6 || got[0] != 0 || got[1] != 0 {
		t.Fatalf("results = %v, want only rank 2 to hold 6", got)
	}
}
