package collective

import (
	"context"
	"fmt"
	"sync"

	"github.com/hpc/Spindle/pkg/types"
)

// endpoint is how a rank reaches the hub: directly on the rank that owns it,
// over a transport everywhere else.
type endpoint interface {
	Arrive(ctx context.Context, seq uint64, rank int) error
	Contribute(ctx context.Context, seq uint64, root int, c Contribution) error
	Result(ctx context.Context, seq uint64) (Contribution, error)
}

// Comm implements types.Collective on top of an endpoint. Each call takes
// the next sequence number; sequence 0 is reserved for joining.
type Comm struct {
	ep      endpoint
	rank    int
	size    int
	mu      sync.Mutex
	seq     uint64
	onClose func() error
}

func newComm(ep endpoint, rank, size int, onClose func() error) *Comm {
	return &Comm{ep: ep, rank: rank, size: size, onClose: onClose}
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.size }

func (c *Comm) next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// join is the rendezvous every rank passes before its first collective call.
func (c *Comm) join(ctx context.Context) error {
	return c.ep.Arrive(ctx, 0, c.rank)
}

func (c *Comm) Barrier(ctx context.Context) error {
	return c.ep.Arrive(ctx, c.next(), c.rank)
}

func (c *Comm) Reduce(ctx context.Context, value float64, op types.Op, root int) (float64, error) {
	res, err := c.reduce(ctx, root, Contribution{Rank: c.rank, Kind: KindScalar, Op: op, Value: value})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// ReduceBytes sums data elementwise across ranks. Every rank must pass a
// buffer of the same length.
func (c *Comm) ReduceBytes(ctx context.Context, data []byte, root int) ([]byte, error) {
	res, err := c.reduce(ctx, root, Contribution{Rank: c.rank, Kind: KindBytes, Op: types.OpSum, Data: data})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (c *Comm) reduce(ctx context.Context, root int, in Contribution) (Contribution, error) {
	if root < 0 || root >= c.size {
		return Contribution{}, fmt.Errorf("collective: root %d outside [0, %d)", root, c.size)
	}
	seq := c.next()
	if err := c.ep.Contribute(ctx, seq, root, in); err != nil {
		return Contribution{}, err
	}
	if c.rank != root {
		return Contribution{}, nil
	}
	return c.ep.Result(ctx, seq)
}

func (c *Comm) Close() error {
	if c.onClose == nil {
		return nil
	}
	return c.onClose()
}
