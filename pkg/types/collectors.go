package types

import "context"

// Collective is the message-passing layer the harness and the fractal driver
// run on. Every rank must issue the same sequence of calls. Reduction results
// are materialized on root only; other ranks get the zero value.
type Collective interface {
	Rank() int
	Size() int
	Barrier(ctx context.Context) error
	Reduce(ctx context.Context, value float64, op Op, root int) (float64, error)
	ReduceBytes(ctx context.Context, data []byte, root int) ([]byte, error)
	Close() error
}
