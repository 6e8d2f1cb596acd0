package collective

import (
	"context"

	"github.com/hpc/Spindle/pkg/types"
)

// NewLocalGroup returns size communicators sharing one in-process hub. Each
// is meant to be driven by its own goroutine.
func NewLocalGroup(size int) []*Comm {
	hub := NewHub(size)
	comms := make([]*Comm, size)
	for rank := range comms {
		comms[rank] = newComm(hub, rank, size, nil)
	}
	return comms
}

// LocalProbe joins c to its group, standing in for the initialization cost
// of a networked transport.
func LocalProbe(c *Comm) Probe {
	return func(ctx context.Context) (types.Collective, error) {
		if err := c.join(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}
