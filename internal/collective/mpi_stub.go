//go:build !mpi

package collective

import (
	"context"
	"fmt"

	"github.com/hpc/Spindle/pkg/types"
)

// Without the mpi build tag the MPI layer is simply absent, which the probe
// reports as unavailable.
func openMPI(_ context.Context) (types.Collective, error) {
	return nil, fmt.Errorf("%w: built without the mpi tag", ErrUnavailable)
}
