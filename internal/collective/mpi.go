//go:build mpi

package collective

import (
	"context"
	"fmt"

	"github.com/hpc/Spindle/pkg/types"
	mpi "github.com/sbromberger/gompi"
)

// mpiComm runs the collective calls on the MPI world communicator. Results
// are materialized on root only, matching the other transports.
type mpiComm struct {
	comm mpi.Communicator
}

func openMPI(_ context.Context) (types.Collective, error) {
	mpi.Start()
	return &mpiComm{comm: mpi.NewCommunicator(nil)}, nil
}

func (m *mpiComm) Rank() int { return m.comm.Rank() }
func (m *mpiComm) Size() int { return m.comm.Size() }

func (m *mpiComm) Barrier(_ context.Context) error {
	m.comm.Barrier()
	return nil
}

func mpiOp(op types.Op) (mpi.Op, error) {
	switch op {
	case types.OpSum:
		return mpi.OpSum, nil
	case types.OpMin:
		return mpi.OpMin, nil
	case types.OpMax:
		return mpi.OpMax, nil
	default:
		return mpi.OpSum, fmt.Errorf("collective: unsupported operator %s", op)
	}
}

func (m *mpiComm) Reduce(_ context.Context, value float64, op types.Op, root int) (float64, error) {
	mop, err := mpiOp(op)
	if err != nil {
		return 0, err
	}
	dest := make([]float64, 1)
	if err := m.comm.ReduceFloat64s(dest, []float64{value}, mop, root); err != nil {
		return 0, fmt.Errorf("collective: mpi reduce %s: %w", op, err)
	}
	if m.Rank() != root {
		return 0, nil
	}
	return dest[0], nil
}

func (m *mpiComm) ReduceBytes(_ context.Context, data []byte, root int) ([]byte, error) {
	dest := make([]byte, len(data))
	if err := m.comm.ReduceBytes(dest, data, mpi.OpSum, root); err != nil {
		return nil, fmt.Errorf("collective: mpi reduce bytes: %w", err)
	}
	if m.Rank() != root {
		return nil, nil
	}
	return dest, nil
}

func (m *mpiComm) Close() error {
	mpi.Stop()
	return nil
}
