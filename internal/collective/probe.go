package collective

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/pkg/types"
)

// Probe detects and initializes the collective layer. ErrUnavailable selects
// the single-machine path; any other error is fatal.
type Probe func(ctx context.Context) (types.Collective, error)

// NewProbe returns the probe for the networked transports named by cfg. The
// local transport needs a shared group and uses LocalProbe instead.
func NewProbe(cfg *config.Config) Probe {
	return func(ctx context.Context) (types.Collective, error) {
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}

		switch cfg.Transport {
		case types.TransportNone:
			return nil, ErrUnavailable
		case types.TransportMpi:
			return openMPI(ctx)
		case types.TransportGrpc, types.TransportMqtt:
		case types.TransportLocal:
			return nil, errors.New("collective: the local transport is probed per goroutine rank")
		default:
			return nil, fmt.Errorf("collective: unknown transport %q", cfg.Transport)
		}

		if !cfg.Distributed() {
			return nil, fmt.Errorf("%w: %s transport without rank and size", ErrUnavailable, cfg.Transport)
		}

		if cfg.Transport == types.TransportMqtt {
			return NewMqttRank(ctx, cfg.Broker, cfg.RunID, cfg.Rank, cfg.Size)
		}
		if cfg.Rank == types.RootRank {
			lis, err := net.Listen("tcp", ListenAddress(cfg.Coordinator))
			if err != nil {
				return nil, fmt.Errorf("collective: %w", err)
			}
			return NewGrpcRoot(ctx, lis, cfg.RunID, cfg.Size)
		}
		return NewGrpcRank(ctx, cfg.Coordinator, cfg.RunID, cfg.Rank, cfg.Size)
	}
}

// ListenAddress is the coordinator address rank 0 binds: every interface on
// the coordinator's port.
func ListenAddress(coordinator string) string {
	_, port, err := net.SplitHostPort(coordinator)
	if err != nil {
		return coordinator
	}
	return net.JoinHostPort("", port)
}
