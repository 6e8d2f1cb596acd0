//go:build !mpi

package collective

import (
	"context"
	"errors"
	"testing"

	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/pkg/types"
)

func TestProbeMPIWithoutTag(t *testing.T) {
	_, err := NewProbe(&config.Config{Transport: types.TransportMpi})(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
