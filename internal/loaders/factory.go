package loaders

import (
	"errors"
	"fmt"

	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/pkg/types"
)

var ErrUnknownLoader = errors.New("loaders: unknown loader")

func NewUnitLoader(cfg *config.Config) (types.UnitLoader, error) {
	switch cfg.Loader {
	case types.LoaderSynthetic:
		return NewSyntheticLoader(cfg.Units, cfg.UnitFuncs), nil
	case types.LoaderPlugin:
		return NewPluginLoader(cfg.PluginDir, cfg.PluginPattern, cfg.Units), nil
	case types.LoaderEbpf:
		return NewEbpfLoader(cfg.Units)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLoader, cfg.Loader)
	}
}

func checkIndex(i, count int) error {
	if i < 0 || i >= count {
		return fmt.Errorf("loaders: unit %d outside [0, %d)", i, count)
	}
	return nil
}
