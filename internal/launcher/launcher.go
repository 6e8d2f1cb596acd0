// Package launcher starts the ranks of a grpc run as child processes of the
// current binary, standing in for mpirun on a single host.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/pkg/logutil"
	"github.com/hpc/Spindle/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Flags the launcher sets for each child through the environment.
var controlled = map[string]bool{
	"launch":      true,
	"transport":   true,
	"rank":        true,
	"size":        true,
	"coordinator": true,
	"run-id":      true,
	"procs":       true,
}

var boolFlags = map[string]bool{
	"skip-fractal": true,
	"h":            true,
	"help":         true,
}

// ChildArgs drops the flags the launcher controls from args so the
// environment it sets takes effect.
func ChildArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" || !strings.HasPrefix(a, "-") {
			out = append(out, args[i:]...)
			break
		}
		name := strings.TrimLeft(a, "-")
		value := false
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name = name[:eq]
			value = true
		}
		takesNext := !value && !boolFlags[name]
		if !controlled[name] {
			out = append(out, a)
			if takesNext && i+1 < len(args) {
				i++
				out = append(out, args[i])
			}
			continue
		}
		if takesNext {
			i++
		}
	}
	return out
}

// ChildEnv returns base with the rank assignment of child rank appended.
func ChildEnv(base []string, cfg *config.Config, rank, size int) []string {
	env := append([]string(nil), base...)
	return append(env,
		"PYNAMIC_LAUNCH=0",
		"PYNAMIC_PROCS=1",
		"PYNAMIC_TRANSPORT="+types.TransportGrpc,
		"PYNAMIC_RANK="+strconv.Itoa(rank),
		"PYNAMIC_SIZE="+strconv.Itoa(size),
		"PYNAMIC_COORDINATOR="+cfg.Coordinator,
		"PYNAMIC_RUN_ID="+cfg.RunID,
	)
}

// Spawn runs n copies of the current executable as ranks 0..n-1 and waits
// for all of them. If one fails the others are killed. Children share
// stdout and stderr.
func Spawn(ctx context.Context, cfg *config.Config, args []string, n int, stdout, stderr io.Writer) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("launcher: %w", err)
	}
	return spawn(ctx, exe, cfg, ChildArgs(args), n, stdout, stderr)
}

func spawn(ctx context.Context, exe string, cfg *config.Config, args []string, n int, stdout, stderr io.Writer) error {
	logger := logutil.GetLogger()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	fail := func(rank int, err error) {
		mu.Lock()
		errs = multierr.Append(errs, fmt.Errorf("rank %d: %w", rank, err))
		mu.Unlock()
		cancel()
	}

	for rank := 0; rank < n; rank++ {
		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Env = ChildEnv(os.Environ(), cfg, rank, n)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			fail(rank, err)
			break
		}
		logger.Info("rank started", zap.Int("rank", rank), zap.Int("pid", cmd.Process.Pid))

		wg.Add(1)
		go func(rank int, cmd *exec.Cmd) {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				fail(rank, err)
				return
			}
			logger.Debug("rank exited", zap.Int("rank", rank))
		}(rank, cmd)
	}
	wg.Wait()
	return errs
}
