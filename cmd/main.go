package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hpc/Spindle/internal/collective"
	"github.com/hpc/Spindle/internal/config"
	"github.com/hpc/Spindle/internal/fractal"
	"github.com/hpc/Spindle/internal/harness"
	"github.com/hpc/Spindle/internal/launcher"
	"github.com/hpc/Spindle/internal/loaders"
	"github.com/hpc/Spindle/internal/store"
	"github.com/hpc/Spindle/internal/timing"
	"github.com/hpc/Spindle/pkg/logutil"
	"github.com/hpc/Spindle/pkg/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	logutil.InitLogger()

	logger := logutil.GetLogger()
	defer logger.Sync()

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := logutil.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn("unknown log level, keeping info", zap.String("level", cfg.LogLevel), zap.Error(err))
	}

	switch {
	case cfg.Launch > 0:
		logger.Info("launching ranks", zap.Int("ranks", cfg.Launch), zap.String("run_id", cfg.RunID))
		err = launcher.Spawn(ctx, cfg, os.Args[1:], cfg.Launch, os.Stdout, os.Stderr)
	case cfg.Transport == types.TransportLocal:
		err = runLocal(ctx, cfg, os.Stdout)
	default:
		err = runRank(ctx, cfg, collective.NewProbe(cfg), os.Stdout)
	}
	if err != nil {
		logger.Fatal("benchmark failed", zap.Error(err))
	}
}

// runLocal runs cfg.Procs ranks as goroutines sharing one process.
func runLocal(ctx context.Context, cfg *config.Config, out io.Writer) error {
	return runGroup(ctx, cfg.Procs, func(ctx context.Context, c *collective.Comm) error {
		return runRank(ctx, cfg, collective.LocalProbe(c), out)
	})
}

// runGroup runs fn once per rank of a local group. The first failure cancels
// the other ranks; all failures are returned.
func runGroup(ctx context.Context, size int, fn func(context.Context, *collective.Comm) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, c := range collective.NewLocalGroup(size) {
		wg.Add(1)
		go func(c *collective.Comm) {
			defer wg.Done()
			if err := fn(ctx, c); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("rank %d: %w", c.Rank(), err))
				mu.Unlock()
				cancel()
			}
		}(c)
	}
	wg.Wait()
	return errs
}

func runRank(ctx context.Context, cfg *config.Config, probe collective.Probe, out io.Writer) (err error) {
	logger := logutil.GetLogger()
	started := time.Now()

	loader, err := loaders.NewUnitLoader(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, loader.Close()) }()
	logger.Info("Loader created", zap.String("loader", cfg.Loader), zap.Int("units", loader.Count()))

	run := harness.NewRun(cfg, loader, out)
	if err := run.Init(ctx, probe); err != nil {
		return err
	}
	coll := run.Collective()
	if coll != nil {
		defer func() { err = multierr.Append(err, coll.Close()) }()
		if !cfg.SkipFractal {
			if _, err := fractal.Partition(coll.Rank(), coll.Size(), cfg.Height); err != nil {
				return err
			}
		}
	}

	run.PrintBanner()
	if err := run.LoadAll(ctx); err != nil {
		return err
	}
	if err := run.VisitAll(ctx); err != nil {
		return err
	}
	res, err := run.Report(ctx)
	if err != nil {
		return err
	}

	rec := store.RunRecord{
		RunID:     cfg.RunID,
		StartedAt: started,
		Hostname:  hostname(),
		Transport: cfg.Transport,
		Loader:    cfg.Loader,
		Ranks:     1,
		Units:     loader.Count(),
		Metrics:   res.Summaries,
	}

	if res.Distributed {
		rec.Ranks = coll.Size()
		if cfg.SkipFractal {
			logger.Info("fractal phase skipped")
		} else {
			d := fractal.NewDriver(fractalParams(cfg), cfg.Output, out)
			fr, err := d.Run(ctx, coll)
			if err != nil {
				return err
			}
			rec.FractalSeconds = fr.Elapsed
			if coll.Rank() == types.RootRank {
				rec.Output = cfg.Output
				fmt.Fprintf(out, "Pynamic: end time = %10.6f\n\n", timing.WallSeconds())
			}
		}
		if coll.Rank() != types.RootRank {
			return nil
		}
	}

	if cfg.ResultsDB != "" {
		return recordRun(ctx, cfg.ResultsDB, rec)
	}
	return nil
}

func recordRun(ctx context.Context, path string, rec store.RunRecord) (err error) {
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	return s.RecordRun(ctx, rec)
}

func fractalParams(cfg *config.Config) fractal.Params {
	p := fractal.DefaultParams()
	p.Width = cfg.Width
	p.Height = cfg.Height
	p.MaxIter = cfg.MaxIter
	p.Threshold = cfg.Threshold
	return p
}

func hostname() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Nodename[:])
}
