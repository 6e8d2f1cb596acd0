package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hpc/Spindle/pkg/types"
)

type Config struct {
	// Load/visit phase
	Units         int
	Loader        string
	PluginDir     string
	PluginPattern string
	UnitFuncs     int

	// Collective layer
	Transport      string
	Rank           int
	Size           int
	Coordinator    string
	Broker         string
	Procs          int
	Launch         int
	ConnectTimeout time.Duration
	RunID          string

	// Fractal phase
	Width       int
	Height      int
	MaxIter     int
	Threshold   float64
	Output      string
	SkipFractal bool

	ResultsDB string
	LogLevel  string

	// StartTime is the optional positional launch timestamp in seconds since
	// the epoch.
	StartTime    float64
	HasStartTime bool
}

// LoadConfig parses args (without the program name). Flag defaults come from
// PYNAMIC_* environment variables.
func LoadConfig(args []string) (*Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("pynamic", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.IntVar(&cfg.Units, "units", getenvInt("PYNAMIC_UNITS", 280), "number of units to load and visit")
	fs.StringVar(&cfg.Loader, "loader", getenv("PYNAMIC_LOADER", types.LoaderSynthetic), "unit loader: synthetic, plugin or ebpf")
	fs.StringVar(&cfg.PluginDir, "plugin-dir", getenv("PYNAMIC_PLUGIN_DIR", "."), "directory holding plugin units")
	fs.StringVar(&cfg.PluginPattern, "plugin-pattern", getenv("PYNAMIC_PLUGIN_PATTERN", "libmodule%d.so"), "plugin file name pattern, formatted with the unit index")
	fs.IntVar(&cfg.UnitFuncs, "unit-funcs", getenvInt("PYNAMIC_UNIT_FUNCS", 64), "generated symbols per synthetic unit")

	fs.StringVar(&cfg.Transport, "transport", getenv("PYNAMIC_TRANSPORT", types.TransportNone), "collective transport: none, local, grpc, mqtt or mpi")
	fs.IntVar(&cfg.Rank, "rank", getenvInt("PYNAMIC_RANK", -1), "rank of this process")
	fs.IntVar(&cfg.Size, "size", getenvInt("PYNAMIC_SIZE", 0), "number of ranks")
	fs.StringVar(&cfg.Coordinator, "coordinator", getenv("PYNAMIC_COORDINATOR", "127.0.0.1:7946"), "rank 0 address for the grpc transport")
	fs.StringVar(&cfg.Broker, "broker", getenv("PYNAMIC_BROKER", "tcp://127.0.0.1:1883"), "broker url for the mqtt transport")
	fs.IntVar(&cfg.Procs, "procs", getenvInt("PYNAMIC_PROCS", 1), "ranks to run as goroutines with the local transport")
	fs.IntVar(&cfg.Launch, "launch", getenvInt("PYNAMIC_LAUNCH", 0), "spawn this many grpc ranks as child processes")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", getenvDuration("PYNAMIC_CONNECT_TIMEOUT", 30*time.Second), "limit on joining the collective layer")
	fs.StringVar(&cfg.RunID, "run-id", getenv("PYNAMIC_RUN_ID", ""), "identifier shared by all ranks of a run")

	fs.IntVar(&cfg.Width, "width", getenvInt("PYNAMIC_WIDTH", 400), "fractal image width")
	fs.IntVar(&cfg.Height, "height", getenvInt("PYNAMIC_HEIGHT", 400), "fractal image height, divisible by the rank count")
	fs.IntVar(&cfg.MaxIter, "max-iter", getenvInt("PYNAMIC_MAX_ITER", 64), "iteration cap per pixel")
	fs.Float64Var(&cfg.Threshold, "threshold", getenvFloat("PYNAMIC_THRESHOLD", 3.0), "escape distance")
	fs.StringVar(&cfg.Output, "output", getenv("PYNAMIC_OUTPUT", "output.bmp"), "bitmap written by rank 0")
	fs.BoolVar(&cfg.SkipFractal, "skip-fractal", getenvBool("PYNAMIC_SKIP_FRACTAL", false), "stop after the load/visit phase")

	fs.StringVar(&cfg.ResultsDB, "results-db", getenv("PYNAMIC_RESULTS_DB", ""), "sqlite file to append run results to")
	fs.StringVar(&cfg.LogLevel, "log-level", getenv("PYNAMIC_LOG_LEVEL", "info"), "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch fs.NArg() {
	case 0:
	case 1:
		start, err := strconv.ParseFloat(fs.Arg(0), 64)
		if err != nil {
			return nil, fmt.Errorf("start timestamp %q: %w", fs.Arg(0), err)
		}
		cfg.StartTime = start
		cfg.HasStartTime = true
	default:
		return nil, fmt.Errorf("expected at most one positional argument, got %d", fs.NArg())
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Units < 0 {
		return errors.New("units must not be negative")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("image size %dx%d must be positive", c.Width, c.Height)
	}
	if c.MaxIter <= 0 {
		return errors.New("max-iter must be positive")
	}
	if c.Procs < 1 {
		return errors.New("procs must be at least 1")
	}
	if c.Launch < 0 {
		return errors.New("launch must not be negative")
	}
	switch c.Transport {
	case types.TransportNone, types.TransportLocal, types.TransportGrpc, types.TransportMqtt, types.TransportMpi:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// Distributed reports whether rank and size were supplied, either by flags or
// by a launcher.
func (c *Config) Distributed() bool {
	return c.Size > 0 && c.Rank >= 0 && c.Rank < c.Size
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return d
	}
	return f
}

func getenvBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}
