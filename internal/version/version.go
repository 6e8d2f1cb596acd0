package version

import "fmt"

var (
	// Current is the version of the binary, set at build time via ldflags.
	Current = "dev"

	// Benchmark is the benchmark suite version the output format follows.
	Benchmark = "1.1.0"
)

func Banner() string {
	return fmt.Sprintf("Sequoia Benchmark Version %s (pynamic-go %s)", Benchmark, Current)
}
