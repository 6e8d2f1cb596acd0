// Package timing provides the monotonic timestamps the benchmark phases are
// measured with.
package timing

import (
	"time"

	"golang.org/x/sys/unix"
)

// Timestamp is a monotonic clock reading in nanoseconds. It is only
// meaningful relative to other Timestamps from the same process.
type Timestamp int64

var base = time.Now()

// Now reads CLOCK_MONOTONIC. If the syscall is unavailable it falls back to
// the runtime's monotonic clock.
func Now() Timestamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Timestamp(time.Since(base))
	}
	return Timestamp(ts.Nano())
}

// Elapsed returns b - a in seconds.
func Elapsed(a, b Timestamp) float64 {
	return time.Duration(b - a).Seconds()
}

func Since(a Timestamp) float64 {
	return Elapsed(a, Now())
}

// WallSeconds is the wall clock in seconds since the epoch, the unit callers
// pass as the launch timestamp.
func WallSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// StartupLatency is the time between the caller's launch timestamp and now.
func StartupLatency(start float64) float64 {
	return WallSeconds() - start
}

// Sample is one measured interval.
type Sample struct {
	Start Timestamp
	End   Timestamp
}

func (s Sample) Duration() float64 {
	return Elapsed(s.Start, s.End)
}

// Measure times fn. The sample is filled in even when fn fails.
func Measure(fn func() error) (Sample, error) {
	s := Sample{Start: Now()}
	err := fn()
	s.End = Now()
	return s, err
}
