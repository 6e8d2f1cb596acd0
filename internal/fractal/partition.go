package fractal

import (
	"errors"
	"fmt"
)

var ErrIndivisibleHeight = errors.New("fractal: image height not divisible by rank count")

// Rows is a half-open range of pixel rows [Y0, Y1).
type Rows struct {
	Y0, Y1 int
}

func (r Rows) Len() int { return r.Y1 - r.Y0 }

// Partition returns the rows owned by rank. Height must be divisible by size;
// uneven assignment is rejected rather than truncated.
func Partition(rank, size, height int) (Rows, error) {
	if size <= 0 {
		return Rows{}, fmt.Errorf("fractal: rank count %d must be positive", size)
	}
	if rank < 0 || rank >= size {
		return Rows{}, fmt.Errorf("fractal: rank %d outside [0, %d)", rank, size)
	}
	if height%size != 0 {
		return Rows{}, fmt.Errorf("%w: height %d, %d ranks", ErrIndivisibleHeight, height, size)
	}
	per := height / size
	return Rows{Y0: rank * per, Y1: (rank + 1) * per}, nil
}
