// Package fractal computes the escape-time image of the distributed phase.
package fractal

import (
	"fmt"
	"math"
)

// Window is the region of the complex plane mapped onto the image.
type Window struct {
	X1, Y1, X2, Y2 float64
}

type Params struct {
	Width     int
	Height    int
	Window    Window
	C         complex128
	MaxIter   int
	Threshold float64
}

func DefaultParams() Params {
	return Params{
		Width:     400,
		Height:    400,
		Window:    Window{X1: -0.6, Y1: -0.6, X2: 0.4, Y2: 0.4},
		C:         complex(0.4, 0.3),
		MaxIter:   64,
		Threshold: 3.0,
	}
}

func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("fractal: invalid image size %dx%d", p.Width, p.Height)
	}
	if p.MaxIter <= 0 {
		return fmt.Errorf("fractal: max iterations %d must be positive", p.MaxIter)
	}
	return nil
}

// Point maps pixel (x, y) to the plane by linear interpolation.
func (p Params) Point(x, y int) (re, im float64) {
	w := p.Window
	re = w.X1 + float64(float64(x)/float64(p.Width)*(w.X2-w.X1))
	im = float64(float64(y) / float64(p.Height) * (w.Y2 - w.Y1))
	im += w.Y1
	return re, im
}

// Iterations counts applications of z*z + c, starting from f(point), until the
// distance from the point exceeds the threshold or the cap is reached.
//
// Products are rounded explicitly so no fused multiply-add changes the result
// on architectures that support it.
func (p Params) Iterations(x, y int) int {
	pr, pi := p.Point(x, y)
	cr, ci := real(p.C), imag(p.C)

	zr, zi := square(pr, pi, cr, ci)
	n := 0
	for {
		if math.Hypot(zr-pr, zi-pi) > p.Threshold {
			break
		}
		if n >= p.MaxIter {
			break
		}
		zr, zi = square(zr, zi, cr, ci)
		n++
	}
	return n
}

func square(zr, zi, cr, ci float64) (float64, float64) {
	re := float64(zr*zr) - float64(zi*zi) + cr
	im := float64(zr*zi) + float64(zi*zr) + ci
	return re, im
}

// Color maps an iteration count to blue, green and red bytes.
func (p Params) Color(n int) [3]byte {
	f := float64(255.0*float64(n)) / float64(p.MaxIter)
	r := float64(f*0.8) + 32
	g := 24 + float64(0.1*f)
	b := 0.5 * f
	return [3]byte{byte(int(b)), byte(int(g)), byte(int(r))}
}

// Render computes the owned rows into a buffer the size of the whole image.
// Rows outside [rows.Y0, rows.Y1) stay zero so buffers from all ranks can be
// combined with an elementwise sum.
func (p Params) Render(rows Rows) []byte {
	buf := make([]byte, p.Width*p.Height*3)
	p.RenderInto(buf, rows)
	return buf
}

func (p Params) RenderInto(buf []byte, rows Rows) {
	for y := rows.Y0; y < rows.Y1; y++ {
		off := y * p.Width * 3
		for x := 0; x < p.Width; x++ {
			c := p.Color(p.Iterations(x, y))
			copy(buf[off+x*3:], c[:])
		}
	}
}
