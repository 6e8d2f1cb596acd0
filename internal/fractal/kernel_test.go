package fractal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestIterationsReferencePixels(t *testing.T) {
	p := DefaultParams()
	cases := []struct {
		x, y int
		n    int
		bgr  [3]byte
	}{
		{0, 0, 7, [3]byte{13, 26, 54}},
		{399, 399, 25, [3]byte{49, 33, 111}},
		{200, 200, 21, [3]byte{41, 32, 98}},
		{100, 300, 6, [3]byte{11, 26, 51}},
		{0, 399, 5, [3]byte{9, 25, 47}},
		{399, 0, 10, [3]byte{19, 27, 63}},
		{123, 45, 30, [3]byte{59, 35, 127}},
	}
	for _, tc := range cases {
		n := p.Iterations(tc.x, tc.y)
		if n != tc.n {
			t.Errorf("Iterations(%d, %d) = %d, want %d", tc.x, tc.y, n, tc.n)
			continue
		}
		if got := p.Color(n); got != tc.bgr {
			t.Errorf("Color(%d) = %v, want %v", n, got, tc.bgr)
		}
	}
}

func TestColorBounds(t *testing.T) {
	p := DefaultParams()
	if got := p.Color(0); got != [3]byte{0, 24, 32} {
		t.Errorf("Color(0) = %v", got)
	}
	if got := p.Color(p.MaxIter); got != [3]byte{127, 49, 236} {
		t.Errorf("Color(max) = %v", got)
	}
}

var image4x4 = []byte{
	13, 26, 54, 37, 31, 92, 53, 34, 118, 31, 30, 83,
	9, 25, 47, 31, 30, 83, 57, 35, 124, 29, 29, 79,
	7, 25, 44, 75, 39, 153, 41, 32, 98, 19, 27, 63,
	7, 25, 44, 11, 26, 51, 21, 28, 67, 41, 32, 98,
}

func smallParams(n int) Params {
	p := DefaultParams()
	p.Width, p.Height = n, n
	return p
}

func TestRenderSmallImage(t *testing.T) {
	p := smallParams(4)
	got := p.Render(Rows{Y0: 0, Y1: 4})
	if !bytes.Equal(got, image4x4) {
		t.Fatalf("Render = %v\nwant %v", got, image4x4)
	}
}

func TestRenderFullImageDigest(t *testing.T) {
	if testing.Short() {
		t.Skip("full image in short mode")
	}
	p := DefaultParams()
	buf := p.Render(Rows{Y0: 0, Y1: p.Height})
	if len(buf) != 480000 {
		t.Fatalf("len = %d", len(buf))
	}
	sum := sha256.Sum256(buf)
	const want = "30a6579cd261abc1f4b7b666958298eaa02b54c86e11b92c2c786d2210b87404"
	if got := hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("digest = %s, want %s", got, want)
	}
}

func TestRenderLeavesUnownedRowsZero(t *testing.T) {
	p := smallParams(4)
	buf := p.Render(Rows{Y0: 1, Y1: 3})
	rowBytes := p.Width * 3
	for i, b := range buf[:rowBytes] {
		if b != 0 {
			t.Fatalf("row 0 byte %d = %d", i, b)
		}
	}
	for i, b := range buf[3*rowBytes:] {
		if b != 0 {
			t.Fatalf("row 3 byte %d = %d", i, b)
		}
	}
	if !bytes.Equal(buf[rowBytes:3*rowBytes], image4x4[rowBytes:3*rowBytes]) {
		t.Fatal("owned rows differ from the full render")
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	p := smallParams(16)
	a := p.Render(Rows{Y0: 0, Y1: 16})
	b := p.Render(Rows{Y0: 0, Y1: 16})
	if !bytes.Equal(a, b) {
		t.Fatal("two renders differ")
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatal(err)
	}
	bad := DefaultParams()
	bad.Width = 0
	if bad.Validate() == nil {
		t.Error("zero width accepted")
	}
	bad = DefaultParams()
	bad.MaxIter = 0
	if bad.Validate() == nil {
		t.Error("zero iterations accepted")
	}
}
