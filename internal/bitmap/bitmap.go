// Package bitmap writes the minimal uncompressed 24-bit bitmap the fractal
// phase produces. Pixel rows are written exactly as computed, without the
// 4-byte row alignment of the format.
package bitmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	HeaderSize    = 54
	BytesPerPixel = 3

	widthOffset  = 18
	heightOffset = 22
)

// template is the fixed header. The file size field keeps its historical
// placeholder value and is not recomputed.
var template = [HeaderSize]byte{
	'B', 'M', // signature
	28, 88, 0, 0, // file size placeholder
	0, 0, 0, 0, // reserved
	54, 0, 0, 0, // pixel data offset
	40, 0, 0, 0, // DIB header size
	100, 0, 0, 0, // width
	75, 0, 0, 0, // height
	1, 0, // planes
	24, 0, // bits per pixel
	0, 0, 0, 0, // compression
	0, 0, 0, 0, // image size
	18, 11, 0, 0, // horizontal resolution, px/m
	18, 11, 0, 0, // vertical resolution, px/m
	0, 0, 0, 0, // palette colors
	0, 0, 0, 0, // important colors
}

var ErrShortHeader = errors.New("bitmap: header shorter than 54 bytes")

// Header returns the 54-byte header for a width x height image.
func Header(width, height int) [HeaderSize]byte {
	h := template
	binary.LittleEndian.PutUint32(h[widthOffset:], uint32(int32(width)))
	binary.LittleEndian.PutUint32(h[heightOffset:], uint32(int32(height)))
	return h
}

// PixelBytes is the length of the pixel stream for a width x height image.
func PixelBytes(width, height int) int {
	return width * height * BytesPerPixel
}

// Encode writes the header followed by pixels in blue-green-red order.
func Encode(w io.Writer, width, height int, pixels []byte) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("bitmap: invalid size %dx%d", width, height)
	}
	if want := PixelBytes(width, height); len(pixels) != want {
		return fmt.Errorf("bitmap: got %d pixel bytes, want %d", len(pixels), want)
	}
	h := Header(width, height)
	if _, err := w.Write(h[:]); err != nil {
		return fmt.Errorf("bitmap: write header: %w", err)
	}
	if _, err := w.Write(pixels); err != nil {
		return fmt.Errorf("bitmap: write pixels: %w", err)
	}
	return nil
}

func WriteFile(path string, width, height int, pixels []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, width, height, pixels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDimensions extracts width and height from an encoded bitmap.
func ReadDimensions(data []byte) (width, height int, err error) {
	if len(data) < HeaderSize {
		return 0, 0, ErrShortHeader
	}
	if data[0] != 'B' || data[1] != 'M' {
		return 0, 0, errors.New("bitmap: bad signature")
	}
	width = int(int32(binary.LittleEndian.Uint32(data[widthOffset:])))
	height = int(int32(binary.LittleEndian.Uint32(data[heightOffset:])))
	return width, height, nil
}
