// Package render rasterizes unit color frames into upsampled, quantized PNGs
// for the web client.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/lunasilvestre/cheias-pt/internal/colormap"
)

// Defaults for the web frames.
const (
	DefaultScale     = 4
	DefaultQuantStep = 4
)

// Rasterizer converts frames to PNG bytes.
type Rasterizer struct {
	// Scale is the integer upsampling factor.
	Scale int
	// QuantStep rounds R, G and B down to multiples of itself. Alpha is
	// never quantized. A step of 1 disables quantization.
	QuantStep int
}

// New returns a rasterizer with the default scale and quantization.
func New() Rasterizer {
	return Rasterizer{Scale: DefaultScale, QuantStep: DefaultQuantStep}
}

// Image builds the upsampled, quantized image for frame.
func (r Rasterizer) Image(frame colormap.Frame) *image.NRGBA {
	src := ToNRGBA(frame)
	scale := max(1, r.Scale)
	dst := src
	if scale > 1 {
		dst = image.NewNRGBA(image.Rect(0, 0, frame.Cols*scale, frame.Rows*scale))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	Quantize(dst, r.QuantStep)
	return dst
}

// Rasterize renders frame and encodes it as PNG with the best compression.
func (r Rasterizer) Rasterize(frame colormap.Frame) ([]byte, error) {
	if frame.Cols <= 0 || frame.Rows <= 0 || len(frame.Pixels) != frame.Cols*frame.Rows {
		return nil, fmt.Errorf("frame %dx%d with %d pixels", frame.Cols, frame.Rows, len(frame.Pixels))
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, r.Image(frame)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders frame to path, creating parent directories, and returns
// the number of bytes written.
func (r Rasterizer) WriteFile(path string, frame colormap.Frame) (int64, error) {
	b, err := r.Rasterize(frame)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", path, err)
	}
	return int64(len(b)), nil
}

// ToNRGBA converts unit colors to 8 bits by truncating v*255.
func ToNRGBA(frame colormap.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, frame.Cols, frame.Rows))
	for row := 0; row < frame.Rows; row++ {
		for col := 0; col < frame.Cols; col++ {
			c := frame.At(col, row)
			img.SetNRGBA(col, row, color.NRGBA{R: to8(c.R), G: to8(c.G), B: to8(c.B), A: to8(c.A)})
		}
	}
	return img
}

func to8(v float64) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v * 255)
}

// Quantize rounds the color channels of img down to multiples of step.
func Quantize(img *image.NRGBA, step int) {
	if step <= 1 || step > 255 {
		return
	}
	s := uint8(step)
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] -= img.Pix[i] % s
		img.Pix[i+1] -= img.Pix[i+1] % s
		img.Pix[i+2] -= img.Pix[i+2] % s
	}
}
