// Package colormap turns grid values into RGBA colors in [0,1].
//
// Each variable has one declarative Style. Continuous styles interpolate a
// ramp of color stops over a normalized value; classified styles look up a
// fixed color per value class. NaN always maps to transparent black.
package colormap

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// RGBA is a color with components in [0,1].
type RGBA struct{ R, G, B, A float64 }

// Transparent is the color of NaN cells.
var Transparent = RGBA{}

// Style maps one value to a color given the series range.
type Style interface {
	Color(v float64, r Range) RGBA
}

// Frame is a row-major grid of unit colors, row 0 north.
type Frame struct {
	Cols   int
	Rows   int
	Pixels []RGBA
}

// At returns the color at (col, row).
func (f Frame) At(col, row int) RGBA { return f.Pixels[row*f.Cols+col] }

// Colorize applies s to every cell of field.
func Colorize(field domain.GridField, s Style, r Range) Frame {
	f := Frame{Cols: field.Cols, Rows: field.Rows, Pixels: make([]RGBA, len(field.Values))}
	for i, v := range field.Values {
		f.Pixels[i] = s.Color(v, r)
	}
	return f
}

// ErrUnknownStyle is returned by Lookup for variables without a style.
var ErrUnknownStyle = errors.New("no style for variable")

// Styles holds the built-in style of each variable.
var Styles = map[string]Style{
	domain.SoilMoisture: Continuous{
		Stops: MustStops(
			"0.0 #8B6914",
			"0.25 #B8860B",
			"0.45 #7A9A6E",
			"0.6 #4A90A4",
			"0.8 #2E86AB",
			"1.0 #1B4965",
		),
		Floor: 0,
		Alpha: 0.80,
	},
	domain.Precipitation: Classified{
		Bounds: []float64{0, 1, 5, 15, 30, 50, 80, 150},
		Colors: MustHexes("#000000", "#FFF9C4", "#FFD54F", "#FF8F00", "#E53935", "#B71C1C", "#4A0000"),
		Alpha: []AlphaStep{
			{From: 1, Alpha: 0.4},
			{From: 5, Alpha: 0.8},
			{From: 30, Alpha: 0.9},
		},
	},
}

// Lookup returns the style for a variable ID.
func Lookup(variable string) (Style, error) {
	s, ok := Styles[variable]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, variable)
	}
	return s, nil
}

// Stop is one color of a continuous ramp at a normalized position.
type Stop struct {
	At    float64
	Color RGBA
}

// Continuous interpolates linearly between stops. Values are clamped to
// Floor and normalized against max(range.Min, Floor) .. range.Max.
type Continuous struct {
	Stops []Stop
	Floor float64
	Alpha float64
}

func (c Continuous) Color(v float64, r Range) RGBA {
	if math.IsNaN(v) {
		return Transparent
	}
	col := c.Ramp(Normalize(math.Max(v, c.Floor), r, c.Floor))
	col.A = c.Alpha
	return col
}

// Ramp returns the ramp color at normalized position n in [0,1].
func (c Continuous) Ramp(n float64) RGBA {
	stops := c.Stops
	if len(stops) == 0 {
		return Transparent
	}
	if n <= stops[0].At {
		return stops[0].Color
	}
	last := stops[len(stops)-1]
	if n >= last.At {
		return last.Color
	}
	i := sort.Search(len(stops), func(i int) bool { return stops[i].At >= n })
	lo, hi := stops[i-1], stops[i]
	t := (n - lo.At) / (hi.At - lo.At)
	return RGBA{
		R: lo.Color.R + t*(hi.Color.R-lo.Color.R),
		G: lo.Color.G + t*(hi.Color.G-lo.Color.G),
		B: lo.Color.B + t*(hi.Color.B-lo.Color.B),
		A: lo.Color.A + t*(hi.Color.A-lo.Color.A),
	}
}

// Normalize maps v onto [0,1] between max(r.Min, floor) and r.Max. A
// degenerate range, where the upper bound does not exceed the lower, maps
// every value to 0.
func Normalize(v float64, r Range, floor float64) float64 {
	lo := math.Max(r.Min, floor)
	if !(r.Max > lo) {
		return 0
	}
	return math.Min(1, math.Max(0, (v-lo)/(r.Max-lo)))
}

// AlphaStep sets the opacity for values at or above From.
type AlphaStep struct {
	From  float64
	Alpha float64
}

// Classified assigns Colors[i] to values in [Bounds[i], Bounds[i+1]).
// Values at or above the last boundary take the last color and values below
// the first boundary take the first. Opacity comes from the raw value through
// the ascending Alpha steps; values below the first step are transparent.
type Classified struct {
	Bounds []float64
	Colors []RGBA
	Alpha  []AlphaStep
}

func (c Classified) Color(v float64, _ Range) RGBA {
	if math.IsNaN(v) || len(c.Colors) == 0 {
		return Transparent
	}
	col := c.Colors[c.Class(v)]
	col.A = 0
	for _, s := range c.Alpha {
		if v >= s.From {
			col.A = s.Alpha
		}
	}
	return col
}

// Class returns the color index of v.
func (c Classified) Class(v float64) int {
	// Number of boundaries <= v, minus one, clamped to the color table.
	i := sort.Search(len(c.Bounds), func(i int) bool { return c.Bounds[i] > v }) - 1
	return max(0, min(i, len(c.Colors)-1))
}

// Hex parses "#RRGGBB" into an opaque color.
func Hex(s string) (RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGBA{}, fmt.Errorf("color %q: want #RRGGBB", s)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return RGBA{
		R: float64(n>>16&0xff) / 255,
		G: float64(n>>8&0xff) / 255,
		B: float64(n&0xff) / 255,
		A: 1,
	}, nil
}

// MustHexes parses colors for static tables and panics on error.
func MustHexes(hexes ...string) []RGBA {
	out := make([]RGBA, len(hexes))
	for i, h := range hexes {
		c, err := Hex(h)
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

// MustStops parses "position #RRGGBB" pairs for static tables and panics on
// error or unsorted positions.
func MustStops(specs ...string) []Stop {
	out := make([]Stop, len(specs))
	for i, s := range specs {
		pos, hex, ok := strings.Cut(strings.TrimSpace(s), " ")
		if !ok {
			panic(fmt.Sprintf("stop %q: want \"position #RRGGBB\"", s))
		}
		at, err := strconv.ParseFloat(pos, 64)
		if err != nil {
			panic(fmt.Sprintf("stop %q: %v", s, err))
		}
		c, err := Hex(hex)
		if err != nil {
			panic(err)
		}
		if i > 0 && at <= out[i-1].At {
			panic(fmt.Sprintf("stop %q: positions must increase", s))
		}
		out[i] = Stop{At: at, Color: c}
	}
	return out
}
