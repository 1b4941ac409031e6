package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// CRS is the only coordinate reference system the pipeline writes.
const CRS = "EPSG:4326"

// ErrDegenerateDomain is returned when a bounding box or pixel size cannot
// produce at least one grid cell.
var ErrDegenerateDomain = errors.New("degenerate domain")

// Domain is the fixed geographic extent and resolution of every grid.
type Domain struct {
	West      float64 `json:"west"`
	South     float64 `json:"south"`
	East      float64 `json:"east"`
	North     float64 `json:"north"`
	PixelSize float64 `json:"pixel_size"`
}

// Validate reports whether the domain produces a non-empty grid.
func (d Domain) Validate() error {
	if d.PixelSize <= 0 || math.IsNaN(d.PixelSize) {
		return fmt.Errorf("%w: pixel size %g", ErrDegenerateDomain, d.PixelSize)
	}
	if d.East <= d.West || d.North <= d.South {
		return fmt.Errorf("%w: bbox %g,%g,%g,%g", ErrDegenerateDomain, d.West, d.South, d.East, d.North)
	}
	if d.Cols() < 1 || d.Rows() < 1 {
		return fmt.Errorf("%w: %dx%d cells", ErrDegenerateDomain, d.Cols(), d.Rows())
	}
	return nil
}

// Cols is round((East-West)/PixelSize).
func (d Domain) Cols() int {
	return int(math.Round((d.East - d.West) / d.PixelSize))
}

// Rows is round((North-South)/PixelSize).
func (d Domain) Rows() int {
	return int(math.Round((d.North - d.South) / d.PixelSize))
}

// Bounds returns [west, south, east, north].
func (d Domain) Bounds() [4]float64 {
	return [4]float64{d.West, d.South, d.East, d.North}
}

// CellLons returns the longitude of every column center, west to east.
func (d Domain) CellLons() []float64 {
	cols := d.Cols()
	dx := (d.East - d.West) / float64(cols)
	lons := make([]float64, cols)
	for i := range lons {
		lons[i] = d.West + (float64(i)+0.5)*dx
	}
	return lons
}

// CellLats returns the latitude of every row center, north to south.
func (d Domain) CellLats() []float64 {
	rows := d.Rows()
	dy := (d.North - d.South) / float64(rows)
	lats := make([]float64, rows)
	for j := range lats {
		lats[j] = d.North - (float64(j)+0.5)*dy
	}
	return lats
}

// Transform returns the north-up affine transform that maps the grid onto
// the bounding box, equivalent to rasterio's from_bounds.
func (d Domain) Transform() Transform {
	return Transform{
		d.West, (d.East - d.West) / float64(d.Cols()), 0,
		d.North, 0, -(d.North - d.South) / float64(d.Rows()),
	}
}

// Transform is an affine geotransform in GDAL order:
// x = T[0] + col*T[1] + row*T[2]; y = T[3] + col*T[4] + row*T[5].
type Transform [6]float64

// PixelWidth is the x resolution.
func (t Transform) PixelWidth() float64 { return t[1] }

// PixelHeight is the (positive) y resolution.
func (t Transform) PixelHeight() float64 { return -t[5] }

// Origin is the upper-left corner.
func (t Transform) Origin() (x, y float64) { return t[0], t[3] }

// GridField is the canonical estimate of one variable on one date.
// Values are row-major, north-up, with NaN as the no-data sentinel.
type GridField struct {
	Variable  string
	Date      time.Time
	Cols      int
	Rows      int
	Values    []float64
	Transform Transform
	CRS       string
}

// NewGridField allocates a field for the domain with every cell set to NaN.
func NewGridField(variable string, date time.Time, d Domain) GridField {
	cols, rows := d.Cols(), d.Rows()
	values := make([]float64, cols*rows)
	for i := range values {
		values[i] = math.NaN()
	}
	return GridField{
		Variable:  variable,
		Date:      date,
		Cols:      cols,
		Rows:      rows,
		Values:    values,
		Transform: d.Transform(),
		CRS:       CRS,
	}
}

// At returns the value at (col, row).
func (g GridField) At(col, row int) float64 {
	return g.Values[row*g.Cols+col]
}

// ValidCount returns the number of non-NaN cells.
func (g GridField) ValidCount() int {
	n := 0
	for _, v := range g.Values {
		if !IsNoData(v) {
			n++
		}
	}
	return n
}

// NoData returns the sentinel value.
func NoData() float64 { return math.NaN() }

// IsNoData reports whether v is the sentinel.
func IsNoData(v float64) bool { return math.IsNaN(v) }
