package interp

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// unit is a 10x10 grid over [0,1]^2 with centers at 0.05..0.95.
var unit = domain.Domain{West: 0, South: 0, East: 1, North: 1, PixelSize: 0.1}

var soil = domain.Variable{ID: domain.SoilMoisture, Floor: 0}
var rain = domain.Variable{ID: domain.Precipitation, Floor: 0, ClampGrid: true}

func region(t *testing.T, w, s, e, n float64) *boundary.Polygon {
	t.Helper()
	mp, err := boundary.ParseGeoJSON([]byte(fmt.Sprintf(
		`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		w, s, e, s, e, n, w, n, w, s)))
	require.NoError(t, err)
	p, err := boundary.NewPolygon(mp)
	require.NoError(t, err)
	return p
}

func maskFor(t *testing.T, d domain.Domain, p *boundary.Polygon) boundary.Mask {
	t.Helper()
	return boundary.Build(p, d.CellLons(), d.CellLats())
}

// lattice samples f on a regular lattice over [w,e] x [s,n].
func lattice(w, s, e, n, step float64, f func(x, y float64) float64) []domain.Sample {
	var out []domain.Sample
	for y := s; y <= n+1e-9; y += step {
		for x := w; x <= e+1e-9; x += step {
			out = append(out, domain.Sample{Lat: y, Lon: x, Value: f(x, y)})
		}
	}
	return out
}

func sampleSet(samples []domain.Sample) domain.SampleSet {
	return domain.SampleSet{
		Variable: domain.SoilMoisture,
		Date:     time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC),
		Samples:  samples,
	}
}

func plane(x, y float64) float64 { return 2*x + 3*y + 1 }

func TestStrategies_ReproducePlane(t *testing.T) {
	tri, err := Triangulate(lattice(0, 0, 1, 1, 0.25, plane))
	require.NoError(t, err)
	assert.Equal(t, 25, tri.NumPoints())

	lons, lats := unit.CellLons(), unit.CellLats()
	for _, s := range []Strategy{Linear{}, NewCloughTocher()} {
		t.Run(s.Name(), func(t *testing.T) {
			got, err := s.Evaluate(tri, lons, lats)
			require.NoError(t, err)
			for row, y := range lats {
				for col, x := range lons {
					assert.InDelta(t, plane(x, y), got[row*len(lons)+col], 1e-4, "cell %d,%d", col, row)
				}
			}
		})
	}
}

func TestCloughTocher_SmoothField(t *testing.T) {
	f := func(x, y float64) float64 { return math.Sin(2*x) * math.Cos(y) }
	tri, err := Triangulate(lattice(0, 0, 1, 1, 0.1, f))
	require.NoError(t, err)

	lons, lats := unit.CellLons(), unit.CellLats()
	got, err := NewCloughTocher().Evaluate(tri, lons, lats)
	require.NoError(t, err)
	for row, y := range lats {
		for col, x := range lons {
			assert.InDelta(t, f(x, y), got[row*len(lons)+col], 2e-2)
		}
	}
}

func TestStrategies_OutsideHullIsNaN(t *testing.T) {
	tri, err := Triangulate(lattice(0, 0, 0.5, 1, 0.25, plane))
	require.NoError(t, err)

	got, err := Linear{}.Evaluate(tri, []float64{0.25, 0.75}, []float64{0.5})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
}

func TestTriangulate_TooFewSamples(t *testing.T) {
	tests := []struct {
		name    string
		samples []domain.Sample
	}{
		{"empty", nil},
		{"two points", []domain.Sample{{Lat: 0, Lon: 0, Value: 1}, {Lat: 1, Lon: 1, Value: 2}}},
		{"duplicates", []domain.Sample{{Lat: 0, Lon: 0, Value: 1}, {Lat: 0, Lon: 0, Value: 3}, {Lat: 1, Lon: 1, Value: 2}}},
		{"collinear", []domain.Sample{{Lat: 0, Lon: 0, Value: 1}, {Lat: 1, Lon: 1, Value: 2}, {Lat: 2, Lon: 2, Value: 3}}},
		{"nan values", []domain.Sample{{Lat: 0, Lon: 0, Value: 1}, {Lat: 1, Lon: 0, Value: math.NaN()}, {Lat: 0, Lon: 1, Value: 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Triangulate(tt.samples)
			assert.ErrorIs(t, err, ErrTooFewSamples)
		})
	}
}

func TestInterpolate_CubicWhenCovered(t *testing.T) {
	ip, err := New(unit, maskFor(t, unit, region(t, -1, -1, 2, 2)))
	require.NoError(t, err)

	field, res, err := ip.Interpolate(sampleSet(lattice(0, 0, 1, 1, 0.25, plane)), soil)
	require.NoError(t, err)
	assert.Equal(t, "cubic", res.Strategy)
	assert.False(t, res.Fallback)
	assert.Zero(t, res.NaNFraction)
	assert.Equal(t, 100, field.ValidCount())
	assert.InDelta(t, plane(0.05, 0.95), field.At(0, 0), 1e-4)
}

func TestInterpolate_FallsBackToLinear(t *testing.T) {
	ip, err := New(unit, maskFor(t, unit, region(t, -1, -1, 2, 2)))
	require.NoError(t, err)

	// The hull covers only the western half, so half the masked cells are NaN.
	field, res, err := ip.Interpolate(sampleSet(lattice(0, 0, 0.5, 1, 0.25, plane)), soil)
	require.NoError(t, err)
	assert.Equal(t, "linear", res.Strategy)
	assert.True(t, res.Fallback)
	assert.InDelta(t, 0.5, res.NaNFraction, 1e-9)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0], "cubic")
	assert.Equal(t, 50, field.ValidCount())
}

type nanStrategy struct{}

func (nanStrategy) Name() string { return "nan" }

func (nanStrategy) Evaluate(_ *Triangulation, lons, lats []float64) ([]float64, error) {
	out := make([]float64, len(lons)*len(lats))
	for i := range out {
		out[i] = math.NaN()
	}
	return out, nil
}

type failingStrategy struct{}

func (failingStrategy) Name() string { return "broken" }

func (failingStrategy) Evaluate(*Triangulation, []float64, []float64) ([]float64, error) {
	return nil, errors.New("boom")
}

func TestInterpolate_ErroringStrategyIsSkipped(t *testing.T) {
	ip, err := New(unit, maskFor(t, unit, region(t, -1, -1, 2, 2)),
		WithStrategies(failingStrategy{}, Linear{}))
	require.NoError(t, err)

	_, res, err := ip.Interpolate(sampleSet(lattice(0, 0, 1, 1, 0.25, plane)), soil)
	require.NoError(t, err)
	assert.Equal(t, "linear", res.Strategy)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"broken: boom"}, res.Rejected)
}

func TestInterpolate_FailsWhenLastStrategyIsEmpty(t *testing.T) {
	ip, err := New(unit, maskFor(t, unit, region(t, -1, -1, 2, 2)),
		WithStrategies(Linear{}, nanStrategy{}), WithThreshold(0))
	require.NoError(t, err)

	_, _, err = ip.Interpolate(sampleSet(lattice(0, 0, 0.5, 1, 0.25, plane)), soil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterpolationFailed)
}

func TestInterpolate_ClampsOnlyWhenVariableAsks(t *testing.T) {
	ip, err := New(unit, maskFor(t, unit, region(t, -1, -1, 2, 2)))
	require.NoError(t, err)
	below := func(x, _ float64) float64 { return x - 0.5 }
	set := sampleSet(lattice(0, 0, 1, 1, 0.25, below))

	rainField, _, err := ip.Interpolate(set, rain)
	require.NoError(t, err)
	soilField, _, err := ip.Interpolate(set, soil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, rainField.At(0, 5))
	assert.InDelta(t, -0.45, soilField.At(0, 5), 1e-4)
	assert.InDelta(t, 0.45, rainField.At(9, 5), 1e-4)
}

func TestInterpolate_MasksOutsideRawBoundary(t *testing.T) {
	raw := region(t, 0.2, 0.2, 0.8, 0.8)
	ip, err := New(unit, maskFor(t, unit, raw))
	require.NoError(t, err)

	// Samples are selected with the buffered region, so they cover more than the mask.
	buffered := raw.Buffered(0.1)
	require.True(t, buffered.Contains(0.15, 0.5))
	require.False(t, raw.Contains(0.15, 0.5))

	field, _, err := ip.Interpolate(sampleSet(lattice(0, 0, 1, 1, 0.25, plane)), soil)
	require.NoError(t, err)

	// Column 1 is centered at 0.15: in the buffer, outside the polygon.
	assert.True(t, math.IsNaN(field.At(1, 5)))
	assert.False(t, math.IsNaN(field.At(2, 5)))
	assert.Equal(t, 36, field.ValidCount())
}

func TestNew_RejectsMismatchedMask(t *testing.T) {
	_, err := New(unit, boundary.Mask{Cols: 3, Rows: 3, Inside: make([]bool, 9)})
	assert.Error(t, err)

	_, err = New(domain.Domain{}, boundary.Mask{})
	assert.ErrorIs(t, err, domain.ErrDegenerateDomain)
}
