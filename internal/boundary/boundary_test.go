package boundary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// squareWithHole is 0..10 x 0..10 with a 4..6 x 4..6 hole.
func squareWithHole(t *testing.T) *Polygon {
	t.Helper()
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 4, 6, 6, 6, 6, 4, 4, 4,
	}, []int{10, 20})
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(poly))
	p, err := NewPolygon(mp)
	require.NoError(t, err)
	return p
}

func axis(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestPolygon_Contains(t *testing.T) {
	p := squareWithHole(t)

	tests := []struct {
		name     string
		lon, lat float64
		want     bool
	}{
		{"interior", 2, 2, true},
		{"in hole", 5, 5, false},
		{"outside", 11, 5, false},
		{"on outer edge", 0, 5, false},
		{"on hole edge", 4, 5, false},
		{"between hole and shell", 8, 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Contains(tt.lon, tt.lat))
		})
	}
}

func TestBuild_MatchesPointwise(t *testing.T) {
	p := squareWithHole(t)
	// Step 0.5 from -1 puts rows and columns exactly on every ring segment.
	lons := axis(-1, 0.5, 25)
	lats := axis(11, -0.5, 25)

	for _, region := range []*Polygon{p, p.Buffered(0.3)} {
		bulk := Build(region, lons, lats)
		ref := BuildPointwise(region, lons, lats)
		require.Equal(t, ref.Inside, bulk.Inside, "buffer %g", region.Buffer())
	}
}

func TestBuild_Offsets(t *testing.T) {
	p := squareWithHole(t)
	lons := axis(-0.95, 0.1, 120)
	lats := axis(10.95, -0.1, 120)

	bulk := Build(p, lons, lats)
	assert.Equal(t, BuildPointwise(p, lons, lats).Inside, bulk.Inside)
	// 100 - 4 square units at 0.01 each.
	assert.Equal(t, 9600, bulk.Count())
}

func TestBuffered_ExtendsRegion(t *testing.T) {
	p := squareWithHole(t)
	b := p.Buffered(0.5)

	assert.False(t, p.Contains(10.3, 5))
	assert.True(t, b.Contains(10.3, 5))
	assert.False(t, b.Contains(10.6, 5))
	assert.True(t, b.Contains(10.3, 10.3), "corner within the buffer radius")
	assert.True(t, b.Contains(4.3, 5), "buffer also shrinks holes")
	assert.False(t, b.Contains(5, 5))

	assert.Equal(t, [4]float64{-0.5, -0.5, 10.5, 10.5}, b.Bounds())
	assert.Equal(t, 0.0, p.Buffer())
}

func TestParseGeoJSON(t *testing.T) {
	fc := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type":"Feature","properties":{"name":"b"},"geometry":{"type":"MultiPolygon","coordinates":[[[[2,0],[3,0],[3,1],[2,1],[2,0]]],[[[4,0],[5,0],[5,1],[4,1],[4,0]]]]}},
		{"type":"Feature","properties":{"name":"c"},"geometry":{"type":"Point","coordinates":[9,9]}}
	]}`)

	mp, err := ParseGeoJSON(fc)
	require.NoError(t, err)
	assert.Equal(t, 3, mp.NumPolygons())

	single, err := ParseGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[0,0,5],[1,0,5],[1,1,5],[0,0,5]]]}`))
	require.NoError(t, err)
	assert.Equal(t, geom.XY, single.Layout())
}

func TestParseGeoJSON_Errors(t *testing.T) {
	_, err := ParseGeoJSON([]byte(`{"type":"Point","coordinates":[1,2]}`))
	assert.ErrorIs(t, err, ErrEmptyBoundary)

	_, err = ParseGeoJSON([]byte(`not json`))
	assert.Error(t, err)

	_, err = NewPolygon(geom.NewMultiPolygon(geom.XY))
	assert.ErrorIs(t, err, ErrEmptyBoundary)
}

func TestLoad_GeoJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "districts.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[-9,37],[-7,37],[-7,42],[-9,42],[-9,37]]]}}`), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, p.NumPolygons())
	assert.True(t, p.Contains(-8, 39))

	_, err = Load(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestSamplePoints(t *testing.T) {
	d := domain.Domain{West: -9.6, South: 36.9, East: -6.1, North: 42.2, PixelSize: 0.02}
	mp, err := ParseGeoJSON([]byte(`{"type":"Polygon","coordinates":[[[-9.05,38.05],[-8.75,38.05],[-8.75,38.25],[-9.05,38.25],[-9.05,38.05]]]}`))
	require.NoError(t, err)
	p, err := NewPolygon(mp)
	require.NoError(t, err)

	raw := SamplePoints(d, 0.1, p)
	// lons -9.0 -8.9 -8.8, lats 38.1 38.2
	require.Len(t, raw, 6)
	assert.Equal(t, Point{Lat: 38.1, Lon: -9.0}, raw[0])
	assert.Equal(t, Point{Lat: 38.2, Lon: -8.8}, raw[5])

	buffered := SamplePoints(d, 0.1, p.Buffered(0.15))
	assert.Greater(t, len(buffered), len(raw))
	assert.Contains(t, buffered, Point{Lat: 38.0, Lon: -9.1})

	assert.Nil(t, SamplePoints(d, 0, p))
}
