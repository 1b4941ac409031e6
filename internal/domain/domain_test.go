package domain

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var portugal = Domain{West: -9.6, South: 36.9, East: -6.1, North: 42.2, PixelSize: 0.02}

func TestDomain_Dimensions(t *testing.T) {
	assert.Equal(t, 175, portugal.Cols())
	assert.Equal(t, 265, portugal.Rows())
	require.NoError(t, portugal.Validate())
}

func TestDomain_Validate(t *testing.T) {
	tests := []struct {
		name string
		d    Domain
	}{
		{"zero pixel", Domain{West: 0, South: 0, East: 1, North: 1}},
		{"negative pixel", Domain{West: 0, South: 0, East: 1, North: 1, PixelSize: -1}},
		{"inverted x", Domain{West: 1, South: 0, East: 0, North: 1, PixelSize: 0.1}},
		{"inverted y", Domain{West: 0, South: 1, East: 1, North: 0, PixelSize: 0.1}},
		{"pixel larger than box", Domain{West: 0, South: 0, East: 0.1, North: 0.1, PixelSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDegenerateDomain)
		})
	}
}

func TestDomain_CellCenters(t *testing.T) {
	lons := portugal.CellLons()
	lats := portugal.CellLats()

	require.Len(t, lons, 175)
	require.Len(t, lats, 265)
	assert.InDelta(t, -9.59, lons[0], 1e-9)
	assert.InDelta(t, -6.11, lons[174], 1e-9)
	assert.InDelta(t, 42.19, lats[0], 1e-9, "row 0 is the northern edge")
	assert.InDelta(t, 36.91, lats[264], 1e-9)
}

func TestDomain_Transform(t *testing.T) {
	tr := portugal.Transform()

	x, y := tr.Origin()
	assert.Equal(t, -9.6, x)
	assert.Equal(t, 42.2, y)
	assert.InDelta(t, 0.02, tr.PixelWidth(), 1e-12)
	assert.InDelta(t, 0.02, tr.PixelHeight(), 1e-12)
	assert.Equal(t, 0.0, tr[2])
	assert.Equal(t, 0.0, tr[4])
}

func TestNewGridField_AllNoData(t *testing.T) {
	date := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	g := NewGridField(Precipitation, date, portugal)

	assert.Equal(t, 175*265, len(g.Values))
	assert.Equal(t, 0, g.ValidCount())
	assert.Equal(t, CRS, g.CRS)
	assert.True(t, IsNoData(g.At(10, 10)))

	g.Values[5] = 1.5
	assert.Equal(t, 1, g.ValidCount())
	assert.True(t, math.IsNaN(NoData()))
}

func TestNewSampleSeries_SortsAndDropsEmpty(t *testing.T) {
	d1 := time.Date(2025, 12, 2, 0, 0, 0, 0, time.UTC)
	d0 := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 12, 3, 0, 0, 0, 0, time.UTC)

	series := NewSampleSeries(SoilMoisture, map[time.Time][]Sample{
		d1: {{Lat: 38.7, Lon: -9.2, Value: 0.3}},
		d0: {{Lat: 38.7, Lon: -9.2, Value: 0.2}, {Lat: 38.8, Lon: -9.2, Value: 0.25}},
		d2: {},
	})

	require.Len(t, series.Sets, 2)
	assert.Equal(t, []time.Time{d0, d1}, series.Dates())
	assert.Equal(t, []float64{0.2, 0.25}, series.Sets[0].Values())
	assert.Equal(t, SoilMoisture, series.Sets[1].Variable)
}

func TestDateRange(t *testing.T) {
	start, err := ParseDate("2025-12-01")
	require.NoError(t, err)
	end, err := ParseDate("2026-02-15")
	require.NoError(t, err)

	dates := DateRange(start, end)
	assert.Len(t, dates, 77)
	assert.Equal(t, start, dates[0])
	assert.Equal(t, end, dates[len(dates)-1])
	assert.Empty(t, DateRange(end, start))
}

func TestLookupVariable(t *testing.T) {
	v, err := LookupVariable(Precipitation)
	require.NoError(t, err)
	assert.True(t, v.ClampGrid)
	assert.Equal(t, DailyValue, v.Aggregation)

	v, err = LookupVariable(SoilMoisture)
	require.NoError(t, err)
	assert.False(t, v.ClampGrid)
	assert.Equal(t, HourlyMean, v.Aggregation)

	_, err = LookupVariable("snow")
	require.Error(t, err)

	assert.Equal(t, []string{Precipitation, SoilMoisture}, VariableIDs())
}

func TestArtifactPaths(t *testing.T) {
	date := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, filepath.Join("data", "cog", "precipitation", "2026-02-07.tif"), TilePath(filepath.Join("data", "cog"), Precipitation, date))
	assert.Equal(t, filepath.Join("frames", "soil-moisture", "2026-02-07.png"), ImagePath("frames", SoilMoisture, date))
}

func TestStampArtifact_UsesClock(t *testing.T) {
	frozen := time.Date(2026, 2, 16, 8, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { SetClock(nil) })

	a := StampArtifact(Artifact{Variable: Precipitation, Date: "2026-02-07"})
	assert.Equal(t, frozen, a.ProducedAt)
	assert.Equal(t, "precipitation/2026-02-07", a.Key())
}

func TestParseGapPolicy(t *testing.T) {
	p, err := ParseGapPolicy("nodata")
	require.NoError(t, err)
	assert.Equal(t, GapNoData, p)

	p, err = ParseGapPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, GapSkip, p)

	_, err = ParseGapPolicy("fill")
	assert.Error(t, err)
}
