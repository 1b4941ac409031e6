package boundary

import (
	"math"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// Point is a provider sample location in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SamplePoints lays a regular grid of the given spacing over the domain,
// rounds each coordinate to two decimals, and keeps the points that fall in
// region. Points are ordered south to north, then west to east.
func SamplePoints(d domain.Domain, spacing float64, region *Polygon) []Point {
	if spacing <= 0 {
		return nil
	}
	lats := arange(d.South, d.North+spacing/2, spacing)
	lons := arange(d.West, d.East+spacing/2, spacing)
	for i := range lats {
		lats[i] = round2(lats[i])
	}
	for i := range lons {
		lons[i] = round2(lons[i])
	}

	mask := Build(region, lons, lats)
	points := make([]Point, 0, mask.Count())
	for row, lat := range lats {
		for col, lon := range lons {
			if mask.At(col, row) {
				points = append(points, Point{Lat: lat, Lon: lon})
			}
		}
	}
	return points
}

// arange returns start, start+step, ... strictly below stop.
func arange(start, stop, step float64) []float64 {
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
