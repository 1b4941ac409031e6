package boundary

import (
	"math"
	"sort"
)

// Mask is a row-major inclusion grid: Inside[row*Cols+col].
type Mask struct {
	Cols   int
	Rows   int
	Inside []bool
}

// At reports whether cell (col, row) is inside.
func (m Mask) At(col, row int) bool { return m.Inside[row*m.Cols+col] }

// Count returns the number of inside cells.
func (m Mask) Count() int {
	n := 0
	for _, in := range m.Inside {
		if in {
			n++
		}
	}
	return n
}

// Build evaluates region on the meshgrid of lons (one per column) and lats
// (one per row). Each row queries the edge index for the segments spanning
// its latitude and fills cells by crossing parity, per member polygon; a
// buffered region then checks the remaining cells against nearby edges.
func Build(region *Polygon, lons, lats []float64) Mask {
	m := Mask{Cols: len(lons), Rows: len(lats), Inside: make([]bool, len(lons)*len(lats))}
	if m.Cols == 0 || m.Rows == 0 {
		return m
	}
	crossings := make(map[int][]float64)
	for row, lat := range lats {
		for k := range crossings {
			delete(crossings, k)
		}
		onRing := false
		region.edges.Search([2]float64{math.Inf(-1), lat}, [2]float64{math.Inf(1), lat},
			func(_, _ [2]float64, e edge) bool {
				if e.y1 == lat && e.y2 == lat {
					onRing = true
					return true
				}
				if (e.y1 > lat) != (e.y2 > lat) {
					x := e.x1 + (lat-e.y1)*(e.x2-e.x1)/(e.y2-e.y1)
					crossings[e.poly] = append(crossings[e.poly], x)
				}
				return true
			})

		base := row * m.Cols
		if onRing {
			// A horizontal segment lies on this row; resolve it point by point.
			for col, lon := range lons {
				m.Inside[base+col] = region.Contains(lon, lat)
			}
			continue
		}
		for _, xs := range crossings {
			sort.Float64s(xs)
		}
		for col, lon := range lons {
			inside := false
			for _, xs := range crossings {
				if parityInside(xs, lon) {
					inside = true
					break
				}
			}
			if !inside && region.buffer > 0 {
				inside = region.nearEdge(lon, lat)
			}
			m.Inside[base+col] = inside
		}
	}
	return m
}

// parityInside reports an odd number of crossings strictly left of x, with
// points on a crossing treated as outside.
func parityInside(xs []float64, x float64) bool {
	i := sort.SearchFloat64s(xs, x)
	if i < len(xs) && xs[i] == x {
		return false
	}
	return i%2 == 1
}

// BuildPointwise evaluates region one cell at a time with the per-point test.
// It is the reference for Build and is used for small or irregular grids.
func BuildPointwise(region *Polygon, lons, lats []float64) Mask {
	m := Mask{Cols: len(lons), Rows: len(lats), Inside: make([]bool, len(lons)*len(lats))}
	for row, lat := range lats {
		for col, lon := range lons {
			m.Inside[row*m.Cols+col] = region.Contains(lon, lat)
		}
	}
	return m
}
