package interp

import "math"

// Linear is barycentric interpolation on the triangulation.
type Linear struct{}

func (Linear) Name() string { return "linear" }

func (Linear) Evaluate(t *Triangulation, lons, lats []float64) ([]float64, error) {
	out := make([]float64, len(lons)*len(lats))
	for row, lat := range lats {
		for col, lon := range lons {
			i := row*len(lons) + col
			tri, b, ok := t.locate(lon, lat)
			if !ok {
				out[i] = math.NaN()
				continue
			}
			a, bb, c := t.vertices(tri)
			out[i] = b[0]*t.values[a] + b[1]*t.values[bb] + b[2]*t.values[c]
		}
	}
	return out, nil
}
