package interp

import (
	"fmt"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/tidwall/rtree"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// baryEps is the tolerance for accepting a point on a triangle edge.
const baryEps = 1e-10

// Triangulation is a Delaunay triangulation of the sample locations with the
// sample values attached to its vertices. x is longitude, y is latitude.
type Triangulation struct {
	xs, ys    []float64
	values    []float64
	tris      []int // three vertex indices per triangle
	halfedges []int
	index     *rtree.RTreeG[int]
}

// Triangulate builds the triangulation once per sample set. Samples sharing a
// location keep the first value. Fewer than three distinct locations, or
// locations that are all collinear, give ErrTooFewSamples.
func Triangulate(samples []domain.Sample) (*Triangulation, error) {
	seen := make(map[[2]float64]struct{}, len(samples))
	pts := make([]delaunay.Point, 0, len(samples))
	vals := make([]float64, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsNaN(s.Lat) || math.IsNaN(s.Lon) {
			continue
		}
		k := [2]float64{s.Lon, s.Lat}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		pts = append(pts, delaunay.Point{X: s.Lon, Y: s.Lat})
		vals = append(vals, s.Value)
	}
	if len(pts) < 3 {
		return nil, fmt.Errorf("%w: %d distinct locations", ErrTooFewSamples, len(pts))
	}

	dt, err := delaunay.Triangulate(pts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTooFewSamples, err)
	}
	if len(dt.Triangles) == 0 {
		return nil, fmt.Errorf("%w: samples are collinear", ErrTooFewSamples)
	}

	t := &Triangulation{
		xs:        make([]float64, len(pts)),
		ys:        make([]float64, len(pts)),
		values:    vals,
		tris:      dt.Triangles,
		halfedges: dt.Halfedges,
		index:     &rtree.RTreeG[int]{},
	}
	for i, p := range pts {
		t.xs[i], t.ys[i] = p.X, p.Y
	}
	for tri := 0; tri < t.NumTriangles(); tri++ {
		a, b, c := t.vertices(tri)
		t.index.Insert(
			[2]float64{min(t.xs[a], t.xs[b], t.xs[c]), min(t.ys[a], t.ys[b], t.ys[c])},
			[2]float64{max(t.xs[a], t.xs[b], t.xs[c]), max(t.ys[a], t.ys[b], t.ys[c])},
			tri,
		)
	}
	return t, nil
}

// NumPoints is the number of distinct vertices.
func (t *Triangulation) NumPoints() int { return len(t.xs) }

// NumTriangles is the number of triangles.
func (t *Triangulation) NumTriangles() int { return len(t.tris) / 3 }

func (t *Triangulation) vertices(tri int) (a, b, c int) {
	return t.tris[3*tri], t.tris[3*tri+1], t.tris[3*tri+2]
}

// neighbor returns the triangle across the edge opposite vertex k of tri,
// or -1 on the convex hull.
func (t *Triangulation) neighbor(tri, k int) int {
	h := t.halfedges[3*tri+(k+1)%3]
	if h < 0 {
		return -1
	}
	return h / 3
}

// barycentric returns the coordinates of (x, y) relative to tri. ok is false
// for a degenerate triangle.
func (t *Triangulation) barycentric(tri int, x, y float64) (b [3]float64, ok bool) {
	a, bb, c := t.vertices(tri)
	x0, y0 := t.xs[a], t.ys[a]
	x1, y1 := t.xs[bb], t.ys[bb]
	x2, y2 := t.xs[c], t.ys[c]
	det := (y1-y2)*(x0-x2) + (x2-x1)*(y0-y2)
	if det == 0 {
		return b, false
	}
	b[0] = ((y1-y2)*(x-x2) + (x2-x1)*(y-y2)) / det
	b[1] = ((y2-y0)*(x-x2) + (x0-x2)*(y-y2)) / det
	b[2] = 1 - b[0] - b[1]
	return b, true
}

// locate finds a triangle containing (x, y). ok is false outside the hull.
func (t *Triangulation) locate(x, y float64) (tri int, b [3]float64, ok bool) {
	tri = -1
	t.index.Search([2]float64{x, y}, [2]float64{x, y}, func(_, _ [2]float64, cand int) bool {
		bc, valid := t.barycentric(cand, x, y)
		if !valid || bc[0] < -baryEps || bc[1] < -baryEps || bc[2] < -baryEps {
			return true
		}
		tri, b = cand, bc
		return false
	})
	return tri, b, tri >= 0
}

// adjacency lists the vertices sharing an edge with each vertex.
func (t *Triangulation) adjacency() [][]int {
	adj := make([][]int, len(t.xs))
	for e := range t.tris {
		opp := t.halfedges[e]
		if opp >= 0 && opp < e {
			continue
		}
		a := t.tris[e]
		b := t.tris[nextHalfedge(e)]
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}
	return adj
}

func nextHalfedge(e int) int {
	if e%3 == 2 {
		return e - 2
	}
	return e + 1
}
