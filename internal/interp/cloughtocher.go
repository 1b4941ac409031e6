package interp

import (
	"errors"
	"math"
)

// CloughTocher is the piecewise cubic, C1-continuous interpolant on the
// triangulation. Vertex gradients come from a global estimate that minimises
// the curvature of the surface (Nielson's method).
type CloughTocher struct {
	// Tol is the relative gradient change at which the estimate stops.
	Tol float64
	// MaxIter bounds the Gauss-Seidel sweeps.
	MaxIter int
}

// NewCloughTocher returns the interpolant with tol 1e-6 and 400 sweeps.
func NewCloughTocher() CloughTocher {
	return CloughTocher{Tol: 1e-6, MaxIter: 400}
}

func (CloughTocher) Name() string { return "cubic" }

var errNonFiniteGradient = errors.New("gradient estimate is not finite")

func (ct CloughTocher) Evaluate(t *Triangulation, lons, lats []float64) ([]float64, error) {
	grad := ct.gradients(t)
	for _, g := range grad {
		if math.IsNaN(g[0]) || math.IsNaN(g[1]) || math.IsInf(g[0], 0) || math.IsInf(g[1], 0) {
			return nil, errNonFiniteGradient
		}
	}

	coeffs := make([]*ctPatch, t.NumTriangles())
	out := make([]float64, len(lons)*len(lats))
	for row, lat := range lats {
		for col, lon := range lons {
			i := row*len(lons) + col
			tri, b, ok := t.locate(lon, lat)
			if !ok {
				out[i] = math.NaN()
				continue
			}
			if coeffs[tri] == nil {
				coeffs[tri] = newPatch(t, grad, tri)
			}
			out[i] = coeffs[tri].eval(b)
		}
	}
	return out, nil
}

// gradients runs the Gauss-Seidel iteration from zero gradients. Vertices
// with a singular local system keep their previous estimate.
func (ct CloughTocher) gradients(t *Triangulation) [][2]float64 {
	adj := t.adjacency()
	grad := make([][2]float64, t.NumPoints())
	maxIter := ct.MaxIter
	if maxIter <= 0 {
		maxIter = 400
	}

	for iter := 0; iter < maxIter; iter++ {
		worst := 0.0
		for p := range grad {
			var q11, q12, q22, s1, s2 float64
			for _, n := range adj[p] {
				ex := t.xs[n] - t.xs[p]
				ey := t.ys[n] - t.ys[p]
				l := math.Hypot(ex, ey)
				l3 := l * l * l
				df2 := -ex*grad[n][0] - ey*grad[n][1]
				q11 += 4 * ex * ex / l3
				q12 += 4 * ex * ey / l3
				q22 += 4 * ey * ey / l3
				w := 6*(t.values[p]-t.values[n]) - 2*df2
				s1 += w * ex / l3
				s2 += w * ey / l3
			}
			det := q11*q22 - q12*q12
			if det == 0 {
				continue
			}
			r1 := (q22*s1 - q12*s2) / det
			r2 := (-q12*s1 + q11*s2) / det

			change := math.Max(math.Abs(grad[p][0]+r1), math.Abs(grad[p][1]+r2))
			grad[p] = [2]float64{-r1, -r2}
			change /= math.Max(1, math.Max(math.Abs(r1), math.Abs(r2)))
			worst = math.Max(worst, change)
		}
		if worst < ct.Tol {
			break
		}
	}
	return grad
}

// ctPatch holds the Bezier control net of one macro-triangle.
type ctPatch struct {
	c3000, c0300, c0030                      float64
	c2100, c2010, c1200, c0210, c1020, c0120 float64
	c2001, c0201, c0021                      float64
	c1101, c1011, c0111                      float64
	c1002, c0102, c0012                      float64
	c0003                                    float64
}

func newPatch(t *Triangulation, grad [][2]float64, tri int) *ctPatch {
	v0, v1, v2 := t.vertices(tri)
	x0, y0 := t.xs[v0], t.ys[v0]
	x1, y1 := t.xs[v1], t.ys[v1]
	x2, y2 := t.xs[v2], t.ys[v2]

	e12x, e12y := x1-x0, y1-y0
	e23x, e23y := x2-x1, y2-y1
	e31x, e31y := x0-x2, y0-y2

	f1, f2, f3 := t.values[v0], t.values[v1], t.values[v2]
	g1, g2, g3 := grad[v0], grad[v1], grad[v2]

	df12 := g1[0]*e12x + g1[1]*e12y
	df21 := -(g2[0]*e12x + g2[1]*e12y)
	df23 := g2[0]*e23x + g2[1]*e23y
	df32 := -(g3[0]*e23x + g3[1]*e23y)
	df31 := g3[0]*e31x + g3[1]*e31y
	df13 := -(g1[0]*e31x + g1[1]*e31y)

	p := &ctPatch{c3000: f1, c0300: f2, c0030: f3}
	p.c2100 = (df12 + 3*p.c3000) / 3
	p.c2010 = (df13 + 3*p.c3000) / 3
	p.c1200 = (df21 + 3*p.c0300) / 3
	p.c0210 = (df23 + 3*p.c0300) / 3
	p.c1020 = (df31 + 3*p.c0030) / 3
	p.c0120 = (df32 + 3*p.c0030) / 3

	p.c2001 = (p.c2100 + p.c2010 + p.c3000) / 3
	p.c0201 = (p.c1200 + p.c0300 + p.c0210) / 3
	p.c0021 = (p.c1020 + p.c0120 + p.c0030) / 3

	// The cross-boundary derivative must be linear along each edge. The
	// condition is written in the barycentric coordinates of the centroid of
	// the neighbouring triangle; hull edges use the edge direction instead.
	var g [3]float64
	for k := 0; k < 3; k++ {
		nb := t.neighbor(tri, k)
		if nb < 0 {
			g[k] = -0.5
			continue
		}
		a, b, c := t.vertices(nb)
		cx := (t.xs[a] + t.xs[b] + t.xs[c]) / 3
		cy := (t.ys[a] + t.ys[b] + t.ys[c]) / 3
		bc, _ := t.barycentric(tri, cx, cy)
		switch k {
		case 0:
			g[k] = (2*bc[2] + bc[1] - 1) / (2 - 3*bc[2] - 3*bc[1])
		case 1:
			g[k] = (2*bc[0] + bc[2] - 1) / (2 - 3*bc[0] - 3*bc[2])
		case 2:
			g[k] = (2*bc[1] + bc[0] - 1) / (2 - 3*bc[1] - 3*bc[0])
		}
	}

	p.c0111 = (g[0]*(-p.c0300+3*p.c0210-3*p.c0120+p.c0030) +
		(-p.c0300 + 2*p.c0210 - p.c0120 + p.c0021 + p.c0201)) / 2
	p.c1011 = (g[1]*(-p.c0030+3*p.c1020-3*p.c2010+p.c3000) +
		(-p.c0030 + 2*p.c1020 - p.c2010 + p.c2001 + p.c0021)) / 2
	p.c1101 = (g[2]*(-p.c3000+3*p.c2100-3*p.c1200+p.c0300) +
		(-p.c3000 + 2*p.c2100 - p.c1200 + p.c2001 + p.c0201)) / 2

	p.c1002 = (p.c1101 + p.c1011 + p.c2001) / 3
	p.c0102 = (p.c1101 + p.c0111 + p.c0201) / 3
	p.c0012 = (p.c1011 + p.c0111 + p.c0021) / 3

	p.c0003 = (p.c1002 + p.c0102 + p.c0012) / 3
	return p
}

// eval evaluates the patch at barycentric b. Subtracting the smallest
// coordinate selects the micro-triangle that holds the point.
func (p *ctPatch) eval(b [3]float64) float64 {
	m := min(b[0], b[1], b[2])
	b1, b2, b3, b4 := b[0]-m, b[1]-m, b[2]-m, 3*m

	return b1*b1*b1*p.c3000 + 3*b1*b1*b2*p.c2100 + 3*b1*b1*b3*p.c2010 +
		3*b1*b1*b4*p.c2001 + 3*b1*b2*b2*p.c1200 +
		6*b1*b2*b4*p.c1101 + 3*b1*b3*b3*p.c1020 + 6*b1*b3*b4*p.c1011 +
		3*b1*b4*b4*p.c1002 + b2*b2*b2*p.c0300 + 3*b2*b2*b3*p.c0210 +
		3*b2*b2*b4*p.c0201 + 3*b2*b3*b3*p.c0120 + 6*b2*b3*b4*p.c0111 +
		3*b2*b4*b4*p.c0102 + b3*b3*b3*p.c0030 + 3*b3*b3*b4*p.c0021 +
		3*b3*b4*b4*p.c0012 + b4*b4*b4*p.c0003
}
