// Package interp estimates a continuous surface from scattered point samples
// and resamples it onto the domain grid.
//
// Strategies are tried in order. Each non-final strategy must pass a validity
// predicate (the share of NaN cells inside the boundary mask); the last one
// only has to produce a single valid cell. The accepted grid is clamped to
// the variable floor when the variable asks for it, and every cell outside
// the mask is set to NaN.
package interp

import (
	"errors"
	"fmt"
	"math"

	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// DefaultThreshold is the largest accepted share of NaN cells in the mask.
const DefaultThreshold = 0.30

var (
	// ErrTooFewSamples is returned when the samples cannot be triangulated.
	ErrTooFewSamples = errors.New("too few samples to triangulate")
	// ErrInterpolationFailed is returned when no strategy yields a usable grid.
	ErrInterpolationFailed = errors.New("interpolation failed")
)

// Strategy resamples the triangulated samples onto the meshgrid of lons
// (columns) and lats (rows). The result is row-major with NaN where the
// strategy has no estimate.
type Strategy interface {
	Name() string
	Evaluate(t *Triangulation, lons, lats []float64) ([]float64, error)
}

// Result describes how a grid was produced.
type Result struct {
	Strategy string
	// Fallback is true when an earlier strategy was rejected or errored.
	Fallback bool
	// NaNFraction is the share of masked cells left without an estimate
	// before clamping and masking.
	NaNFraction float64
	// Rejected names each discarded strategy with its reason.
	Rejected []string
}

// Interpolator resamples sample sets onto one domain and boundary mask. It
// holds no per-call state and may be shared by concurrent workers.
type Interpolator struct {
	domain     domain.Domain
	lons, lats []float64
	mask       boundary.Mask
	masked     int
	strategies []Strategy
	threshold  float64
}

// Option configures an Interpolator.
type Option func(*Interpolator)

// WithStrategies replaces the default cubic-then-linear order.
func WithStrategies(s ...Strategy) Option {
	return func(ip *Interpolator) { ip.strategies = s }
}

// WithThreshold sets the NaN share above which a non-final strategy is
// rejected.
func WithThreshold(f float64) Option {
	return func(ip *Interpolator) { ip.threshold = f }
}

// New builds an interpolator for d. mask is the unbuffered boundary mask on
// the domain's cell centers and must match its shape.
func New(d domain.Domain, mask boundary.Mask, opts ...Option) (*Interpolator, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if mask.Cols != d.Cols() || mask.Rows != d.Rows() {
		return nil, fmt.Errorf("mask is %dx%d, domain is %dx%d", mask.Cols, mask.Rows, d.Cols(), d.Rows())
	}
	ip := &Interpolator{
		domain:     d,
		lons:       d.CellLons(),
		lats:       d.CellLats(),
		mask:       mask,
		masked:     mask.Count(),
		strategies: []Strategy{NewCloughTocher(), Linear{}},
		threshold:  DefaultThreshold,
	}
	for _, o := range opts {
		o(ip)
	}
	if len(ip.strategies) == 0 {
		return nil, errors.New("no interpolation strategies")
	}
	return ip, nil
}

// Interpolate estimates v on the domain grid from set.
func (ip *Interpolator) Interpolate(set domain.SampleSet, v domain.Variable) (domain.GridField, Result, error) {
	field := domain.NewGridField(set.Variable, set.Date, ip.domain)
	var res Result

	tri, err := Triangulate(set.Samples)
	if err != nil {
		return field, res, err
	}

	last := len(ip.strategies) - 1
	for i, s := range ip.strategies {
		values, err := s.Evaluate(tri, ip.lons, ip.lats)
		if err != nil {
			res.Rejected = append(res.Rejected, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		frac, valid := ip.nanFraction(values)
		accept := valid > 0
		if i < last {
			accept = frac <= ip.threshold
		}
		if !accept {
			res.Rejected = append(res.Rejected, fmt.Sprintf("%s: %.1f%% of masked cells are NaN", s.Name(), 100*frac))
			continue
		}

		res.Strategy = s.Name()
		res.Fallback = i > 0
		res.NaNFraction = frac
		field.Values = values
		ip.finish(field.Values, v)
		return field, res, nil
	}
	return field, res, fmt.Errorf("%w: %s %s", ErrInterpolationFailed, set.Variable, set.Date.Format(domain.DateLayout))
}

// nanFraction is the validity predicate: the share of masked cells that are
// NaN, and the number that are not.
func (ip *Interpolator) nanFraction(values []float64) (frac float64, valid int) {
	if ip.masked == 0 {
		return 1, 0
	}
	nan := 0
	for i, in := range ip.mask.Inside {
		if !in {
			continue
		}
		if math.IsNaN(values[i]) {
			nan++
		} else {
			valid++
		}
	}
	return float64(nan) / float64(ip.masked), valid
}

func (ip *Interpolator) finish(values []float64, v domain.Variable) {
	for i := range values {
		if !ip.mask.Inside[i] {
			values[i] = math.NaN()
			continue
		}
		if v.ClampGrid && values[i] < v.Floor {
			values[i] = v.Floor
		}
	}
}

// Domain returns the grid the interpolator writes.
func (ip *Interpolator) Domain() domain.Domain { return ip.domain }

// Mask returns the unbuffered boundary mask.
func (ip *Interpolator) Mask() boundary.Mask { return ip.mask }
