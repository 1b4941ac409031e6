package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lunasilvestre/cheias-pt/internal/colormap"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
	"github.com/lunasilvestre/cheias-pt/internal/interp"
	"github.com/lunasilvestre/cheias-pt/internal/observability"
)

// SeriesLoader reads the samples of one variable for the given dates.
type SeriesLoader interface {
	LoadSeries(ctx context.Context, v domain.Variable, dates []time.Time) (domain.SampleSeries, error)
}

// TileWriter persists the canonical grid of a unit.
type TileWriter interface {
	WriteFile(path string, field domain.GridField) (int64, error)
}

// FrameWriter persists the web frame of a unit.
type FrameWriter interface {
	WriteFile(path string, frame colormap.Frame) (int64, error)
}

// ArtifactPublisher announces finished artifacts.
type ArtifactPublisher interface {
	PublishArtifacts(ctx context.Context, artifacts []domain.Artifact) error
}

// Options are the per-run settings of the pipeline.
type Options struct {
	Dates     []time.Time
	COGDir    string
	FramesDir string
	Workers   int
	GapPolicy domain.GapPolicy
}

// UnitFailure records a (variable, date) unit that produced no estimate.
type UnitFailure struct {
	Variable string
	Date     time.Time
	Err      error
}

// VariableResult is the outcome of one variable.
type VariableResult struct {
	Variable  domain.Variable
	Range     colormap.Range
	Artifacts []domain.Artifact // ordered by date
	Fallbacks int
}

// Summary is the outcome of a run, in variable order.
type Summary struct {
	Variables []VariableResult
	Failures  []UnitFailure
}

// Pipeline runs the statistics pass and then the render pass for each
// variable.
type Pipeline struct {
	loader       SeriesLoader
	interpolator *interp.Interpolator
	tiles        TileWriter
	frames       FrameWriter
	publisher    ArtifactPublisher
	logger       *slog.Logger
	metrics      *observability.Metrics
	opts         Options
	ready        atomic.Bool

	running  atomic.Bool
	current  atomic.Value // string
	unitsOK  atomic.Int64
	unitsBad atomic.Int64
	planned  atomic.Int64
}

// Status is a snapshot of run progress.
type Status struct {
	Running      bool   `json:"running"`
	Variable     string `json:"variable,omitempty"`
	UnitsDone    int64  `json:"units_done"`
	UnitsFailed  int64  `json:"units_failed"`
	UnitsPlanned int64  `json:"units_planned"`
}

// New creates a Pipeline. publisher may be nil.
func New(
	loader SeriesLoader,
	ip *interp.Interpolator,
	tiles TileWriter,
	frames FrameWriter,
	publisher ArtifactPublisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	opts Options,
) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.GapPolicy == "" {
		opts.GapPolicy = domain.GapSkip
	}
	return &Pipeline{
		loader:       loader,
		interpolator: ip,
		tiles:        tiles,
		frames:       frames,
		publisher:    publisher,
		logger:       logger,
		metrics:      metrics,
		opts:         opts,
	}
}

// CheckReadiness returns nil once the pipeline has completed at least one unit,
// or an error describing why the job is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed any unit yet")
	}
	return nil
}

// Status reports the progress of the current or last run.
func (p *Pipeline) Status() Status {
	v, _ := p.current.Load().(string)
	return Status{
		Running:      p.running.Load(),
		Variable:     v,
		UnitsDone:    p.unitsOK.Load(),
		UnitsFailed:  p.unitsBad.Load(),
		UnitsPlanned: p.planned.Load(),
	}
}

// Run processes every variable in order. Unit failures are collected and
// returned joined together after all units ran; a write failure or context
// cancellation stops the run immediately. The summary is valid in both cases.
func (p *Pipeline) Run(ctx context.Context, variables []domain.Variable) (*Summary, error) {
	p.logger.Info("pipeline started",
		"variables", len(variables),
		"dates", len(p.opts.Dates),
		"workers", p.opts.Workers,
		"gap_policy", string(p.opts.GapPolicy),
	)
	p.metrics.PipelineRunning.Set(1)
	p.running.Store(true)
	p.planned.Store(int64(len(variables) * len(p.opts.Dates)))
	defer func() {
		p.metrics.PipelineRunning.Set(0)
		p.running.Store(false)
	}()

	summary := &Summary{}
	var unitErrs []error
	for _, v := range variables {
		p.current.Store(v.ID)
		res, failures, err := p.runVariable(ctx, v)
		summary.Variables = append(summary.Variables, res)
		summary.Failures = append(summary.Failures, failures...)
		if err != nil {
			return summary, err
		}
		for _, f := range failures {
			unitErrs = append(unitErrs, fmt.Errorf("%s %s: %w", f.Variable, f.Date.Format(domain.DateLayout), f.Err))
		}
		if err := p.publish(ctx, res.Artifacts); err != nil {
			unitErrs = append(unitErrs, err)
		}
	}

	p.logger.Info("pipeline finished", "failures", len(summary.Failures))
	return summary, errors.Join(unitErrs...)
}

func (p *Pipeline) runVariable(ctx context.Context, v domain.Variable) (VariableResult, []UnitFailure, error) {
	res := VariableResult{Variable: v}
	style, err := colormap.Lookup(v.ID)
	if err != nil {
		return res, nil, err
	}

	// Statistics pass: the range is fixed before any frame is rendered.
	series, err := p.loader.LoadSeries(ctx, v, p.opts.Dates)
	if err != nil {
		return res, nil, fmt.Errorf("load %s: %w", v.ID, err)
	}
	res.Range = colormap.ComputeRange(series)
	p.metrics.SampleCount.WithLabelValues(v.ID).Set(float64(res.Range.Count))
	p.logger.Info("statistics pass complete",
		"variable", v.ID,
		"dates_with_data", len(series.Sets),
		"samples", res.Range.Count,
		"min", res.Range.Min,
		"max", res.Range.Max,
	)

	sets := make(map[string]domain.SampleSet, len(series.Sets))
	for _, s := range series.Sets {
		sets[s.Date.Format(domain.DateLayout)] = s
	}

	// Render pass.
	var (
		mu        sync.Mutex
		failures  []UnitFailure
		artifacts []domain.Artifact
		fallbacks int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, date := range p.opts.Dates {
		set, ok := sets[date.Format(domain.DateLayout)]
		if !ok {
			set = domain.SampleSet{Variable: v.ID, Date: date}
		}
		g.Go(func() error {
			u, err := p.runUnit(gctx, v, set, style, res.Range)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if u.artifact != nil {
				artifacts = append(artifacts, *u.artifact)
			}
			if u.failure != nil {
				failures = append(failures, UnitFailure{Variable: v.ID, Date: date, Err: u.failure})
				p.unitsBad.Add(1)
			} else {
				p.unitsOK.Add(1)
			}
			if u.fallback {
				fallbacks++
			}
			return nil
		})
	}
	err = g.Wait()

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Date < artifacts[j].Date })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Date.Before(failures[j].Date) })
	res.Artifacts = artifacts
	res.Fallbacks = fallbacks
	if err != nil {
		return res, failures, err
	}

	p.logger.Info("variable complete",
		"variable", v.ID,
		"artifacts", len(artifacts),
		"failures", len(failures),
		"fallbacks", fallbacks,
	)
	return res, failures, nil
}

type unitResult struct {
	artifact *domain.Artifact
	failure  error
	fallback bool
}

// runUnit interpolates, encodes and renders one date. The returned error is
// fatal for the run; interpolation failures are reported in the result.
func (p *Pipeline) runUnit(ctx context.Context, v domain.Variable, set domain.SampleSet, style colormap.Style, rng colormap.Range) (unitResult, error) {
	if err := ctx.Err(); err != nil {
		return unitResult{}, err
	}
	start := time.Now()
	date := set.Date.Format(domain.DateLayout)

	field, res, err := p.interpolator.Interpolate(set, v)
	if err != nil {
		return p.handleGap(v, set, err)
	}
	if res.Fallback {
		p.metrics.Fallbacks.WithLabelValues(v.ID).Inc()
		p.logger.Info("interpolation fell back",
			"variable", v.ID,
			"date", date,
			"strategy", res.Strategy,
			"nan_fraction", res.NaNFraction,
			"rejected", res.Rejected,
		)
	}

	a, err := p.write(v, set.Date, field, style, rng)
	if err != nil {
		return unitResult{}, err
	}
	a.Strategy = res.Strategy
	a.ValidCells = field.ValidCount()

	p.metrics.UnitsProcessed.WithLabelValues(v.ID, observability.OutcomeOK).Inc()
	p.metrics.UnitDuration.WithLabelValues(v.ID).Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	p.logger.Debug("unit complete", "variable", v.ID, "date", date, "strategy", res.Strategy, "valid_cells", a.ValidCells)
	return unitResult{artifact: &a, fallback: res.Fallback}, nil
}

// handleGap applies the gap policy to a unit whose interpolation failed.
func (p *Pipeline) handleGap(v domain.Variable, set domain.SampleSet, cause error) (unitResult, error) {
	p.logger.Warn("interpolation failed",
		"variable", v.ID,
		"date", set.Date.Format(domain.DateLayout),
		"samples", len(set.Samples),
		"gap_policy", string(p.opts.GapPolicy),
		"error", cause,
	)
	if p.opts.GapPolicy != domain.GapNoData {
		p.metrics.UnitsProcessed.WithLabelValues(v.ID, observability.OutcomeFailed).Inc()
		return unitResult{failure: cause}, nil
	}

	empty := domain.NewGridField(v.ID, set.Date, p.interpolator.Domain())
	style, err := colormap.Lookup(v.ID)
	if err != nil {
		return unitResult{}, err
	}
	a, err := p.write(v, set.Date, empty, style, colormap.Range{})
	if err != nil {
		return unitResult{}, err
	}
	a.NoData = true
	p.metrics.UnitsProcessed.WithLabelValues(v.ID, observability.OutcomeNoData).Inc()
	return unitResult{artifact: &a, failure: cause}, nil
}

// write encodes the tile and renders the frame from the same in-memory field.
func (p *Pipeline) write(v domain.Variable, date time.Time, field domain.GridField, style colormap.Style, rng colormap.Range) (domain.Artifact, error) {
	tilePath := domain.TilePath(p.opts.COGDir, v.ID, date)
	tileBytes, err := p.tiles.WriteFile(tilePath, field)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("write tile %s: %w", tilePath, err)
	}

	imagePath := domain.ImagePath(p.opts.FramesDir, v.ID, date)
	imageBytes, err := p.frames.WriteFile(imagePath, colormap.Colorize(field, style, rng))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("write frame %s: %w", imagePath, err)
	}

	p.metrics.ArtifactBytes.WithLabelValues("tile").Observe(float64(tileBytes))
	p.metrics.ArtifactBytes.WithLabelValues("image").Observe(float64(imageBytes))
	return domain.StampArtifact(domain.Artifact{
		Variable:   v.ID,
		Date:       date.Format(domain.DateLayout),
		TilePath:   tilePath,
		ImagePath:  imagePath,
		TileBytes:  tileBytes,
		ImageBytes: imageBytes,
	}), nil
}

func (p *Pipeline) publish(ctx context.Context, artifacts []domain.Artifact) error {
	if p.publisher == nil || len(artifacts) == 0 {
		return nil
	}
	if err := p.publisher.PublishArtifacts(ctx, artifacts); err != nil {
		p.logger.Error("publish artifacts failed", "error", err, "count", len(artifacts))
		return fmt.Errorf("publish artifacts: %w", err)
	}
	p.metrics.EventsPublished.Add(float64(len(artifacts)))
	return nil
}
