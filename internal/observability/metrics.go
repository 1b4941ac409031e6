package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raster_etl"

// Outcome labels for UnitsProcessed.
const (
	OutcomeOK     = "ok"
	OutcomeNoData = "nodata"
	OutcomeFailed = "failed"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the raster job.
type Metrics struct {
	UnitsProcessed  *prometheus.CounterVec // labels: variable, outcome={ok,nodata,failed}
	Fallbacks       *prometheus.CounterVec // labels: variable
	PipelineRunning prometheus.Gauge

	// Per-unit work.
	UnitDuration  *prometheus.HistogramVec // labels: variable
	ArtifactBytes *prometheus.HistogramVec // labels: kind={tile,image}
	SampleCount   *prometheus.GaugeVec     // labels: variable

	// Acquisition.
	FetchRequests *prometheus.CounterVec // labels: variable, outcome={success,error,cached}
	FetchDuration prometheus.Histogram

	// Notifications.
	EventsPublished prometheus.Counter
}

// NewMetrics creates and registers all job metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UnitsProcessed,
		m.Fallbacks,
		m.PipelineRunning,
		m.UnitDuration,
		m.ArtifactBytes,
		m.SampleCount,
		m.FetchRequests,
		m.FetchDuration,
		m.EventsPublished,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UnitsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_processed_total",
			Help:      "Variable/date units by outcome.",
		}, []string{"variable", "outcome"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpolation_fallbacks_total",
			Help:      "Units where the cubic interpolant was rejected in favour of a later strategy.",
		}, []string{"variable"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while the render pass is active, 0 otherwise.",
		}),
		UnitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Duration of interpolating, encoding and rendering one unit.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"variable"}),
		ArtifactBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Size of written artifacts.",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12),
		}, []string{"kind"}),
		SampleCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series_samples",
			Help:      "Finite sample values seen by the statistics pass.",
		}, []string{"variable"}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Open-Meteo point requests by outcome.",
		}, []string{"variable", "outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Open-Meteo request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_events_published_total",
			Help:      "Artifact notifications written to Kafka.",
		}),
	}
}
