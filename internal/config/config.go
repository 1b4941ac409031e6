package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/lunasilvestre/cheias-pt/internal/domain"
)

// DefaultOpenMeteoURL is the archive API the acquisition step queries.
const DefaultOpenMeteoURL = "https://archive-api.open-meteo.com/v1/archive"

// Config holds all job settings, populated from environment variables.
type Config struct {
	Domain         domain.Domain
	SampleSpacing  float64
	BoundaryPath   string
	BoundaryBuffer float64

	Variables []string
	StartDate time.Time
	EndDate   time.Time

	CacheDir     string
	COGDir       string
	FramesDir    string
	ManifestPath string

	PNGScale          int
	QuantStep         int
	FallbackThreshold float64
	GapPolicy         domain.GapPolicy
	Workers           int

	// Open-Meteo acquisition.
	FetchEnabled     bool
	OpenMeteoURL     string
	OpenMeteoTimeout time.Duration
	FetchInterval    time.Duration

	// Artifact notifications; disabled when KafkaBrokers is empty.
	KafkaBrokers       []string
	KafkaArtifactTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	bbox, err := parseBBox(sharedcfg.EnvOrDefault("DOMAIN_BBOX", "-9.6,36.9,-6.1,42.2"))
	if err != nil {
		return nil, err
	}
	pixel, err := parsePositiveFloat("PIXEL_SIZE", "0.02")
	if err != nil {
		return nil, err
	}
	spacing, err := parsePositiveFloat("SAMPLE_SPACING", "0.1")
	if err != nil {
		return nil, err
	}
	buffer, err := parseFloat("BOUNDARY_BUFFER", "0.15")
	if err != nil || buffer < 0 {
		return nil, errors.New("invalid BOUNDARY_BUFFER: must be a non-negative number")
	}
	threshold, err := parseFloat("FALLBACK_THRESHOLD", "0.3")
	if err != nil || threshold < 0 || threshold > 1 {
		return nil, errors.New("invalid FALLBACK_THRESHOLD: must be between 0 and 1")
	}

	start, err := parseDate("START_DATE", "2025-12-01")
	if err != nil {
		return nil, err
	}
	end, err := parseDate("END_DATE", "2026-02-15")
	if err != nil {
		return nil, err
	}

	variables, err := parseVariables(sharedcfg.EnvOrDefault("VARIABLES", "soil-moisture,precipitation"))
	if err != nil {
		return nil, err
	}

	scale, err := parseIntRange("PNG_SCALE", "4", 1, 16)
	if err != nil {
		return nil, err
	}
	quant, err := parseIntRange("QUANT_STEP", "4", 1, 128)
	if err != nil {
		return nil, err
	}
	workers, err := parseIntRange("WORKERS", strconv.Itoa(runtime.NumCPU()), 1, 256)
	if err != nil {
		return nil, err
	}

	gap, err := domain.ParseGapPolicy(sharedcfg.EnvOrDefault("GAP_POLICY", string(domain.GapSkip)))
	if err != nil {
		return nil, fmt.Errorf("invalid GAP_POLICY: %w", err)
	}

	omTimeout, err := parseDuration("OPEN_METEO_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	interval, err := time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_INTERVAL", "250ms"))
	if err != nil || interval < 0 {
		return nil, errors.New("invalid FETCH_INTERVAL")
	}

	cfg := &Config{
		Domain:         domain.Domain{West: bbox[0], South: bbox[1], East: bbox[2], North: bbox[3], PixelSize: pixel},
		SampleSpacing:  spacing,
		BoundaryPath:   sharedcfg.EnvOrDefault("BOUNDARY_PATH", "assets/districts.geojson"),
		BoundaryBuffer: buffer,

		Variables: variables,
		StartDate: start,
		EndDate:   end,

		CacheDir:     sharedcfg.EnvOrDefault("CACHE_DIR", "data/cache"),
		COGDir:       sharedcfg.EnvOrDefault("COG_DIR", "data/cog"),
		FramesDir:    sharedcfg.EnvOrDefault("FRAMES_DIR", "data/raster-frames"),
		ManifestPath: sharedcfg.EnvOrDefault("MANIFEST_PATH", "data/frontend/raster-manifest.json"),

		PNGScale:          scale,
		QuantStep:         quant,
		FallbackThreshold: threshold,
		GapPolicy:         gap,
		Workers:           workers,

		FetchEnabled:     os.Getenv("FETCH_ENABLED") == "true",
		OpenMeteoURL:     sharedcfg.EnvOrDefault("OPEN_METEO_URL", DefaultOpenMeteoURL),
		OpenMeteoTimeout: omTimeout,
		FetchInterval:    interval,

		KafkaBrokers:       sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaArtifactTopic: sharedcfg.EnvOrDefault("KAFKA_ARTIFACT_TOPIC", "raster-artifacts"),

		// An explicitly empty HTTP_ADDR disables the server.
		HTTPAddr:        envOrDefaultAllowEmpty("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if err := cfg.Domain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid DOMAIN_BBOX/PIXEL_SIZE: %w", err)
	}
	if cfg.EndDate.Before(cfg.StartDate) {
		return nil, errors.New("END_DATE is before START_DATE")
	}
	if cfg.BoundaryPath == "" {
		return nil, errors.New("BOUNDARY_PATH is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaArtifactTopic == "" {
		return nil, errors.New("KAFKA_ARTIFACT_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// Dates returns every date from StartDate to EndDate inclusive.
func (c *Config) Dates() []time.Time {
	return domain.DateRange(c.StartDate, c.EndDate)
}

func envOrDefaultAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func parseBBox(s string) ([4]float64, error) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, errors.New("invalid DOMAIN_BBOX: want west,south,east,north")
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, errors.New("invalid DOMAIN_BBOX: want west,south,east,north")
		}
		out[i] = v
	}
	return out, nil
}

func parseFloat(key, fallback string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, fallback), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parsePositiveFloat(key, fallback string) (float64, error) {
	v, err := parseFloat(key, fallback)
	if err != nil || !(v > 0) {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return v, nil
}

func parseIntRange(key, fallback string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", key, lo, hi)
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseDate(key, fallback string) (time.Time, error) {
	d, err := domain.ParseDate(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: want YYYY-MM-DD", key)
	}
	return d, nil
}

func parseVariables(s string) ([]string, error) {
	ids := sharedcfg.ParseBrokers(s)
	if len(ids) == 0 {
		return nil, errors.New("VARIABLES is required")
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, err := domain.LookupVariable(id); err != nil {
			return nil, fmt.Errorf("invalid VARIABLES: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
