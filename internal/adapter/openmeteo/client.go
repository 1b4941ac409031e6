// Package openmeteo fetches per-point daily series from the Open-Meteo
// archive API and stores them in the point cache.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/lunasilvestre/cheias-pt/internal/adapter/pointcache"
	"github.com/lunasilvestre/cheias-pt/internal/boundary"
	"github.com/lunasilvestre/cheias-pt/internal/domain"
	"github.com/lunasilvestre/cheias-pt/internal/observability"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 10 * time.Second
)

// Client queries the Open-Meteo archive API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient creates an archive API client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        baseURL,
		metrics:        metrics,
		logger:         logger,
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// statusError is a non-200 response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("open-meteo API error: status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// FetchPoint requests every variable at p over [start, end] in one call and
// returns one daily record per variable ID. Hourly variables are reduced to
// the mean of the non-null hours of each UTC day.
func (c *Client) FetchPoint(ctx context.Context, p boundary.Point, variables []domain.Variable, start, end time.Time) (map[string]pointcache.Record, error) {
	var hourly, daily []string
	for _, v := range variables {
		switch v.Aggregation {
		case domain.HourlyMean:
			hourly = append(hourly, v.Parameter)
		case domain.DailyValue:
			daily = append(daily, v.Parameter)
		default:
			return nil, fmt.Errorf("variable %s: unsupported aggregation %q", v.ID, v.Aggregation)
		}
	}

	params := url.Values{
		"latitude":   {strconv.FormatFloat(p.Lat, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(p.Lon, 'f', -1, 64)},
		"start_date": {start.Format(domain.DateLayout)},
		"end_date":   {end.Format(domain.DateLayout)},
		"timezone":   {"UTC"},
	}
	if len(hourly) > 0 {
		params.Set("hourly", strings.Join(hourly, ","))
	}
	if len(daily) > 0 {
		params.Set("daily", strings.Join(daily, ","))
	}

	resp, err := c.doWithRetry(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetch %v,%v: %w", p.Lat, p.Lon, err)
	}

	out := make(map[string]pointcache.Record, len(variables))
	for _, v := range variables {
		var (
			dates  []string
			values []*float64
			err    error
		)
		if v.Aggregation == domain.HourlyMean {
			dates, values, err = resp.Hourly.dailyMean(v.Parameter)
		} else {
			dates, values, err = resp.Daily.column(v.Parameter)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %v,%v: %s: %w", p.Lat, p.Lon, v.ID, err)
		}
		out[v.ID] = pointcache.Record{Lat: p.Lat, Lon: p.Lon, Dates: dates, Values: values}
	}
	return out, nil
}

func (c *Client) doWithRetry(ctx context.Context, fullURL string) (*response, error) {
	backoff := c.initialBackoff
	for attempt := 0; ; attempt++ {
		resp, err := c.doRequest(ctx, fullURL)
		if err == nil {
			return resp, nil
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if ctx.Err() != nil || attempt >= c.maxRetries {
			return nil, err
		}
		c.logger.Warn("open-meteo request failed, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, c.maxBackoff)
	}
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Open-Meteo API response types. Each block holds a "time" column plus one
// column per requested parameter.

type response struct {
	Hourly block `json:"hourly"`
	Daily  block `json:"daily"`
}

type block map[string]json.RawMessage

func (b block) column(name string) ([]string, []*float64, error) {
	rawTimes, ok := b["time"]
	if !ok {
		return nil, nil, errors.New("missing time column")
	}
	rawValues, ok := b[name]
	if !ok {
		return nil, nil, fmt.Errorf("missing %s column", name)
	}
	var times []string
	if err := json.Unmarshal(rawTimes, &times); err != nil {
		return nil, nil, fmt.Errorf("decode time column: %w", err)
	}
	var values []*float64
	if err := json.Unmarshal(rawValues, &values); err != nil {
		return nil, nil, fmt.Errorf("decode %s column: %w", name, err)
	}
	if len(times) != len(values) {
		return nil, nil, fmt.Errorf("%s: %d times but %d values", name, len(times), len(values))
	}
	return times, values, nil
}

// dailyMean groups an hourly column by the date prefix of its timestamps.
// A day whose hours are all null maps to null.
func (b block) dailyMean(name string) ([]string, []*float64, error) {
	times, values, err := b.column(name)
	if err != nil {
		return nil, nil, err
	}
	type acc struct {
		sum float64
		n   int
	}
	days := make(map[string]*acc)
	for i, ts := range times {
		if len(ts) < len(domain.DateLayout) {
			return nil, nil, fmt.Errorf("malformed timestamp %q", ts)
		}
		day := ts[:len(domain.DateLayout)]
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		if values[i] != nil {
			a.sum += *values[i]
			a.n++
		}
	}

	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	means := make([]*float64, len(dates))
	for i, d := range dates {
		if a := days[d]; a.n > 0 {
			m := a.sum / float64(a.n)
			means[i] = &m
		}
	}
	return dates, means, nil
}
