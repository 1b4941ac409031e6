package domain

import (
	"sort"
	"time"
)

// DateLayout is the ISO date format used for file names and cache keys.
const DateLayout = "2006-01-02"

// Sample is one point measurement.
type Sample struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Value float64 `json:"value"`
}

// SampleSet holds all valid samples of one variable on one date.
type SampleSet struct {
	Variable string
	Date     time.Time
	Samples  []Sample
}

// Values returns the sample values in order.
func (s SampleSet) Values() []float64 {
	out := make([]float64, len(s.Samples))
	for i, p := range s.Samples {
		out[i] = p.Value
	}
	return out
}

// SampleSeries is every SampleSet of one variable, ordered by date.
type SampleSeries struct {
	Variable string
	Sets     []SampleSet
}

// NewSampleSeries groups samples by date and sorts the dates ascending.
// Dates with no valid sample are omitted.
func NewSampleSeries(variable string, byDate map[time.Time][]Sample) SampleSeries {
	sets := make([]SampleSet, 0, len(byDate))
	for date, samples := range byDate {
		if len(samples) == 0 {
			continue
		}
		sets = append(sets, SampleSet{Variable: variable, Date: date, Samples: samples})
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i].Date.Before(sets[j].Date) })
	return SampleSeries{Variable: variable, Sets: sets}
}

// Dates returns the ordered dates of the series.
func (s SampleSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Sets))
	for i, set := range s.Sets {
		out[i] = set.Date
	}
	return out
}

// DateRange returns every date from start to end inclusive, at UTC midnight.
func DateRange(start, end time.Time) []time.Time {
	start = truncateDay(start)
	end = truncateDay(end)
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// ParseDate parses an ISO date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
