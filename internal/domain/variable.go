package domain

import (
	"fmt"
	"sort"
)

// Aggregation describes how provider values become one value per day.
type Aggregation string

const (
	// HourlyMean averages the non-null hourly values of each UTC day.
	HourlyMean Aggregation = "hourly_mean"
	// DailyValue uses the provider's daily value as-is.
	DailyValue Aggregation = "daily"
)

// Variable describes one measured quantity and how it flows through the
// pipeline. Styling lives in the colormap package, keyed by ID.
type Variable struct {
	ID   string
	Name string
	Unit string

	// Floor is the physical lower bound of the quantity.
	Floor float64
	// ClampGrid applies Floor to interpolated grids before they are persisted.
	// Variables without it only see the floor when colorized.
	ClampGrid bool

	// CacheName is the directory holding the per-point cache files.
	CacheName string
	// Parameter is the provider field name.
	Parameter   string
	Aggregation Aggregation
}

// Built-in variable IDs.
const (
	SoilMoisture  = "soil-moisture"
	Precipitation = "precipitation"
)

var variables = map[string]Variable{
	SoilMoisture: {
		ID:          SoilMoisture,
		Name:        "Soil moisture (0-7 cm)",
		Unit:        "m³/m³",
		Floor:       0,
		ClampGrid:   false,
		CacheName:   "soil-moisture-01",
		Parameter:   "soil_moisture_0_to_7cm",
		Aggregation: HourlyMean,
	},
	Precipitation: {
		ID:          Precipitation,
		Name:        "Precipitation",
		Unit:        "mm/day",
		Floor:       0,
		ClampGrid:   true,
		CacheName:   "precipitation-01",
		Parameter:   "precipitation_sum",
		Aggregation: DailyValue,
	},
}

// LookupVariable returns the descriptor registered under id.
func LookupVariable(id string) (Variable, error) {
	v, ok := variables[id]
	if !ok {
		return Variable{}, fmt.Errorf("unknown variable %q", id)
	}
	return v, nil
}

// VariableIDs lists the registered variable IDs in sorted order.
func VariableIDs() []string {
	ids := make([]string, 0, len(variables))
	for id := range variables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
