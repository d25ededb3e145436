package model

import (
	"fmt"
	"strings"
	"time"
)

// Dimension is a grouping key of the integrated table.
type Dimension string

const (
	DimFuel    Dimension = "fuel"
	DimRegion  Dimension = "region"
	DimOwner   Dimension = "owner"
	DimStation Dimension = "station"
	DimDUID    Dimension = "duid"
)

var dimensionAliases = map[string]Dimension{
	"fuel":         DimFuel,
	"fuel_type":    DimFuel,
	"region":       DimRegion,
	"owner":        DimOwner,
	"station":      DimStation,
	"station_name": DimStation,
	"site name":    DimStation,
	"duid":         DimDUID,
	"unit":         DimDUID,
}

// ParseDimension resolves a dimension name, case-insensitively.
func ParseDimension(s string) (Dimension, error) {
	d, ok := dimensionAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown dimension %q", s)
	}
	return d, nil
}

// ParseHierarchy resolves a comma-separated list of dimensions.
func ParseHierarchy(s string) ([]Dimension, error) {
	var dims []Dimension
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := ParseDimension(part)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	if len(dims) == 0 {
		return nil, fmt.Errorf("empty hierarchy")
	}
	return dims, nil
}

// Value returns the row's key for dimension d. Empty means missing.
func (r IntegratedRow) Value(d Dimension) string {
	switch d {
	case DimFuel:
		return string(r.Fuel)
	case DimRegion:
		return string(r.Region)
	case DimOwner:
		return r.Owner
	case DimStation:
		return r.StationName
	case DimDUID:
		return r.DUID
	}
	return ""
}

// AggregateRow is one group of a hierarchy rollup. Keys align with the
// hierarchy the row was computed for.
type AggregateRow struct {
	Keys           []string  `json:"keys"`
	GenerationMWh  float64   `json:"generation_mwh"`
	RevenueDollars float64   `json:"total_revenue_dollars"`
	AvgPrice       float64   `json:"average_price_per_mwh"`
	Records        int       `json:"record_count"`
	Start          time.Time `json:"start_date"`
	End            time.Time `json:"end_date"`
	CapacityMW     float64   `json:"capacity_mw"`
	UtilizationPct float64   `json:"capacity_utilization_pct"`
}

// Record is a persisted maximum and the time it was set.
type Record struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RenewableRecords holds the all-time and hour-of-day renewable share maxima.
type RenewableRecords struct {
	AllTime Record         `json:"all_time"`
	Hourly  map[int]Record `json:"hourly"`
}
