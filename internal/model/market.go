package model

import (
	"strings"
	"time"
)

// IntervalHours is the length of one dispatch interval in hours.
const IntervalHours = 5.0 / 60.0

// Interval is the NEM settlement interval.
const Interval = 5 * time.Minute

type Region string

const (
	RegionNSW Region = "NSW1"
	RegionQLD Region = "QLD1"
	RegionSA  Region = "SA1"
	RegionTAS Region = "TAS1"
	RegionVIC Region = "VIC1"
	// RegionNEM is the system-wide aggregate, not a market region.
	RegionNEM Region = "NEM"
)

// Regions lists the five market regions in display order.
var Regions = []Region{RegionNSW, RegionQLD, RegionSA, RegionTAS, RegionVIC}

// ParseRegion normalizes a region code. Unknown codes are returned upper-cased
// with ok=false.
func ParseRegion(s string) (Region, bool) {
	r := Region(strings.ToUpper(strings.TrimSpace(s)))
	if r == RegionNEM {
		return r, true
	}
	for _, known := range Regions {
		if r == known {
			return r, true
		}
	}
	return r, false
}

type Fuel string

const (
	FuelBattery      Fuel = "Battery Storage"
	FuelSolar        Fuel = "Solar"
	FuelWind         Fuel = "Wind"
	FuelOther        Fuel = "Other"
	FuelCoal         Fuel = "Coal"
	FuelCCGT         Fuel = "CCGT"
	FuelGasOther     Fuel = "Gas other"
	FuelOCGT         Fuel = "OCGT"
	FuelWater        Fuel = "Water"
	FuelBiomass      Fuel = "Biomass"
	FuelRooftopSolar Fuel = "Rooftop Solar"
	FuelTransmission Fuel = "Transmission Flow"
)

// FuelInfo holds display and classification data for a fuel.
type FuelInfo struct {
	Color string
	// StackOrder positions the fuel in stacked charts, lowest first.
	StackOrder int
	Renewable  bool
	// Excluded fuels are not primary generation and stay out of share denominators.
	Excluded bool
}

// FuelCatalog maps every known Fuel to its display and classification data.
var FuelCatalog = map[Fuel]FuelInfo{
	FuelBattery:      {Color: "#9370DB", StackOrder: 0, Excluded: true},
	FuelSolar:        {Color: "#FFD700", StackOrder: 1, Renewable: true},
	FuelWind:         {Color: "#00FF7F", StackOrder: 2, Renewable: true},
	FuelOther:        {Color: "#A9A9A9", StackOrder: 3},
	FuelCoal:         {Color: "#8B4513", StackOrder: 4},
	FuelCCGT:         {Color: "#FF4500", StackOrder: 5},
	FuelGasOther:     {Color: "#FF7F50", StackOrder: 6},
	FuelOCGT:         {Color: "#FF6347", StackOrder: 7},
	FuelWater:        {Color: "#00BFFF", StackOrder: 8, Renewable: true},
	FuelBiomass:      {Color: "#228B22", StackOrder: 9},
	FuelRooftopSolar: {Color: "#FFF59D", StackOrder: 10, Renewable: true},
	FuelTransmission: {Color: "#FFB6C1", StackOrder: 11, Excluded: true},
}

// fuelByLower resolves fuel names case-insensitively.
var fuelByLower map[string]Fuel

func init() {
	fuelByLower = make(map[string]Fuel, len(FuelCatalog))
	for f := range FuelCatalog {
		fuelByLower[strings.ToLower(string(f))] = f
	}
	// Some catalog snapshots abbreviate battery storage.
	fuelByLower["battery"] = FuelBattery
}

// ParseFuel maps a catalog fuel label onto a known Fuel. Unknown labels are
// kept verbatim so they still group on their own.
func ParseFuel(s string) Fuel {
	s = strings.TrimSpace(s)
	if f, ok := fuelByLower[strings.ToLower(s)]; ok {
		return f
	}
	return Fuel(s)
}

// StackOrder returns the chart position of f. Unknown fuels sort after all known ones.
func StackOrder(f Fuel) int {
	if info, ok := FuelCatalog[f]; ok {
		return info.StackOrder
	}
	return len(FuelCatalog)
}

type UnitRecord struct {
	DUID        string  `json:"duid"`
	StationName string  `json:"station_name"`
	Owner       string  `json:"owner"`
	Fuel        Fuel    `json:"fuel"`
	Region      Region  `json:"region"`
	CapacityMW  float64 `json:"capacity_mw"`
}

type GenerationSample struct {
	DUID      string
	Timestamp time.Time
	MW        float64
}

type PriceSample struct {
	Region    Region
	Timestamp time.Time
	RRP       float64
}

type TransmissionSample struct {
	Interconnector string
	Timestamp      time.Time
	MeteredFlowMW  float64
	ImportLimitMW  float64
	ExportLimitMW  float64
}

// RooftopSample is one region's cell of the wide rooftop-solar table.
type RooftopSample struct {
	Timestamp time.Time
	Region    Region
	MW        float64
}

// IntegratedRow is one unit's dispatch interval joined with its catalog entry
// and regional price.
type IntegratedRow struct {
	DUID        string    `json:"duid"`
	Timestamp   time.Time `json:"timestamp"`
	MW          float64   `json:"mw"`
	StationName string    `json:"station_name"`
	Fuel        Fuel      `json:"fuel"`
	Region      Region    `json:"region"`
	Owner       string    `json:"owner"`
	CapacityMW  float64   `json:"capacity_mw"`
	RRP         float64   `json:"rrp"`
	Revenue     float64   `json:"revenue_5min"`
}

// IntervalRevenue returns the revenue earned by mw dispatched for one interval at rrp.
func IntervalRevenue(mw, rrp float64) float64 {
	return mw * rrp * IntervalHours
}

type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DateFilter restricts integration to whole market days. Zero bounds are open.
type DateFilter struct {
	From time.Time
	To   time.Time
}

// Bounds returns the half-open instant range [start, end) covered by the filter.
// The end is the day after To so that the whole of the To day is included.
func (f DateFilter) Bounds() (start, end time.Time) {
	if !f.From.IsZero() {
		y, m, d := f.From.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, f.From.Location())
	}
	if !f.To.IsZero() {
		y, m, d := f.To.Date()
		end = time.Date(y, m, d, 0, 0, 0, 0, f.To.Location()).AddDate(0, 0, 1)
	}
	return start, end
}

// Contains reports whether t lies within the filter.
func (f DateFilter) Contains(t time.Time) bool {
	start, end := f.Bounds()
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && !t.Before(end) {
		return false
	}
	return true
}
