package aggregate

import (
	"sort"
	"time"

	"nem_dashboard/internal/model"
)

// Performance summarizes the dispatch of a set of units.
type Performance struct {
	Units             []string  `json:"units"`
	GenerationMWh     float64   `json:"generation_mwh"`
	RevenueDollars    float64   `json:"total_revenue_dollars"`
	AvgPrice          float64   `json:"average_price_per_mwh"`
	CapacityMW        float64   `json:"capacity_mw"`
	CapacityFactorPct float64   `json:"capacity_factor_pct"`
	PeakMW            float64   `json:"peak_mw"`
	OperatingHours    float64   `json:"operating_hours"`
	Records           int       `json:"record_count"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
}

func unitSet(duids []string) map[string]bool {
	set := make(map[string]bool, len(duids))
	for _, d := range duids {
		set[d] = true
	}
	return set
}

// StationPerformance computes totals for the given units. Capacity is the sum
// of each unit's capacity.
func StationPerformance(rows []model.IntegratedRow, duids []string) (Performance, error) {
	set := unitSet(duids)

	var p Performance
	capacity := make(map[string]float64)
	perInterval := make(map[int64]float64)
	var sumMW float64

	for _, r := range rows {
		if !set[r.DUID] {
			continue
		}
		if p.Records == 0 || r.Timestamp.Before(p.Start) {
			p.Start = r.Timestamp
		}
		if p.Records == 0 || r.Timestamp.After(p.End) {
			p.End = r.Timestamp
		}
		p.Records++
		sumMW += r.MW
		p.RevenueDollars += r.Revenue
		perInterval[r.Timestamp.UnixNano()] += r.MW
		if _, ok := capacity[r.DUID]; !ok {
			capacity[r.DUID] = r.CapacityMW
		}
	}
	if p.Records == 0 {
		return Performance{}, ErrNoData
	}

	for duid, c := range capacity {
		p.Units = append(p.Units, duid)
		p.CapacityMW += c
	}
	sort.Strings(p.Units)

	p.GenerationMWh = sumMW * model.IntervalHours
	if p.GenerationMWh > 0 {
		p.AvgPrice = p.RevenueDollars / p.GenerationMWh
	}
	hours := p.End.Sub(p.Start).Hours()
	if p.CapacityMW > 0 && hours > 0 {
		p.CapacityFactorPct = p.GenerationMWh / (p.CapacityMW * hours) * 100
	}

	first := true
	for _, mw := range perInterval {
		if first || mw > p.PeakMW {
			p.PeakMW = mw
			first = false
		}
		if mw > 0 {
			p.OperatingHours += model.IntervalHours
		}
	}
	return p, nil
}

// HourProfile is the average behaviour of a set of units in one hour of day.
type HourProfile struct {
	Hour       int     `json:"hour"`
	AvgMW      float64 `json:"avg_mw"`
	AvgPrice   float64 `json:"avg_price"`
	AvgRevenue float64 `json:"avg_revenue"`
	Intervals  int     `json:"intervals"`
}

// DailyProfile holds hour-of-day averages and the hour of peak output.
type DailyProfile struct {
	Hours    [24]HourProfile `json:"hours"`
	PeakHour int             `json:"peak_hour"`
}

// TimeOfDay averages the combined output of the units per hour of day in loc.
// Prices are revenue-weighted per hour.
func TimeOfDay(rows []model.IntegratedRow, duids []string, loc *time.Location) (DailyProfile, error) {
	set := unitSet(duids)
	if loc == nil {
		loc = time.UTC
	}

	// Sum units per interval first so AvgMW is the combined output.
	type interval struct {
		at      time.Time
		mw      float64
		revenue float64
	}
	intervals := make(map[int64]*interval)
	for _, r := range rows {
		if !set[r.DUID] {
			continue
		}
		iv, ok := intervals[r.Timestamp.UnixNano()]
		if !ok {
			iv = &interval{at: r.Timestamp}
			intervals[r.Timestamp.UnixNano()] = iv
		}
		iv.mw += r.MW
		iv.revenue += r.Revenue
	}
	if len(intervals) == 0 {
		return DailyProfile{}, ErrNoData
	}

	var mwSum, revSum [24]float64
	var count [24]int
	for _, iv := range intervals {
		h := iv.at.In(loc).Hour()
		mwSum[h] += iv.mw
		revSum[h] += iv.revenue
		count[h]++
	}

	var profile DailyProfile
	var maxAvg float64
	first := true
	for h := 0; h < 24; h++ {
		hp := HourProfile{Hour: h, Intervals: count[h]}
		if count[h] > 0 {
			hp.AvgMW = mwSum[h] / float64(count[h])
			hp.AvgRevenue = revSum[h] / float64(count[h])
			if energy := mwSum[h] * model.IntervalHours; energy > 0 {
				hp.AvgPrice = revSum[h] / energy
			}
			if first || hp.AvgMW > maxAvg {
				maxAvg = hp.AvgMW
				profile.PeakHour = h
				first = false
			}
		}
		profile.Hours[h] = hp
	}
	return profile, nil
}
