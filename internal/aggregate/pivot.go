package aggregate

import (
	"sort"
	"time"

	"nem_dashboard/internal/catalog"
	"nem_dashboard/internal/model"
)

// FuelPivot sums catalog-matched generation into a 5-minute by fuel frame.
// Region NEM (or empty) covers the whole market. Columns follow the stacked
// chart order; missing cells are 0.
func FuelPivot(samples []model.GenerationSample, cat *catalog.Catalog, region model.Region) *model.Frame {
	allRegions := region == "" || region == model.RegionNEM

	sums := make(map[int64]map[model.Fuel]float64)
	stamps := make(map[int64]time.Time)
	fuels := make(map[model.Fuel]bool)
	for _, s := range samples {
		unit, ok := cat.Lookup(s.DUID)
		if !ok || unit.Fuel == "" || unit.Region == "" {
			continue
		}
		if !allRegions && unit.Region != region {
			continue
		}
		ts := s.Timestamp.Truncate(model.Interval)
		key := ts.UnixNano()
		bucket, ok := sums[key]
		if !ok {
			bucket = make(map[model.Fuel]float64)
			sums[key] = bucket
			stamps[key] = ts
		}
		bucket[unit.Fuel] += s.MW
		fuels[unit.Fuel] = true
	}

	index := make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		index = append(index, ts)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })

	frame := model.NewFrame(index)
	for _, f := range sortedFuels(fuels) {
		values := make([]float64, len(index))
		for i, ts := range index {
			values[i] = sums[ts.UnixNano()][f]
		}
		frame.AddColumn(string(f), values)
	}
	return frame
}

func sortedFuels(set map[model.Fuel]bool) []model.Fuel {
	out := make([]model.Fuel, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := model.StackOrder(out[i]), model.StackOrder(out[j])
		if oi != oj {
			return oi < oj
		}
		return out[i] < out[j]
	})
	return out
}

// SortColumns reorders frame columns into stacked chart order.
func SortColumns(frame *model.Frame) {
	set := make(map[model.Fuel]bool, len(frame.Columns))
	for _, c := range frame.Columns {
		set[model.Fuel(c)] = true
	}
	cols := make([]string, 0, len(set))
	for _, f := range sortedFuels(set) {
		cols = append(cols, string(f))
	}
	frame.Columns = cols
}

// FuelUtilization converts a fuel pivot into percent of registered capacity,
// clamped to [0, 100]. Fuels without capacity are left out.
func FuelUtilization(pivot *model.Frame, capacity map[model.Fuel]float64) *model.Frame {
	out := model.NewFrame(append([]time.Time(nil), pivot.Index...))
	for _, c := range pivot.Columns {
		capMW := capacity[model.Fuel(c)]
		if capMW <= 0 {
			continue
		}
		values := make([]float64, len(pivot.Index))
		for i, v := range pivot.Values[c] {
			values[i] = clamp(v/capMW*100, 0, 100)
		}
		out.AddColumn(c, values)
	}
	return out
}

// ClipForStacking clips negative values to zero in every column except
// battery storage, which charges below the axis.
func ClipForStacking(frame *model.Frame) {
	for _, c := range frame.Columns {
		if model.Fuel(c) == model.FuelBattery {
			continue
		}
		values := frame.Values[c]
		for i, v := range values {
			if v < 0 {
				values[i] = 0
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
