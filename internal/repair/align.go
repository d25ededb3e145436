package repair

import (
	"math"
	"sort"
	"time"

	"nem_dashboard/internal/model"
)

// Align reindexes s onto index. Gaps after a known value are forward filled
// for up to AlignLimit slots; past the last known value the fill decays by
// AlignDecay per slot. Everything else is zero.
func Align(s Series, index []time.Time, opts Options) Series {
	known := make(map[int64]float64, len(s))
	for _, p := range s {
		if !math.IsNaN(p.Value) {
			known[p.Timestamp.UnixNano()] = p.Value
		}
	}

	lastKnown := -1
	for i, ts := range index {
		if _, ok := known[ts.UnixNano()]; ok {
			lastKnown = i
		}
	}

	out := make(Series, len(index))
	var last float64
	gap := -1
	for i, ts := range index {
		if v, ok := known[ts.UnixNano()]; ok {
			out[i] = Point{Timestamp: ts, Value: v, Origin: Measured}
			last, gap = v, 0
			continue
		}
		if gap < 0 {
			out[i] = Point{Timestamp: ts, Origin: ZeroFilled}
			continue
		}
		gap++
		switch {
		case gap > opts.AlignLimit:
			out[i] = Point{Timestamp: ts, Origin: ZeroFilled}
		case i > lastKnown:
			out[i] = Point{Timestamp: ts, Value: last * math.Pow(opts.AlignDecay, float64(gap)), Origin: ForwardFilled}
		default:
			out[i] = Point{Timestamp: ts, Value: last, Origin: ForwardFilled}
		}
	}
	return out
}

// RooftopSeries splits wide rooftop samples into one series per region.
func RooftopSeries(samples []model.RooftopSample) map[model.Region]Series {
	out := make(map[model.Region]Series)
	for _, s := range samples {
		out[s.Region] = append(out[s.Region], Point{Timestamp: s.Timestamp, Value: s.MW})
	}
	for r, s := range out {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
		out[r] = s
	}
	return out
}

// Rooftop repairs the rooftop series of region, or of every region summed
// when region is NEM or empty. Values are clipped at zero.
func Rooftop(samples []model.RooftopSample, region model.Region, end time.Time, opts Options) (Series, Report) {
	byRegion := RooftopSeries(samples)

	var regions []model.Region
	if region == "" || region == model.RegionNEM {
		for r := range byRegion {
			regions = append(regions, r)
		}
		sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })
	} else if _, ok := byRegion[region]; ok {
		regions = []model.Region{region}
	}

	var report Report
	parts := make([]Series, 0, len(regions))
	for _, r := range regions {
		repaired, rep := Repair(byRegion[r], end, opts)
		report.Merge(rep)
		parts = append(parts, repaired)
	}

	total := Sum(parts...)
	for i := range total {
		if total[i].Value < 0 {
			total[i].Value = 0
		}
	}
	return total, report
}

// Sum adds series by timestamp. A summed point keeps the first non-measured
// origin among its parts.
func Sum(parts ...Series) Series {
	byTime := make(map[int64]*Point)
	for _, s := range parts {
		for _, p := range s {
			key := p.Timestamp.UnixNano()
			acc, ok := byTime[key]
			if !ok {
				acc = &Point{Timestamp: p.Timestamp, Origin: p.Origin}
				byTime[key] = acc
			} else if acc.Origin == Measured {
				acc.Origin = p.Origin
			}
			acc.Value += p.Value
		}
	}

	out := make(Series, 0, len(byTime))
	for _, p := range byTime {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
