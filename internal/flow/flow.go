// Package flow re-signs AEMO interconnector flows from the point of view of
// one region.
package flow

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/repair"
)

// Point is a net flow into a region. Positive is import.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	MW        float64   `json:"mw"`
}

// Link is one interconnector's flow and capacity seen from a region.
type Link struct {
	Interconnector   string    `json:"interconnector"`
	Timestamp        time.Time `json:"timestamp"`
	FlowMW           float64   `json:"flow_mw"`
	ImportCapacityMW float64   `json:"import_capacity_mw"`
	ExportCapacityMW float64   `json:"export_capacity_mw"`
}

type Calculator struct {
	table  Table
	logger *zap.Logger
}

// NewCalculator uses DefaultTable when table is nil.
func NewCalculator(table Table, logger *zap.Logger) *Calculator {
	if table == nil {
		table = DefaultTable()
	}
	return &Calculator{table: table, logger: logging.OrNop(logger).Named("flow")}
}

func (c *Calculator) Table() Table { return c.table }

// sign converts a metered flow into import-positive for region. ok is false
// when the interconnector does not touch region.
func (c *Calculator) sign(region model.Region, interconnector string) (float64, bool) {
	dir, ok := c.table[region][strings.ToUpper(interconnector)]
	if !ok {
		return 0, false
	}
	if dir == PositiveExports {
		return -1, true
	}
	return 1, true
}

// Regional sums the region's interconnector flows per timestamp. Unmapped
// regions, including NEM, give an empty result.
func (c *Calculator) Regional(region model.Region, samples []model.TransmissionSample) []Point {
	if len(c.table[region]) == 0 {
		c.logger.Debug("region has no interconnectors", zap.String("region", string(region)))
		return nil
	}

	// Keyed by instant: the same interval may arrive with different zones.
	sums := make(map[int64]*Point)
	for _, s := range samples {
		sign, ok := c.sign(region, s.Interconnector)
		if !ok || math.IsNaN(s.MeteredFlowMW) {
			continue
		}
		key := s.Timestamp.UnixNano()
		p, ok := sums[key]
		if !ok {
			p = &Point{Timestamp: s.Timestamp}
			sums[key] = p
		}
		p.MW += sign * s.MeteredFlowMW
	}

	out := make([]Point, 0, len(sums))
	for _, p := range sums {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Links returns the region's interconnector samples re-signed, ordered by
// timestamp then interconnector. AEMO export limits bound positive flow and
// import limits negative flow; capacities come back as magnitudes.
func (c *Calculator) Links(region model.Region, samples []model.TransmissionSample) []Link {
	var out []Link
	for _, s := range samples {
		sign, ok := c.sign(region, s.Interconnector)
		if !ok {
			continue
		}
		l := Link{
			Interconnector: strings.ToUpper(s.Interconnector),
			Timestamp:      s.Timestamp,
			FlowMW:         sign * s.MeteredFlowMW,
		}
		if sign > 0 {
			l.ImportCapacityMW = math.Abs(s.ExportLimitMW)
			l.ExportCapacityMW = math.Abs(s.ImportLimitMW)
		} else {
			l.ImportCapacityMW = math.Abs(s.ImportLimitMW)
			l.ExportCapacityMW = math.Abs(s.ExportLimitMW)
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Interconnector < out[j].Interconnector
	})
	return out
}

// ImportColumn aligns net flow onto index for stacking as a pseudo-fuel.
// Only imports are kept; exports and missing slots are 0.
func ImportColumn(points []Point, index []time.Time) []float64 {
	byTime := make(map[int64]float64, len(points))
	for _, p := range points {
		byTime[p.Timestamp.UnixNano()] = p.MW
	}
	out := make([]float64, len(index))
	for i, ts := range index {
		if v := byTime[ts.UnixNano()]; v > 0 {
			out[i] = v
		}
	}
	return out
}

// RepairFlows smooths flat-line runs in each interconnector's metered flow.
// Flows are 5-minute native and may be negative, so no resampling or
// clipping is applied.
func RepairFlows(samples []model.TransmissionSample, opts repair.Options) ([]model.TransmissionSample, repair.Report) {
	byLink := make(map[string][]model.TransmissionSample)
	for _, s := range samples {
		byLink[s.Interconnector] = append(byLink[s.Interconnector], s)
	}
	ids := make([]string, 0, len(byLink))
	for id := range byLink {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var report repair.Report
	out := make([]model.TransmissionSample, 0, len(samples))
	for _, id := range ids {
		link := byLink[id]
		sort.SliceStable(link, func(i, j int) bool { return link[i].Timestamp.Before(link[j].Timestamp) })

		series := make(repair.Series, len(link))
		for i, s := range link {
			series[i] = repair.Point{Timestamp: s.Timestamp, Value: s.MeteredFlowMW}
		}
		repaired := repair.FixFlatlines(series, opts)
		report.Add(repaired)

		for i, p := range repaired {
			s := link[i]
			s.MeteredFlowMW = p.Value
			out = append(out, s)
		}
	}
	return out, report
}
