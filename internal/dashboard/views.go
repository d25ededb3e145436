package dashboard

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/flow"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/renewable"
	"nem_dashboard/internal/repair"
)

// Analysis is the hierarchical revenue table. Message is set instead of Table
// when nothing could be shown; Failed separates a failure from "no data".
type Analysis struct {
	Hierarchy []model.Dimension    `json:"hierarchy"`
	Groups    []model.AggregateRow `json:"groups,omitempty"`
	Table     *aggregate.Table     `json:"table,omitempty"`
	Message   string               `json:"message,omitempty"`
	Failed    bool                 `json:"failed,omitempty"`
}

// Overview is the stacked generation chart of a region.
type Overview struct {
	Region      model.Region `json:"region"`
	Generation  *model.Frame `json:"generation"`
	Utilization *model.Frame `json:"utilization"`
}

// Gauge is the NEM-wide renewable share with its records.
type Gauge struct {
	renewable.Reference
	Timestamp time.Time `json:"timestamp"`
	Available bool      `json:"available"`
}

// Flow is the net interconnector flow of a region.
type Flow struct {
	Region model.Region `json:"region"`
	Net    []flow.Point `json:"net"`
	Links  []flow.Link  `json:"links"`
}

const noDataMessage = "no data for this selection"

func (s *Session) computeAnalysis() Analysis {
	st := s.settings
	out := Analysis{Hierarchy: st.Hierarchy}
	a := aggregate.New(s.in.Rows(), s.logger)

	table, err := a.Hierarchical(st.Hierarchy, st.Columns, st.Filter)
	if err == nil {
		out.Groups, err = aggregate.Aggregate(st.Filter.Apply(s.in.Rows()), st.Hierarchy)
	}
	switch {
	case err == nil:
		out.Table = table
	case errors.Is(err, aggregate.ErrNoData):
		out.Message = noDataMessage
	case errors.Is(err, aggregate.ErrInvalidHierarchy):
		out.Message = err.Error()
	default:
		out.Message = "analysis failed"
		out.Failed = true
	}
	return out
}

// overviewBounds returns the overview window ending at the latest generation
// interval. end is exclusive.
func (s *Session) overviewBounds() (start, end time.Time, ok bool) {
	latest, ok := s.in.Latest()
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return latest.Add(-s.overviewWindow), latest.Add(model.Interval), true
}

// pivot builds the stacked fuel frame of region with rooftop solar and, for a
// single region, net transmission imports added.
func (s *Session) pivot(region model.Region) (*model.Frame, repair.Report) {
	var report repair.Report
	start, end, ok := s.overviewBounds()
	cat := s.in.Catalog()
	if !ok || cat == nil {
		return model.NewFrame(nil), report
	}

	frame := aggregate.FuelPivot(s.in.Generation(start, end), cat, region)
	if frame.Len() == 0 {
		return frame, report
	}
	latest := frame.Index[frame.Len()-1]

	if rooftop := inWindow(s.in.Rooftop(), start, end, func(r model.RooftopSample) time.Time { return r.Timestamp }); len(rooftop) > 0 {
		series, rep := repair.Rooftop(rooftop, region, latest, s.repairOpts)
		report.Merge(rep)
		if len(series) > 0 {
			aligned := repair.Align(series, frame.Index, s.repairOpts)
			frame.AddColumn(string(model.FuelRooftopSolar), aligned.Values())
		}
	}

	if net, rep := s.netFlow(region, start, end); len(net) > 0 {
		report.Merge(rep)
		frame.AddColumn(string(model.FuelTransmission), flow.ImportColumn(net, frame.Index))
	}

	aggregate.ClipForStacking(frame)
	aggregate.SortColumns(frame)
	return frame, report
}

func (s *Session) netFlow(region model.Region, start, end time.Time) ([]flow.Point, repair.Report) {
	samples := inWindow(s.in.Transmission(), start, end, func(t model.TransmissionSample) time.Time { return t.Timestamp })
	repaired, report := flow.RepairFlows(samples, s.repairOpts)
	return s.flow.Regional(region, repaired), report
}

func (s *Session) computeOverview() (Overview, repair.Report) {
	region := s.settings.Region
	frame, report := s.pivot(region)

	out := Overview{Region: region, Generation: frame, Utilization: model.NewFrame(nil)}
	if cat := s.in.Catalog(); cat != nil {
		out.Utilization = aggregate.FuelUtilization(frame, cat.CapacityByFuel(region))
	}
	return out, report
}

func (s *Session) computeFlow() Flow {
	region := s.settings.Region
	out := Flow{Region: region}
	start, end, ok := s.overviewBounds()
	if !ok {
		return out
	}
	samples := inWindow(s.in.Transmission(), start, end, func(t model.TransmissionSample) time.Time { return t.Timestamp })
	repaired, _ := flow.RepairFlows(samples, s.repairOpts)
	out.Net = s.flow.Regional(region, repaired)
	out.Links = s.flow.Links(region, repaired)
	return out
}

// computeGauge always uses the whole market so records stay comparable.
func (s *Session) computeGauge(ctx context.Context) Gauge {
	var g Gauge
	frame := s.views.overview.Generation
	if s.settings.Region != model.RegionNEM {
		frame, _ = s.pivot(model.RegionNEM)
	}
	if frame == nil {
		return g
	}
	ts, latest, ok := renewable.Latest(frame)
	if !ok {
		return g
	}

	pct := renewable.Percentage(latest)
	g.Timestamp = ts
	g.Available = true
	g.Current = pct
	if s.tracker == nil {
		return g
	}
	ref, err := s.tracker.Update(ctx, pct, ts)
	if err != nil {
		s.logger.Warn("renewable records unavailable", zap.Error(err))
		return g
	}
	g.Reference = ref
	return g
}

func (s *Session) computePrices() []aggregate.RegionPrice {
	latest, ok := s.in.Latest()
	if !ok {
		return nil
	}
	return aggregate.SpotSummary(s.in.Prices(latest.Add(-24*time.Hour), latest.Add(model.Interval)))
}

func inWindow[T any](rows []T, start, end time.Time, ts func(T) time.Time) []T {
	var out []T
	for _, r := range rows {
		t := ts(r)
		if !t.Before(start) && t.Before(end) {
			out = append(out, r)
		}
	}
	return out
}
