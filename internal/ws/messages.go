package ws

import (
	"encoding/json"
	"math"
	"time"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/dashboard"
	"nem_dashboard/internal/model"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> Server messages

type SetRegionPayload struct {
	Region string `json:"region"`
}

type SetHierarchyPayload struct {
	Hierarchy []string `json:"hierarchy"`
}

type SetColumnsPayload struct {
	Columns []string `json:"columns"`
}

type SetFiltersPayload struct {
	Regions []string `json:"regions"`
	Fuels   []string `json:"fuels"`
}

// SetRangePayload holds market dates as YYYY-MM-DD. Empty means open.
type SetRangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Server -> Client messages

type StatusPayload struct {
	RunID       string         `json:"run_id"`
	State       string         `json:"state"`
	FailedStage string         `json:"failed_stage,omitempty"`
	DataEnd     string         `json:"data_end,omitempty"`
	Rows        int            `json:"integrated_rows"`
	Unmatched   []string       `json:"unmatched_units,omitempty"`
	NewUnknown  []string       `json:"new_unknown_units,omitempty"`
	Repaired    map[string]int `json:"repaired,omitempty"`
}

type AnalysisPayload struct {
	Hierarchy []string             `json:"hierarchy"`
	Groups    []model.AggregateRow `json:"groups,omitempty"`
	Table     *aggregate.Table     `json:"table,omitempty"`
	Message   string               `json:"message,omitempty"`
	Failed    bool                 `json:"failed,omitempty"`
}

type SeriesPayload struct {
	Name  string     `json:"name"`
	Color string     `json:"color,omitempty"`
	Data  []*float64 `json:"data"`
}

// ChartPayload is a frame with missing values sent as null.
type ChartPayload struct {
	Timestamps []string        `json:"timestamps"`
	Series     []SeriesPayload `json:"series"`
}

type OverviewPayload struct {
	Region      string       `json:"region"`
	Generation  ChartPayload `json:"generation"`
	Utilization ChartPayload `json:"utilization"`
}

type GaugePayload struct {
	Available  bool    `json:"available"`
	Timestamp  string  `json:"timestamp,omitempty"`
	Current    float64 `json:"current"`
	AllTime    float64 `json:"all_time_record"`
	Hour       float64 `json:"hour_record"`
	HourOfDay  int     `json:"hour_of_day"`
	NewAllTime bool    `json:"new_all_time"`
	NewHour    bool    `json:"new_hour"`
}

type FlowPayload struct {
	Region string        `json:"region"`
	Net    []FlowPoint   `json:"net"`
	Links  []LinkPayload `json:"links"`
}

type FlowPoint struct {
	Timestamp string  `json:"timestamp"`
	MW        float64 `json:"mw"`
}

type LinkPayload struct {
	Interconnector   string  `json:"interconnector"`
	Timestamp        string  `json:"timestamp"`
	FlowMW           float64 `json:"flow_mw"`
	ImportCapacityMW float64 `json:"import_capacity_mw"`
	ExportCapacityMW float64 `json:"export_capacity_mw"`
}

type PricesPayload struct {
	Regions []aggregate.RegionPrice `json:"regions"`
}

type ErrorPayload struct {
	Request string `json:"request"`
	Message string `json:"message"`
}

// Message type constants
const (
	// Client -> Server
	TypeSetRegion    = "view:set_region"
	TypeSetHierarchy = "analysis:set_hierarchy"
	TypeSetColumns   = "analysis:set_columns"
	TypeSetFilters   = "analysis:set_filters"
	TypeSetRange     = "analysis:set_range"
	TypeRefresh      = "data:refresh"

	// Server -> Client
	TypeStatus   = "status:update"
	TypeAnalysis = "analysis:table"
	TypeOverview = "overview:update"
	TypeGauge    = "gauge:update"
	TypeFlow     = "flow:update"
	TypePrices   = "prices:update"
	TypeError    = "error"
)

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func StatusFromSession(s dashboard.Status) StatusPayload {
	return StatusPayload{
		RunID:       s.RunID,
		State:       string(s.State),
		FailedStage: s.FailedStage,
		DataEnd:     formatTime(s.DataEnd),
		Rows:        s.Stats.IntegratedRows,
		Unmatched:   s.Stats.UnmatchedUnits,
		NewUnknown:  s.Unknown.New,
		Repaired:    s.Repaired,
	}
}

func AnalysisFromSession(a dashboard.Analysis) AnalysisPayload {
	out := AnalysisPayload{
		Groups:  a.Groups,
		Table:   a.Table,
		Message: a.Message,
		Failed:  a.Failed,
	}
	for _, d := range a.Hierarchy {
		out.Hierarchy = append(out.Hierarchy, string(d))
	}
	return out
}

// ChartFromFrame converts a frame, replacing NaN with null.
func ChartFromFrame(f *model.Frame) ChartPayload {
	out := ChartPayload{Timestamps: []string{}, Series: []SeriesPayload{}}
	if f == nil {
		return out
	}
	for _, ts := range f.Index {
		out.Timestamps = append(out.Timestamps, formatTime(ts))
	}
	for _, col := range f.Columns {
		values := f.Values[col]
		data := make([]*float64, len(values))
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			v := v
			data[i] = &v
		}
		out.Series = append(out.Series, SeriesPayload{
			Name:  col,
			Color: model.FuelCatalog[model.Fuel(col)].Color,
			Data:  data,
		})
	}
	return out
}

func OverviewFromSession(o dashboard.Overview) OverviewPayload {
	return OverviewPayload{
		Region:      string(o.Region),
		Generation:  ChartFromFrame(o.Generation),
		Utilization: ChartFromFrame(o.Utilization),
	}
}

func GaugeFromSession(g dashboard.Gauge) GaugePayload {
	return GaugePayload{
		Available:  g.Available,
		Timestamp:  formatTime(g.Timestamp),
		Current:    g.Current,
		AllTime:    g.AllTime,
		Hour:       g.Hour,
		HourOfDay:  g.HourOfDay,
		NewAllTime: g.NewAllTime,
		NewHour:    g.NewHour,
	}
}

func FlowFromSession(f dashboard.Flow) FlowPayload {
	out := FlowPayload{Region: string(f.Region), Net: []FlowPoint{}, Links: []LinkPayload{}}
	for _, p := range f.Net {
		out.Net = append(out.Net, FlowPoint{Timestamp: formatTime(p.Timestamp), MW: p.MW})
	}
	for _, l := range f.Links {
		out.Links = append(out.Links, LinkPayload{
			Interconnector:   l.Interconnector,
			Timestamp:        formatTime(l.Timestamp),
			FlowMW:           l.FlowMW,
			ImportCapacityMW: l.ImportCapacityMW,
			ExportCapacityMW: l.ExportCapacityMW,
		})
	}
	return out
}

func PricesFromSession(p []aggregate.RegionPrice) PricesPayload {
	if p == nil {
		p = []aggregate.RegionPrice{}
	}
	return PricesPayload{Regions: p}
}
