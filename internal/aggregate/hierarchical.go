package aggregate

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nem_dashboard/internal/model"
)

// Column names a display column of the hierarchical table.
type Column string

const (
	ColGenerationGWh   Column = "generation_gwh"
	ColRevenueMillions Column = "revenue_millions"
	ColAvgPrice        Column = "avg_price"
	ColUtilization     Column = "capacity_utilization"
	ColRecords         Column = "record_count"
	ColStart           Column = "start"
	ColEnd             Column = "end"
)

// DefaultColumns is the column set shown when the caller selects none.
var DefaultColumns = []Column{ColGenerationGWh, ColRevenueMillions, ColAvgPrice, ColUtilization}

var knownColumns = map[Column]bool{
	ColGenerationGWh: true, ColRevenueMillions: true, ColAvgPrice: true,
	ColUtilization: true, ColRecords: true, ColStart: true, ColEnd: true,
}

// Filter restricts rows before grouping. Empty lists mean no restriction.
type Filter struct {
	Regions []model.Region `json:"regions,omitempty"`
	Fuels   []model.Fuel   `json:"fuels,omitempty"`
}

func (f Filter) empty() bool { return len(f.Regions) == 0 && len(f.Fuels) == 0 }

// Apply returns the rows matching the filter in a new slice.
func (f Filter) Apply(rows []model.IntegratedRow) []model.IntegratedRow {
	regions := make(map[model.Region]bool, len(f.Regions))
	for _, r := range f.Regions {
		regions[r] = true
	}
	fuels := make(map[model.Fuel]bool, len(f.Fuels))
	for _, fu := range f.Fuels {
		fuels[fu] = true
	}

	out := make([]model.IntegratedRow, 0, len(rows))
	for _, r := range rows {
		if len(regions) > 0 && !regions[r.Region] {
			continue
		}
		if len(fuels) > 0 && !fuels[r.Fuel] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Table is the per-unit rows of a hierarchy with group keys attached. Group
// headers and expansion are left to the consumer.
type Table struct {
	Hierarchy []model.Dimension `json:"hierarchy"`
	Columns   []Column          `json:"columns"`
	Rows      []TableRow        `json:"rows"`
}

type TableRow struct {
	Group       []string           `json:"group"`
	DUID        string             `json:"duid"`
	StationName string             `json:"station_name"`
	Owner       string             `json:"owner"`
	Values      map[Column]float64 `json:"values"`
	Display     map[Column]string  `json:"display"`
}

// Hierarchical filters the rows, computes unit-level detail for hierarchy and
// renders the selected columns. Unknown column names are ignored.
func (a *Aggregator) Hierarchical(hierarchy []model.Dimension, columns []Column, filter Filter) (*Table, error) {
	table, err := Hierarchical(a.rows, hierarchy, columns, filter)
	switch {
	case err == nil:
		a.logger.Info("hierarchical table built",
			zap.Any("hierarchy", hierarchy),
			zap.Int("rows", len(table.Rows)),
			zap.Any("regions", filter.Regions),
			zap.Any("fuels", filter.Fuels),
		)
	case errors.Is(err, ErrNoData):
		a.logger.Warn("no data left after applying filters", zap.Any("hierarchy", hierarchy))
	default:
		a.logger.Error("hierarchical table failed", zap.Any("hierarchy", hierarchy), zap.Error(err))
	}
	return table, err
}

// Hierarchical is the pure form of Aggregator.Hierarchical.
func Hierarchical(rows []model.IntegratedRow, hierarchy []model.Dimension, columns []Column, filter Filter) (table *Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			table = nil
			err = fmt.Errorf("%w: %v", ErrFailed, r)
		}
	}()

	selected := rows
	if !filter.empty() {
		selected = filter.Apply(rows)
	}
	if len(selected) == 0 {
		return nil, ErrNoData
	}

	detail, err := Detail(selected, hierarchy)
	if err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		columns = DefaultColumns
	}
	var cols []Column
	for _, c := range columns {
		if knownColumns[c] {
			cols = append(cols, c)
		}
	}

	// Station and owner come from the unfiltered table.
	info := make(map[string]model.IntegratedRow)
	for _, r := range rows {
		if _, ok := info[r.DUID]; !ok {
			info[r.DUID] = r
		}
	}

	outer := len(detail[0].Keys) - 1
	table = &Table{
		Hierarchy: append([]model.Dimension(nil), hierarchy...),
		Columns:   cols,
		Rows:      make([]TableRow, 0, len(detail)),
	}
	for _, d := range detail {
		duid := d.Keys[outer]
		row := TableRow{
			Group:       d.Keys[:outer],
			DUID:        duid,
			StationName: info[duid].StationName,
			Owner:       info[duid].Owner,
			Values:      make(map[Column]float64, len(cols)),
			Display:     make(map[Column]string, len(cols)),
		}
		for _, c := range cols {
			v, s := render(c, d)
			if c != ColStart && c != ColEnd {
				row.Values[c] = v
			}
			row.Display[c] = s
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// RoundDisplay rounds to whole units above 10 and to one decimal otherwise.
func RoundDisplay(v float64) float64 {
	places := int32(1)
	if v > 10 {
		places = 0
	}
	return round(v, places)
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func digits(v float64) int {
	if v > 10 {
		return 0
	}
	return 1
}

func render(c Column, d model.AggregateRow) (float64, string) {
	switch c {
	case ColGenerationGWh:
		v := RoundDisplay(d.GenerationMWh / 1000)
		return v, humanize.CommafWithDigits(v, digits(v))
	case ColRevenueMillions:
		v := RoundDisplay(d.RevenueDollars / 1_000_000)
		return v, "$" + humanize.CommafWithDigits(v, digits(v)) + "M"
	case ColAvgPrice:
		v := RoundDisplay(d.AvgPrice)
		return v, "$" + humanize.CommafWithDigits(v, digits(v))
	case ColUtilization:
		v := round(d.UtilizationPct, 1)
		return v, humanize.CommafWithDigits(v, 1) + "%"
	case ColRecords:
		return float64(d.Records), humanize.Comma(int64(d.Records))
	case ColStart:
		return 0, d.Start.Format("2006-01-02 15:04")
	case ColEnd:
		return 0, d.End.Format("2006-01-02 15:04")
	}
	return 0, ""
}

// NamedHierarchy is a grouping offered to users.
type NamedHierarchy struct {
	Name       string            `json:"name"`
	Dimensions []model.Dimension `json:"dimensions"`
}

// Hierarchies lists the standard groupings.
func Hierarchies() []NamedHierarchy {
	return []NamedHierarchy{
		{"Fuel → Region", []model.Dimension{model.DimFuel, model.DimRegion}},
		{"Region → Fuel", []model.Dimension{model.DimRegion, model.DimFuel}},
		{"Owner → Fuel", []model.Dimension{model.DimOwner, model.DimFuel}},
		{"Fuel → Owner", []model.Dimension{model.DimFuel, model.DimOwner}},
		{"Station → Unit", []model.Dimension{model.DimStation}},
		{"Fuel", []model.Dimension{model.DimFuel}},
		{"Region", []model.Dimension{model.DimRegion}},
		{"Owner", []model.Dimension{model.DimOwner}},
	}
}
