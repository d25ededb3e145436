package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/model"
)

var (
	// ErrNoData means the selection is valid but nothing falls inside it.
	ErrNoData = errors.New("no data for selection")
	// ErrInvalidHierarchy means the requested grouping cannot be computed.
	ErrInvalidHierarchy = errors.New("invalid hierarchy")
	// ErrFailed wraps unexpected failures inside a computation.
	ErrFailed = errors.New("aggregation failed")
)

// Aggregator rolls an integrated table up along grouping hierarchies. It never
// modifies the rows it was built with.
type Aggregator struct {
	rows   []model.IntegratedRow
	logger *zap.Logger
}

func New(rows []model.IntegratedRow, logger *zap.Logger) *Aggregator {
	return &Aggregator{rows: rows, logger: logging.OrNop(logger).Named("aggregator")}
}

// Rows returns the table the aggregator was built with.
func (a *Aggregator) Rows() []model.IntegratedRow { return a.rows }

// Aggregate groups by hierarchy and sorts groups by revenue, highest first.
func (a *Aggregator) Aggregate(hierarchy []model.Dimension) ([]model.AggregateRow, error) {
	out, err := Aggregate(a.rows, hierarchy)
	a.logResult("aggregate", hierarchy, len(out), err)
	return out, err
}

// Detail groups by hierarchy plus DUID, ordered by the hierarchy keys and then
// by revenue within each group.
func (a *Aggregator) Detail(hierarchy []model.Dimension) ([]model.AggregateRow, error) {
	out, err := Detail(a.rows, hierarchy)
	a.logResult("detail", hierarchy, len(out), err)
	return out, err
}

func (a *Aggregator) logResult(op string, hierarchy []model.Dimension, n int, err error) {
	switch {
	case err == nil:
		a.logger.Debug("rollup computed", zap.String("op", op), zap.Any("hierarchy", hierarchy), zap.Int("groups", n))
	case errors.Is(err, ErrNoData):
		a.logger.Info("rollup empty", zap.String("op", op), zap.Any("hierarchy", hierarchy))
	default:
		a.logger.Error("rollup failed", zap.String("op", op), zap.Any("hierarchy", hierarchy), zap.Error(err))
	}
}

// Aggregate is the pure form of Aggregator.Aggregate.
func Aggregate(rows []model.IntegratedRow, hierarchy []model.Dimension) (out []model.AggregateRow, err error) {
	defer recoverFailure(&out, &err)

	if err := ValidateHierarchy(hierarchy); err != nil {
		return nil, err
	}
	out = rollup(rows, hierarchy)
	if len(out) == 0 {
		return nil, ErrNoData
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RevenueDollars > out[j].RevenueDollars
	})
	return out, nil
}

// Detail is the pure form of Aggregator.Detail.
func Detail(rows []model.IntegratedRow, hierarchy []model.Dimension) (out []model.AggregateRow, err error) {
	defer recoverFailure(&out, &err)

	if err := ValidateHierarchy(hierarchy); err != nil {
		return nil, err
	}
	detail := withDUID(hierarchy)
	out = rollup(rows, detail)
	if len(out) == 0 {
		return nil, ErrNoData
	}

	outer := len(detail) - 1
	sort.SliceStable(out, func(i, j int) bool {
		for k := 0; k < outer; k++ {
			if out[i].Keys[k] != out[j].Keys[k] {
				return out[i].Keys[k] < out[j].Keys[k]
			}
		}
		return out[i].RevenueDollars > out[j].RevenueDollars
	})
	return out, nil
}

func recoverFailure(out *[]model.AggregateRow, err *error) {
	if r := recover(); r != nil {
		*out = nil
		*err = fmt.Errorf("%w: %v", ErrFailed, r)
	}
}

// ValidateHierarchy rejects empty hierarchies and unknown or repeated dimensions.
func ValidateHierarchy(hierarchy []model.Dimension) error {
	if len(hierarchy) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidHierarchy)
	}
	seen := make(map[model.Dimension]bool, len(hierarchy))
	for _, d := range hierarchy {
		switch d {
		case model.DimFuel, model.DimRegion, model.DimOwner, model.DimStation, model.DimDUID:
		default:
			return fmt.Errorf("%w: unknown dimension %q", ErrInvalidHierarchy, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: repeated dimension %q", ErrInvalidHierarchy, d)
		}
		seen[d] = true
	}
	return nil
}

// withDUID appends the unit dimension unless the hierarchy already ends in it.
func withDUID(hierarchy []model.Dimension) []model.Dimension {
	out := make([]model.Dimension, 0, len(hierarchy)+1)
	for _, d := range hierarchy {
		if d != model.DimDUID {
			out = append(out, d)
		}
	}
	return append(out, model.DimDUID)
}

type group struct {
	keys     []string
	sumMW    float64
	revenue  float64
	start    time.Time
	end      time.Time
	count    int
	capacity float64
}

// rollup groups rows by the hierarchy keys, skipping rows with a missing key.
// Groups come back in first-seen order.
func rollup(rows []model.IntegratedRow, hierarchy []model.Dimension) []model.AggregateRow {
	groups := make(map[string]*group)
	var order []*group

	keys := make([]string, len(hierarchy))
	for _, r := range rows {
		complete := true
		for i, d := range hierarchy {
			keys[i] = r.Value(d)
			if keys[i] == "" {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}

		id := strings.Join(keys, "\x00")
		g, ok := groups[id]
		if !ok {
			g = &group{
				keys:     append([]string(nil), keys...),
				start:    r.Timestamp,
				end:      r.Timestamp,
				capacity: r.CapacityMW,
			}
			groups[id] = g
			order = append(order, g)
		}
		g.sumMW += r.MW
		g.revenue += r.Revenue
		g.count++
		if r.Timestamp.Before(g.start) {
			g.start = r.Timestamp
		}
		if r.Timestamp.After(g.end) {
			g.end = r.Timestamp
		}
	}

	out := make([]model.AggregateRow, 0, len(order))
	for _, g := range order {
		out = append(out, g.row())
	}
	return out
}

func (g *group) row() model.AggregateRow {
	generation := g.sumMW * model.IntervalHours

	avgPrice := 0.0
	if generation > 0 {
		avgPrice = g.revenue / generation
	}

	utilization := 0.0
	hours := g.end.Sub(g.start).Hours()
	if g.capacity > 0 && hours > 0 {
		utilization = generation / (g.capacity * hours) * 100
	}

	return model.AggregateRow{
		Keys:           g.keys,
		GenerationMWh:  generation,
		RevenueDollars: g.revenue,
		AvgPrice:       avgPrice,
		Records:        g.count,
		Start:          g.start,
		End:            g.end,
		CapacityMW:     g.capacity,
		UtilizationPct: utilization,
	}
}
