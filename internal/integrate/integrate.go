package integrate

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/catalog"
	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/source"
	"nem_dashboard/internal/store"
)

// Stats describes the row flow through the two joins of the last Integrate.
// GenerationRows = IntegratedRows + PriceDroppedRows + UnmatchedRows.
type Stats struct {
	GenerationRows   int             `json:"generation_rows"`
	MatchedRows      int             `json:"matched_rows"`
	UnmatchedUnits   []string        `json:"unmatched_units"`
	UnmatchedRows    int             `json:"unmatched_rows"`
	PriceDroppedRows int             `json:"price_dropped_rows"`
	IntegratedRows   int             `json:"integrated_rows"`
	Range            model.TimeRange `json:"range"`
}

type Options struct {
	// Window bounds how far back Load reads. Zero reads everything.
	Window  time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Integrator joins generation with the unit catalog and regional prices.
// Load, Standardize and Integrate must run in that order; each reports
// failure as false and never panics past its boundary.
type Integrator struct {
	src     source.Source
	window  time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	snap         *source.Snapshot
	standardized bool
	catalog      *catalog.Catalog
	store        *store.Store
	transmission []model.TransmissionSample
	rooftop      []model.RooftopSample

	integrated bool
	rows       []model.IntegratedRow
	stats      Stats
}

func New(src source.Source, opts Options) *Integrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Integrator{
		src:     src,
		window:  opts.Window,
		logger:  logging.OrNop(opts.Logger).Named("integrator"),
		metrics: opts.Metrics,
		now:     now,
	}
}

func (in *Integrator) guard(stage string, ok *bool) {
	if r := recover(); r != nil {
		in.logger.Error("stage panicked", zap.String("stage", stage), zap.Any("panic", r))
		*ok = false
	}
	if !*ok && in.metrics != nil {
		in.metrics.StageFailures.WithLabelValues(stage).Inc()
	}
}

// Load reads a fresh private snapshot from the source.
func (in *Integrator) Load(ctx context.Context) (ok bool) {
	defer in.guard("load", &ok)

	in.snap = nil
	in.standardized = false
	in.integrated = false
	in.transmission = nil
	in.rooftop = nil

	var since time.Time
	if in.window > 0 {
		since = in.now().Add(-in.window)
	}

	snap, err := source.LoadAll(ctx, in.src, since)
	if err != nil {
		in.logger.Error("loading snapshots failed", zap.Error(err))
		return false
	}
	for _, name := range snap.Missing {
		in.logger.Warn("optional snapshot missing", zap.String("table", name))
	}

	in.logger.Info("snapshots loaded",
		zap.Int("units", len(snap.Units)),
		zap.Int("generation", len(snap.Generation)),
		zap.Int("prices", len(snap.Prices)),
		zap.Int("transmission", len(snap.Transmission)),
		zap.Int("rooftop", len(snap.Rooftop)),
	)
	in.snap = snap
	return true
}

func normalizeDUID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Standardize normalizes identifiers, drops unusable samples and indexes the
// loaded snapshot.
func (in *Integrator) Standardize() (ok bool) {
	defer in.guard("standardize", &ok)

	in.standardized = false
	in.integrated = false
	if in.snap == nil {
		in.logger.Error("standardize called without loaded data")
		return false
	}

	units := make([]model.UnitRecord, 0, len(in.snap.Units))
	for _, u := range in.snap.Units {
		u.DUID = normalizeDUID(u.DUID)
		if u.DUID == "" {
			continue
		}
		u.Region, _ = model.ParseRegion(string(u.Region))
		if !finite(u.CapacityMW) || u.CapacityMW < 0 {
			u.CapacityMW = 0
		}
		units = append(units, u)
	}
	cat := catalog.New(units)
	if cat.Duplicates() > 0 {
		in.logger.Warn("duplicate catalog entries", zap.Int("count", cat.Duplicates()))
	}

	st := store.New()
	dropped := 0

	genByDUID := make(map[string][]store.Point)
	for _, g := range in.snap.Generation {
		duid := normalizeDUID(g.DUID)
		if duid == "" || g.Timestamp.IsZero() || !finite(g.MW) {
			dropped++
			continue
		}
		genByDUID[duid] = append(genByDUID[duid], store.Point{Timestamp: g.Timestamp, Value: g.MW})
	}
	for duid, points := range genByDUID {
		st.Add(store.KindGeneration, duid, points)
	}

	priceByRegion := make(map[model.Region][]store.Point)
	for _, p := range in.snap.Prices {
		region, _ := model.ParseRegion(string(p.Region))
		if region == "" || p.Timestamp.IsZero() || !finite(p.RRP) {
			dropped++
			continue
		}
		priceByRegion[region] = append(priceByRegion[region], store.Point{Timestamp: p.Timestamp, Value: p.RRP})
	}
	for region, points := range priceByRegion {
		st.Add(store.KindPrice, string(region), points)
	}

	transmission := make([]model.TransmissionSample, 0, len(in.snap.Transmission))
	for _, t := range in.snap.Transmission {
		t.Interconnector = strings.ToUpper(strings.TrimSpace(t.Interconnector))
		if t.Interconnector == "" || t.Timestamp.IsZero() || !finite(t.MeteredFlowMW) {
			dropped++
			continue
		}
		transmission = append(transmission, t)
	}
	sort.SliceStable(transmission, func(i, j int) bool {
		return transmission[i].Timestamp.Before(transmission[j].Timestamp)
	})

	rooftop := make([]model.RooftopSample, 0, len(in.snap.Rooftop))
	for _, r := range in.snap.Rooftop {
		r.Region, _ = model.ParseRegion(string(r.Region))
		if r.Timestamp.IsZero() || !finite(r.MW) {
			dropped++
			continue
		}
		rooftop = append(rooftop, r)
	}
	sort.SliceStable(rooftop, func(i, j int) bool {
		return rooftop[i].Timestamp.Before(rooftop[j].Timestamp)
	})

	if dropped > 0 {
		in.logger.Warn("dropped unusable samples", zap.Int("count", dropped))
	}

	in.catalog = cat
	in.store = st
	in.transmission = transmission
	in.rooftop = rooftop
	in.standardized = true

	in.logger.Info("data standardized",
		zap.Int("units", cat.Len()),
		zap.Int("generation_units", len(genByDUID)),
		zap.Int("price_regions", len(priceByRegion)),
	)
	return true
}

// Integrate filters generation to the requested days, then left-joins it with
// the catalog and inner-joins the result with prices on (timestamp, region).
func (in *Integrator) Integrate(filter model.DateFilter) (ok bool) {
	defer in.guard("integrate", &ok)

	in.integrated = false
	in.rows = nil
	if !in.standardized {
		in.logger.Error("integrate called without standardized data")
		return false
	}

	start, end := filter.Bounds()
	var stats Stats
	var rows []model.IntegratedRow

	for _, duid := range in.store.IDs(store.KindGeneration) {
		points := in.store.InRange(store.KindGeneration, duid, start, end)
		if len(points) == 0 {
			continue
		}
		stats.GenerationRows += len(points)

		unit, found := in.catalog.Lookup(duid)
		if !found {
			stats.UnmatchedUnits = append(stats.UnmatchedUnits, duid)
			stats.UnmatchedRows += len(points)
			continue
		}
		stats.MatchedRows += len(points)

		for _, p := range points {
			rrp, priced := in.store.ValueAt(store.KindPrice, string(unit.Region), p.Timestamp)
			if !priced {
				stats.PriceDroppedRows++
				continue
			}
			rows = append(rows, model.IntegratedRow{
				DUID:        duid,
				Timestamp:   p.Timestamp,
				MW:          p.Value,
				StationName: unit.StationName,
				Fuel:        unit.Fuel,
				Region:      unit.Region,
				Owner:       unit.Owner,
				CapacityMW:  unit.CapacityMW,
				RRP:         rrp,
				Revenue:     model.IntervalRevenue(p.Value, rrp),
			})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].DUID < rows[j].DUID
	})

	stats.IntegratedRows = len(rows)
	if len(rows) > 0 {
		stats.Range = model.TimeRange{Start: rows[0].Timestamp, End: rows[len(rows)-1].Timestamp}
	}

	if len(stats.UnmatchedUnits) > 0 {
		in.logger.Warn("generation units missing from catalog",
			zap.Int("units", len(stats.UnmatchedUnits)),
			zap.Int("rows", stats.UnmatchedRows),
			zap.Strings("duids", stats.UnmatchedUnits),
		)
	}
	if stats.PriceDroppedRows > 0 {
		in.logger.Warn("rows without regional price dropped",
			zap.Int("rows", stats.PriceDroppedRows),
			zap.Int("before", stats.MatchedRows),
			zap.Int("after", stats.IntegratedRows),
		)
	}
	in.logger.Info("data integrated",
		zap.Int("generation_rows", stats.GenerationRows),
		zap.Int("integrated_rows", stats.IntegratedRows),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	if in.metrics != nil {
		in.metrics.GenerationRows.Set(float64(stats.GenerationRows))
		in.metrics.IntegratedRows.Set(float64(stats.IntegratedRows))
		in.metrics.UnmatchedUnits.Set(float64(len(stats.UnmatchedUnits)))
		in.metrics.UnmatchedRows.Set(float64(stats.UnmatchedRows))
		in.metrics.PriceDroppedRows.Set(float64(stats.PriceDroppedRows))
	}

	in.rows = rows
	in.stats = stats
	in.integrated = true
	return true
}

// Rows returns the integrated table. Callers must not modify it. It is nil
// unless the last Integrate succeeded.
func (in *Integrator) Rows() []model.IntegratedRow {
	if !in.integrated {
		return nil
	}
	return in.rows
}

// Integrated reports whether Rows holds the result of a successful Integrate.
func (in *Integrator) Integrated() bool { return in.integrated }

func (in *Integrator) Stats() Stats { return in.stats }

// Catalog returns the catalog built by Standardize, or nil.
func (in *Integrator) Catalog() *catalog.Catalog {
	if !in.standardized {
		return nil
	}
	return in.catalog
}

// Generation returns standardized generation samples in [start, end) across
// all units, sorted by timestamp. Zero bounds are open.
func (in *Integrator) Generation(start, end time.Time) []model.GenerationSample {
	if !in.standardized {
		return nil
	}
	var out []model.GenerationSample
	for _, duid := range in.store.IDs(store.KindGeneration) {
		for _, p := range in.store.InRange(store.KindGeneration, duid, start, end) {
			out = append(out, model.GenerationSample{DUID: duid, Timestamp: p.Timestamp, MW: p.Value})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Prices returns standardized prices in [start, end), sorted by timestamp.
func (in *Integrator) Prices(start, end time.Time) []model.PriceSample {
	if !in.standardized {
		return nil
	}
	var out []model.PriceSample
	for _, region := range in.store.IDs(store.KindPrice) {
		for _, p := range in.store.InRange(store.KindPrice, region, start, end) {
			out = append(out, model.PriceSample{Region: model.Region(region), Timestamp: p.Timestamp, RRP: p.Value})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Transmission returns a copy of the standardized interconnector flows.
func (in *Integrator) Transmission() []model.TransmissionSample {
	return append([]model.TransmissionSample(nil), in.transmission...)
}

// Rooftop returns a copy of the standardized rooftop samples.
func (in *Integrator) Rooftop() []model.RooftopSample {
	return append([]model.RooftopSample(nil), in.rooftop...)
}

// Latest returns the newest generation timestamp.
func (in *Integrator) Latest() (time.Time, bool) {
	if !in.standardized {
		return time.Time{}, false
	}
	tr, ok := in.store.TimeRange(store.KindGeneration)
	return tr.End, ok
}
