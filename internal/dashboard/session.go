// Package dashboard owns one session's pipeline: it refreshes the integrated
// table, recomputes the views derived from it and publishes them through a
// Callback.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/alert"
	"nem_dashboard/internal/catalog"
	"nem_dashboard/internal/flow"
	"nem_dashboard/internal/ingest"
	"nem_dashboard/internal/integrate"
	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/renewable"
	"nem_dashboard/internal/repair"
	"nem_dashboard/internal/source"
)

// ErrStageFailed is returned by Refresh when a pipeline stage reports failure.
var ErrStageFailed = errors.New("refresh stage failed")

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Status describes the latest refresh run.
type Status struct {
	RunID       string          `json:"run_id"`
	State       State           `json:"state"`
	FailedStage string          `json:"failed_stage,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	DataEnd     time.Time       `json:"data_end"`
	Stats       integrate.Stats `json:"stats"`
	Unknown     alert.Result    `json:"unknown_units"`
	Repaired    map[string]int  `json:"repaired"`
}

// Settings are the user's current selections.
type Settings struct {
	Region    model.Region       `json:"region"`
	Hierarchy []model.Dimension  `json:"hierarchy"`
	Columns   []aggregate.Column `json:"columns"`
	Filter    aggregate.Filter   `json:"filter"`
	Range     model.DateFilter   `json:"-"`
}

// Callback receives recomputed views.
type Callback interface {
	OnStatus(status Status)
	OnAnalysis(analysis Analysis)
	OnOverview(overview Overview)
	OnGauge(gauge Gauge)
	OnFlow(flow Flow)
	OnPrices(prices []aggregate.RegionPrice)
}

type Options struct {
	// Window bounds how much history each refresh loads.
	Window time.Duration
	// OverviewWindow is the span of the stacked generation chart.
	OverviewWindow time.Duration
	Region         model.Region
	Repair         repair.Options
	Flow           *flow.Calculator
	Tracker        *renewable.Tracker
	Monitor        *alert.Monitor
	Logger         *zap.Logger
	Metrics        *metrics.Collector
	Now            func() time.Time
}

// Session holds a private integrator and the latest views. Refreshes and
// setters are serialized; views are published after the lock is released.
type Session struct {
	mu       sync.Mutex
	in       *integrate.Integrator
	callback Callback

	overviewWindow time.Duration
	repairOpts     repair.Options
	flow           *flow.Calculator
	tracker        *renewable.Tracker
	monitor        *alert.Monitor
	logger         *zap.Logger
	metrics        *metrics.Collector
	now            func() time.Time

	settings Settings
	status   Status
	views    views
}

type views struct {
	analysis Analysis
	overview Overview
	gauge    Gauge
	flow     Flow
	prices   []aggregate.RegionPrice
}

func New(src source.Source, cb Callback, opts Options) *Session {
	logger := logging.OrNop(opts.Logger).Named("dashboard")
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OverviewWindow <= 0 {
		opts.OverviewWindow = 24 * time.Hour
	}
	if opts.Region == "" {
		opts.Region = model.RegionNEM
	}
	if opts.Repair == (repair.Options{}) {
		opts.Repair = repair.DefaultOptions()
	}
	if opts.Flow == nil {
		opts.Flow = flow.NewCalculator(nil, opts.Logger)
	}

	return &Session{
		in: integrate.New(src, integrate.Options{
			Window:  opts.Window,
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
			Now:     opts.Now,
		}),
		callback:       cb,
		overviewWindow: opts.OverviewWindow,
		repairOpts:     opts.Repair,
		flow:           opts.Flow,
		tracker:        opts.Tracker,
		monitor:        opts.Monitor,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
		settings: Settings{
			Region:    opts.Region,
			Hierarchy: []model.Dimension{model.DimFuel, model.DimRegion},
			Columns:   aggregate.DefaultColumns,
		},
		status: Status{State: StateIdle},
	}
}

// Name implements worker.Worker.
func (s *Session) Name() string { return "dashboard-refresh" }

// Run implements worker.Worker.
func (s *Session) Run(ctx context.Context) error { return s.Refresh(ctx) }

// Refresh reloads every snapshot, integrates it and recomputes all views.
func (s *Session) Refresh(ctx context.Context) error {
	started := s.now()
	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID))

	s.mu.Lock()
	s.status = Status{RunID: runID, State: StateLoading, StartedAt: started}
	loading := s.status
	s.mu.Unlock()
	s.publishStatus(loading)

	timer := metrics.NewTimer()

	s.mu.Lock()
	stage := s.runStages(ctx)
	if stage != "" {
		s.status.State = StateFailed
		s.status.FailedStage = stage
		s.status.FinishedAt = s.now()
		status := s.status
		s.mu.Unlock()

		log.Error("refresh failed", zap.String("stage", stage))
		s.count("failed")
		s.publishStatus(status)
		return fmt.Errorf("%w: %s", ErrStageFailed, stage)
	}

	s.status.Stats = s.in.Stats()
	s.status.DataEnd, _ = s.in.Latest()
	s.status.Unknown = s.checkUnknown(ctx, log)

	var report repair.Report
	s.views.analysis = s.computeAnalysis()
	s.views.overview, report = s.computeOverview()
	s.views.flow = s.computeFlow()
	s.views.gauge = s.computeGauge(ctx)
	s.views.prices = s.computePrices()
	s.recordRepairs(report)

	s.status.State = StateReady
	s.status.FinishedAt = s.now()
	status, v := s.status, s.views
	s.mu.Unlock()

	if s.metrics != nil {
		timer.ObserveDuration(s.metrics.RefreshDuration)
	}
	s.count("ok")
	log.Info("refresh complete",
		zap.Duration("took", status.FinishedAt.Sub(started)),
		zap.Int("integrated_rows", status.Stats.IntegratedRows),
		zap.Time("data_end", status.DataEnd),
	)

	s.publishStatus(status)
	s.publishAll(v)
	return nil
}

// runStages returns the name of the first failing stage, or "".
func (s *Session) runStages(ctx context.Context) string {
	if !s.in.Load(ctx) {
		return "load"
	}
	if !s.in.Standardize() {
		return "standardize"
	}
	if !s.in.Integrate(s.settings.Range) {
		return "integrate"
	}
	return ""
}

func (s *Session) checkUnknown(ctx context.Context, log *zap.Logger) alert.Result {
	unknown := s.in.Stats().UnmatchedUnits
	if s.monitor == nil || len(unknown) == 0 {
		return alert.Result{New: unknown}
	}
	res, err := s.monitor.Check(ctx, unknown)
	if err != nil {
		log.Warn("unknown unit check failed", zap.Error(err))
	}
	return res
}

func (s *Session) recordRepairs(report repair.Report) {
	s.status.Repaired = make(map[string]int, len(report.Counts))
	for origin, n := range report.Counts {
		s.status.Repaired[origin.String()] = n
		if s.metrics != nil {
			s.metrics.RepairedSamples.WithLabelValues(origin.String()).Add(float64(n))
		}
	}
}

func (s *Session) count(outcome string) {
	if s.metrics != nil {
		s.metrics.RefreshTotal.WithLabelValues(outcome).Inc()
	}
}

// SetRegion switches the overview and flow views to region.
func (s *Session) SetRegion(region model.Region) error {
	r, ok := model.ParseRegion(string(region))
	if !ok {
		return fmt.Errorf("unknown region %q", region)
	}

	s.mu.Lock()
	s.settings.Region = r
	s.views.overview, _ = s.computeOverview()
	s.views.flow = s.computeFlow()
	overview, fl := s.views.overview, s.views.flow
	s.mu.Unlock()

	s.publishOverview(overview)
	s.publishFlow(fl)
	return nil
}

// SetHierarchy regroups the analysis table.
func (s *Session) SetHierarchy(hierarchy []model.Dimension) error {
	if err := aggregate.ValidateHierarchy(hierarchy); err != nil {
		return err
	}
	return s.updateAnalysis(func(st *Settings) { st.Hierarchy = append([]model.Dimension(nil), hierarchy...) })
}

// SetColumns selects the analysis display columns.
func (s *Session) SetColumns(columns []aggregate.Column) error {
	return s.updateAnalysis(func(st *Settings) { st.Columns = append([]aggregate.Column(nil), columns...) })
}

// SetFilter restricts the analysis table to regions and fuels.
func (s *Session) SetFilter(filter aggregate.Filter) error {
	return s.updateAnalysis(func(st *Settings) { st.Filter = filter })
}

func (s *Session) updateAnalysis(apply func(*Settings)) error {
	s.mu.Lock()
	apply(&s.settings)
	s.views.analysis = s.computeAnalysis()
	analysis := s.views.analysis
	s.mu.Unlock()

	s.publishAnalysis(analysis)
	return nil
}

// SetRange re-integrates the loaded data for whole market days from..to and
// recomputes the analysis table. Zero bounds are open.
func (s *Session) SetRange(filter model.DateFilter) error {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return fmt.Errorf("date range ends before it starts")
	}

	s.mu.Lock()
	s.settings.Range = filter
	if s.in.Catalog() != nil && !s.in.Integrate(filter) {
		s.status.State = StateFailed
		s.status.FailedStage = "integrate"
		status := s.status
		s.mu.Unlock()
		s.publishStatus(status)
		return fmt.Errorf("%w: integrate", ErrStageFailed)
	}
	s.status.Stats = s.in.Stats()
	s.views.analysis = s.computeAnalysis()
	status, analysis := s.status, s.views.analysis
	s.mu.Unlock()

	s.publishStatus(status)
	s.publishAnalysis(analysis)
	return nil
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.settings
	out.Hierarchy = append([]model.Dimension(nil), s.settings.Hierarchy...)
	out.Columns = append([]aggregate.Column(nil), s.settings.Columns...)
	return out
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Analysis() Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views.analysis
}

func (s *Session) Overview() Overview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views.overview
}

func (s *Session) Gauge() Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views.gauge
}

func (s *Session) Flow() Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views.flow
}

func (s *Session) Prices() []aggregate.RegionPrice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views.prices
}

// Catalog returns the unit catalog of the last refresh, or nil.
func (s *Session) Catalog() *catalog.Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in.Catalog()
}

// Query builds a hierarchical table without touching the session settings.
func (s *Session) Query(hierarchy []model.Dimension, columns []aggregate.Column, filter aggregate.Filter) (*aggregate.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return aggregate.New(s.in.Rows(), s.logger).Hierarchical(hierarchy, columns, filter)
}

// Rollup groups the integrated table without touching the session settings.
// detail adds the unit level.
func (s *Session) Rollup(hierarchy []model.Dimension, detail bool) ([]model.AggregateRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := aggregate.New(s.in.Rows(), s.logger)
	if detail {
		return a.Detail(hierarchy)
	}
	return a.Aggregate(hierarchy)
}

func (s *Session) publishStatus(st Status) {
	if s.callback != nil {
		s.callback.OnStatus(st)
	}
}

func (s *Session) publishAnalysis(a Analysis) {
	if s.callback != nil {
		s.callback.OnAnalysis(a)
	}
}

func (s *Session) publishOverview(o Overview) {
	if s.callback != nil {
		s.callback.OnOverview(o)
	}
}

func (s *Session) publishFlow(f Flow) {
	if s.callback != nil {
		s.callback.OnFlow(f)
	}
}

func (s *Session) publishAll(v views) {
	if s.callback == nil {
		return
	}
	s.callback.OnAnalysis(v.analysis)
	s.callback.OnOverview(v.overview)
	s.callback.OnGauge(v.gauge)
	s.callback.OnFlow(v.flow)
	s.callback.OnPrices(v.prices)
}

// ErrUnknownStation is returned by Station for names missing from the catalog.
var ErrUnknownStation = errors.New("unknown station")

// StationReport is the performance and daily profile of one station.
type StationReport struct {
	Station     string                 `json:"station"`
	Units       []model.UnitRecord     `json:"units"`
	Performance aggregate.Performance  `json:"performance"`
	Profile     aggregate.DailyProfile `json:"profile"`
}

// Station reports on the units of a station over the current date range.
// Hours of the profile are market hours.
func (s *Session) Station(name string) (StationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StationReport{Station: name}
	cat := s.in.Catalog()
	if cat == nil {
		return out, aggregate.ErrNoData
	}
	duids, ok := cat.Stations()[name]
	if !ok {
		return out, fmt.Errorf("%w: %q", ErrUnknownStation, name)
	}
	for _, d := range duids {
		u, _ := cat.Lookup(d)
		out.Units = append(out.Units, u)
	}

	rows := s.in.Rows()
	var err error
	if out.Performance, err = aggregate.StationPerformance(rows, duids); err != nil {
		return out, err
	}
	out.Profile, err = aggregate.TimeOfDay(rows, duids, ingest.MarketTime)
	return out, err
}
