package dashboard

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/alert"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/renewable"
	"nem_dashboard/internal/source"
)

type memSource struct {
	snap source.Snapshot
	err  error
}

func (m *memSource) Units(ctx context.Context) ([]model.UnitRecord, error) {
	return append([]model.UnitRecord(nil), m.snap.Units...), m.err
}

func (m *memSource) Generation(ctx context.Context, since time.Time) ([]model.GenerationSample, error) {
	return append([]model.GenerationSample(nil), m.snap.Generation...), nil
}

func (m *memSource) Prices(ctx context.Context, since time.Time) ([]model.PriceSample, error) {
	return append([]model.PriceSample(nil), m.snap.Prices...), nil
}

func (m *memSource) Transmission(ctx context.Context, since time.Time) ([]model.TransmissionSample, error) {
	return append([]model.TransmissionSample(nil), m.snap.Transmission...), nil
}

func (m *memSource) Rooftop(ctx context.Context, since time.Time) ([]model.RooftopSample, error) {
	return append([]model.RooftopSample(nil), m.snap.Rooftop...), nil
}

type mockCallback struct {
	mu        sync.Mutex
	statuses  []Status
	analyses  []Analysis
	overviews []Overview
	gauges    []Gauge
	flows     []Flow
	prices    [][]aggregate.RegionPrice
}

func (m *mockCallback) OnStatus(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, s)
}

func (m *mockCallback) OnAnalysis(a Analysis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses = append(m.analyses, a)
}

func (m *mockCallback) OnOverview(o Overview) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overviews = append(m.overviews, o)
}

func (m *mockCallback) OnGauge(g Gauge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, g)
}

func (m *mockCallback) OnFlow(f Flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows = append(m.flows, f)
}

func (m *mockCallback) OnPrices(p []aggregate.RegionPrice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, p)
}

func (m *mockCallback) states() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, len(m.statuses))
	for i, s := range m.statuses {
		out[i] = s.State
	}
	return out
}

// 10:00 market time.
var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * model.Interval) }

func testSnapshot() source.Snapshot {
	snap := source.Snapshot{
		Units: []model.UnitRecord{
			{DUID: "COAL1", StationName: "Coal Station", Owner: "Acme", Fuel: model.FuelCoal, Region: model.RegionNSW, CapacityMW: 1000},
			{DUID: "WIND1", StationName: "Wind Farm", Owner: "Breeze", Fuel: model.FuelWind, Region: model.RegionSA, CapacityMW: 500},
			{DUID: "SUN1", StationName: "Sun Farm", Owner: "Breeze", Fuel: model.FuelSolar, Region: model.RegionQLD, CapacityMW: 200},
		},
	}
	for i := 0; i < 12; i++ {
		ts := at(i)
		snap.Generation = append(snap.Generation,
			model.GenerationSample{DUID: "COAL1", Timestamp: ts, MW: 600},
			model.GenerationSample{DUID: "WIND1", Timestamp: ts, MW: 300},
			model.GenerationSample{DUID: "SUN1", Timestamp: ts, MW: 100},
			model.GenerationSample{DUID: "GHOST1", Timestamp: ts, MW: 50},
		)
		snap.Prices = append(snap.Prices,
			model.PriceSample{Region: model.RegionNSW, Timestamp: ts, RRP: 80},
			model.PriceSample{Region: model.RegionSA, Timestamp: ts, RRP: 40},
			model.PriceSample{Region: model.RegionQLD, Timestamp: ts, RRP: 60},
		)
		snap.Transmission = append(snap.Transmission, model.TransmissionSample{
			Interconnector: "V-SA", Timestamp: ts, MeteredFlowMW: 100 + float64(i), ImportLimitMW: -500, ExportLimitMW: 600,
		})
	}
	for i, v := range []float64{100, 200, 300} {
		snap.Rooftop = append(snap.Rooftop, model.RooftopSample{
			Timestamp: t0.Add(time.Duration(i-1) * 30 * time.Minute), Region: model.RegionNSW, MW: v,
		})
	}
	return snap
}

type fixture struct {
	session *Session
	cb      *mockCallback
	src     *memSource
	metrics *metrics.Collector
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		cb:      &mockCallback{},
		src:     &memSource{snap: testSnapshot()},
		metrics: metrics.NewCollector("test", nil),
		dir:     dir,
	}
	f.session = New(f.src, f.cb, Options{
		Tracker: renewable.NewTracker(renewable.NewFileStore(filepath.Join(dir, "records.json")), nil, f.metrics),
		Monitor: alert.NewMonitor(
			alert.NewFileExceptions(filepath.Join(dir, "exceptions.json")),
			alert.NewLogNotifier(nil),
			alert.Options{Enabled: true, AutoAdd: true, Cooldown: time.Hour},
			nil,
		),
		Metrics: f.metrics,
		Now:     func() time.Time { return at(12) },
	})
	return f
}

func TestRefresh_Success(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	assert.Equal(t, []State{StateLoading, StateReady}, f.cb.states())
	st := f.session.Status()
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, at(11), st.DataEnd)
	assert.Equal(t, 36, st.Stats.IntegratedRows)
	assert.Equal(t, []string{"GHOST1"}, st.Stats.UnmatchedUnits)
	assert.Equal(t, []string{"GHOST1"}, st.Unknown.Alerted)
	assert.Greater(t, st.Repaired["interpolated"], 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues("ok")))
	assert.Len(t, f.cb.analyses, 1)
	assert.Len(t, f.cb.prices, 1)
}

func TestRefresh_Analysis(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	a := f.session.Analysis()
	require.NotNil(t, a.Table)
	assert.Empty(t, a.Message)
	assert.Len(t, a.Table.Rows, 3)
	require.Len(t, a.Groups, 3)
	assert.Equal(t, []string{"Coal", "NSW1"}, a.Groups[0].Keys)
	assert.InDelta(t, 600.0, a.Groups[0].GenerationMWh, 1e-9)
	assert.InDelta(t, 80.0, a.Groups[0].AvgPrice, 1e-9)
}

func TestRefresh_Overview(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	o := f.session.Overview()
	assert.Equal(t, model.RegionNEM, o.Region)
	require.Equal(t, 12, o.Generation.Len())
	assert.Equal(t, []string{"Solar", "Wind", "Coal", "Rooftop Solar"}, o.Generation.Columns)
	for _, v := range o.Generation.Values["Rooftop Solar"] {
		assert.Greater(t, v, 0.0)
	}
	assert.Equal(t, 60.0, o.Utilization.Values["Coal"][0])

	g := f.session.Gauge()
	assert.True(t, g.Available)
	assert.Equal(t, at(11), g.Timestamp)
	assert.Greater(t, g.Current, 40.0)
	assert.Less(t, g.Current, 100.0)
	assert.True(t, g.NewAllTime)
	assert.Equal(t, g.Current, g.AllTime)

	prices := f.session.Prices()
	require.Len(t, prices, 3)
	assert.Equal(t, model.RegionNSW, prices[0].Region)
	assert.Equal(t, 80.0, prices[0].Latest)
}

func TestRefresh_LoadFailure(t *testing.T) {
	f := newFixture(t)
	f.src.err = errors.New("disk unavailable")

	err := f.session.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrStageFailed)
	st := f.session.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, "load", st.FailedStage)
	assert.Equal(t, []State{StateLoading, StateFailed}, f.cb.states())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues("failed")))
	assert.Empty(t, f.cb.analyses)
}

func TestSetRegion(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	require.NoError(t, f.session.SetRegion("sa1"))
	o := f.session.Overview()
	assert.Equal(t, model.RegionSA, o.Region)
	assert.Equal(t, []string{"Wind", "Transmission Flow"}, o.Generation.Columns)
	assert.Equal(t, 100.0, o.Generation.Values["Transmission Flow"][0])

	fl := f.session.Flow()
	require.Len(t, fl.Net, 12)
	assert.Equal(t, 111.0, fl.Net[11].MW)
	require.Len(t, fl.Links, 12)
	assert.Equal(t, 600.0, fl.Links[0].ImportCapacityMW)

	assert.Error(t, f.session.SetRegion("WA1"))
	assert.Equal(t, model.RegionSA, f.session.Settings().Region)
}

func TestSetRegion_GaugeStaysMarketWide(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.SetRegion(model.RegionSA))
	require.NoError(t, f.session.Refresh(context.Background()))

	assert.Less(t, f.session.Gauge().Current, 100.0)
}

func TestSetHierarchy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	require.NoError(t, f.session.SetHierarchy([]model.Dimension{model.DimOwner}))
	a := f.session.Analysis()
	assert.Equal(t, []model.Dimension{model.DimOwner}, a.Hierarchy)
	require.Len(t, a.Groups, 2)
	assert.Equal(t, "Acme", a.Groups[0].Keys[0])

	err := f.session.SetHierarchy([]model.Dimension{"colour"})
	assert.ErrorIs(t, err, aggregate.ErrInvalidHierarchy)
	assert.Equal(t, []model.Dimension{model.DimOwner}, f.session.Settings().Hierarchy)
}

func TestSetFilter_NoData(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	require.NoError(t, f.session.SetFilter(aggregate.Filter{Regions: []model.Region{model.RegionTAS}}))
	a := f.session.Analysis()
	assert.Nil(t, a.Table)
	assert.Equal(t, noDataMessage, a.Message)
	assert.False(t, a.Failed)
}

func TestSetColumns(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	require.NoError(t, f.session.SetColumns([]aggregate.Column{aggregate.ColRecords}))
	a := f.session.Analysis()
	require.NotNil(t, a.Table)
	assert.Equal(t, []aggregate.Column{aggregate.ColRecords}, a.Table.Columns)
}

func TestSetRange(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Refresh(context.Background()))

	next := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.session.SetRange(model.DateFilter{From: next, To: next}))
	assert.Equal(t, noDataMessage, f.session.Analysis().Message)
	assert.Equal(t, 0, f.session.Status().Stats.IntegratedRows)

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.session.SetRange(model.DateFilter{From: day, To: day}))
	assert.NotNil(t, f.session.Analysis().Table)

	assert.Error(t, f.session.SetRange(model.DateFilter{From: next, To: day}))
}

func TestQueryAndRollup(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Rollup([]model.Dimension{model.DimFuel}, false)
	assert.ErrorIs(t, err, aggregate.ErrNoData)

	require.NoError(t, f.session.Refresh(context.Background()))

	groups, err := f.session.Rollup([]model.Dimension{model.DimFuel}, false)
	require.NoError(t, err)
	assert.Len(t, groups, 3)

	detail, err := f.session.Rollup([]model.Dimension{model.DimRegion}, true)
	require.NoError(t, err)
	assert.Len(t, detail[0].Keys, 2)

	table, err := f.session.Query([]model.Dimension{model.DimStation}, nil, aggregate.Filter{Fuels: []model.Fuel{model.FuelWind}})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "WIND1", table.Rows[0].DUID)

	// Queries leave the session settings alone.
	assert.Equal(t, []model.Dimension{model.DimFuel, model.DimRegion}, f.session.Settings().Hierarchy)
}

func TestWorkerInterface(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "dashboard-refresh", f.session.Name())
	require.NoError(t, f.session.Run(context.Background()))
	assert.Equal(t, StateReady, f.session.Status().State)
}

func TestStation(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Station("Wind Farm")
	assert.ErrorIs(t, err, aggregate.ErrNoData)

	require.NoError(t, f.session.Refresh(context.Background()))

	report, err := f.session.Station("Wind Farm")
	require.NoError(t, err)
	require.Len(t, report.Units, 1)
	assert.Equal(t, "WIND1", report.Units[0].DUID)
	assert.InDelta(t, 300.0, report.Performance.GenerationMWh, 1e-9)
	assert.InDelta(t, 40.0, report.Performance.AvgPrice, 1e-9)
	// 00:00 UTC is 10:00 market time.
	assert.Equal(t, 10, report.Profile.PeakHour)

	_, err = f.session.Station("Nowhere")
	assert.ErrorIs(t, err, ErrUnknownStation)
}
