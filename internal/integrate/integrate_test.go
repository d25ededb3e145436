package integrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/source"
)

// memSource serves fixed batches.
type memSource struct {
	snap source.Snapshot
	err  error
	boom bool
}

func (m *memSource) Units(ctx context.Context) ([]model.UnitRecord, error) {
	if m.boom {
		panic("corrupt catalog")
	}
	return append([]model.UnitRecord(nil), m.snap.Units...), m.err
}

func (m *memSource) Generation(ctx context.Context, since time.Time) ([]model.GenerationSample, error) {
	var out []model.GenerationSample
	for _, g := range m.snap.Generation {
		if !g.Timestamp.Before(since) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memSource) Prices(ctx context.Context, since time.Time) ([]model.PriceSample, error) {
	return append([]model.PriceSample(nil), m.snap.Prices...), nil
}

func (m *memSource) Transmission(ctx context.Context, since time.Time) ([]model.TransmissionSample, error) {
	return append([]model.TransmissionSample(nil), m.snap.Transmission...), nil
}

func (m *memSource) Rooftop(ctx context.Context, since time.Time) ([]model.RooftopSample, error) {
	return nil, source.ErrNotFound
}

var (
	day1 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t0   = day1.Add(10 * time.Hour)
	t1   = t0.Add(5 * time.Minute)
)

func testSnapshot() source.Snapshot {
	return source.Snapshot{
		Units: []model.UnitRecord{
			{DUID: "A1", StationName: "Alpha", Owner: "Acme", Fuel: model.FuelCoal, Region: model.RegionNSW, CapacityMW: 300},
			{DUID: "B1", StationName: "Beta", Owner: "Bolt", Fuel: model.FuelWind, Region: model.RegionSA, CapacityMW: 100},
		},
		Generation: []model.GenerationSample{
			{DUID: "A1", Timestamp: t0, MW: 100},
			{DUID: "a1 ", Timestamp: t1, MW: 200},
			{DUID: "B1", Timestamp: t0, MW: 50},
			{DUID: "B1", Timestamp: t1, MW: 60},
			{DUID: "GHOST1", Timestamp: t0, MW: 10},
		},
		Prices: []model.PriceSample{
			{Region: "NSW1", Timestamp: t0, RRP: 50},
			{Region: "nsw1", Timestamp: t1, RRP: 50},
			{Region: "SA1", Timestamp: t0, RRP: 120},
			// SA1 at t1 is missing.
		},
	}
}

func newIntegrated(t *testing.T, filter model.DateFilter) *Integrator {
	t.Helper()
	in := New(&memSource{snap: testSnapshot()}, Options{})
	require.True(t, in.Load(context.Background()))
	require.True(t, in.Standardize())
	require.True(t, in.Integrate(filter))
	return in
}

func TestIntegrate_RevenueIdentity(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{})

	rows := in.Rows()
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.InDelta(t, r.MW*r.RRP*5/60, r.Revenue, 1e-9)
	}
}

func TestIntegrate_ExampleRevenue(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{})

	first := in.Rows()[0]
	assert.Equal(t, "A1", first.DUID)
	assert.InDelta(t, 416.67, first.Revenue, 0.01)
	assert.Equal(t, "Alpha", first.StationName)
	assert.Equal(t, model.FuelCoal, first.Fuel)
}

func TestIntegrate_JoinCounts(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{})
	stats := in.Stats()

	assert.Equal(t, 5, stats.GenerationRows)
	assert.Equal(t, 4, stats.MatchedRows)
	assert.Equal(t, []string{"GHOST1"}, stats.UnmatchedUnits)
	assert.Equal(t, 1, stats.UnmatchedRows)
	assert.Equal(t, 1, stats.PriceDroppedRows)
	assert.Equal(t, 3, stats.IntegratedRows)
	assert.Equal(t, stats.GenerationRows, stats.IntegratedRows+stats.PriceDroppedRows+stats.UnmatchedRows)
	assert.LessOrEqual(t, stats.IntegratedRows, stats.MatchedRows)

	assert.Equal(t, t0, stats.Range.Start)
	assert.Equal(t, t1, stats.Range.End)
}

func TestIntegrate_UnknownUnitExcluded(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{})
	for _, r := range in.Rows() {
		assert.NotEqual(t, "GHOST1", r.DUID)
	}
}

func TestIntegrate_NormalizesIdentifiers(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{})

	var a1 int
	for _, r := range in.Rows() {
		if r.DUID == "A1" {
			a1++
		}
	}
	assert.Equal(t, 2, a1)
}

func TestIntegrate_RowsSortedByTime(t *testing.T) {
	rows := newIntegrated(t, model.DateFilter{}).Rows()
	for i := 1; i < len(rows); i++ {
		assert.False(t, rows[i].Timestamp.Before(rows[i-1].Timestamp))
	}
}

func TestIntegrate_DateFilterIncludesEndDay(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{From: day1, To: day1})
	assert.Equal(t, 3, in.Stats().IntegratedRows)

	require.True(t, in.Integrate(model.DateFilter{From: day1.AddDate(0, 0, 1)}))
	assert.Empty(t, in.Rows())
	assert.Equal(t, 0, in.Stats().GenerationRows)

	require.True(t, in.Integrate(model.DateFilter{To: day1.AddDate(0, 0, -1)}))
	assert.Empty(t, in.Rows())
}

func TestIntegrate_StagesInOrder(t *testing.T) {
	in := New(&memSource{snap: testSnapshot()}, Options{})

	assert.False(t, in.Standardize())
	assert.False(t, in.Integrate(model.DateFilter{}))
	assert.Nil(t, in.Rows())
	assert.Nil(t, in.Catalog())
}

func TestIntegrate_LoadFailure(t *testing.T) {
	m := metrics.NewCollector("nem", nil)
	in := New(&memSource{err: errors.New("disk gone")}, Options{Metrics: m})

	assert.False(t, in.Load(context.Background()))
	assert.False(t, in.Standardize())
	assert.Nil(t, in.Rows())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("load")))
}

func TestIntegrate_LoadPanicRecovered(t *testing.T) {
	in := New(&memSource{boom: true}, Options{})

	assert.NotPanics(t, func() {
		assert.False(t, in.Load(context.Background()))
	})
}

func TestIntegrate_LoadWindow(t *testing.T) {
	in := New(&memSource{snap: testSnapshot()}, Options{
		Window: 3 * time.Minute,
		Now:    func() time.Time { return t1.Add(time.Minute) },
	})
	require.True(t, in.Load(context.Background()))
	require.True(t, in.Standardize())
	require.True(t, in.Integrate(model.DateFilter{}))

	assert.Equal(t, 2, in.Stats().GenerationRows)
}

func TestIntegrate_Metrics(t *testing.T) {
	m := metrics.NewCollector("nem", nil)
	in := New(&memSource{snap: testSnapshot()}, Options{Metrics: m})
	require.True(t, in.Load(context.Background()))
	require.True(t, in.Standardize())
	require.True(t, in.Integrate(model.DateFilter{}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnmatchedUnits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceDroppedRows))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.IntegratedRows))
}

func TestIntegrate_Accessors(t *testing.T) {
	in := newIntegrated(t, model.DateFilter{})

	gen := in.Generation(t1, time.Time{})
	assert.Len(t, gen, 2)

	prices := in.Prices(time.Time{}, time.Time{})
	assert.Len(t, prices, 3)

	latest, ok := in.Latest()
	require.True(t, ok)
	assert.Equal(t, t1, latest)

	assert.Equal(t, 2, in.Catalog().Len())
	assert.Empty(t, in.Rooftop())
}

func TestIntegrate_FromCSVDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		source.UnitsFile: "duid,station_name,owner,fuel_type,region,capacity_mw\nA1,Alpha,Acme,Coal,NSW1,300\n",
		source.GenerationFile: "SETTLEMENTDATE,DUID,SCADAVALUE\n" +
			"2025-03-01 10:00:00,A1,100\n2025-03-01 10:00:00,A1,200\n",
		source.PricesFile: "settlementdate,regionid,rrp\n2025-03-01 10:00:00,NSW1,50\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	in := New(source.NewDir(dir), Options{})
	require.True(t, in.Load(context.Background()))
	require.True(t, in.Standardize())
	require.True(t, in.Integrate(model.DateFilter{}))

	rows := in.Rows()
	require.Len(t, rows, 1)
	assert.InDelta(t, 200.0, rows[0].MW, 0.001)
	assert.InDelta(t, 200*50*5.0/60, rows[0].Revenue, 1e-9)
}
