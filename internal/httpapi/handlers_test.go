package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/catalog"
	"nem_dashboard/internal/dashboard"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/ws"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeSession struct {
	cat        *catalog.Catalog
	refreshErr error
	refreshes  int
	queried    []model.Dimension
	filter     aggregate.Filter
	queryErr   error
}

func (f *fakeSession) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSession) Status() dashboard.Status {
	return dashboard.Status{RunID: "run-1", State: dashboard.StateReady, DataEnd: t0}
}

func (f *fakeSession) Settings() dashboard.Settings {
	return dashboard.Settings{
		Region:    model.RegionNEM,
		Hierarchy: []model.Dimension{model.DimFuel, model.DimRegion},
		Columns:   aggregate.DefaultColumns,
	}
}

func (f *fakeSession) Analysis() dashboard.Analysis {
	return dashboard.Analysis{Hierarchy: []model.Dimension{model.DimFuel}, Message: "no data for this selection"}
}

func (f *fakeSession) Overview() dashboard.Overview {
	gen := model.NewFrame([]time.Time{t0})
	gen.AddColumn(string(model.FuelCoal), []float64{600})
	return dashboard.Overview{Region: model.RegionNEM, Generation: gen}
}

func (f *fakeSession) Gauge() dashboard.Gauge {
	g := dashboard.Gauge{Timestamp: t0, Available: true}
	g.Current = 42
	return g
}

func (f *fakeSession) Flow() dashboard.Flow { return dashboard.Flow{Region: model.RegionSA} }

func (f *fakeSession) Prices() []aggregate.RegionPrice {
	return []aggregate.RegionPrice{{Region: model.RegionNSW, Timestamp: t0, Latest: 80}}
}

func (f *fakeSession) Catalog() *catalog.Catalog { return f.cat }

func (f *fakeSession) Query(hierarchy []model.Dimension, columns []aggregate.Column, filter aggregate.Filter) (*aggregate.Table, error) {
	f.queried = hierarchy
	f.filter = filter
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &aggregate.Table{Hierarchy: hierarchy, Columns: columns}, nil
}

func (f *fakeSession) Station(name string) (dashboard.StationReport, error) {
	if name != "Wind Farm" {
		return dashboard.StationReport{}, fmt.Errorf("%w: %q", dashboard.ErrUnknownStation, name)
	}
	return dashboard.StationReport{Station: name, Performance: aggregate.Performance{GenerationMWh: 300}}, nil
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]model.UnitRecord{
		{DUID: "WIND1", StationName: "Wind Farm", Owner: "Breeze", Fuel: model.FuelWind, Region: model.RegionSA, CapacityMW: 250},
		{DUID: "WIND2", StationName: "Wind Farm", Owner: "Breeze", Fuel: model.FuelWind, Region: model.RegionSA, CapacityMW: 250},
		{DUID: "COAL1", StationName: "Coal Station", Owner: "Acme", Fuel: model.FuelCoal, Region: model.RegionNSW, CapacityMW: 1000},
	})
}

func newServer(t *testing.T, session *fakeSession) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	m := metrics.NewCollector("test", nil)
	router := mux.NewRouter()
	NewHandler(session, nil, m).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, m
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	server, _ := newServer(t, &fakeSession{})
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/health", &body))
	assert.Equal(t, "ready", body["state"])
}

func TestViews(t *testing.T) {
	server, m := newServer(t, &fakeSession{})

	var overview ws.OverviewPayload
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/overview", &overview))
	require.Len(t, overview.Generation.Series, 1)
	assert.Equal(t, "Coal", overview.Generation.Series[0].Name)

	var gauge ws.GaugePayload
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/gauge", &gauge))
	assert.Equal(t, 42.0, gauge.Current)

	var prices ws.PricesPayload
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/prices", &prices))
	require.Len(t, prices.Regions, 1)

	var fl ws.FlowPayload
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/flow", &fl))
	assert.Equal(t, "SA1", fl.Region)

	var analysis ws.AnalysisPayload
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/analysis", &analysis))
	assert.Equal(t, "no data for this selection", analysis.Message)

	var status map[string]json.RawMessage
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/status", &status))
	assert.Contains(t, status, "settings")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequests.WithLabelValues("/api/gauge", "200")))
}

func TestHierarchies(t *testing.T) {
	server, _ := newServer(t, &fakeSession{})
	var named []aggregate.NamedHierarchy
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/hierarchies", &named))
	assert.Equal(t, aggregate.Hierarchies(), named)
}

func TestAnalysisQuery(t *testing.T) {
	session := &fakeSession{}
	server, _ := newServer(t, session)

	var table aggregate.Table
	status := getJSON(t, server.URL+"/api/analysis?hierarchy=owner,fuel&regions=nsw1&fuels=coal,wind", &table)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []model.Dimension{model.DimOwner, model.DimFuel}, session.queried)
	assert.Equal(t, []model.Region{model.RegionNSW}, session.filter.Regions)
	assert.Equal(t, []model.Fuel{model.FuelCoal, model.FuelWind}, session.filter.Fuels)
	assert.Equal(t, aggregate.DefaultColumns, table.Columns)

	status = getJSON(t, server.URL+"/api/analysis?hierarchy=Region+%E2%86%92+Fuel", &table)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []model.Dimension{model.DimRegion, model.DimFuel}, session.queried)
}

func TestAnalysisQuery_Errors(t *testing.T) {
	session := &fakeSession{}
	server, _ := newServer(t, session)

	var e ErrorResponse
	assert.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/api/analysis?hierarchy=colour", &e))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/api/analysis?hierarchy=fuel,fuel", &e))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, server.URL+"/api/analysis?regions=WA1", &e))

	session.queryErr = aggregate.ErrNoData
	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/analysis?fuels=coal", &e))

	session.queryErr = fmt.Errorf("%w: boom", aggregate.ErrFailed)
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, server.URL+"/api/analysis?fuels=coal", &e))
	assert.Equal(t, 500, e.Code)
	assert.Equal(t, "analysis query failed", e.Message)
}

func TestStations(t *testing.T) {
	server, _ := newServer(t, &fakeSession{cat: testCatalog()})

	var list []StationSummary
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/stations", &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Coal Station", list[0].Station)
	assert.Equal(t, "Wind Farm", list[1].Station)
	assert.Equal(t, []string{"WIND1", "WIND2"}, list[1].Units)
	assert.Equal(t, 500.0, list[1].CapacityMW)
	assert.Equal(t, []string{"Wind"}, list[1].Fuels)

	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/stations?q=acme", &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Coal Station", list[0].Station)

	var report dashboard.StationReport
	assert.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/stations/Wind%20Farm", &report))
	assert.Equal(t, 300.0, report.Performance.GenerationMWh)

	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/stations/Nowhere", &e))
}

func TestStations_NoCatalog(t *testing.T) {
	server, _ := newServer(t, &fakeSession{})
	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/stations", &e))
}

func TestRefresh(t *testing.T) {
	session := &fakeSession{}
	server, _ := newServer(t, session)

	resp, err := http.Post(server.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, session.refreshes)

	session.refreshErr = errors.New("refresh stage failed: load")
	resp, err = http.Post(server.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/refresh")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
