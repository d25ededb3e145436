package ws

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
)

func TestNewEnvelope(t *testing.T) {
	msg, err := NewEnvelope(TypeSetRegion, SetRegionPayload{Region: "SA1"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, TypeSetRegion, env.Type)

	var parsed SetRegionPayload
	require.NoError(t, json.Unmarshal(env.Payload, &parsed))
	assert.Equal(t, "SA1", parsed.Region)
}

func TestNewEnvelope_NoPayload(t *testing.T) {
	msg, err := NewEnvelope(TypeRefresh, nil)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, TypeRefresh, env.Type)
	assert.Nil(t, env.Payload)
}

func TestHub_RegisterUnregister(t *testing.T) {
	m := metrics.NewCollector("test", nil)
	hub := NewHub(nil, m)

	c := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(c)
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSClients))

	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WSClients))

	// A second unregister is a no-op.
	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil, nil)

	c1 := &Client{hub: hub, send: make(chan []byte, 16)}
	c2 := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.Register(c1)
	hub.Register(c2)

	msg := []byte(`{"type":"test"}`)
	hub.Broadcast(msg)

	assert.Equal(t, msg, <-c1.send)
	assert.Equal(t, msg, <-c2.send)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub(nil, nil)
	c := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.Register(c)

	hub.Broadcast([]byte("a"))
	hub.Broadcast([]byte("b"))

	assert.Equal(t, []byte("a"), <-c.send)
	assert.Len(t, c.send, 0)
}

func TestChartFromFrame_NaNBecomesNull(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f := model.NewFrame([]time.Time{t0, t0.Add(model.Interval)})
	f.AddColumn(string(model.FuelWind), []float64{10, math.NaN()})

	chart := ChartFromFrame(f)
	require.Len(t, chart.Series, 1)
	assert.Equal(t, "Wind", chart.Series[0].Name)
	assert.Equal(t, "#00FF7F", chart.Series[0].Color)
	require.NotNil(t, chart.Series[0].Data[0])
	assert.Equal(t, 10.0, *chart.Series[0].Data[0])
	assert.Nil(t, chart.Series[0].Data[1])

	data, err := json.Marshal(chart)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":[10,null]`)
	assert.Contains(t, string(data), `"2025-03-01T00:00:00Z"`)
}

func TestChartFromFrame_Nil(t *testing.T) {
	chart := ChartFromFrame(nil)
	assert.NotNil(t, chart.Timestamps)
	assert.Empty(t, chart.Series)
}

func TestMessageTypes(t *testing.T) {
	assert.Equal(t, "view:set_region", TypeSetRegion)
	assert.Equal(t, "analysis:set_hierarchy", TypeSetHierarchy)
	assert.Equal(t, "analysis:set_columns", TypeSetColumns)
	assert.Equal(t, "analysis:set_filters", TypeSetFilters)
	assert.Equal(t, "analysis:set_range", TypeSetRange)
	assert.Equal(t, "data:refresh", TypeRefresh)
	assert.Equal(t, "status:update", TypeStatus)
	assert.Equal(t, "analysis:table", TypeAnalysis)
	assert.Equal(t, "overview:update", TypeOverview)
	assert.Equal(t, "gauge:update", TypeGauge)
	assert.Equal(t, "flow:update", TypeFlow)
	assert.Equal(t, "prices:update", TypePrices)
}
