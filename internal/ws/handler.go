package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/dashboard"
	"nem_dashboard/internal/ingest"
	"nem_dashboard/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller is the part of dashboard.Session the handler drives.
type Controller interface {
	Refresh(ctx context.Context) error
	SetRegion(region model.Region) error
	SetHierarchy(hierarchy []model.Dimension) error
	SetColumns(columns []aggregate.Column) error
	SetFilter(filter aggregate.Filter) error
	SetRange(filter model.DateFilter) error

	Status() dashboard.Status
	Analysis() dashboard.Analysis
	Overview() dashboard.Overview
	Gauge() dashboard.Gauge
	Flow() dashboard.Flow
	Prices() []aggregate.RegionPrice
}

// Handler manages WebSocket connections and routes messages to the session.
type Handler struct {
	hub     *Hub
	session Controller
	logger  *zap.Logger
}

func NewHandler(hub *Hub, session Controller) *Handler {
	return &Handler{hub: hub, session: session, logger: hub.logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.hub.Register(client)
	go client.writePump()

	h.sendSnapshot(client)

	// Refreshes started by a client outlive its connection.
	h.readPump(context.WithoutCancel(r.Context()), client)
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		if err := h.handleMessage(ctx, msg); err != nil {
			h.logger.Info("rejected client message", zap.Error(err))
			h.sendError(c, msg, err)
		}
	}
}

func decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return nil
}

// handleMessage applies one client message. Views are pushed to every client
// through the bridge, so only failures are answered directly.
func (h *Handler) handleMessage(ctx context.Context, msg []byte) error {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch env.Type {
	case TypeSetRegion:
		var p SetRegionPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return h.session.SetRegion(model.Region(p.Region))

	case TypeSetHierarchy:
		var p SetHierarchyPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		dims := make([]model.Dimension, 0, len(p.Hierarchy))
		for _, s := range p.Hierarchy {
			d, err := model.ParseDimension(s)
			if err != nil {
				return err
			}
			dims = append(dims, d)
		}
		return h.session.SetHierarchy(dims)

	case TypeSetColumns:
		var p SetColumnsPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		cols := make([]aggregate.Column, 0, len(p.Columns))
		for _, c := range p.Columns {
			cols = append(cols, aggregate.Column(c))
		}
		return h.session.SetColumns(cols)

	case TypeSetFilters:
		var p SetFiltersPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		filter, err := ParseFilter(p.Regions, p.Fuels)
		if err != nil {
			return err
		}
		return h.session.SetFilter(filter)

	case TypeSetRange:
		var p SetRangePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		filter, err := ParseDateRange(p.From, p.To)
		if err != nil {
			return err
		}
		return h.session.SetRange(filter)

	case TypeRefresh:
		go func() {
			if err := h.session.Refresh(ctx); err != nil {
				h.logger.Warn("client requested refresh failed", zap.Error(err))
			}
		}()
		return nil
	}
	return fmt.Errorf("unknown message type %q", env.Type)
}

// ParseFilter resolves region and fuel names. NEM in the region list means no
// region restriction.
func ParseFilter(regions, fuels []string) (aggregate.Filter, error) {
	var f aggregate.Filter
	for _, s := range regions {
		r, ok := model.ParseRegion(s)
		if !ok {
			return f, fmt.Errorf("unknown region %q", s)
		}
		if r == model.RegionNEM {
			f.Regions = nil
			break
		}
		f.Regions = append(f.Regions, r)
	}
	for _, s := range fuels {
		f.Fuels = append(f.Fuels, model.ParseFuel(s))
	}
	return f, nil
}

// ParseDateRange reads YYYY-MM-DD market dates. Empty bounds stay open.
func ParseDateRange(from, to string) (model.DateFilter, error) {
	var f model.DateFilter
	var err error
	if from != "" {
		if f.From, err = time.ParseInLocation(time.DateOnly, from, ingest.MarketTime); err != nil {
			return f, fmt.Errorf("invalid from date: %w", err)
		}
	}
	if to != "" {
		if f.To, err = time.ParseInLocation(time.DateOnly, to, ingest.MarketTime); err != nil {
			return f, fmt.Errorf("invalid to date: %w", err)
		}
	}
	return f, nil
}

func (h *Handler) sendError(c *Client, request []byte, err error) {
	var env Envelope
	_ = json.Unmarshal(request, &env)
	msg, mErr := NewEnvelope(TypeError, ErrorPayload{Request: env.Type, Message: err.Error()})
	if mErr != nil {
		return
	}
	c.trySend(msg)
}

// sendSnapshot brings a new client up to date with the current views.
func (h *Handler) sendSnapshot(c *Client) {
	messages := []struct {
		typ     string
		payload any
	}{
		{TypeStatus, StatusFromSession(h.session.Status())},
		{TypeAnalysis, AnalysisFromSession(h.session.Analysis())},
		{TypeOverview, OverviewFromSession(h.session.Overview())},
		{TypeGauge, GaugeFromSession(h.session.Gauge())},
		{TypeFlow, FlowFromSession(h.session.Flow())},
		{TypePrices, PricesFromSession(h.session.Prices())},
	}
	for _, m := range messages {
		msg, err := NewEnvelope(m.typ, m.payload)
		if err != nil {
			h.logger.Error("marshaling snapshot", zap.String("type", m.typ), zap.Error(err))
			continue
		}
		c.trySend(msg)
	}
}
