// Package httpapi serves the dashboard views and ad-hoc analysis queries over
// JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/catalog"
	"nem_dashboard/internal/dashboard"
	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/ws"
)

// Session is the part of dashboard.Session the API reads.
type Session interface {
	Refresh(ctx context.Context) error
	Status() dashboard.Status
	Settings() dashboard.Settings
	Analysis() dashboard.Analysis
	Overview() dashboard.Overview
	Gauge() dashboard.Gauge
	Flow() dashboard.Flow
	Prices() []aggregate.RegionPrice
	Catalog() *catalog.Catalog
	Query(hierarchy []model.Dimension, columns []aggregate.Column, filter aggregate.Filter) (*aggregate.Table, error)
	Station(name string) (dashboard.StationReport, error)
}

// Handler serves the JSON API.
type Handler struct {
	session Session
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewHandler(session Session, logger *zap.Logger, m *metrics.Collector) *Handler {
	return &Handler{
		session: session,
		logger:  logging.OrNop(logger).Named("api"),
		metrics: m,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StationSummary is one entry of the station list.
type StationSummary struct {
	Station    string   `json:"station"`
	Owner      string   `json:"owner"`
	Region     string   `json:"region"`
	Fuels      []string `json:"fuels"`
	Units      []string `json:"units"`
	CapacityMW float64  `json:"capacity_mw"`
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.instrument("/api/status", h.GetStatus)).Methods("GET")
	api.HandleFunc("/hierarchies", h.instrument("/api/hierarchies", h.GetHierarchies)).Methods("GET")
	api.HandleFunc("/analysis", h.instrument("/api/analysis", h.GetAnalysis)).Methods("GET")
	api.HandleFunc("/overview", h.instrument("/api/overview", h.GetOverview)).Methods("GET")
	api.HandleFunc("/gauge", h.instrument("/api/gauge", h.GetGauge)).Methods("GET")
	api.HandleFunc("/flow", h.instrument("/api/flow", h.GetFlow)).Methods("GET")
	api.HandleFunc("/prices", h.instrument("/api/prices", h.GetPrices)).Methods("GET")
	api.HandleFunc("/stations", h.instrument("/api/stations", h.ListStations)).Methods("GET")
	api.HandleFunc("/stations/{station}", h.instrument("/api/stations/{station}", h.GetStation)).Methods("GET")
	api.HandleFunc("/refresh", h.instrument("/api/refresh", h.PostRefresh)).Methods("POST")
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if h.metrics != nil {
			h.metrics.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			h.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()
	h.sendJSON(w, map[string]string{"status": "ok", "state": string(st.State)}, http.StatusOK)
}

// GetStatus handles GET /api/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, map[string]any{
		"status":   ws.StatusFromSession(h.session.Status()),
		"settings": h.session.Settings(),
	}, http.StatusOK)
}

// GetHierarchies handles GET /api/hierarchies
func (h *Handler) GetHierarchies(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, aggregate.Hierarchies(), http.StatusOK)
}

// GetAnalysis handles GET /api/analysis. Without query parameters it returns
// the session's table; hierarchy, columns, regions and fuels run an ad-hoc
// query instead.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hierarchy") == "" && q.Get("columns") == "" && q.Get("regions") == "" && q.Get("fuels") == "" {
		h.sendJSON(w, ws.AnalysisFromSession(h.session.Analysis()), http.StatusOK)
		return
	}

	settings := h.session.Settings()
	hierarchy := settings.Hierarchy
	if s := q.Get("hierarchy"); s != "" {
		dims, err := resolveHierarchy(s)
		if err != nil {
			h.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		hierarchy = dims
	}
	columns := settings.Columns
	if s := q.Get("columns"); s != "" {
		columns = nil
		for _, c := range splitList(s) {
			columns = append(columns, aggregate.Column(c))
		}
	}
	filter, err := ws.ParseFilter(splitList(q.Get("regions")), splitList(q.Get("fuels")))
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	table, err := h.session.Query(hierarchy, columns, filter)
	if err != nil {
		h.sendQueryError(w, "analysis query failed", err)
		return
	}
	h.sendJSON(w, table, http.StatusOK)
}

// resolveHierarchy accepts a named hierarchy or a comma-separated dimension list.
func resolveHierarchy(s string) ([]model.Dimension, error) {
	for _, named := range aggregate.Hierarchies() {
		if named.Name == s {
			return named.Dimensions, nil
		}
	}
	dims, err := model.ParseHierarchy(s)
	if err != nil {
		return nil, err
	}
	if err := aggregate.ValidateHierarchy(dims); err != nil {
		return nil, err
	}
	return dims, nil
}

// GetOverview handles GET /api/overview
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, ws.OverviewFromSession(h.session.Overview()), http.StatusOK)
}

// GetGauge handles GET /api/gauge
func (h *Handler) GetGauge(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, ws.GaugeFromSession(h.session.Gauge()), http.StatusOK)
}

// GetFlow handles GET /api/flow
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, ws.FlowFromSession(h.session.Flow()), http.StatusOK)
}

// GetPrices handles GET /api/prices
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, ws.PricesFromSession(h.session.Prices()), http.StatusOK)
}

// ListStations handles GET /api/stations. The optional q parameter searches
// DUIDs, stations and owners.
func (h *Handler) ListStations(w http.ResponseWriter, r *http.Request) {
	cat := h.session.Catalog()
	if cat == nil {
		h.sendError(w, "no data loaded", http.StatusNotFound)
		return
	}

	units := cat.Units()
	if q := r.URL.Query().Get("q"); q != "" {
		units = cat.Search(q)
	}
	h.sendJSON(w, summarizeStations(units), http.StatusOK)
}

func summarizeStations(units []model.UnitRecord) []StationSummary {
	byName := make(map[string]*StationSummary)
	var names []string
	for _, u := range units {
		if u.StationName == "" {
			continue
		}
		s, ok := byName[u.StationName]
		if !ok {
			s = &StationSummary{Station: u.StationName, Owner: u.Owner, Region: string(u.Region), Fuels: []string{}}
			byName[u.StationName] = s
			names = append(names, u.StationName)
		}
		s.Units = append(s.Units, u.DUID)
		s.CapacityMW += u.CapacityMW
		if !contains(s.Fuels, string(u.Fuel)) {
			s.Fuels = append(s.Fuels, string(u.Fuel))
		}
	}
	sort.Strings(names)

	out := make([]StationSummary, 0, len(names))
	for _, n := range names {
		out = append(out, *byName[n])
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// GetStation handles GET /api/stations/{station}
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["station"]
	report, err := h.session.Station(name)
	if err != nil {
		h.sendQueryError(w, "station report failed", err)
		return
	}
	h.sendJSON(w, report, http.StatusOK)
}

// PostRefresh handles POST /api/refresh
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		h.logger.Error("manual refresh failed", zap.Error(err))
		h.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.sendJSON(w, ws.StatusFromSession(h.session.Status()), http.StatusOK)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sendQueryError maps aggregation errors onto status codes.
func (h *Handler) sendQueryError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, aggregate.ErrNoData), errors.Is(err, dashboard.ErrUnknownStation):
		h.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, aggregate.ErrInvalidHierarchy):
		h.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(msg, zap.Error(err))
		h.sendError(w, msg, http.StatusInternalServerError)
	}
}

func (h *Handler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("writing response", zap.Error(err))
	}
}

func (h *Handler) sendError(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}
