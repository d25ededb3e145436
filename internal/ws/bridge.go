package ws

import (
	"go.uber.org/zap"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/dashboard"
)

// Bridge implements dashboard.Callback and broadcasts views to the WebSocket hub.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) broadcast(msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		b.hub.logger.Error("marshaling message", zap.String("type", msgType), zap.Error(err))
		return
	}
	b.hub.Broadcast(msg)
}

func (b *Bridge) OnStatus(s dashboard.Status) {
	b.broadcast(TypeStatus, StatusFromSession(s))
}

func (b *Bridge) OnAnalysis(a dashboard.Analysis) {
	b.broadcast(TypeAnalysis, AnalysisFromSession(a))
}

func (b *Bridge) OnOverview(o dashboard.Overview) {
	b.broadcast(TypeOverview, OverviewFromSession(o))
}

func (b *Bridge) OnGauge(g dashboard.Gauge) {
	b.broadcast(TypeGauge, GaugeFromSession(g))
}

func (b *Bridge) OnFlow(f dashboard.Flow) {
	b.broadcast(TypeFlow, FlowFromSession(f))
}

func (b *Bridge) OnPrices(p []aggregate.RegionPrice) {
	b.broadcast(TypePrices, PricesFromSession(p))
}
