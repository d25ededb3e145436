package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection.
type Collector struct {
	// Refresh pipeline
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	StageFailures   *prometheus.CounterVec

	// Integration
	GenerationRows   prometheus.Gauge
	IntegratedRows   prometheus.Gauge
	UnmatchedUnits   prometheus.Gauge
	UnmatchedRows    prometheus.Gauge
	PriceDroppedRows prometheus.Gauge

	// Signal repair
	RepairedSamples *prometheus.CounterVec

	// Presentation
	RenewableShare prometheus.Gauge
	RecordsBroken  *prometheus.CounterVec
	APIRequests    *prometheus.CounterVec
	APIDuration    *prometheus.HistogramVec
	WSClients      prometheus.Gauge
}

// NewCollector registers the collector's metrics with reg. A nil reg means a
// fresh private registry, which keeps tests independent of each other.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		RefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Total number of refresh runs by outcome",
			},
			[]string{"outcome"},
		),
		RefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of the load, integrate and recompute pipeline",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Total number of failed pipeline stages",
			},
			[]string{"stage"},
		),
		GenerationRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_rows",
			Help:      "Generation rows inside the integration date range",
		}),
		IntegratedRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "integrated_rows",
			Help:      "Rows surviving both joins",
		}),
		UnmatchedUnits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmatched_units",
			Help:      "Distinct DUIDs with generation but no catalog entry",
		}),
		UnmatchedRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmatched_rows",
			Help:      "Generation rows whose DUID has no catalog entry",
		}),
		PriceDroppedRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_dropped_rows",
			Help:      "Rows dropped for lack of a regional price",
		}),
		RepairedSamples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repaired_samples_total",
				Help:      "Samples synthesised by signal repair, by origin",
			},
			[]string{"origin"},
		),
		RenewableShare: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "renewable_share_percent",
			Help:      "Latest renewable share of generation",
		}),
		RecordsBroken: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renewable_records_broken_total",
				Help:      "Renewable share records broken, by scope",
			},
			[]string{"scope"},
		),
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by route and status",
			},
			[]string{"route", "status"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"route"},
		),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients",
		}),
	}
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) time.Duration {
	d := time.Since(t.start)
	h.Observe(d.Seconds())
	return d
}
