// Package renewable computes the renewable share of generation and keeps the
// running all-time and hour-of-day records.
package renewable

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"nem_dashboard/internal/ingest"
	"nem_dashboard/internal/jsonfile"
	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/metrics"
	"nem_dashboard/internal/model"
)

// Percentage returns renewable output as a share of primary generation.
// Storage and transmission are left out of the denominator, only positive
// finite values count, and the result is clamped to [0, 100].
func Percentage(latest map[model.Fuel]float64) float64 {
	var renewable, total float64
	for fuel, mw := range latest {
		if math.IsNaN(mw) || math.IsInf(mw, 0) || mw <= 0 {
			continue
		}
		info := model.FuelCatalog[fuel]
		if info.Excluded {
			continue
		}
		total += mw
		if info.Renewable {
			renewable += mw
		}
	}
	if total <= 0 {
		return 0
	}
	return math.Min(100, math.Max(0, renewable/total*100))
}

// Latest returns the last row of a fuel pivot keyed by fuel.
func Latest(pivot *model.Frame) (time.Time, map[model.Fuel]float64, bool) {
	ts, row, ok := pivot.Last()
	if !ok {
		return time.Time{}, nil, false
	}
	out := make(map[model.Fuel]float64, len(row))
	for col, v := range row {
		out[model.Fuel(col)] = v
	}
	return ts, out, true
}

// RecordStore persists renewable records.
type RecordStore interface {
	Load(ctx context.Context) (model.RenewableRecords, error)
	Save(ctx context.Context, records model.RenewableRecords) error
}

// FileStore keeps records in a JSON document replaced atomically on save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns empty records when the file does not exist yet.
func (s *FileStore) Load(ctx context.Context) (model.RenewableRecords, error) {
	if err := ctx.Err(); err != nil {
		return model.RenewableRecords{}, err
	}
	records := model.RenewableRecords{Hourly: make(map[int]model.Record)}
	if _, err := jsonfile.Read(s.path, &records); err != nil {
		return model.RenewableRecords{}, fmt.Errorf("loading renewable records: %w", err)
	}
	if records.Hourly == nil {
		records.Hourly = make(map[int]model.Record)
	}
	return records, nil
}

func (s *FileStore) Save(ctx context.Context, records model.RenewableRecords) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := jsonfile.Write(s.path, records); err != nil {
		return fmt.Errorf("saving renewable records: %w", err)
	}
	return nil
}

// Reference is what the gauge shows next to the current share.
type Reference struct {
	Current    float64 `json:"current"`
	AllTime    float64 `json:"all_time"`
	Hour       float64 `json:"hour"`
	HourOfDay  int     `json:"hour_of_day"`
	NewAllTime bool    `json:"new_all_time"`
	NewHour    bool    `json:"new_hour"`
}

// Tracker ratchets records held in a RecordStore. Records never decrease.
type Tracker struct {
	mu       sync.Mutex
	store    RecordStore
	location *time.Location
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewTracker(store RecordStore, logger *zap.Logger, m *metrics.Collector) *Tracker {
	return &Tracker{
		store:    store,
		location: ingest.MarketTime,
		logger:   logging.OrNop(logger).Named("renewable"),
		metrics:  m,
	}
}

// Update compares pct against the stored records for the market-time hour of
// at and persists any that are beaten. An hour without a record takes pct.
func (t *Tracker) Update(ctx context.Context, pct float64, at time.Time) (Reference, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RenewableShare.Set(pct)
	}

	records, err := t.store.Load(ctx)
	if err != nil {
		return Reference{}, err
	}
	if records.Hourly == nil {
		records.Hourly = make(map[int]model.Record)
	}

	hour := at.In(t.location).Hour()
	ref := Reference{Current: pct, HourOfDay: hour}

	if pct > records.AllTime.Value {
		records.AllTime = model.Record{Value: pct, Timestamp: at}
		ref.NewAllTime = true
		t.logger.Info("new all-time renewable record", zap.Float64("percent", pct))
		t.broken("all_time")
	}
	if rec, ok := records.Hourly[hour]; !ok || pct > rec.Value {
		records.Hourly[hour] = model.Record{Value: pct, Timestamp: at}
		ref.NewHour = true
		if ok {
			t.logger.Info("new hourly renewable record", zap.Int("hour", hour), zap.Float64("percent", pct))
			t.broken("hour")
		}
	}

	if ref.NewAllTime || ref.NewHour {
		if err := t.store.Save(ctx, records); err != nil {
			return Reference{}, err
		}
	}

	ref.AllTime = records.AllTime.Value
	ref.Hour = records.Hourly[hour].Value
	return ref, nil
}

func (t *Tracker) broken(scope string) {
	if t.metrics != nil {
		t.metrics.RecordsBroken.WithLabelValues(scope).Inc()
	}
}

// Records returns the stored records.
func (t *Tracker) Records(ctx context.Context) (model.RenewableRecords, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Load(ctx)
}
