package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"nem_dashboard/internal/model"
)

// ErrNotFound is returned when a snapshot table does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Source reads market snapshots. Every call returns freshly allocated slices
// owned by the caller. A zero since reads the whole table.
type Source interface {
	Units(ctx context.Context) ([]model.UnitRecord, error)
	Generation(ctx context.Context, since time.Time) ([]model.GenerationSample, error)
	Prices(ctx context.Context, since time.Time) ([]model.PriceSample, error)
	Transmission(ctx context.Context, since time.Time) ([]model.TransmissionSample, error)
	Rooftop(ctx context.Context, since time.Time) ([]model.RooftopSample, error)
}

// Snapshot is one consistent read of every table.
type Snapshot struct {
	Units        []model.UnitRecord
	Generation   []model.GenerationSample
	Prices       []model.PriceSample
	Transmission []model.TransmissionSample
	Rooftop      []model.RooftopSample
	// Missing names optional tables that were not present.
	Missing []string
}

// LoadAll reads every table concurrently. Units, generation and prices are
// required; missing transmission or rooftop tables leave those batches empty.
func LoadAll(ctx context.Context, src Source, since time.Time) (*Snapshot, error) {
	var snap Snapshot
	var missingTransmission, missingRooftop bool

	g, ctx := errgroup.WithContext(ctx)

	g.Go(safely("units", func() error {
		units, err := src.Units(ctx)
		if err != nil {
			return fmt.Errorf("loading units: %w", err)
		}
		snap.Units = units
		return nil
	}))
	g.Go(safely("generation", func() error {
		gen, err := src.Generation(ctx, since)
		if err != nil {
			return fmt.Errorf("loading generation: %w", err)
		}
		snap.Generation = gen
		return nil
	}))
	g.Go(safely("prices", func() error {
		prices, err := src.Prices(ctx, since)
		if err != nil {
			return fmt.Errorf("loading prices: %w", err)
		}
		snap.Prices = prices
		return nil
	}))
	g.Go(safely("transmission", func() error {
		flows, err := src.Transmission(ctx, since)
		if errors.Is(err, ErrNotFound) {
			missingTransmission = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading transmission: %w", err)
		}
		snap.Transmission = flows
		return nil
	}))
	g.Go(safely("rooftop", func() error {
		rooftop, err := src.Rooftop(ctx, since)
		if errors.Is(err, ErrNotFound) {
			missingRooftop = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading rooftop: %w", err)
		}
		snap.Rooftop = rooftop
		return nil
	}))

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if missingTransmission {
		snap.Missing = append(snap.Missing, "transmission")
	}
	if missingRooftop {
		snap.Missing = append(snap.Missing, "rooftop")
	}
	return &snap, nil
}

// safely turns a panic inside a loader goroutine into an error.
func safely(table string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("loading %s: panic: %v", table, r)
			}
		}()
		return fn()
	}
}

// filterSince keeps rows at or after since, reusing the backing array.
func filterSince[T any](rows []T, since time.Time, ts func(T) time.Time) []T {
	if since.IsZero() {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if !ts(r).Before(since) {
			out = append(out, r)
		}
	}
	return out
}
