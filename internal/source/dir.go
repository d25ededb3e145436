package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"nem_dashboard/internal/ingest"
	"nem_dashboard/internal/model"
)

// Snapshot file names inside a data directory.
const (
	UnitsFile        = "gen_info.csv"
	GenerationFile   = "gen_output.csv"
	PricesFile       = "spot_hist.csv"
	TransmissionFile = "transmission_flows.csv"
	RooftopFile      = "rooftop_solar.csv"
)

// Dir reads CSV snapshots from a directory written by the collector.
type Dir struct {
	Path string
	// Location interprets naive timestamps; nil means market time.
	Location *time.Location
}

func NewDir(path string) *Dir {
	return &Dir{Path: path}
}

// readFile opens name, checks its header holds the wanted table and hands it
// to parser. Missing files map to ErrNotFound.
func readFile[T any](ctx context.Context, d *Dir, name string, want ingest.Schema, parser ingest.Parser[T]) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(d.Path, name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	got, err := ingest.SniffSchema(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if got != want {
		return nil, fmt.Errorf("%s: holds %s, want %s: %w", path, got, want, ingest.ErrSchemaMismatch)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding %s: %w", path, err)
	}

	rows, err := parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rows, nil
}

func (d *Dir) Units(ctx context.Context) ([]model.UnitRecord, error) {
	return readFile[model.UnitRecord](ctx, d, UnitsFile, ingest.SchemaUnits, &ingest.UnitParser{})
}

func (d *Dir) Generation(ctx context.Context, since time.Time) ([]model.GenerationSample, error) {
	rows, err := readFile[model.GenerationSample](ctx, d, GenerationFile, ingest.SchemaGeneration, &ingest.GenerationParser{Location: d.Location})
	if err != nil {
		return nil, err
	}
	return filterSince(rows, since, func(s model.GenerationSample) time.Time { return s.Timestamp }), nil
}

func (d *Dir) Prices(ctx context.Context, since time.Time) ([]model.PriceSample, error) {
	rows, err := readFile[model.PriceSample](ctx, d, PricesFile, ingest.SchemaPrice, &ingest.PriceParser{Location: d.Location})
	if err != nil {
		return nil, err
	}
	return filterSince(rows, since, func(s model.PriceSample) time.Time { return s.Timestamp }), nil
}

func (d *Dir) Transmission(ctx context.Context, since time.Time) ([]model.TransmissionSample, error) {
	rows, err := readFile[model.TransmissionSample](ctx, d, TransmissionFile, ingest.SchemaTransmission, &ingest.TransmissionParser{Location: d.Location})
	if err != nil {
		return nil, err
	}
	return filterSince(rows, since, func(s model.TransmissionSample) time.Time { return s.Timestamp }), nil
}

func (d *Dir) Rooftop(ctx context.Context, since time.Time) ([]model.RooftopSample, error) {
	rows, err := readFile[model.RooftopSample](ctx, d, RooftopFile, ingest.SchemaRooftop, &ingest.RooftopParser{Location: d.Location})
	if err != nil {
		return nil, err
	}
	return filterSince(rows, since, func(s model.RooftopSample) time.Time { return s.Timestamp }), nil
}
