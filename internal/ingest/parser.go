package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// Parser reads one snapshot table and returns its typed rows.
type Parser[T any] interface {
	Parse(r io.Reader) ([]T, error)
}

// MarketTime is NEM market time: AEST all year round.
var MarketTime = time.FixedZone("AEST", 10*60*60)

var (
	// ErrUnknownSchema is returned when a header matches no known snapshot layout.
	ErrUnknownSchema = errors.New("unknown snapshot schema")
	// ErrSchemaMismatch is returned when a table holds a different snapshot
	// than the one asked for.
	ErrSchemaMismatch = errors.New("snapshot schema mismatch")
)

// Schema identifies the layout of a snapshot table.
type Schema int

const (
	SchemaUnknown Schema = iota
	SchemaGeneration
	SchemaPrice
	SchemaUnits
	SchemaTransmission
	SchemaRooftop
)

func (s Schema) String() string {
	switch s {
	case SchemaGeneration:
		return "generation"
	case SchemaPrice:
		return "price"
	case SchemaUnits:
		return "units"
	case SchemaTransmission:
		return "transmission"
	case SchemaRooftop:
		return "rooftop"
	}
	return "unknown"
}

type field struct {
	name     string
	aliases  []string
	optional bool
}

var timestampField = field{name: "settlementdate", aliases: []string{"settlement_timestamp", "timestamp", "interval_datetime"}}

var schemaFields = map[Schema][]field{
	SchemaGeneration: {
		{name: "duid"},
		timestampField,
		{name: "scadavalue", aliases: []string{"mw", "mw_value", "value"}},
	},
	SchemaPrice: {
		{name: "regionid", aliases: []string{"region"}},
		timestampField,
		{name: "rrp", aliases: []string{"price", "price_per_mwh"}},
	},
	SchemaUnits: {
		{name: "duid"},
		{name: "site name", aliases: []string{"station_name", "station name", "station"}},
		{name: "owner", optional: true},
		{name: "fuel", aliases: []string{"fuel_type", "fuel type"}},
		{name: "region", aliases: []string{"regionid"}},
		{name: "capacity(mw)", aliases: []string{"capacity_mw", "capacity", "reg cap (mw)"}, optional: true},
	},
	SchemaTransmission: {
		{name: "interconnectorid", aliases: []string{"interconnector", "interconnector_id"}},
		timestampField,
		{name: "meteredmwflow", aliases: []string{"metered_flow_mw", "mwflow"}},
		{name: "importlimit", aliases: []string{"import_limit_mw"}, optional: true},
		{name: "exportlimit", aliases: []string{"export_limit_mw"}, optional: true},
	},
}

// header maps normalized column names to their positions.
type header map[string]int

func newHeader(cols []string) header {
	h := make(header, len(cols))
	for i, c := range cols {
		c = strings.TrimPrefix(c, "\ufeff")
		h[strings.ToLower(strings.TrimSpace(c))] = i
	}
	return h
}

func (h header) lookup(f field) (int, bool) {
	if i, ok := h[f.name]; ok {
		return i, true
	}
	for _, a := range f.aliases {
		if i, ok := h[a]; ok {
			return i, true
		}
	}
	return -1, false
}

// resolve maps every field of schema to a column position. Missing optional
// fields map to -1.
func (h header) resolve(schema Schema) (map[string]int, error) {
	fields := schemaFields[schema]
	idx := make(map[string]int, len(fields))
	for _, f := range fields {
		i, ok := h.lookup(f)
		if !ok && !f.optional {
			return nil, fmt.Errorf("%s snapshot: missing column %q", schema, f.name)
		}
		idx[f.name] = i
	}
	return idx, nil
}

func (h header) satisfies(schema Schema) bool {
	_, err := h.resolve(schema)
	return err == nil
}

// DetectSchema classifies a header row. Unit catalogs and generation tables
// both carry duid, so the more specific layouts are tried first.
func DetectSchema(cols []string) (Schema, error) {
	h := newHeader(cols)
	for _, s := range []Schema{SchemaTransmission, SchemaGeneration, SchemaUnits, SchemaPrice} {
		if h.satisfies(s) {
			return s, nil
		}
	}
	if _, ok := h.lookup(timestampField); ok && len(rooftopColumns(cols)) > 0 {
		return SchemaRooftop, nil
	}
	return SchemaUnknown, fmt.Errorf("%w: columns %v", ErrUnknownSchema, cols)
}

// SniffSchema reads the header row of r and classifies it.
func SniffSchema(r io.Reader) (Schema, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cols, err := cr.Read()
	if err != nil {
		return SchemaUnknown, fmt.Errorf("reading CSV header: %w", err)
	}
	return DetectSchema(cols)
}

// parseTable runs the shared CSV loop: validate the header against schema,
// then convert each record. Records that fail conversion are skipped.
func parseTable[T any](r io.Reader, schema Schema, convert func(idx map[string]int, record []string) (T, error)) ([]T, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	cols, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	idx, err := newHeader(cols).resolve(schema)
	if err != nil {
		return nil, err
	}

	var rows []T
	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		row, err := convert(idx, record)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// optionalFloat returns 0 for a missing or empty cell.
func optionalFloat(record []string, i int) float64 {
	v, err := parseFloat(cell(record, i))
	if err != nil {
		return 0
	}
	return v
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
}

// ParseTimestamp accepts RFC 3339, common naive layouts (interpreted in loc)
// and unix epoch seconds.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = MarketTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := parseUnixTimestamp(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseUnixTimestamp parses a Unix epoch float (seconds) into a time.Time.
func parseUnixTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
