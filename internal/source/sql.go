package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"nem_dashboard/internal/ingest"
	"nem_dashboard/internal/model"
)

// SQL reads snapshots from a database populated by the collector or by
// Import. Timestamps are stored as unix seconds so that every driver compares
// them the same way.
type SQL struct {
	db      *sqlx.DB
	dialect dialect
}

type dialect struct {
	// tableSuffix is appended to CREATE TABLE statements.
	tableSuffix func(table string) string
	types       map[string]string
}

var dialects = map[string]dialect{
	"sqlite": {
		tableSuffix: func(string) string { return "" },
		types:       map[string]string{"time": "BIGINT", "text": "TEXT", "float": "DOUBLE PRECISION"},
	},
	"postgres": {
		tableSuffix: func(string) string { return "" },
		types:       map[string]string{"time": "BIGINT", "text": "TEXT", "float": "DOUBLE PRECISION"},
	},
	"clickhouse": {
		tableSuffix: func(table string) string {
			return " ENGINE = MergeTree ORDER BY " + orderKeys[table]
		},
		types: map[string]string{"time": "Int64", "text": "String", "float": "Float64"},
	},
}

var orderKeys = map[string]string{
	"units":        "duid",
	"generation":   "(duid, settlementdate)",
	"prices":       "(regionid, settlementdate)",
	"transmission": "(interconnectorid, settlementdate)",
	"rooftop":      "(regionid, settlementdate)",
}

type column struct {
	name string
	kind string
}

var tables = []struct {
	name    string
	columns []column
}{
	{"units", []column{{"duid", "text"}, {"station_name", "text"}, {"owner", "text"}, {"fuel", "text"}, {"region", "text"}, {"capacity_mw", "float"}}},
	{"generation", []column{{"settlementdate", "time"}, {"duid", "text"}, {"scadavalue", "float"}}},
	{"prices", []column{{"settlementdate", "time"}, {"regionid", "text"}, {"rrp", "float"}}},
	{"transmission", []column{{"settlementdate", "time"}, {"interconnectorid", "text"}, {"meteredmwflow", "float"}, {"importlimit", "float"}, {"exportlimit", "float"}}},
	{"rooftop", []column{{"settlementdate", "time"}, {"regionid", "text"}, {"power", "float"}}},
}

// OpenSQL connects to a snapshot database. driver is sqlite, postgres or clickhouse.
func OpenSQL(driver, dsn string) (*SQL, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// In-memory databases exist per connection.
		db.SetMaxOpenConns(1)
	}
	return &SQL{db: db, dialect: d}, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// Migrate creates the snapshot tables when they do not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, t := range tables {
		cols := make([]string, len(t.columns))
		for i, c := range t.columns {
			cols[i] = c.name + " " + s.dialect.types[c.kind] + " NOT NULL"
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)%s", t.name, strings.Join(cols, ", "), s.dialect.tableSuffix(t.name))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating table %s: %w", t.name, err)
		}
	}
	return nil
}

type unitRow struct {
	DUID        string  `db:"duid"`
	StationName string  `db:"station_name"`
	Owner       string  `db:"owner"`
	Fuel        string  `db:"fuel"`
	Region      string  `db:"region"`
	CapacityMW  float64 `db:"capacity_mw"`
}

type generationRow struct {
	SettlementDate int64   `db:"settlementdate"`
	DUID           string  `db:"duid"`
	ScadaValue     float64 `db:"scadavalue"`
}

type priceRow struct {
	SettlementDate int64   `db:"settlementdate"`
	RegionID       string  `db:"regionid"`
	RRP            float64 `db:"rrp"`
}

type transmissionRow struct {
	SettlementDate   int64   `db:"settlementdate"`
	InterconnectorID string  `db:"interconnectorid"`
	MeteredMWFlow    float64 `db:"meteredmwflow"`
	ImportLimit      float64 `db:"importlimit"`
	ExportLimit      float64 `db:"exportlimit"`
}

type rooftopRow struct {
	SettlementDate int64   `db:"settlementdate"`
	RegionID       string  `db:"regionid"`
	Power          float64 `db:"power"`
}

func sinceUnix(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).In(ingest.MarketTime)
}

func (s *SQL) selectSince(ctx context.Context, dest interface{}, table string, cols string, since time.Time) error {
	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE settlementdate >= ? ORDER BY settlementdate", cols, table))
	if err := s.db.SelectContext(ctx, dest, query, sinceUnix(since)); err != nil {
		return fmt.Errorf("querying %s: %w", table, err)
	}
	return nil
}

func (s *SQL) Units(ctx context.Context) ([]model.UnitRecord, error) {
	var rows []unitRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT duid, station_name, owner, fuel, region, capacity_mw FROM units ORDER BY duid"); err != nil {
		return nil, fmt.Errorf("querying units: %w", err)
	}
	units := make([]model.UnitRecord, len(rows))
	for i, r := range rows {
		region, _ := model.ParseRegion(r.Region)
		units[i] = model.UnitRecord{
			DUID:        r.DUID,
			StationName: r.StationName,
			Owner:       r.Owner,
			Fuel:        model.ParseFuel(r.Fuel),
			Region:      region,
			CapacityMW:  r.CapacityMW,
		}
	}
	return units, nil
}

func (s *SQL) Generation(ctx context.Context, since time.Time) ([]model.GenerationSample, error) {
	var rows []generationRow
	if err := s.selectSince(ctx, &rows, "generation", "settlementdate, duid, scadavalue", since); err != nil {
		return nil, err
	}
	out := make([]model.GenerationSample, len(rows))
	for i, r := range rows {
		out[i] = model.GenerationSample{DUID: r.DUID, Timestamp: fromUnix(r.SettlementDate), MW: r.ScadaValue}
	}
	return out, nil
}

func (s *SQL) Prices(ctx context.Context, since time.Time) ([]model.PriceSample, error) {
	var rows []priceRow
	if err := s.selectSince(ctx, &rows, "prices", "settlementdate, regionid, rrp", since); err != nil {
		return nil, err
	}
	out := make([]model.PriceSample, len(rows))
	for i, r := range rows {
		out[i] = model.PriceSample{Region: model.Region(r.RegionID), Timestamp: fromUnix(r.SettlementDate), RRP: r.RRP}
	}
	return out, nil
}

func (s *SQL) Transmission(ctx context.Context, since time.Time) ([]model.TransmissionSample, error) {
	var rows []transmissionRow
	if err := s.selectSince(ctx, &rows, "transmission", "settlementdate, interconnectorid, meteredmwflow, importlimit, exportlimit", since); err != nil {
		return nil, err
	}
	out := make([]model.TransmissionSample, len(rows))
	for i, r := range rows {
		out[i] = model.TransmissionSample{
			Interconnector: r.InterconnectorID,
			Timestamp:      fromUnix(r.SettlementDate),
			MeteredFlowMW:  r.MeteredMWFlow,
			ImportLimitMW:  r.ImportLimit,
			ExportLimitMW:  r.ExportLimit,
		}
	}
	return out, nil
}

func (s *SQL) Rooftop(ctx context.Context, since time.Time) ([]model.RooftopSample, error) {
	var rows []rooftopRow
	if err := s.selectSince(ctx, &rows, "rooftop", "settlementdate, regionid, power", since); err != nil {
		return nil, err
	}
	out := make([]model.RooftopSample, len(rows))
	for i, r := range rows {
		out[i] = model.RooftopSample{Region: model.Region(r.RegionID), Timestamp: fromUnix(r.SettlementDate), MW: r.Power}
	}
	return out, nil
}

// insert writes rows in one transaction through a prepared statement, which
// is also how clickhouse-go batches inserts.
func (s *SQL) insert(ctx context.Context, table string, n int, args func(i int) []interface{}) error {
	if n == 0 {
		return nil
	}

	var cols []string
	for _, t := range tables {
		if t.name == table {
			for _, c := range t.columns {
				cols = append(cols, c.name)
			}
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s insert: %w", table, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing %s insert: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("inserting into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s insert: %w", table, err)
	}
	return nil
}

// Import writes a snapshot into the database. Tables must exist (see Migrate).
func (s *SQL) Import(ctx context.Context, snap *Snapshot) error {
	if err := s.insert(ctx, "units", len(snap.Units), func(i int) []interface{} {
		u := snap.Units[i]
		return []interface{}{u.DUID, u.StationName, u.Owner, string(u.Fuel), string(u.Region), u.CapacityMW}
	}); err != nil {
		return err
	}
	if err := s.insert(ctx, "generation", len(snap.Generation), func(i int) []interface{} {
		g := snap.Generation[i]
		return []interface{}{g.Timestamp.Unix(), g.DUID, g.MW}
	}); err != nil {
		return err
	}
	if err := s.insert(ctx, "prices", len(snap.Prices), func(i int) []interface{} {
		p := snap.Prices[i]
		return []interface{}{p.Timestamp.Unix(), string(p.Region), p.RRP}
	}); err != nil {
		return err
	}
	if err := s.insert(ctx, "transmission", len(snap.Transmission), func(i int) []interface{} {
		t := snap.Transmission[i]
		return []interface{}{t.Timestamp.Unix(), t.Interconnector, t.MeteredFlowMW, t.ImportLimitMW, t.ExportLimitMW}
	}); err != nil {
		return err
	}
	return s.insert(ctx, "rooftop", len(snap.Rooftop), func(i int) []interface{} {
		r := snap.Rooftop[i]
		return []interface{}{r.Timestamp.Unix(), string(r.Region), r.MW}
	})
}
