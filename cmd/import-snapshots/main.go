package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"nem_dashboard/internal/source"
)

func main() {
	dataDir := flag.String("data-dir", "", "directory containing snapshot CSV files (overrides NEM_DATA_DIR)")
	driver := flag.String("driver", "", "sqlite, postgres or clickhouse (overrides NEM_SQL_DRIVER)")
	dsn := flag.String("dsn", "", "database connection string (overrides NEM_SQL_DSN)")
	since := flag.Duration("since", 0, "only import samples newer than this, e.g. 168h; 0 imports everything")
	flag.Parse()

	loadDotEnv(".env")

	dir := resolveFlag(*dataDir, "NEM_DATA_DIR", "data")
	drv := resolveFlag(*driver, "NEM_SQL_DRIVER", "sqlite")
	conn := resolveFlag(*dsn, "NEM_SQL_DSN", "")
	if conn == "" {
		log.Fatal("NEM_SQL_DSN not set: use -dsn flag or set NEM_SQL_DSN in .env")
	}

	var from time.Time
	if *since > 0 {
		from = time.Now().Add(-*since)
	}

	counts, err := importSnapshot(context.Background(), dir, drv, conn, from)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("imported %s into %s", counts, drv)
}

type counts struct {
	units, generation, prices, transmission, rooftop int
	missing                                          []string
}

func (c counts) String() string {
	s := fmt.Sprintf("%s units, %s generation, %s price, %s transmission, %s rooftop rows",
		humanize.Comma(int64(c.units)), humanize.Comma(int64(c.generation)), humanize.Comma(int64(c.prices)),
		humanize.Comma(int64(c.transmission)), humanize.Comma(int64(c.rooftop)))
	if len(c.missing) > 0 {
		s += " (missing: " + strings.Join(c.missing, ", ") + ")"
	}
	return s
}

func importSnapshot(ctx context.Context, dir, driver, dsn string, since time.Time) (counts, error) {
	snap, err := source.LoadAll(ctx, source.NewDir(dir), since)
	if err != nil {
		return counts{}, fmt.Errorf("reading %s: %w", dir, err)
	}

	db, err := source.OpenSQL(driver, dsn)
	if err != nil {
		return counts{}, err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return counts{}, err
	}
	if err := db.Import(ctx, snap); err != nil {
		return counts{}, fmt.Errorf("importing snapshot: %w", err)
	}

	return counts{
		units:        len(snap.Units),
		generation:   len(snap.Generation),
		prices:       len(snap.Prices),
		transmission: len(snap.Transmission),
		rooftop:      len(snap.Rooftop),
		missing:      snap.Missing,
	}, nil
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // silently skip if .env doesn't exist
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, val)
		}
	}
}

func resolveFlag(flagVal, envKey, fallback string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return fallback
}
