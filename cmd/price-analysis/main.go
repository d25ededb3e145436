package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"nem_dashboard/internal/aggregate"
	"nem_dashboard/internal/ingest"
	"nem_dashboard/internal/integrate"
	"nem_dashboard/internal/logging"
	"nem_dashboard/internal/model"
	"nem_dashboard/internal/source"
	"nem_dashboard/internal/ws"
)

type options struct {
	hierarchy []model.Dimension
	columns   []aggregate.Column
	filter    aggregate.Filter
	dates     model.DateFilter
	detail    bool
	station   string
}

func main() {
	dataDir := flag.String("data-dir", "data", "directory containing snapshot CSV files")
	hierarchy := flag.String("hierarchy", "fuel,region", "comma-separated grouping dimensions")
	columns := flag.String("columns", "", "comma-separated detail columns (default: generation, revenue, price, utilization)")
	regions := flag.String("regions", "", "comma-separated regions to keep")
	fuels := flag.String("fuels", "", "comma-separated fuels to keep")
	from := flag.String("from", "", "first market date, YYYY-MM-DD")
	to := flag.String("to", "", "last market date, YYYY-MM-DD")
	detail := flag.Bool("detail", false, "print one row per unit")
	station := flag.String("station", "", "print a performance report for one station instead")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.New(*logLevel, "")
	if err != nil {
		log.Fatalf("Initializing logger: %v", err)
	}
	defer logger.Sync()

	opts, err := parseOptions(*hierarchy, *columns, *regions, *fuels, *from, *to)
	if err != nil {
		log.Fatal(err)
	}
	opts.detail = *detail
	opts.station = *station

	in := integrate.New(source.NewDir(*dataDir), integrate.Options{Logger: logger})
	if !in.Load(context.Background()) || !in.Standardize() || !in.Integrate(opts.dates) {
		log.Fatal("Integration failed, see log for the failing stage")
	}

	if err := report(os.Stdout, in, opts); err != nil {
		log.Fatal(err)
	}
}

func parseOptions(hierarchy, columns, regions, fuels, from, to string) (options, error) {
	var opts options
	var err error
	if opts.hierarchy, err = model.ParseHierarchy(hierarchy); err != nil {
		return opts, err
	}
	if err := aggregate.ValidateHierarchy(opts.hierarchy); err != nil {
		return opts, err
	}
	for _, c := range splitList(columns) {
		opts.columns = append(opts.columns, aggregate.Column(c))
	}
	if opts.filter, err = ws.ParseFilter(splitList(regions), splitList(fuels)); err != nil {
		return opts, err
	}
	if opts.dates, err = ws.ParseDateRange(from, to); err != nil {
		return opts, err
	}
	if !opts.dates.From.IsZero() && !opts.dates.To.IsZero() && opts.dates.To.Before(opts.dates.From) {
		return opts, fmt.Errorf("date range ends before it starts")
	}
	return opts, nil
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

func report(w io.Writer, in *integrate.Integrator, opts options) error {
	stats := in.Stats()
	rows := in.Rows()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "NEM Revenue Analysis")
	if stats.IntegratedRows > 0 {
		fmt.Fprintf(w, "  Data: %s to %s (%s rows)\n",
			stats.Range.Start.In(ingest.MarketTime).Format("2006-01-02 15:04"),
			stats.Range.End.In(ingest.MarketTime).Format("2006-01-02 15:04"),
			humanize.Comma(int64(stats.IntegratedRows)))
	}
	if len(stats.UnmatchedUnits) > 0 {
		fmt.Fprintf(w, "  Units missing from catalog: %d (%s rows dropped)\n",
			len(stats.UnmatchedUnits), humanize.Comma(int64(stats.UnmatchedRows)))
	}
	fmt.Fprintln(w)

	if opts.station != "" {
		return stationReport(w, in, opts.station)
	}
	if opts.detail {
		return detailReport(w, rows, opts)
	}
	return groupReport(w, rows, opts)
}

func groupReport(w io.Writer, rows []model.IntegratedRow, opts options) error {
	groups, err := aggregate.Aggregate(opts.filter.Apply(rows), opts.hierarchy)
	if errors.Is(err, aggregate.ErrNoData) {
		fmt.Fprintln(w, "  No data for this selection.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "  %-40s │ %12s │ %14s │ %10s │ %7s\n", "Group", "GWh", "Revenue", "$/MWh", "Util %")
	fmt.Fprintln(w, "  ─────────────────────────────────────────┼──────────────┼────────────────┼────────────┼────────")
	var totalMWh, totalRevenue float64
	for _, g := range groups {
		totalMWh += g.GenerationMWh
		totalRevenue += g.RevenueDollars
		fmt.Fprintf(w, "  %-40s │ %12s │ %14s │ %10s │ %7.1f\n",
			truncate(strings.Join(g.Keys, " / "), 40),
			humanize.CommafWithDigits(g.GenerationMWh/1000, 1),
			formatDollars(g.RevenueDollars),
			humanize.CommafWithDigits(g.AvgPrice, 2),
			g.UtilizationPct)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Total: %s GWh, %s\n", humanize.CommafWithDigits(totalMWh/1000, 1), formatDollars(totalRevenue))
	return nil
}

func detailReport(w io.Writer, rows []model.IntegratedRow, opts options) error {
	table, err := aggregate.Hierarchical(rows, opts.hierarchy, opts.columns, opts.filter)
	if errors.Is(err, aggregate.ErrNoData) {
		fmt.Fprintln(w, "  No data for this selection.")
		return nil
	}
	if err != nil {
		return err
	}

	header := fmt.Sprintf("  %-30s │ %-10s │ %-24s", "Group", "DUID", "Station")
	for _, c := range table.Columns {
		header += fmt.Sprintf(" │ %14s", c)
	}
	fmt.Fprintln(w, header)
	for _, r := range table.Rows {
		line := fmt.Sprintf("  %-30s │ %-10s │ %-24s", truncate(strings.Join(r.Group, " / "), 30), r.DUID, truncate(r.StationName, 24))
		for _, c := range table.Columns {
			line += fmt.Sprintf(" │ %14s", r.Display[c])
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func stationReport(w io.Writer, in *integrate.Integrator, name string) error {
	cat := in.Catalog()
	duids, ok := cat.Stations()[name]
	if !ok {
		matches := cat.Search(name)
		if len(matches) == 0 {
			return fmt.Errorf("unknown station %q", name)
		}
		name = matches[0].StationName
		duids = cat.Stations()[name]
	}

	perf, err := aggregate.StationPerformance(in.Rows(), duids)
	if errors.Is(err, aggregate.ErrNoData) {
		fmt.Fprintf(w, "  %s: no dispatch in range.\n", name)
		return nil
	}
	if err != nil {
		return err
	}
	profile, err := aggregate.TimeOfDay(in.Rows(), duids, ingest.MarketTime)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "  Station: %s (%s)\n", name, strings.Join(perf.Units, ", "))
	fmt.Fprintf(w, "  Generation:      %s MWh\n", humanize.CommafWithDigits(perf.GenerationMWh, 1))
	fmt.Fprintf(w, "  Revenue:         %s\n", formatDollars(perf.RevenueDollars))
	fmt.Fprintf(w, "  Average price:   $%s/MWh\n", humanize.CommafWithDigits(perf.AvgPrice, 2))
	fmt.Fprintf(w, "  Capacity factor: %.1f%% of %s MW\n", perf.CapacityFactorPct, humanize.Commaf(perf.CapacityMW))
	fmt.Fprintf(w, "  Peak output:     %s MW\n", humanize.CommafWithDigits(perf.PeakMW, 1))
	fmt.Fprintf(w, "  Operating hours: %.1f\n", perf.OperatingHours)
	fmt.Fprintf(w, "  Peak hour:       %02d:00\n", profile.PeakHour)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %4s │ %10s │ %10s\n", "Hour", "Avg MW", "$/MWh")
	for _, h := range profile.Hours {
		if h.Intervals == 0 {
			continue
		}
		fmt.Fprintf(w, "  %02d   │ %10.1f │ %10.2f\n", h.Hour, h.AvgMW, h.AvgPrice)
	}
	return nil
}

// formatDollars renders large amounts with an SI suffix, e.g. $1.3M.
func formatDollars(v float64) string {
	if v < 0 {
		return "-" + formatDollars(-v)
	}
	if v < 1e6 {
		return "$" + humanize.CommafWithDigits(v, 0)
	}
	value, prefix := humanize.ComputeSI(v)
	return "$" + humanize.FtoaWithDigits(value, 1) + prefix
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
