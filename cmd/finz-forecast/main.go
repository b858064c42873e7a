// finz-forecast prints the per-rubro-per-month grid for one project, merging
// canonical allocations, payroll actuals and fallback summaries. With -check
// it also runs the key-scheme validation for the project partition.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"finz/internal/backend"
	"finz/internal/config"
	"finz/internal/core"
	"finz/internal/forecast"
	"finz/internal/services"
	"finz/internal/storage"
)

func main() {
	os.Exit(run())
}

// run holds the deferred cleanups so the exit code can propagate to main
// without skipping them.
func run() int {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	var (
		projectID = flag.String("project", "", "project identifier (required)")
		fromArg   = flag.String("from", "", "window start, YYYY-MM (required)")
		toArg     = flag.String("to", "", "window end, YYYY-MM (required)")
		check     = flag.Bool("check", false, "also validate the project's key scheme")
	)
	flag.Parse()

	if *projectID == "" || *fromArg == "" || *toArg == "" {
		fmt.Fprintln(os.Stderr, "usage: finz-forecast -project <id> -from YYYY-MM -to YYYY-MM [-check]")
		return 2
	}

	from, err := parseMonth(*fromArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		return 2
	}
	to, err := parseMonth(*toArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
		return 2
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation failed: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	be, err := backend.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize backend: %v\n", err)
		return 1
	}
	if be.Cleanup != nil {
		defer be.Cleanup()
	}

	assembler := forecast.NewAssembler(be.Store, forecast.AssemblerConfig{
		Fallback: services.FallbackConfig{RecurringToleranceCents: cfg.RecurringToleranceCents},
	})
	grid, err := assembler.Grid(ctx, *projectID, forecast.Window{From: from, To: to})
	if err != nil {
		fmt.Fprintf(os.Stderr, "assemble grid: %v\n", err)
		return 1
	}

	printGrid(os.Stdout, grid)

	if *check {
		return runKeyCheck(ctx, os.Stdout, be.Store, *projectID, cfg.MigratePageSize)
	}
	return 0
}

// runKeyCheck validates the project partition's key scheme and reports the
// warnings. Returns 1 when any warning is found.
func runKeyCheck(ctx context.Context, w io.Writer, store storage.ItemStore, projectID string, pageSize int) int {
	report, err := services.NewKeyValidator(store, pageSize).Validate(ctx, projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key validation: %v\n", err)
		return 1
	}
	fmt.Fprintf(w, "\nkey check: %d items", report.Items)
	if report.OK() {
		fmt.Fprintln(w, ", ok")
		return 0
	}
	fmt.Fprintf(w, ", %d warnings\n", len(report.Warnings))
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "  - %s\n", warning)
	}
	return 1
}

func parseMonth(s string) (core.MonthKey, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || len(parts[0]) != 4 {
		return core.MonthKey{}, fmt.Errorf("%q is not YYYY-MM", s)
	}
	year, errY := strconv.Atoi(parts[0])
	month, errM := strconv.Atoi(parts[1])
	if errY != nil || errM != nil {
		return core.MonthKey{}, fmt.Errorf("%q is not YYYY-MM", s)
	}
	mk := core.MonthKey{Year: year, Month: month}
	if err := mk.Validate(); err != nil {
		return core.MonthKey{}, err
	}
	return mk, nil
}

func printGrid(w io.Writer, grid forecast.Grid) {
	fmt.Fprintf(w, "project %s, %04d-%02d .. %04d-%02d\n\n",
		grid.ProjectID,
		grid.Window.From.Year, grid.Window.From.Month,
		grid.Window.To.Year, grid.Window.To.Month)

	if len(grid.Rows) == 0 {
		fmt.Fprintln(w, "no data")
		return
	}

	for _, row := range grid.Rows {
		if row.Summary != nil {
			s := row.Summary
			recurring := ""
			if s.IsRecurring {
				recurring = " recurring"
			}
			fmt.Fprintf(w, "%-24s %s x%d M%d-M%d total %s%s\n",
				row.RubroID, s.Source, s.Quantity, s.MonthsRange[0], s.MonthsRange[1],
				s.Total.String(), recurring)
			continue
		}

		months := make([]core.MonthKey, 0, len(row.Cells))
		for mk := range row.Cells {
			months = append(months, mk)
		}
		sort.Slice(months, func(i, j int) bool {
			return months[i].Year < months[j].Year ||
				(months[i].Year == months[j].Year && months[i].Month < months[j].Month)
		})

		fmt.Fprintf(w, "%s\n", row.RubroID)
		for _, mk := range months {
			cell := row.Cells[mk]
			fmt.Fprintf(w, "  %04d-%02d planned %s forecast %s actual %s variance %s\n",
				mk.Year, mk.Month,
				cell.Planned.String(), cell.Forecast.String(),
				cell.Actual.String(), cell.Variance.String())
		}
	}
}
