package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/weftlabs/weft/common/bootstrap"
	"github.com/weftlabs/weft/common/models"
	"github.com/weftlabs/weft/common/repository"
)

const dayFormat = "2006-01-02"

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// aggregator is the slice of the stats repository the rollup commands use
type aggregator interface {
	AggregateDay(ctx context.Context, day time.Time) (int, error)
}

// rangeReader is the slice of the stats repository the report command uses
type rangeReader interface {
	GetRange(ctx context.Context, userID string, from, to time.Time) ([]*models.DailyStat, error)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "aggregate", "backfill", "report":
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One-shot CLI run: Postgres only.
	components, err := bootstrap.Setup(ctx, "flowstat",
		bootstrap.WithoutRedis(),
		bootstrap.WithoutCache(),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	stats := repository.NewStatsRepository(components.DB)

	var runErr error
	switch command {
	case "aggregate":
		runErr = runAggregate(ctx, stats, components.Logger, args)
	case "backfill":
		runErr = runBackfill(ctx, stats, components.Logger, args)
	case "report":
		runErr = runReport(ctx, stats, os.Stdout, args)
	}
	if runErr != nil {
		components.Logger.Error("flowstat failed", "command", command, "error", runErr)
		os.Exit(1)
	}
}

// runAggregate recomputes the rollup for a single day
func runAggregate(ctx context.Context, stats aggregator, log Logger, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	date := fs.String("date", "", "day to aggregate (YYYY-MM-DD, default: yesterday)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	day, err := resolveDay(*date, time.Now().UTC())
	if err != nil {
		return err
	}

	users, err := stats.AggregateDay(ctx, day)
	if err != nil {
		return err
	}
	log.Info("aggregated daily stats", "day", day.Format(dayFormat), "users", users)
	return nil
}

// runBackfill recomputes the rollups for the last N days, oldest first
// so an interrupted run resumes cleanly
func runBackfill(ctx context.Context, stats aggregator, log Logger, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	days := fs.Int("days", 7, "number of past days to recompute, ending yesterday")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", *days)
	}

	total := 0
	for _, day := range backfillWindow(*days, time.Now().UTC()) {
		users, err := stats.AggregateDay(ctx, day)
		if err != nil {
			return fmt.Errorf("backfill stopped at %s: %w", day.Format(dayFormat), err)
		}
		log.Info("aggregated daily stats", "day", day.Format(dayFormat), "users", users)
		total += users
	}
	log.Info("backfill complete", "days", *days, "rows", total)
	return nil
}

// runReport prints one user's rollups as a table
func runReport(ctx context.Context, stats rangeReader, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	user := fs.String("user", "", "user ID to report on (required)")
	days := fs.Int("days", 30, "number of past days to include")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("--user is required")
	}
	if *days < 1 {
		return fmt.Errorf("--days must be at least 1, got %d", *days)
	}

	to := previousDay(time.Now().UTC())
	from := to.AddDate(0, 0, -(*days - 1))
	rows, err := stats.GetRange(ctx, *user, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "no stats for %s between %s and %s\n",
			*user, from.Format(dayFormat), to.Format(dayFormat))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DAY\tEXECUTIONS\tCOMPLETED\tFAILED\tCANCELLED\tNODES\tAVG MS")
	for _, s := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			s.Day.Format(dayFormat),
			s.Executions,
			s.Completed,
			s.Failed,
			s.Cancelled,
			s.TotalNodes,
			s.AvgDurationMs())
	}
	return w.Flush()
}

// resolveDay picks the target day for aggregate: the --date value when
// given, otherwise the previous UTC day
func resolveDay(dateFlag string, now time.Time) (time.Time, error) {
	if dateFlag == "" {
		return previousDay(now), nil
	}
	day, err := time.Parse(dayFormat, dateFlag)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", dateFlag)
	}
	return day, nil
}

// backfillWindow lists the N days before now, oldest first, ending
// yesterday
func backfillWindow(days int, now time.Time) []time.Time {
	today := startOfDay(now)
	window := make([]time.Time, 0, days)
	for i := days; i >= 1; i-- {
		window = append(window, today.AddDate(0, 0, -i))
	}
	return window
}

func previousDay(now time.Time) time.Time {
	return startOfDay(now).AddDate(0, 0, -1)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func usage() {
	fmt.Fprint(os.Stderr, `flowstat builds and reads the daily execution rollups.

Usage:
  flowstat aggregate [--date YYYY-MM-DD]     recompute one day (default: yesterday)
  flowstat backfill  [--days N]              recompute the last N days (default: 7)
  flowstat report    --user ID [--days N]    print a user's rollups (default: 30 days)
`)
}
