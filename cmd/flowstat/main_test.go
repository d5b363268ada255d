package main

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/weftlabs/weft/common/models"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}
func (nopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Debug(msg string, keysAndValues ...interface{}) {}

type fakeAggregator struct {
	days   []time.Time
	users  int
	failOn string
}

func (f *fakeAggregator) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	if f.failOn != "" && day.Format(dayFormat) == f.failOn {
		return 0, fmt.Errorf("connection reset")
	}
	f.days = append(f.days, day)
	return f.users, nil
}

func TestResolveDay(t *testing.T) {
	now := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)

	day, err := resolveDay("", now)
	if err != nil {
		t.Fatalf("resolveDay default: %v", err)
	}
	if want := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Fatalf("default day = %v, want %v", day, want)
	}

	day, err = resolveDay("2026-01-15", now)
	if err != nil {
		t.Fatalf("resolveDay explicit: %v", err)
	}
	if day.Format(dayFormat) != "2026-01-15" {
		t.Fatalf("explicit day = %v", day)
	}

	if _, err := resolveDay("15-01-2026", now); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestBackfillWindowOldestFirst(t *testing.T) {
	now := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)

	window := backfillWindow(3, now)
	if len(window) != 3 {
		t.Fatalf("window length = %d, want 3", len(window))
	}

	want := []string{"2026-08-22", "2026-08-23", "2026-08-24"}
	for i, day := range window {
		if day.Format(dayFormat) != want[i] {
			t.Fatalf("window[%d] = %s, want %s", i, day.Format(dayFormat), want[i])
		}
	}
}

func TestRunBackfillAggregatesEachDay(t *testing.T) {
	agg := &fakeAggregator{users: 2}

	if err := runBackfill(context.Background(), agg, nopLogger{}, []string{"--days", "5"}); err != nil {
		t.Fatalf("runBackfill: %v", err)
	}
	if len(agg.days) != 5 {
		t.Fatalf("aggregated %d days, want 5", len(agg.days))
	}
	for i := 1; i < len(agg.days); i++ {
		if !agg.days[i].After(agg.days[i-1]) {
			t.Fatalf("days not ascending: %v", agg.days)
		}
	}
}

func TestRunBackfillRejectsBadDays(t *testing.T) {
	agg := &fakeAggregator{}

	if err := runBackfill(context.Background(), agg, nopLogger{}, []string{"--days", "0"}); err == nil {
		t.Fatal("expected error for --days 0")
	}
	if len(agg.days) != 0 {
		t.Fatal("aggregator called despite invalid flags")
	}
}

func TestRunBackfillStopsOnFailure(t *testing.T) {
	now := time.Now().UTC()
	failDay := startOfDay(now).AddDate(0, 0, -2).Format(dayFormat)
	agg := &fakeAggregator{failOn: failDay}

	err := runBackfill(context.Background(), agg, nopLogger{}, []string{"--days", "3"})
	if err == nil {
		t.Fatal("expected error when a day fails")
	}
	if !strings.Contains(err.Error(), failDay) {
		t.Fatalf("error does not name the failed day: %v", err)
	}
	// Oldest day succeeded before the failure; the newest was never
	// reached.
	if len(agg.days) != 1 {
		t.Fatalf("aggregated %d days before failure, want 1", len(agg.days))
	}
}

func TestRunAggregateExplicitDate(t *testing.T) {
	agg := &fakeAggregator{users: 1}

	if err := runAggregate(context.Background(), agg, nopLogger{}, []string{"--date", "2026-03-01"}); err != nil {
		t.Fatalf("runAggregate: %v", err)
	}
	if len(agg.days) != 1 || agg.days[0].Format(dayFormat) != "2026-03-01" {
		t.Fatalf("aggregated days = %v", agg.days)
	}
}

type fakeRangeReader struct {
	rows []*models.DailyStat
}

func (f *fakeRangeReader) GetRange(ctx context.Context, userID string, from, to time.Time) ([]*models.DailyStat, error) {
	return f.rows, nil
}

func TestRunReportPrintsRows(t *testing.T) {
	reader := &fakeRangeReader{rows: []*models.DailyStat{
		{
			Day:             time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
			UserID:          "alice",
			Executions:      4,
			Completed:       3,
			Failed:          1,
			TotalNodes:      12,
			TotalDurationMs: 8000,
		},
	}}

	var out strings.Builder
	if err := runReport(context.Background(), reader, &out, []string{"--user", "alice"}); err != nil {
		t.Fatalf("runReport: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "2026-08-20") {
		t.Fatalf("output missing day:\n%s", got)
	}
	// 8000ms over 4 terminal executions
	if !strings.Contains(got, "2000") {
		t.Fatalf("output missing average duration:\n%s", got)
	}
}

func TestRunReportRequiresUser(t *testing.T) {
	if err := runReport(context.Background(), &fakeRangeReader{}, &strings.Builder{}, nil); err == nil {
		t.Fatal("expected error without --user")
	}
}

func TestRunReportNoData(t *testing.T) {
	var out strings.Builder
	if err := runReport(context.Background(), &fakeRangeReader{}, &out, []string{"--user", "bob"}); err != nil {
		t.Fatalf("runReport: %v", err)
	}
	if !strings.Contains(out.String(), "no stats for bob") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}
