package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"transitalerts/internal/alerts"
	"transitalerts/internal/config"
	"transitalerts/internal/gtfsrt"
	"transitalerts/internal/ingest"
	"transitalerts/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 || os.Args[1] != "load" {
		fmt.Fprintln(os.Stderr, "usage: ingester load -c <config> [-f <feedfile>]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("load", flag.ExitOnError)
	configPath := fs.String("c", "", "path to config file")
	feedFile := fs.String("f", "", "path to a feed file on disk, instead of fetching the configured URL")
	_ = fs.Parse(os.Args[2:])

	cfg := config.LoadFile(*configPath)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout+30*time.Second)
	defer cancel()

	clock := alerts.Clock(alerts.SystemClock{})
	if *feedFile != "" {
		cfg.TestMode = true
		if fixed, ok := dateFromFilename(*feedFile); ok {
			clock = fixedClock{t: fixed}
			logger.Info("test mode: overriding clock from feed filename", "date", fixed)
		}
	}

	timetableDB, err := store.Open(ctx, cfg.TimetableDBURL, logger)
	if err != nil {
		logger.Error("open timetable db", "error", err)
		os.Exit(1)
	}
	defer timetableDB.Close()

	alertsDB, err := store.Open(ctx, cfg.AlertsDBURL, logger)
	if err != nil {
		logger.Error("open alerts db", "error", err)
		os.Exit(1)
	}
	defer alertsDB.Close()

	timetable := store.NewTimetableStore(timetableDB)
	alertStore := store.NewAlertStore(alertsDB)
	if err := alertStore.Migrate(ctx); err != nil {
		logger.Error("migrate alert store", "error", err)
		os.Exit(1)
	}

	var raw []alerts.RawAlert
	if *feedFile != "" {
		body, err := os.ReadFile(*feedFile)
		if err != nil {
			logger.Error("read feed file", "error", err, "path", *feedFile)
			os.Exit(1)
		}
		raw, err = gtfsrt.Decode(body)
		if err != nil {
			logger.Error("decode feed file", "error", err)
			os.Exit(1)
		}
	} else {
		fetcher := gtfsrt.NewFetcher(cfg.FeedURL, logger)
		raw, err = fetcher.Fetch(ctx)
		if err != nil {
			logger.Error("fetch alerts feed", "error", err)
			os.Exit(1)
		}
	}

	orch := ingest.NewOrchestrator(timetable, alertStore, clock, logger)
	if _, err := orch.RunSnapshot(ctx, raw); err != nil {
		logger.Error("ingest snapshot", "error", err)
		os.Exit(1)
	}
}

// dateFromFilenamePattern mirrors the CLI contract: a feed filename
// containing six numbers separated by non-digits is parsed as
// YYYY MM DD HH MM SS local time and used as "today" for testing.
var dateFromFilenamePattern = regexp.MustCompile(`(\d+)\D(\d+)\D(\d+)\D(\d+)\D(\d+)\D(\d+)`)

func dateFromFilename(path string) (time.Time, bool) {
	m := dateFromFilenamePattern.FindStringSubmatch(path)
	if m == nil {
		return time.Time{}, false
	}
	nums := make([]int, 6)
	for i, s := range m[1:] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	t := time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], nums[4], nums[5], 0, alerts.Jerusalem)
	return t, true
}

// fixedClock pins Now() to a single instant, used when a feed filename's
// embedded date overrides the system clock for a test ingest run.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
