package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"transitalerts/internal/alerts"
	"transitalerts/internal/config"
	"transitalerts/internal/query"
	"transitalerts/internal/server"
	"transitalerts/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if len(os.Args) < 2 || os.Args[1] != "serve" {
		fmt.Fprintln(os.Stderr, "usage: queryserver serve -c <config>")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("c", "", "path to config file")
	_ = fs.Parse(os.Args[2:])

	cfg := config.LoadFile(*configPath)

	ctx := context.Background()

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

	lines, err := store.BuildLineCatalog(ctx, timetableDB)
	if err != nil {
		logger.Error("build line catalog", "error", err)
		os.Exit(1)
	}

	clock := alerts.SystemClock{}
	engine := &alerts.RouteChangeEngine{Store: timetable, Clock: clock, Logger: logger}
	svc := query.New(alertStore, timetable, engine, lines, clock, cfg.CacheTTL)

	srv := server.New(cfg, svc, logger)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
