// Package store provides the Postgres-backed TimetableStore and AlertStore
// contracts the alerts engine depends on. Grounded on
// FabianUB-minibarcelona3d's repository/postgres.go pgxpool wiring, adapted
// from a single read-only pool to the ingester's two-connection model (a
// read-only timetable pool and a read-write alerts pool) described in §5.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool the way the teacher's storage.DB wraps a
// *sql.DB — a thin struct carrying the pool and a logger, with package
// functions building SQL on top of it.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open parses databaseURL, applies the teacher-derived pool tuning, and
// verifies connectivity with a Ping.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the underlying pgxpool.Pool for callers (migrations, the
// orchestrator's transaction) that need direct access.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
