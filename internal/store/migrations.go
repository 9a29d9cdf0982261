package store

import (
	"context"
	"fmt"
)

// migrations runs in order on every Migrate call (each statement is
// idempotent), the teacher's migrate()
// pattern (a slice of SQL strings executed sequentially and logged) adapted
// from SQLite DDL to the Postgres schema §6 names as the AlertStore
// contract: alert, alert_agency, alert_route, alert_stop, and the
// alerts_with_related view.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS alert (
		id                 TEXT PRIMARY KEY,
		first_start_time   BIGINT NOT NULL,
		last_end_time      BIGINT NOT NULL,
		raw_data           BYTEA,
		use_case           SMALLINT NOT NULL,
		original_selector  JSONB NOT NULL,
		cause              TEXT NOT NULL,
		effect             TEXT NOT NULL,
		url                JSONB,
		header             JSONB,
		description        JSONB,
		active_periods_raw JSONB NOT NULL,
		consolidated       JSONB NOT NULL,
		schedule_changes   JSONB,
		is_national        BOOLEAN NOT NULL,
		deletion_tstz      TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS alert_agency (
		alert_id  TEXT NOT NULL REFERENCES alert(id),
		agency_id TEXT NOT NULL,
		PRIMARY KEY (alert_id, agency_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_route (
		alert_id TEXT NOT NULL REFERENCES alert(id),
		route_id TEXT NOT NULL,
		PRIMARY KEY (alert_id, route_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_stop (
		alert_id  TEXT NOT NULL REFERENCES alert(id),
		stop_id   TEXT NOT NULL,
		is_added  BOOLEAN NOT NULL DEFAULT FALSE,
		is_removed BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (alert_id, stop_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_agency_agency ON alert_agency(agency_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_route_route ON alert_route(route_id)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_stop_stop ON alert_stop(stop_id)`,
	`CREATE OR REPLACE VIEW alerts_with_related AS
		SELECT
			a.id,
			a.first_start_time,
			a.last_end_time,
			a.use_case,
			a.cause,
			a.effect,
			a.url,
			a.header,
			a.description,
			a.original_selector,
			a.active_periods_raw,
			a.consolidated AS active_periods,
			a.schedule_changes,
			a.is_national,
			a.deletion_tstz,
			a.deletion_tstz IS NOT NULL AS is_deleted,
			a.last_end_time < extract(epoch FROM now() AT TIME ZONE 'Asia/Jerusalem')::bigint AS is_expired,
			COALESCE(ag.agencies, ARRAY[]::TEXT[]) AS relevant_agencies,
			COALESCE(rt.routes, ARRAY[]::TEXT[]) AS relevant_route_ids,
			COALESCE(st.added, ARRAY[]::TEXT[]) AS added_stop_ids,
			COALESCE(st.removed, ARRAY[]::TEXT[]) AS removed_stop_ids
		FROM alert a
		LEFT JOIN (
			SELECT alert_id, array_agg(DISTINCT agency_id) AS agencies
			FROM alert_agency GROUP BY alert_id
		) ag ON ag.alert_id = a.id
		LEFT JOIN (
			SELECT alert_id, array_agg(DISTINCT route_id) AS routes
			FROM alert_route GROUP BY alert_id
		) rt ON rt.alert_id = a.id
		LEFT JOIN (
			SELECT alert_id,
				array_agg(DISTINCT stop_id) FILTER (WHERE is_added) AS added,
				array_agg(DISTINCT stop_id) FILTER (WHERE is_removed) AS removed
			FROM alert_stop GROUP BY alert_id
		) st ON st.alert_id = a.id`,
}

// Migrate applies every migration in order. Idempotent: every statement is
// "CREATE ... IF NOT EXISTS" or "CREATE OR REPLACE", so re-running is safe.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	db.logger.Info("alert store schema migrated", "steps", len(migrations))
	return nil
}
