package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"transitalerts/internal/alerts"
)

// AlertStore is the single-writer (ingester) / many-reader (query server)
// persistence layer over the alert/alert_agency/alert_route/alert_stop
// tables and the alerts_with_related view.
type AlertStore struct {
	db *DB
}

// NewAlertStore wraps db as an AlertStore.
func NewAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db}
}

// Migrate applies the schema. Exposed here too since AlertStore is the
// natural owner of the alert tables from a caller's perspective.
func (s *AlertStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx)
}

// DB exposes the underlying connection wrapper so callers (the ingest
// orchestrator) can open their own per-alert transactions.
func (s *AlertStore) DB() *DB {
	return s.db
}

// UpsertAlert writes one classified alert within tx, per §4.9: overwrite
// every column except deletion_tstz, which becomes LEAST(existing,
// incoming) with NULL treated as "not deleted" and winning over any
// timestamp. Then reconciles alert_agency/alert_route/alert_stop.
func UpsertAlert(ctx context.Context, tx pgx.Tx, n *alerts.NormalizedAlert) error {
	selectorJSON, err := json.Marshal(n.OriginalSelector)
	if err != nil {
		return fmt.Errorf("marshal original_selector: %w", err)
	}
	scheduleChanges := scheduleChangesJSON(n)
	scheduleChangesJSON, err := json.Marshal(scheduleChanges)
	if err != nil {
		return fmt.Errorf("marshal schedule_changes: %w", err)
	}
	urlJSON, _ := json.Marshal(n.URL)
	headerJSON, _ := json.Marshal(n.Header)
	descJSON, _ := json.Marshal(n.Description)
	rawPeriodsJSON, err := json.Marshal(n.ActivePeriodsRaw)
	if err != nil {
		return fmt.Errorf("marshal active_periods_raw: %w", err)
	}
	consolidatedJSON, err := json.Marshal(n.Consolidated)
	if err != nil {
		return fmt.Errorf("marshal consolidated: %w", err)
	}

	var deletionTstz *time.Time
	if n.DeletionTstz != nil {
		t := time.Unix(*n.DeletionTstz, 0)
		deletionTstz = &t
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO alert (
			id, first_start_time, last_end_time, raw_data, use_case,
			original_selector, cause, effect, url, header, description,
			active_periods_raw, consolidated, schedule_changes, is_national,
			deletion_tstz
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			first_start_time = EXCLUDED.first_start_time,
			last_end_time = EXCLUDED.last_end_time,
			raw_data = EXCLUDED.raw_data,
			use_case = EXCLUDED.use_case,
			original_selector = EXCLUDED.original_selector,
			cause = EXCLUDED.cause,
			effect = EXCLUDED.effect,
			url = EXCLUDED.url,
			header = EXCLUDED.header,
			description = EXCLUDED.description,
			active_periods_raw = EXCLUDED.active_periods_raw,
			consolidated = EXCLUDED.consolidated,
			schedule_changes = EXCLUDED.schedule_changes,
			is_national = EXCLUDED.is_national,
			deletion_tstz = CASE
				WHEN alert.deletion_tstz IS NULL THEN NULL
				WHEN EXCLUDED.deletion_tstz IS NULL THEN NULL
				ELSE LEAST(alert.deletion_tstz, EXCLUDED.deletion_tstz)
			END
	`,
		n.ID, n.FirstStartTime, n.LastEndTime, n.RawData, int(n.UseCase),
		selectorJSON, n.Cause, n.Effect, urlJSON, headerJSON, descJSON,
		rawPeriodsJSON, consolidatedJSON, scheduleChangesJSON, n.IsNational,
		deletionTstz,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert alert %s: %v", alerts.ErrStoreTransient, n.ID, err)
	}

	if err := reconcileAgencies(ctx, tx, n.ID, n.RelevantAgencies); err != nil {
		return err
	}
	if err := reconcileRoutes(ctx, tx, n.ID, n.RelevantRouteIDs); err != nil {
		return err
	}
	if err := reconcileStops(ctx, tx, n.ID, n.AddedStopIDs, n.RemovedStopIDs); err != nil {
		return err
	}
	return nil
}

// scheduleChangesJSON picks whichever of ScheduleChangeOps/ScheduleChangeTimes
// is populated, matching the use-case-discriminated shape of §3's
// schedule_changes field.
func scheduleChangesJSON(n *alerts.NormalizedAlert) any {
	if n.ScheduleChangeTimes != nil {
		return n.ScheduleChangeTimes
	}
	if n.ScheduleChangeOps != nil {
		return n.ScheduleChangeOps
	}
	return nil
}

func reconcileAgencies(ctx context.Context, tx pgx.Tx, alertID string, agencyIDs []string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM alert_agency WHERE alert_id = $1 AND NOT (agency_id = ANY($2))`,
		alertID, agencyIDs); err != nil {
		return fmt.Errorf("%w: delete stale alert_agency rows: %v", alerts.ErrStoreTransient, err)
	}
	for _, id := range agencyIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO alert_agency (alert_id, agency_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			alertID, id); err != nil {
			return fmt.Errorf("%w: upsert alert_agency: %v", alerts.ErrStoreTransient, err)
		}
	}
	return nil
}

func reconcileRoutes(ctx context.Context, tx pgx.Tx, alertID string, routeIDs []string) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM alert_route WHERE alert_id = $1 AND NOT (route_id = ANY($2))`,
		alertID, routeIDs); err != nil {
		return fmt.Errorf("%w: delete stale alert_route rows: %v", alerts.ErrStoreTransient, err)
	}
	for _, id := range routeIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO alert_route (alert_id, route_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
			alertID, id); err != nil {
			return fmt.Errorf("%w: upsert alert_route: %v", alerts.ErrStoreTransient, err)
		}
	}
	return nil
}

// reconcileStops deletes stale alert_stop rows and upserts the new
// added/removed sets. A stop in both sets carries both flags true.
func reconcileStops(ctx context.Context, tx pgx.Tx, alertID string, added, removed []string) error {
	all := make([]string, 0, len(added)+len(removed))
	all = append(all, added...)
	all = append(all, removed...)

	if _, err := tx.Exec(ctx,
		`DELETE FROM alert_stop WHERE alert_id = $1 AND NOT (stop_id = ANY($2))`,
		alertID, all); err != nil {
		return fmt.Errorf("%w: delete stale alert_stop rows: %v", alerts.ErrStoreTransient, err)
	}

	flags := make(map[string][2]bool) // stop_id -> (is_added, is_removed)
	for _, id := range added {
		f := flags[id]
		f[0] = true
		flags[id] = f
	}
	for _, id := range removed {
		f := flags[id]
		f[1] = true
		flags[id] = f
	}

	for id, f := range flags {
		if _, err := tx.Exec(ctx, `
			INSERT INTO alert_stop (alert_id, stop_id, is_added, is_removed)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (alert_id, stop_id) DO UPDATE SET
				is_added = EXCLUDED.is_added, is_removed = EXCLUDED.is_removed`,
			alertID, id, f[0], f[1]); err != nil {
			return fmt.Errorf("%w: upsert alert_stop: %v", alerts.ErrStoreTransient, err)
		}
	}
	return nil
}

// MarkDeletedExceptIDs stamps deletion_tstz = now on every alert row whose
// id is not in presentIDs and whose deletion_tstz is currently null — the
// deletion reconciler, run once after all entities in a snapshot are
// processed.
func (s *AlertStore) MarkDeletedExceptIDs(ctx context.Context, presentIDs []string, now time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE alert SET deletion_tstz = $1
		WHERE deletion_tstz IS NULL AND NOT (id = ANY($2))`,
		now, presentIDs)
	if err != nil {
		return 0, fmt.Errorf("%w: mark deleted alerts: %v", alerts.ErrStoreTransient, err)
	}
	return tag.RowsAffected(), nil
}

// AlertRow is the alerts_with_related view projection needed by the query
// server to assemble an EnrichedAlert.
type AlertRow struct {
	ID               string
	FirstStartTime   int64
	LastEndTime      int64
	UseCase          alerts.UseCase
	Cause            string
	Effect           string
	URL              alerts.TranslatedText
	Header           alerts.TranslatedText
	Description      alerts.TranslatedText
	OriginalSelector alerts.Selector
	ActivePeriodsRaw []alerts.ActivePeriod
	Consolidated     []alerts.ConsolidatedPeriod
	ScheduleChanges  json.RawMessage
	IsNational       bool
	DeletionTstz     *time.Time
	IsDeleted        bool
	IsExpired        bool
	RelevantAgencies []string
	RelevantRouteIDs []string
	AddedStopIDs     []string
	RemovedStopIDs   []string
}

// ToNormalizedAlert rebuilds the subset of NormalizedAlert the §4.5/§4.6
// date-picking algorithms and RouteChangeEngine.Apply need, without
// round-tripping through a fresh Classify call. The route-change ops come
// from the stored selector, which holds the same ops map for FLEX/SIMPLE.
func (r *AlertRow) ToNormalizedAlert() *alerts.NormalizedAlert {
	var deletionUnix *int64
	if r.DeletionTstz != nil {
		u := r.DeletionTstz.Unix()
		deletionUnix = &u
	}
	return &alerts.NormalizedAlert{
		ID:               r.ID,
		FirstStartTime:   r.FirstStartTime,
		LastEndTime:      r.LastEndTime,
		UseCase:          r.UseCase,
		IsNational:       r.IsNational,
		DeletionTstz:     deletionUnix,
		ActivePeriodsRaw: r.ActivePeriodsRaw,
		Consolidated:     r.Consolidated,
		ScheduleChangeOps: r.OriginalSelector.RouteChangeOps,
		RelevantAgencies: r.RelevantAgencies,
		RelevantRouteIDs: r.RelevantRouteIDs,
		AddedStopIDs:     r.AddedStopIDs,
		RemovedStopIDs:   r.RemovedStopIDs,
	}
}

const alertRowColumns = `
	id, first_start_time, last_end_time, use_case, cause, effect, url, header,
	description, original_selector, active_periods_raw, active_periods,
	schedule_changes, is_national, deletion_tstz, is_deleted, is_expired,
	relevant_agencies, relevant_route_ids, added_stop_ids, removed_stop_ids`

// GetAlert fetches one alert by id from alerts_with_related. Returns
// (nil, nil) if not found — the caller degrades this to a 404, not an error.
func (s *AlertStore) GetAlert(ctx context.Context, id string) (*AlertRow, error) {
	row := s.db.pool.QueryRow(ctx,
		`SELECT `+alertRowColumns+` FROM alerts_with_related WHERE NOT (is_deleted AND is_expired) AND id = $1`, id)
	r, err := scanAlertRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get alert %s: %v", alerts.ErrStoreTransient, id, err)
	}
	return r, nil
}

// ListAlerts fetches every non-stale alert from alerts_with_related, per
// the AlertDbApi.get_alerts query.
func (s *AlertStore) ListAlerts(ctx context.Context) ([]*AlertRow, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+alertRowColumns+` FROM alerts_with_related WHERE NOT (is_deleted AND is_expired)`)
	if err != nil {
		return nil, fmt.Errorf("%w: list alerts: %v", alerts.ErrStoreTransient, err)
	}
	defer rows.Close()

	var out []*AlertRow
	for rows.Next() {
		r, err := scanAlertRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlertRow(row rowScanner) (*AlertRow, error) {
	var r AlertRow
	var urlJSON, headerJSON, descJSON, selectorJSON, periodsJSON, consolidatedJSON []byte
	var useCase int

	err := row.Scan(
		&r.ID, &r.FirstStartTime, &r.LastEndTime, &useCase, &r.Cause, &r.Effect,
		&urlJSON, &headerJSON, &descJSON, &selectorJSON, &periodsJSON, &consolidatedJSON,
		&r.ScheduleChanges, &r.IsNational, &r.DeletionTstz,
		&r.IsDeleted, &r.IsExpired, &r.RelevantAgencies, &r.RelevantRouteIDs,
		&r.AddedStopIDs, &r.RemovedStopIDs,
	)
	if err != nil {
		return nil, err
	}
	r.UseCase = alerts.UseCase(useCase)
	if len(urlJSON) > 0 {
		_ = json.Unmarshal(urlJSON, &r.URL)
	}
	if len(headerJSON) > 0 {
		_ = json.Unmarshal(headerJSON, &r.Header)
	}
	if len(descJSON) > 0 {
		_ = json.Unmarshal(descJSON, &r.Description)
	}
	if len(selectorJSON) > 0 {
		_ = json.Unmarshal(selectorJSON, &r.OriginalSelector)
	}
	if len(periodsJSON) > 0 {
		_ = json.Unmarshal(periodsJSON, &r.ActivePeriodsRaw)
	}
	if len(consolidatedJSON) > 0 {
		_ = json.Unmarshal(consolidatedJSON, &r.Consolidated)
	}
	return &r, nil
}
