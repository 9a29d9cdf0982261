package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"transitalerts/internal/alerts"
)

// TimetableStore is the read-only query surface over the static-GTFS
// schema (§6), backed by the same pool as the rest of store.DB but never
// writing to it — the static timetable's population is an external
// collaborator's job (§1 Non-goals).
type TimetableStore struct {
	db *DB
}

// NewTimetableStore wraps db as a TimetableStore.
func NewTimetableStore(db *DB) *TimetableStore {
	return &TimetableStore{db: db}
}

// gtfsCalendarDOW maps a Go weekday (0=Sunday per GTFS convention — note Go's
// time.Weekday already starts at Sunday=0) to the calendar table's boolean
// day-of-week column name. Ported from GTFS_CALENDAR_DOW.
var gtfsCalendarDOW = [7]string{
	"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday",
}

// AgenciesForRoutes returns the distinct agency ids serving routeIDs.
func (s *TimetableStore) AgenciesForRoutes(ctx context.Context, routeIDs []string) ([]string, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT DISTINCT agency_id FROM routes WHERE route_id = ANY($1)`, routeIDs)
	if err != nil {
		return nil, fmt.Errorf("agencies for routes: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// StopsInPolygon returns stop ids whose (lat,lon) falls within the given
// polygon. The original queried `point(stop_lat, stop_lon) <@ polygon` —
// flagged in the design notes as a subtly inconsistent handle (PostGIS/point
// geometry takes (x,y) = (lon,lat), not (lat,lon)); this port uses the
// correct (lon,lat) ordering and documents the discrepancy in the design
// ledger rather than reproducing the bug.
func (s *TimetableStore) StopsInPolygon(ctx context.Context, polygon [][2]string) ([]string, error) {
	if len(polygon) == 0 {
		return nil, nil
	}
	poly := "(" // build a Postgres polygon literal "((lon,lat),(lon,lat),...)"
	for i, p := range polygon {
		if i > 0 {
			poly += ","
		}
		poly += "(" + p[1] + "," + p[0] + ")"
	}
	poly += ")"

	rows, err := s.db.pool.Query(ctx,
		`SELECT stop_id FROM stops WHERE point(stop_lon, stop_lat) <@ polygon($1)`, poly)
	if err != nil {
		return nil, fmt.Errorf("stops in polygon: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// RoutesAtStopsInDateRanges implements §4.3.1: distinct route ids with a
// trip stopping at one of stopIDs on a service day overlapping any of
// periods.
func (s *TimetableStore) RoutesAtStopsInDateRanges(ctx context.Context, stopIDs []string, periods []alerts.ActivePeriod) ([]string, error) {
	if len(stopIDs) == 0 || len(periods) == 0 {
		return nil, nil
	}

	routeSet := make(map[string]bool)
	for _, p := range periods {
		for _, sub := range splitIntoSubperiods(p) {
			routes, err := s.routesForSubperiod(ctx, stopIDs, sub)
			if err != nil {
				return nil, err
			}
			for _, r := range routes {
				routeSet[r] = true
			}
		}
	}

	out := make([]string, 0, len(routeSet))
	for r := range routeSet {
		out = append(out, r)
	}
	return out, nil
}

// subperiod is one of the up to three decomposed windows §4.3.1 describes:
// a possibly-unbounded side plus, when bounded, the set of weekdays it
// actually covers.
type subperiod struct {
	start, end     time.Time // zero means unbounded on that side
	boundedWeekday bool
	weekdays       []int // Go time.Weekday values covered, only when boundedWeekday
}

// splitIntoSubperiods decomposes one active period into at most three
// sub-periods: [start, next-midnight), the midnight-aligned multi-day
// middle, and [midnight, end]. Ported from split_active_period_to_subperiods.
func splitIntoSubperiods(p alerts.ActivePeriod) []subperiod {
	if p.Start == 0 || p.End == 0 {
		var start, end time.Time
		if p.Start != 0 {
			start = time.Unix(p.Start, 0).In(alerts.Jerusalem)
		}
		if p.End != 0 {
			end = time.Unix(p.End, 0).In(alerts.Jerusalem)
		}
		return []subperiod{{start: start, end: end}}
	}

	start := time.Unix(p.Start, 0).In(alerts.Jerusalem)
	end := time.Unix(p.End, 0).In(alerts.Jerusalem)
	startMidnight := midnight(start)
	endMidnight := midnight(end)

	if startMidnight.Equal(endMidnight) {
		return []subperiod{boundedSub(start, end)}
	}

	var subs []subperiod
	nextMidnight := startMidnight.AddDate(0, 0, 1)
	subs = append(subs, boundedSub(start, nextMidnight))

	if endMidnight.Sub(nextMidnight) > 0 {
		subs = append(subs, boundedSub(nextMidnight, endMidnight))
	}

	subs = append(subs, boundedSub(endMidnight, end))
	return subs
}

func boundedSub(start, end time.Time) subperiod {
	weekdaySet := make(map[int]bool)
	for d := midnight(start); !d.After(midnight(end)); d = d.AddDate(0, 0, 1) {
		weekdaySet[int(d.Weekday())] = true
		if d.Equal(midnight(end)) {
			break
		}
	}
	var weekdays []int
	for wd := range weekdaySet {
		weekdays = append(weekdays, wd)
	}
	return subperiod{start: start, end: end, boundedWeekday: true, weekdays: weekdays}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, alerts.Jerusalem)
}

func (s *TimetableStore) routesForSubperiod(ctx context.Context, stopIDs []string, sub subperiod) ([]string, error) {
	base := `
		SELECT DISTINCT trips.route_id
		FROM stoptimes
		INNER JOIN trips ON trips.trip_id = stoptimes.trip_id
		INNER JOIN calendar ON calendar.service_id = trips.service_id
		WHERE stoptimes.stop_id = ANY($1)`

	var conds []string
	args := []any{stopIDs}
	argN := 2

	if !sub.start.IsZero() {
		conds = append(conds, fmt.Sprintf(
			"(calendar.end_date + (stoptimes.arrival_time || ' seconds')::interval) AT TIME ZONE 'Asia/Jerusalem' >= $%d", argN))
		args = append(args, sub.start)
		argN++
	}
	if !sub.end.IsZero() {
		conds = append(conds, fmt.Sprintf(
			"(calendar.start_date + (stoptimes.arrival_time || ' seconds')::interval) AT TIME ZONE 'Asia/Jerusalem' <= $%d", argN))
		args = append(args, sub.end)
		argN++
	}
	if sub.boundedWeekday && len(sub.weekdays) > 0 && len(sub.weekdays) < 7 {
		var dowConds []string
		for _, wd := range sub.weekdays {
			// Arrival times >= 24h (service crossing midnight, GTFS
			// convention) are attributed to the previous day's service.
			dowConds = append(dowConds, fmt.Sprintf(
				"(CASE WHEN stoptimes.arrival_time >= 86400 THEN calendar.%s ELSE calendar.%s END)",
				gtfsCalendarDOW[(wd+6)%7], gtfsCalendarDOW[wd]))
		}
		orClause := dowConds[0]
		for _, c := range dowConds[1:] {
			orClause += " OR " + c
		}
		conds = append(conds, "("+orClause+")")
	}

	query := base
	for _, c := range conds {
		query += " AND " + c
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("routes for subperiod: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// DepartureTimesForTrips resolves scheduled departure times for a batch of
// trip ids, via trip_id_to_date per the TimetableStore contract.
func (s *TimetableStore) DepartureTimesForTrips(ctx context.Context, tripIDs []string) (map[string]string, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT trip_id, departure_time FROM trip_id_to_date WHERE trip_id = ANY($1)`, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("departure times for trips: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(tripIDs))
	for rows.Next() {
		var tripID, departure string
		if err := rows.Scan(&tripID, &departure); err != nil {
			return nil, err
		}
		out[tripID] = departure
	}
	return out, rows.Err()
}

// RepresentativeTripID picks the trip id best representing routeID on
// preferredDate, per the §4.5 representative-trip ordering: a service whose
// calendar range contains the date first, then the closest non-future
// start, then the closest by absolute distance, then whichever calendar
// flags the date's weekday as running.
func (s *TimetableStore) RepresentativeTripID(ctx context.Context, routeID string, preferredDate time.Time) (string, error) {
	dow := gtfsCalendarDOW[int(preferredDate.Weekday())]
	query := fmt.Sprintf(`
		SELECT trips.trip_id
		FROM trips
		INNER JOIN calendar ON trips.service_id = calendar.service_id
		WHERE route_id = $1
		ORDER BY
			daterange(start_date, end_date + 1) @> $2::DATE DESC,
			start_date - $2::DATE <= 0 DESC,
			ABS(start_date - $2::DATE) ASC,
			%s DESC
		LIMIT 1`, dow)

	var tripID string
	err := s.db.pool.QueryRow(ctx, query, routeID, preferredDate).Scan(&tripID)
	if err != nil {
		return "", fmt.Errorf("representative trip for route %s: %w", routeID, err)
	}
	return tripID, nil
}

// StopSequence returns a trip's stop ids ordered by stop_sequence.
func (s *TimetableStore) StopSequence(ctx context.Context, tripID string) ([]string, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT stops.stop_id
		FROM stops
		INNER JOIN stoptimes ON stops.stop_id = stoptimes.stop_id
		WHERE stoptimes.trip_id = $1
		ORDER BY stop_sequence ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("stop sequence for trip %s: %w", tripID, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ShapePoints returns a trip's shape as [lon,lat] points in sequence order.
func (s *TimetableStore) ShapePoints(ctx context.Context, tripID string) ([][2]float64, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT shape_pt_lon, shape_pt_lat
		FROM shapes
		WHERE shape_id = (SELECT shape_id FROM trips WHERE trip_id = $1)
		ORDER BY shape_pt_sequence ASC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("shape points for trip %s: %w", tripID, err)
	}
	defer rows.Close()

	var out [][2]float64
	for rows.Next() {
		var lon, lat float64
		if err := rows.Scan(&lon, &lat); err != nil {
			return nil, err
		}
		out = append(out, [2]float64{lon, lat})
	}
	return out, rows.Err()
}

// TripHeadsign returns a trip's trip_headsign.
func (s *TimetableStore) TripHeadsign(ctx context.Context, tripID string) (string, error) {
	var headsign string
	err := s.db.pool.QueryRow(ctx,
		`SELECT trip_headsign FROM trips WHERE trip_id = $1`, tripID).Scan(&headsign)
	if err != nil {
		return "", fmt.Errorf("headsign for trip %s: %w", tripID, err)
	}
	return headsign, nil
}

// StopDesc returns stop_desc for the given stop ids.
func (s *TimetableStore) StopDesc(ctx context.Context, stopIDs []string) (map[string]string, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT stop_id, stop_desc FROM stops WHERE stop_id = ANY($1)`, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("stop desc: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(stopIDs))
	for rows.Next() {
		var id, desc string
		if err := rows.Scan(&id, &desc); err != nil {
			return nil, err
		}
		out[id] = desc
	}
	return out, rows.Err()
}

// StopCoords returns [lon,lat] for the given stop ids, for the straight-line
// shape fallback.
func (s *TimetableStore) StopCoords(ctx context.Context, stopIDs []string) (map[string][2]float64, error) {
	if len(stopIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT stop_id, stop_lon, stop_lat FROM stops WHERE stop_id = ANY($1)`, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("stop coords: %w", err)
	}
	defer rows.Close()

	out := make(map[string][2]float64, len(stopIDs))
	for rows.Next() {
		var id string
		var lon, lat float64
		if err := rows.Scan(&id, &lon, &lat); err != nil {
			return nil, err
		}
		out[id] = [2]float64{lon, lat}
	}
	return out, rows.Err()
}

// StopName returns a single stop's stop_name.
func (s *TimetableStore) StopName(ctx context.Context, stopID string) (string, error) {
	var name string
	err := s.db.pool.QueryRow(ctx,
		`SELECT stop_name FROM stops WHERE stop_id = $1`, stopID).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("stop name for %s: %w", stopID, err)
	}
	return name, nil
}

// RouteDesc returns a single route's route_desc.
func (s *TimetableStore) RouteDesc(ctx context.Context, routeID string) (string, error) {
	var desc string
	err := s.db.pool.QueryRow(ctx,
		`SELECT route_desc FROM routes WHERE route_id = $1`, routeID).Scan(&desc)
	if err != nil {
		return "", fmt.Errorf("route desc for %s: %w", routeID, err)
	}
	return desc, nil
}

// RouteAgencyLine returns a single route's agency id and route_short_name,
// for grouping one RouteChange into its (agency_id, line_number) bucket.
func (s *TimetableStore) RouteAgencyLine(ctx context.Context, routeID string) (agencyID, lineNumber string, err error) {
	err = s.db.pool.QueryRow(ctx,
		`SELECT agency_id, route_short_name FROM routes WHERE route_id = $1`, routeID).
		Scan(&agencyID, &lineNumber)
	if err != nil {
		return "", "", fmt.Errorf("agency/line for route %s: %w", routeID, err)
	}
	return agencyID, lineNumber, nil
}

// RouteLineInfo is the (agency_id, line_number) pair view assembly needs
// per relevant_route_id.
type RouteLineInfo struct {
	AgencyID   string
	LineNumber string
}

// RouteLines resolves agency id and route_short_name for a batch of routes.
func (s *TimetableStore) RouteLines(ctx context.Context, routeIDs []string) (map[string]RouteLineInfo, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT route_id, agency_id, route_short_name FROM routes WHERE route_id = ANY($1)`, routeIDs)
	if err != nil {
		return nil, fmt.Errorf("route lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]RouteLineInfo, len(routeIDs))
	for rows.Next() {
		var routeID string
		var info RouteLineInfo
		if err := rows.Scan(&routeID, &info.AgencyID, &info.LineNumber); err != nil {
			return nil, err
		}
		out[routeID] = info
	}
	return out, rows.Err()
}

// AgencyNames resolves agency_name for a batch of agency ids.
func (s *TimetableStore) AgencyNames(ctx context.Context, agencyIDs []string) (map[string]string, error) {
	if len(agencyIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT agency_id, agency_name FROM agency WHERE agency_id = ANY($1)`, agencyIDs)
	if err != nil {
		return nil, fmt.Errorf("agency names: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(agencyIDs))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// StopCoordsByRoutes returns [lon,lat] for every stop served by any of
// routeIDs, for the distance-to-alert fallback when an alert carries no
// added/removed stops of its own.
func (s *TimetableStore) StopCoordsByRoutes(ctx context.Context, routeIDs []string) ([][2]float64, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.pool.Query(ctx, `
		SELECT DISTINCT stops.stop_lon, stops.stop_lat
		FROM stops
		INNER JOIN stoptimes ON stoptimes.stop_id = stops.stop_id
		INNER JOIN trips ON trips.trip_id = stoptimes.trip_id
		WHERE trips.route_id = ANY($1)`, routeIDs)
	if err != nil {
		return nil, fmt.Errorf("stop coords by routes: %w", err)
	}
	defer rows.Close()

	var out [][2]float64
	for rows.Next() {
		var lon, lat float64
		if err := rows.Scan(&lon, &lat); err != nil {
			return nil, err
		}
		out = append(out, [2]float64{lon, lat})
	}
	return out, rows.Err()
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
