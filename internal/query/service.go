// Package query assembles the JSON-facing views the HTTP API serves:
// enriched alert lists, single alerts, route changes, and the line
// catalog, each backed by a small TTL cache per §4.10.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"transitalerts/internal/alerts"
	"transitalerts/internal/geo"
	"transitalerts/internal/store"
)

// Service ties the AlertStore, TimetableStore, route-change engine, and
// line catalog together into the five read operations the query server's
// handlers call directly.
type Service struct {
	Alerts    *store.AlertStore
	Timetable *store.TimetableStore
	Engine    *alerts.RouteChangeEngine
	Lines     *store.LineCatalog
	Clock     alerts.Clock

	allAlertsCache    *alerts.Cache
	singleAlertCache  *alerts.Cache
	routeChangesCache *alerts.Cache
	distanceCache     *alerts.Cache
}

// New builds a Service with the §4.10 cache sizes: 64 for all_alerts, 256
// for single_alert, 512 for route_changes, 2048 for distance. ttl is the
// shared 10-minute TTL applied to all four caches.
func New(alertStore *store.AlertStore, timetable *store.TimetableStore, engine *alerts.RouteChangeEngine, lines *store.LineCatalog, clock alerts.Clock, ttl time.Duration) *Service {
	return &Service{
		Alerts:            alertStore,
		Timetable:         timetable,
		Engine:            engine,
		Lines:             lines,
		Clock:             clock,
		allAlertsCache:    alerts.NewCache(ttl, 64),
		singleAlertCache:  alerts.NewCache(ttl, 256),
		routeChangesCache: alerts.NewCache(ttl, 512),
		distanceCache:     alerts.NewCache(ttl, 2048),
	}
}

// Location is a rounded-to-6-decimals (lat,lon) pair, matching the HTTP
// layer's current_location query-parameter contract.
type Location struct {
	Lat, Lon float64
}

func (l Location) key() string {
	return fmt.Sprintf("%.6f_%.6f", l.Lat, l.Lon)
}

// AllAlerts returns every non-stale alert, enriched and sorted per §4.8.
func (s *Service) AllAlerts(ctx context.Context, loc *Location) ([]*alerts.EnrichedAlert, error) {
	key := "all_alerts"
	if loc != nil {
		key = "all_alerts:" + loc.key()
	}
	if cached, ok := s.allAlertsCache.Get(key); ok {
		return deepCopyAlerts(cached.([]*alerts.EnrichedAlert)), nil
	}

	rows, err := s.Alerts.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	out := make([]*alerts.EnrichedAlert, 0, len(rows))
	for _, row := range rows {
		enriched, err := s.enrich(ctx, row, loc)
		if err != nil {
			return nil, fmt.Errorf("enrich alert %s: %w", row.ID, err)
		}
		out = append(out, enriched)
	}
	alerts.SortAlerts(out, s.Clock.Now())

	s.allAlertsCache.Set(key, out)
	return deepCopyAlerts(out), nil
}

// SingleAlert returns one enriched alert, or nil if not found/stale.
func (s *Service) SingleAlert(ctx context.Context, id string, loc *Location) (*alerts.EnrichedAlert, error) {
	key := "single_alert:" + id
	if loc != nil {
		key += ":" + loc.key()
	}
	if cached, ok := s.singleAlertCache.Get(key); ok {
		return deepCopyAlert(cached.(*alerts.EnrichedAlert)), nil
	}

	row, err := s.Alerts.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	if row == nil {
		return nil, nil
	}

	enriched, err := s.enrich(ctx, row, loc)
	if err != nil {
		return nil, fmt.Errorf("enrich alert %s: %w", id, err)
	}

	s.singleAlertCache.Set(key, enriched)
	return deepCopyAlert(enriched), nil
}

// GetRouteChanges applies the alert to every one of its relevant routes,
// skipping any alert without route-change semantics, then groups the
// results by (agency_id, line_number), sorts each group by
// (to_text, dir_name, alt_name), and computes the map's bounding box over
// every affected stop, per §4.8/§5.
func (s *Service) GetRouteChanges(ctx context.Context, alertID string) (*alerts.RouteChangesView, error) {
	if cached, ok := s.routeChangesCache.Get(alertID); ok {
		return deepCopyRouteChangesView(cached.(*alerts.RouteChangesView)), nil
	}

	row, err := s.Alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", alertID, err)
	}
	if row == nil {
		return nil, nil
	}
	n := row.ToNormalizedAlert()

	var changes []*alerts.RouteChange
	for _, routeID := range row.RelevantRouteIDs {
		rc, err := s.Engine.Apply(ctx, n, routeID)
		if err != nil {
			return nil, fmt.Errorf("apply route change for %s/%s: %w", alertID, routeID, err)
		}
		if rc != nil {
			changes = append(changes, rc)
		}
	}

	groups := groupRouteChanges(changes)
	for i := range groups {
		alerts.LabelHeadsigns(groups[i].Changes, routeDescs(groups[i].Changes))
		alerts.SortRouteChangeGroup(&groups[i])
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].AgencyID != groups[j].AgencyID {
			return groups[i].AgencyID < groups[j].AgencyID
		}
		return groups[i].LineNumber < groups[j].LineNumber
	})

	box, err := s.routeChangesBoundingBox(ctx, row, changes)
	if err != nil {
		return nil, fmt.Errorf("bounding box: %w", err)
	}

	view := &alerts.RouteChangesView{Groups: groups, BoundingBox: box}
	s.routeChangesCache.Set(alertID, view)
	return deepCopyRouteChangesView(view), nil
}

// groupRouteChanges buckets changes by (agency_id, line_number), preserving
// each change's relative order within its bucket.
func groupRouteChanges(changes []*alerts.RouteChange) []alerts.RouteChangeGroup {
	index := make(map[[2]string]int)
	var groups []alerts.RouteChangeGroup
	for _, c := range changes {
		key := [2]string{c.AgencyID, c.LineNumber}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, alerts.RouteChangeGroup{AgencyID: c.AgencyID, LineNumber: c.LineNumber})
		}
		groups[i].Changes = append(groups[i].Changes, c)
	}
	return groups
}

func (s *Service) routeChangesBoundingBox(ctx context.Context, row *store.AlertRow, changes []*alerts.RouteChange) (geo.BoundingBox, error) {
	stopIDs := append(append([]string{}, row.AddedStopIDs...), row.RemovedStopIDs...)
	for _, c := range changes {
		stopIDs = append(stopIDs, c.NearAddedStopIDs...)
	}
	if len(stopIDs) == 0 {
		return geo.BoundingBox{}, nil
	}
	coords, err := s.Timetable.StopCoords(ctx, stopIDs)
	if err != nil {
		return geo.BoundingBox{}, err
	}
	return alerts.RouteChangesBoundingBox(row.AddedStopIDs, row.RemovedStopIDs, changes, coords), nil
}

func routeDescs(changes []*alerts.RouteChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.RouteDesc
	}
	return out
}

// AllLines returns the full static line catalog.
func (s *Service) AllLines(_ context.Context) []store.LineInfo {
	return s.Lines.All()
}

// SingleLine looks up one line by route id.
func (s *Service) SingleLine(_ context.Context, routeID string) (store.LineInfo, bool) {
	return s.Lines.Get(routeID)
}

// enrich joins one AlertRow with timetable metadata per §4.8.
func (s *Service) enrich(ctx context.Context, row *store.AlertRow, loc *Location) (*alerts.EnrichedAlert, error) {
	n := row.ToNormalizedAlert()

	stopIDs := append(append([]string{}, row.AddedStopIDs...), row.RemovedStopIDs...)
	stopDescs, err := s.Timetable.StopDesc(ctx, stopIDs)
	if err != nil {
		return nil, fmt.Errorf("stop descs: %w", err)
	}

	addedStops := stopPairs(row.AddedStopIDs, stopDescs)
	removedStops := stopPairs(row.RemovedStopIDs, stopDescs)
	alerts.SortStopPairs(addedStops)
	alerts.SortStopPairs(removedStops)

	relevantLines, err := s.relevantLines(ctx, row.RelevantRouteIDs)
	if err != nil {
		return nil, fmt.Errorf("relevant lines: %w", err)
	}

	relevantAgencies, err := s.relevantAgencies(ctx, row.RelevantAgencies)
	if err != nil {
		return nil, fmt.Errorf("relevant agencies: %w", err)
	}

	var departureChanges []alerts.DepartureChangeGroup
	if row.UseCase == alerts.ScheduleChanges && len(row.ScheduleChanges) > 0 {
		departureChanges, err = s.departureChanges(ctx, n, row)
		if err != nil {
			return nil, fmt.Errorf("departure changes: %w", err)
		}
	}

	enriched := &alerts.EnrichedAlert{
		NormalizedAlert:  n,
		AddedStops:       addedStops,
		RemovedStops:     removedStops,
		RelevantLines:    relevantLines,
		RelevantAgencies: relevantAgencies,
		DepartureChanges: departureChanges,
	}

	if frd, periodStart, ok := alerts.NextRelevantDate(n, s.Clock.Now()); ok {
		enriched.FirstRelevantDate = &frd
		enriched.CurrentActivePeriodStart = periodStart
	}

	if loc != nil {
		dist, err := s.distanceToAlert(ctx, row, *loc)
		if err != nil {
			return nil, fmt.Errorf("distance: %w", err)
		}
		enriched.Distance = dist
	}

	return enriched, nil
}

func stopPairs(ids []string, descs map[string]string) []alerts.StopPair {
	out := make([]alerts.StopPair, 0, len(ids))
	for _, id := range ids {
		out = append(out, alerts.StopPair{StopCode: id, StopName: descs[id]})
	}
	return out
}

// relevantAgencies resolves each relevant_agencies id to its display name,
// sorted by name, matching _enrich_alerts' `sorted(map(...), key=... agency_name)`.
func (s *Service) relevantAgencies(ctx context.Context, agencyIDs []string) ([]alerts.Agency, error) {
	if len(agencyIDs) == 0 {
		return nil, nil
	}
	names, err := s.Timetable.AgencyNames(ctx, agencyIDs)
	if err != nil {
		return nil, err
	}
	out := make([]alerts.Agency, 0, len(agencyIDs))
	for _, id := range agencyIDs {
		name, ok := names[id]
		if !ok {
			continue
		}
		out = append(out, alerts.Agency{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Service) relevantLines(ctx context.Context, routeIDs []string) (map[string][]string, error) {
	if len(routeIDs) == 0 {
		return nil, nil
	}
	infos, err := s.Timetable.RouteLines(ctx, routeIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, routeID := range routeIDs {
		info, ok := infos[routeID]
		if !ok {
			continue
		}
		out[info.AgencyID] = append(out[info.AgencyID], info.LineNumber)
	}
	for agencyID := range out {
		alerts.SortLineNumbers(out[agencyID])
	}
	return out, nil
}

// scheduleChangeTimes mirrors alerts.ScheduleChangeTimes for decoding the
// stored schedule_changes JSONB column back into Added/Removed hour lists.
type scheduleChangeTimes struct {
	Added   []string
	Removed []string
}

func (s *Service) departureChanges(ctx context.Context, n *alerts.NormalizedAlert, row *store.AlertRow) ([]alerts.DepartureChangeGroup, error) {
	infos, err := s.Timetable.RouteLines(ctx, row.RelevantRouteIDs)
	if err != nil {
		return nil, err
	}

	var times map[string]scheduleChangeTimes
	if len(row.ScheduleChanges) > 0 {
		if err := json.Unmarshal(row.ScheduleChanges, &times); err != nil {
			return nil, fmt.Errorf("decode schedule_changes: %w", err)
		}
	}

	date := alerts.PickRepresentativeDate(n, s.Clock.Now())

	var groups []alerts.DepartureChangeGroup
	for routeID, t := range times {
		info := infos[routeID]
		toText, err := s.Engine.Headsign(ctx, routeID, date)
		if err != nil {
			return nil, fmt.Errorf("headsign for route %s: %w", routeID, err)
		}
		groups = append(groups, alerts.DepartureChangeGroup{
			AgencyID:     info.AgencyID,
			LineNumber:   info.LineNumber,
			ToText:       toText,
			AddedHours:   t.Added,
			RemovedHours: t.Removed,
		})
	}
	alerts.SortDepartureChangeGroups(groups)
	return groups, nil
}

// distanceToAlert mirrors _calculate_distance_to_alert: nearest stop
// (added/removed, or all stops on the alert's relevant routes) to loc, or
// for a REGION alert with no stops of its own, distance to the nearest
// polygon vertex.
func (s *Service) distanceToAlert(ctx context.Context, row *store.AlertRow, loc Location) (*float64, error) {
	cacheKey := loc.key() + ":" + row.ID
	if cached, ok := s.distanceCache.Get(cacheKey); ok {
		d := cached.(float64)
		return &d, nil
	}

	dist, err := s.uncachedDistance(ctx, row, loc)
	if err != nil || dist == nil {
		return dist, err
	}
	s.distanceCache.Set(cacheKey, *dist)
	return dist, nil
}

func (s *Service) uncachedDistance(ctx context.Context, row *store.AlertRow, loc Location) (*float64, error) {
	allStopIDs := append(append([]string{}, row.AddedStopIDs...), row.RemovedStopIDs...)

	if len(allStopIDs) == 0 && row.UseCase == alerts.Region {
		return regionPolygonDistance(row.OriginalSelector.Polygon, loc)
	}

	var coords [][2]float64
	if len(allStopIDs) > 0 {
		byID, err := s.Timetable.StopCoords(ctx, allStopIDs)
		if err != nil {
			return nil, err
		}
		for _, c := range byID {
			coords = append(coords, c)
		}
	} else if len(row.RelevantRouteIDs) > 0 {
		var err error
		coords, err = s.Timetable.StopCoordsByRoutes(ctx, row.RelevantRouteIDs)
		if err != nil {
			return nil, err
		}
	}
	if len(coords) == 0 {
		return nil, nil
	}

	min := math.Inf(1)
	for _, c := range coords {
		if d := geo.Haversine(loc.Lat, loc.Lon, c[1], c[0]); d < min {
			min = d
		}
	}
	return &min, nil
}

// regionPolygonDistance mirrors shapely's Polygon.distance(point): 0 when
// loc falls inside the polygon, otherwise the distance to the nearest
// vertex (the pack carries no planar geometry library for an exact
// point-to-edge distance, so the vertex approximation stands in for that
// case only).
func regionPolygonDistance(polygon [][2]string, loc Location) (*float64, error) {
	if len(polygon) == 0 {
		return nil, nil
	}
	pts := make([][2]float64, len(polygon))
	for i, p := range polygon {
		lat, lon, err := parseLatLon(p)
		if err != nil {
			return nil, err
		}
		pts[i] = [2]float64{lat, lon}
	}

	if geo.PointInPolygon(loc.Lat, loc.Lon, pts) {
		zero := 0.0
		return &zero, nil
	}

	min := math.Inf(1)
	for _, p := range pts {
		if d := geo.Haversine(loc.Lat, loc.Lon, p[0], p[1]); d < min {
			min = d
		}
	}
	return &min, nil
}

func parseLatLon(p [2]string) (lat, lon float64, err error) {
	if _, err = fmt.Sscanf(p[0], "%f", &lat); err != nil {
		return 0, 0, err
	}
	if _, err = fmt.Sscanf(p[1], "%f", &lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

func deepCopyAlert(a *alerts.EnrichedAlert) *alerts.EnrichedAlert {
	cp := *a
	na := *a.NormalizedAlert
	cp.NormalizedAlert = &na
	cp.AddedStops = append([]alerts.StopPair{}, a.AddedStops...)
	cp.RemovedStops = append([]alerts.StopPair{}, a.RemovedStops...)
	cp.RelevantAgencies = append([]alerts.Agency{}, a.RelevantAgencies...)
	return &cp
}

func deepCopyAlerts(as []*alerts.EnrichedAlert) []*alerts.EnrichedAlert {
	out := make([]*alerts.EnrichedAlert, len(as))
	for i, a := range as {
		out[i] = deepCopyAlert(a)
	}
	return out
}

// deepCopyRouteChangesView mirrors deepCopyAlert's defensive-copy-on-read
// contract (§4.10) for the route_changes cache: callers get their own
// Groups/Changes slices, not the cached backing arrays.
func deepCopyRouteChangesView(v *alerts.RouteChangesView) *alerts.RouteChangesView {
	cp := *v
	cp.Groups = make([]alerts.RouteChangeGroup, len(v.Groups))
	for i, g := range v.Groups {
		cp.Groups[i] = alerts.RouteChangeGroup{
			AgencyID:   g.AgencyID,
			LineNumber: g.LineNumber,
			Changes:    append([]*alerts.RouteChange{}, g.Changes...),
		}
	}
	return &cp
}
