package alerts

import (
	"context"
	"fmt"
	"sort"
)

// RouteResolver is the subset of TimetableStore the classifier needs to turn
// stop/polygon selectors into route and agency sets. Declared here (rather
// than depended on from internal/store) so this package has no storage
// dependency of its own — *store.TimetableStore satisfies it.
type RouteResolver interface {
	RoutesAtStopsInDateRanges(ctx context.Context, stopIDs []string, periods []ActivePeriod) ([]string, error)
	AgenciesForRoutes(ctx context.Context, routeIDs []string) ([]string, error)
	StopsInPolygon(ctx context.Context, polygon [][2]string) ([]string, error)
}

// Classify assigns a use case to a raw alert and builds its NormalizedAlert,
// per the §4.3 priority cascade (first match wins).
func Classify(ctx context.Context, raw RawAlert, resolver RouteResolver) (*NormalizedAlert, error) {
	n := &NormalizedAlert{
		ID:              raw.ID,
		RawData:         raw.RawData,
		Cause:           raw.Cause,
		Effect:          raw.Effect,
		URL:             raw.URL,
		ActivePeriodsRaw: raw.ActivePeriods,
		Consolidated:    ConsolidateActivePeriods(raw.ActivePeriods),
		Header:          raw.Header,
	}
	n.FirstStartTime, n.LastEndTime = envelope(raw.ActivePeriods)

	desc, oar := splitOar(raw.Description)
	n.Description = desc

	first := firstEntity(raw.InformedEntity)

	switch {
	case hasStopOnlySelector(raw.InformedEntity):
		if err := classifyStopsCancelled(ctx, n, raw, resolver); err != nil {
			return nil, err
		}

	case first != nil && first.StopID != "" && first.RouteID != "":
		if err := classifyRouteChanges(n, raw, oar); err != nil {
			return nil, err
		}

	case first != nil && first.Trip != nil && first.Trip.TripID != "":
		if err := classifyScheduleChanges(ctx, n, raw, resolver); err != nil {
			return nil, err
		}

	case cityList(raw.Description) != nil:
		n.UseCase = Cities
		selCities := ParseCityList(*cityListRest(raw.Description))
		n.OriginalSelector = Selector{UseCase: Cities, Cities: selCities}

	case noAgencySelector(raw.InformedEntity) && oar != "" && isRegionPayload(oar):
		if err := classifyRegion(ctx, n, resolver, oar); err != nil {
			return nil, err
		}

	case hasAgencySelector(raw.InformedEntity):
		n.UseCase = Agency
		n.RelevantAgencies = agencyIDs(raw.InformedEntity)
		n.OriginalSelector = Selector{UseCase: Agency, AgencyIDs: n.RelevantAgencies}

	default:
		n.UseCase = National
		n.IsNational = true
		n.OriginalSelector = Selector{UseCase: National}
	}

	sort.Strings(n.RelevantAgencies)
	sort.Strings(n.RelevantRouteIDs)
	sort.Strings(n.AddedStopIDs)
	sort.Strings(n.RemovedStopIDs)
	n.RelevantAgencies = dedupSorted(n.RelevantAgencies)
	n.RelevantRouteIDs = dedupSorted(n.RelevantRouteIDs)
	n.AddedStopIDs = dedupSorted(n.AddedStopIDs)
	n.RemovedStopIDs = dedupSorted(n.RemovedStopIDs)

	return n, nil
}

func envelope(periods []ActivePeriod) (first, last int64) {
	if len(periods) == 0 {
		return 0, InfiniteEnd.Unix()
	}
	first = periods[0].Start
	last = periods[0].End
	if last == 0 {
		last = InfiniteEnd.Unix()
	}
	for _, p := range periods[1:] {
		// An unbounded start collapses first_start_time to epoch for the
		// rest of the scan, same as load_service_alerts.py's else branch:
		// it isn't "no earlier period seen yet", it's "already as early
		// as it gets", and a later bounded period must not undo it.
		if p.Start == 0 {
			first = 0
		} else if first != 0 && p.Start < first {
			first = p.Start
		}
		if p.End == 0 {
			last = InfiniteEnd.Unix()
		} else if last != InfiniteEnd.Unix() && p.End > last {
			last = p.End
		}
	}
	if last == 0 {
		last = InfiniteEnd.Unix()
	}
	return first, last
}

func firstEntity(entities []InformedEntity) *InformedEntity {
	if len(entities) == 0 {
		return nil
	}
	return &entities[0]
}

func hasStopOnlySelector(entities []InformedEntity) bool {
	for _, e := range entities {
		if e.StopID != "" && e.RouteID == "" {
			return true
		}
	}
	return false
}

func hasAgencySelector(entities []InformedEntity) bool {
	for _, e := range entities {
		if e.AgencyID != "" && e.AgencyID != "1" {
			return true
		}
	}
	return false
}

func noAgencySelector(entities []InformedEntity) bool {
	return !hasAgencySelector(entities)
}

func agencyIDs(entities []InformedEntity) []string {
	var out []string
	for _, e := range entities {
		if e.AgencyID != "" && e.AgencyID != "1" {
			out = append(out, e.AgencyID)
		}
	}
	return out
}

func cityListRest(desc TranslatedText) *string {
	he, ok := desc["he"]
	if !ok {
		return nil
	}
	for _, line := range splitLines(he) {
		if rest, found := cutPrefix(line, CityListPrefix); found {
			return &rest
		}
	}
	return nil
}

func cityList(desc TranslatedText) *string {
	return cityListRest(desc)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func isRegionPayload(oar string) bool {
	return len(oar) >= 7 && oar[:7] == "region="
}

// splitOar extracts the "oar" (Old-Aramaic) translation from a description
// map, returning the remaining translations and the raw oar payload (empty
// if absent).
func splitOar(desc TranslatedText) (TranslatedText, string) {
	if desc == nil {
		return nil, ""
	}
	oar := desc["oar"]
	if oar == "" {
		return desc, ""
	}
	out := make(TranslatedText, len(desc)-1)
	for k, v := range desc {
		if k != "oar" {
			out[k] = v
		}
	}
	return out, oar
}

func classifyStopsCancelled(ctx context.Context, n *NormalizedAlert, raw RawAlert, resolver RouteResolver) error {
	n.UseCase = StopsCancelled
	var stopIDs []string
	for _, e := range raw.InformedEntity {
		if e.StopID != "" && e.RouteID == "" {
			stopIDs = append(stopIDs, e.StopID)
		}
	}
	n.RemovedStopIDs = append(n.RemovedStopIDs, stopIDs...)
	n.OriginalSelector = Selector{UseCase: StopsCancelled, StopIDs: dedupSorted(append([]string{}, stopIDs...))}

	routes, err := resolver.RoutesAtStopsInDateRanges(ctx, stopIDs, raw.ActivePeriods)
	if err != nil {
		return fmt.Errorf("stops-cancelled route lookup: %w", err)
	}
	n.RelevantRouteIDs = append(n.RelevantRouteIDs, routes...)

	agencies, err := resolver.AgenciesForRoutes(ctx, routes)
	if err != nil {
		return fmt.Errorf("stops-cancelled agency lookup: %w", err)
	}
	n.RelevantAgencies = append(n.RelevantAgencies, agencies...)
	return nil
}

func classifyRouteChanges(n *NormalizedAlert, raw RawAlert, oar string) error {
	ops := make(map[string][]RouteChangeOp)
	var addedStopIDs []string
	var routeIDs []string

	// Per entity: append {removed_stop_id:S} to schedule_changes[R].
	for _, e := range raw.InformedEntity {
		if e.StopID == "" || e.RouteID == "" {
			continue
		}
		ops[e.RouteID] = append(ops[e.RouteID], RouteChangeOp{RemovedStopID: e.StopID})
		n.RemovedStopIDs = append(n.RemovedStopIDs, e.StopID)
		routeIDs = append(routeIDs, e.RouteID)
	}

	if oar != "" && !isRegionPayload(oar) {
		n.UseCase = RouteChangesFlex
		additions, err := ParseRouteChangeAdditions(oar)
		if err != nil {
			return err
		}
		for routeID, adds := range additions {
			addOps := make([]RouteChangeOp, 0, len(adds))
			for _, a := range adds {
				a := a
				addOps = append(addOps, RouteChangeOp{Added: &a})
				addedStopIDs = append(addedStopIDs, a.AddedStopID)
			}
			// Additions before removals per route.
			ops[routeID] = append(addOps, ops[routeID]...)
			routeIDs = append(routeIDs, routeID)
		}
	} else {
		n.UseCase = RouteChangesSimple
	}

	n.ScheduleChangeOps = ops
	n.AddedStopIDs = append(n.AddedStopIDs, addedStopIDs...)
	n.RelevantRouteIDs = append(n.RelevantRouteIDs, routeIDs...)
	n.OriginalSelector = Selector{UseCase: n.UseCase, RouteChangeOps: ops}
	return nil
}

func classifyScheduleChanges(ctx context.Context, n *NormalizedAlert, raw RawAlert, resolver RouteResolver) error {
	n.UseCase = ScheduleChanges
	added := make(map[string][]string)
	removedTripIDs := make(map[string][]string)
	var routeIDs []string

	for _, e := range raw.InformedEntity {
		if e.Trip == nil {
			continue
		}
		routeID := e.Trip.RouteID
		if routeID == "" {
			routeID = e.RouteID
		}
		routeIDs = append(routeIDs, routeID)

		switch {
		case e.Trip.ScheduleRelationship == "CANCELED" && e.Trip.TripID != "" && e.Trip.TripID != "0":
			removedTripIDs[routeID] = append(removedTripIDs[routeID], e.Trip.TripID)
		case e.Trip.ScheduleRelationship == "ADDED" || e.Trip.TripID == "" || e.Trip.TripID == "0":
			added[routeID] = append(added[routeID], e.Trip.StartTime)
		}
	}

	result := make(map[string]ScheduleChangeTimes, len(routeIDs))
	for routeID, tripIDs := range removedTripIDs {
		times, err := resolveDepartureTimes(ctx, resolver, tripIDs)
		if err != nil {
			return fmt.Errorf("resolve removed trip departure times: %w", err)
		}
		rc := result[routeID]
		rc.Removed = append(rc.Removed, times...)
		result[routeID] = rc
	}
	for routeID, times := range added {
		rc := result[routeID]
		rc.Added = append(rc.Added, times...)
		result[routeID] = rc
	}
	for routeID, rc := range result {
		sort.Strings(rc.Added)
		sort.Strings(rc.Removed)
		result[routeID] = rc
	}

	n.ScheduleChangeTimes = result
	n.RelevantRouteIDs = append(n.RelevantRouteIDs, routeIDs...)
	n.OriginalSelector = Selector{UseCase: ScheduleChanges}
	return nil
}

// resolveDepartureTimes is batched via the same RouteResolver-adjacent store
// contract; declared as a function value so classifier_test can stub it
// without a full TimetableStore.
var resolveDepartureTimes = func(ctx context.Context, resolver RouteResolver, tripIDs []string) ([]string, error) {
	type tripResolver interface {
		DepartureTimesForTrips(ctx context.Context, tripIDs []string) (map[string]string, error)
	}
	tr, ok := resolver.(tripResolver)
	if !ok {
		return nil, fmt.Errorf("%w: resolver does not support trip departure lookup", ErrStoreTransient)
	}
	byTrip, err := tr.DepartureTimesForTrips(ctx, tripIDs)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tripIDs))
	for _, id := range tripIDs {
		if t, ok := byTrip[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func classifyRegion(ctx context.Context, n *NormalizedAlert, resolver RouteResolver, oar string) error {
	n.UseCase = Region
	polygon, err := ParseRegionPolygon(oar)
	if err != nil {
		return err
	}
	n.OriginalSelector = Selector{UseCase: Region, Polygon: polygon}

	stopIDs, err := resolver.StopsInPolygon(ctx, polygon)
	if err != nil {
		return fmt.Errorf("region stop lookup: %w", err)
	}
	routes, err := resolver.RoutesAtStopsInDateRanges(ctx, stopIDs, n.ActivePeriodsRaw)
	if err != nil {
		return fmt.Errorf("region route lookup: %w", err)
	}
	n.RelevantRouteIDs = append(n.RelevantRouteIDs, routes...)
	agencies, err := resolver.AgenciesForRoutes(ctx, routes)
	if err != nil {
		return fmt.Errorf("region agency lookup: %w", err)
	}
	n.RelevantAgencies = append(n.RelevantAgencies, agencies...)
	return nil
}

func dedupSorted(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	out := ss[:1]
	for _, s := range ss[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
