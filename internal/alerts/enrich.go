package alerts

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"transitalerts/internal/geo"
)

// firstDigitToken matches the first run of digits anywhere in a line number
// or stop code string, e.g. "Night 4" -> "4", "12A" -> "12".
var firstDigitToken = regexp.MustCompile(`\d+`)

// NaturalSortKey is the natural-sort key used for both relevant_lines line
// numbers and added/removed stop codes: the first all-digit token (so "4"
// sorts before "12"), falling back to (-1, original) when no digit token
// exists.
func NaturalSortKey(s string) (int, string) {
	m := firstDigitToken.FindString(s)
	if m == "" {
		return -1, s
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1, s
	}
	return n, s
}

func lessNatural(a, b string) bool {
	an, as := NaturalSortKey(a)
	bn, bs := NaturalSortKey(b)
	if an != bn {
		return an < bn
	}
	return as < bs
}

// StopPair is a (stop_code, stop_name) entry in added_stops/removed_stops.
type StopPair struct {
	StopCode string
	StopName string
}

// SortStopPairs sorts by the natural-sort key of StopCode, ties broken by
// the full code string.
func SortStopPairs(pairs []StopPair) {
	sort.Slice(pairs, func(i, j int) bool { return lessNatural(pairs[i].StopCode, pairs[j].StopCode) })
}

// SortLineNumbers sorts line numbers with the same natural-sort key.
func SortLineNumbers(lines []string) {
	sort.Slice(lines, func(i, j int) bool { return lessNatural(lines[i], lines[j]) })
}

// DepartureChangeGroup is one entry of the SCHEDULE_CHANGES departure_changes
// view: for one (agency, line) pair, the to_text label plus added/removed
// departure hour strings.
type DepartureChangeGroup struct {
	AgencyID     string
	LineNumber   string
	ToText       string
	AddedHours   []string
	RemovedHours []string
}

// SortDepartureChangeGroups sorts by ToText, matching _get_departure_changes.
func SortDepartureChangeGroups(groups []DepartureChangeGroup) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].ToText < groups[j].ToText })
}

// Agency is the relevant_agencies view: an agency id resolved to its
// display name, per §4.8 ("relevant_agencies ... full agency objects").
type Agency struct {
	ID   string
	Name string
}

// EnrichedAlert is the view-assembly output of AlertEnricher: a
// NormalizedAlert joined with timetable metadata plus the view-only fields
// the client needs.
type EnrichedAlert struct {
	*NormalizedAlert

	AddedStops               []StopPair
	RemovedStops             []StopPair
	RelevantLines            map[string][]string // agency_id -> sorted line numbers
	RelevantAgencies         []Agency             // shadows NormalizedAlert.RelevantAgencies ([]string of ids)
	DepartureChanges         []DepartureChangeGroup
	FirstRelevantDate        *time.Time
	CurrentActivePeriodStart int64
	Distance                 *float64 // meters, nil if no current_location given
}

// SortRouteChangeGroup sorts one group's changes by (to_text, dir_name,
// alt_name), matching _uncached_get_route_changes' step 7. A nil DirName or
// AltName sorts as "".
func SortRouteChangeGroup(g *RouteChangeGroup) {
	sort.Slice(g.Changes, func(i, j int) bool {
		a, b := g.Changes[i], g.Changes[j]
		if a.ToText != b.ToText {
			return a.ToText < b.ToText
		}
		if da, db := orEmpty(a.DirName), orEmpty(b.DirName); da != db {
			return da < db
		}
		return orEmpty(a.AltName) < orEmpty(b.AltName)
	})
}

func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RouteChangesView is the full get_route_changes response: route changes
// grouped by (agency_id, line_number), plus the bounding box the map draws
// around every affected stop.
type RouteChangesView struct {
	Groups      []RouteChangeGroup
	BoundingBox geo.BoundingBox
}

// RouteChangesBoundingBox computes the §4.8 map bounding box over the union
// of an alert's own added/removed stop ids and every RouteChange's
// near-added-stop ids, using coords resolved by the caller ([lon,lat], as
// returned by TripStore.StopCoords).
func RouteChangesBoundingBox(addedStopIDs, removedStopIDs []string, changes []*RouteChange, coords map[string][2]float64) geo.BoundingBox {
	var box geo.BoundingBox
	seen := make(map[string]bool)
	extend := func(stopID string) {
		if seen[stopID] {
			return
		}
		seen[stopID] = true
		c, ok := coords[stopID]
		if !ok {
			return
		}
		box.Extend(c[1], c[0])
	}
	for _, id := range addedStopIDs {
		extend(id)
	}
	for _, id := range removedStopIDs {
		extend(id)
	}
	for _, c := range changes {
		for _, id := range c.NearAddedStopIDs {
			extend(id)
		}
	}
	return box
}

// SortAlerts orders enriched alerts by the §4.8 final sort key:
// (is_expired, is_deleted, distance_or_+inf, current_active_period_start_or_last_end_time,
// (not is_national) if expired_or_deleted else false), ascending.
func SortAlerts(alerts []*EnrichedAlert, now time.Time) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		ak := alertSortKey(a, now)
		bk := alertSortKey(b, now)
		return ak.less(bk)
	})
}

type sortKey struct {
	isExpired     bool
	isDeleted     bool
	distance      float64
	periodStart   int64
	notNational   bool
}

func (a sortKey) less(b sortKey) bool {
	if a.isExpired != b.isExpired {
		return !a.isExpired // false (not expired) sorts first
	}
	if a.isDeleted != b.isDeleted {
		return !a.isDeleted
	}
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	if a.periodStart != b.periodStart {
		return a.periodStart < b.periodStart
	}
	return !a.notNational && b.notNational
}

func alertSortKey(a *EnrichedAlert, now time.Time) sortKey {
	expired := a.IsExpired(now)
	deleted := a.IsDeleted()

	dist := math.Inf(1)
	if a.Distance != nil {
		dist = *a.Distance
	}

	periodStart := a.CurrentActivePeriodStart
	if periodStart == 0 {
		periodStart = a.LastEndTime
	}

	notNational := false
	if expired || deleted {
		notNational = !a.IsNational
	}

	return sortKey{
		isExpired:   expired,
		isDeleted:   deleted,
		distance:    dist,
		periodStart: periodStart,
		notNational: notNational,
	}
}
