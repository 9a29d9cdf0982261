package alerts

import "time"

// PickRepresentativeDate returns the local-midnight date used to query the
// static timetable for a trip that best represents the alert's applicability
// window, per §4.5. May return the zero Time only when the alert has no
// active periods at all; callers then treat that as "today".
func PickRepresentativeDate(n *NormalizedAlert, now time.Time) time.Time {
	today := localMidnight(now)

	if n.IsExpired(now) {
		latest := latestFiniteEnd(n.ActivePeriodsRaw)
		if latest.IsZero() {
			return today
		}
		return localMidnight(latest)
	}

	if n.IsDeleted() {
		return localMidnight(time.Unix(n.LastEndTime, 0).In(Jerusalem))
	}

	var earliestFuture time.Time
	for _, p := range n.ActivePeriodsRaw {
		if p.Start == 0 && p.End == 0 {
			return today
		}
		if p.End != 0 && p.End <= now.Unix() {
			continue
		}
		if p.Start == 0 || p.Start <= now.Unix() {
			return today
		}
		start := time.Unix(p.Start, 0).In(Jerusalem)
		if earliestFuture.IsZero() || start.Before(earliestFuture) {
			earliestFuture = start
		}
	}
	if earliestFuture.IsZero() {
		return time.Time{}
	}
	return localMidnight(earliestFuture)
}

func latestFiniteEnd(periods []ActivePeriod) time.Time {
	var latest time.Time
	for _, p := range periods {
		if p.End == 0 {
			continue
		}
		t := time.Unix(p.End, 0).In(Jerusalem)
		if latest.IsZero() || t.After(latest) {
			latest = t
		}
	}
	return latest
}

// NextRelevantDate computes the view-layer first_relevant_date and
// current_active_period_start fields for non-expired, non-deleted alerts,
// per §4.6. ok is false for expired/deleted alerts, which the caller skips.
func NextRelevantDate(n *NormalizedAlert, now time.Time) (firstRelevantDate time.Time, currentActivePeriodStart int64, ok bool) {
	if n.IsExpired(now) || n.IsDeleted() {
		return time.Time{}, 0, false
	}

	today := localMidnight(now)
	var minFutureStart int64
	haveMinFuture := false

	for _, p := range n.ActivePeriodsRaw {
		if p.End != 0 && p.End <= now.Unix() {
			continue
		}
		if p.Start == 0 || p.Start <= now.Unix() {
			return today, p.Start, true
		}
		if !haveMinFuture || p.Start < minFutureStart {
			minFutureStart = p.Start
			haveMinFuture = true
		}
	}
	if !haveMinFuture {
		return today, 0, true
	}
	return localMidnight(time.Unix(minFutureStart, 0).In(Jerusalem)), minFutureStart, true
}
