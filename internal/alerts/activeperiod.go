package alerts

import (
	"sort"
	"time"
)

// ConsolidateActivePeriods collapses raw (start,end) unix-second pairs into
// the compact {dates,times} / {simple} representation described in §4.1.
// Ported from the original service's consolidate_active_periods /
// consolidate_sorted_date_tuple_list.
func ConsolidateActivePeriods(periods []ActivePeriod) []ConsolidatedPeriod {
	var simple []ConsolidatedPeriod
	type dayGroup struct {
		date  time.Time // local midnight of the start day
		times []TimeWindow
	}
	var groups []dayGroup

	for _, p := range periods {
		if p.Start == 0 || p.End == 0 {
			simple = append(simple, ConsolidatedPeriod{Simple: &SimplePeriod{
				Start: isoOrUnbounded(p.Start),
				End:   isoOrUnbounded(p.End),
			}})
			continue
		}

		start := time.Unix(p.Start, 0).In(Jerusalem)
		end := time.Unix(p.End, 0).In(Jerusalem)
		startDay := localMidnight(start)
		endDay := localMidnight(end)

		// More than one local day apart: emit as simple.
		if endDay.After(startDay.AddDate(0, 0, 1)) {
			simple = append(simple, ConsolidatedPeriod{Simple: &SimplePeriod{
				Start: start.Format("2006-01-02T15:04:05-07:00"),
				End:   end.Format("2006-01-02T15:04:05-07:00"),
			}})
			continue
		}

		crosses := endDay.After(startDay)
		window := TimeWindow{
			Start:           start.Format("15:04"),
			End:             end.Format("15:04"),
			CrossesMidnight: crosses,
		}

		found := false
		for i := range groups {
			if groups[i].date.Equal(startDay) {
				groups[i].times = append(groups[i].times, window)
				found = true
				break
			}
		}
		if !found {
			groups = append(groups, dayGroup{date: startDay, times: []TimeWindow{window}})
		}
	}

	// Sort each group's windows and dedup the time-tuple list so groups with
	// an identical window set can be compared for merging.
	sort.Slice(groups, func(i, j int) bool { return groups[i].date.Before(groups[j].date) })
	for i := range groups {
		groups[i].times = sortUniqueWindows(groups[i].times)
	}

	// Merge groups with an identical window list.
	type merged struct {
		dates []time.Time
		times []TimeWindow
	}
	var mergedGroups []merged
	for _, g := range groups {
		placed := false
		for i := range mergedGroups {
			if windowsEqual(mergedGroups[i].times, g.times) {
				mergedGroups[i].dates = append(mergedGroups[i].dates, g.date)
				placed = true
				break
			}
		}
		if !placed {
			mergedGroups = append(mergedGroups, merged{dates: []time.Time{g.date}, times: g.times})
		}
	}

	out := make([]ConsolidatedPeriod, 0, len(simple)+len(mergedGroups))
	out = append(out, simple...)
	for _, m := range mergedGroups {
		sort.Slice(m.dates, func(i, j int) bool { return m.dates[i].Before(m.dates[j]) })
		out = append(out, ConsolidatedPeriod{
			Dates: collapseDates(m.dates),
			Times: m.times,
		})
	}
	return out
}

func localMidnight(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, Jerusalem)
}

func isoOrUnbounded(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).In(Jerusalem).Format("2006-01-02T15:04:05-07:00")
}

func sortUniqueWindows(ws []TimeWindow) []TimeWindow {
	sort.Slice(ws, func(i, j int) bool {
		a, b := ws[i], ws[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})
	out := ws[:0:0]
	for i, w := range ws {
		if i == 0 || w != ws[i-1] {
			out = append(out, w)
		}
	}
	return out
}

func windowsEqual(a, b []TimeWindow) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// collapseDates turns a sorted slice of local-midnight dates into inclusive
// ranges, collapsing runs of consecutive calendar days.
func collapseDates(dates []time.Time) []DateRange {
	var out []DateRange
	i := 0
	for i < len(dates) {
		j := i
		for j+1 < len(dates) && dates[j].AddDate(0, 0, 1).Equal(dates[j+1]) {
			j++
		}
		out = append(out, DateRange{
			Start: dates[i].Format("2006-01-02"),
			End:   dates[j].Format("2006-01-02"),
		})
		i = j + 1
	}
	return out
}
