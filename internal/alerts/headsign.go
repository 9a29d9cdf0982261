package alerts

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// stopDescCityPattern extracts a city name from a stop's stop_desc field,
// which embeds it as "עיר: <city> רציף: ...".
var stopDescCityPattern = regexp.MustCompile(`עיר: (.*) רציף:`)

// routeDescDirAltPattern splits a route's route_desc into its direction and
// alternative identifiers: "<agency>-<dir>-<alt>".
var routeDescDirAltPattern = regexp.MustCompile(`^[^-]+-([^-]+)-([^-]+)$`)

// ToText computes a representative trip's user-facing destination label:
// the trip headsign if present (with underscores rendered as " - "),
// otherwise a city-extraction fallback from the first/last stop descriptions.
func ToText(tripHeadsign string, firstStopDesc, lastStopDesc, lastStopName string) string {
	if tripHeadsign != "" {
		return strings.ReplaceAll(tripHeadsign, "_", " - ")
	}

	firstCity := extractCity(firstStopDesc)
	lastCity := extractCity(lastStopDesc)
	if firstCity != lastCity {
		return lastCity
	}
	return lastStopName
}

func extractCity(stopDesc string) string {
	m := stopDescCityPattern.FindStringSubmatch(stopDesc)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ParseRouteDescDirAlt extracts (dirID, altID) from a route_desc, or ("","")
// if it doesn't match the expected shape.
func ParseRouteDescDirAlt(routeDesc string) (dirID, altID string) {
	m := routeDescDirAltPattern.FindStringSubmatch(routeDesc)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// LabelHeadsigns disambiguates dir_name/alt_name across a group of
// RouteChanges sharing one (agency, line_number), per §4.7. routeDescs and
// changes are index-aligned by position; the labels are set on changes in
// place.
func LabelHeadsigns(changes []*RouteChange, routeDescs []string) {
	type parsed struct {
		dirID, altID string
	}
	info := make([]parsed, len(changes))
	for i, rd := range routeDescs {
		d, a := ParseRouteDescDirAlt(rd)
		info[i] = parsed{dirID: d, altID: a}
	}

	// Group indices by to_text.
	byText := make(map[string][]int)
	for i, c := range changes {
		byText[c.ToText] = append(byText[c.ToText], i)
	}

	for _, idxs := range byText {
		if len(idxs) <= 1 {
			continue
		}

		dirIDs := uniqueSorted(mapIdx(idxs, func(i int) string { return info[i].dirID }))
		dirRank := rankOf(dirIDs)

		for _, i := range idxs {
			dirID := info[i].dirID
			if hasOtherWith(idxs, i, func(j int) bool { return info[j].dirID != dirID }) {
				name := strconv.Itoa(dirRank[dirID] + 1)
				changes[i].DirName = &name
			}
		}

		// Non-main alternatives: everything except "#" and "0".
		var nonMain []string
		for _, i := range idxs {
			a := info[i].altID
			if a != "#" && a != "0" {
				nonMain = append(nonMain, a)
			}
		}
		nonMain = uniqueSorted(nonMain)
		altRank := rankOf(nonMain)

		for _, i := range idxs {
			altID := info[i].altID
			if altID == "#" || altID == "0" {
				continue
			}
			if !hasOtherWith(idxs, i, func(j int) bool { return info[j].altID != altID }) {
				continue
			}
			if len(nonMain) == 1 {
				hash := "#"
				changes[i].AltName = &hash
			} else {
				name := strconv.Itoa(altRank[altID] + 1)
				changes[i].AltName = &name
			}
		}
	}
}

func mapIdx(idxs []int, f func(int) string) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = f(idx)
	}
	return out
}

func hasOtherWith(idxs []int, self int, pred func(int) bool) bool {
	for _, i := range idxs {
		if i != self && pred(i) {
			return true
		}
	}
	return false
}

func uniqueSorted(ss []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func rankOf(sorted []string) map[string]int {
	rank := make(map[string]int, len(sorted))
	for i, s := range sorted {
		rank[s] = i
	}
	return rank
}
