package alerts

import (
	"fmt"
	"strings"
)

// CityListPrefix is the literal Hebrew prefix identifying a CITIES
// description line.
const CityListPrefix = "ההודעה רלוונטית לישובים: "

// ParseRegionPolygon parses an Old-Aramaic "region=lat,lon:lat,lon:…" payload
// into an ordered list of [lat,lon] string pairs. Kept as strings throughout,
// per the spec, to avoid float round-trip drift.
func ParseRegionPolygon(payload string) ([][2]string, error) {
	rest, ok := strings.CutPrefix(payload, "region=")
	if !ok {
		return nil, fmt.Errorf("%w: region payload missing region= prefix", ErrInputMalformed)
	}
	rest = strings.TrimSuffix(rest, ";")

	var points [][2]string
	for _, seg := range strings.Split(rest, ":") {
		if seg == "" {
			continue
		}
		parts := strings.SplitN(seg, ",", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("%w: malformed region point %q", ErrInputMalformed, seg)
		}
		points = append(points, [2]string{parts[0], parts[1]})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: region payload has no points", ErrInputMalformed)
	}
	return points, nil
}

// ParseRouteChangeAdditions parses an Old-Aramaic route-change payload:
// "route_id=R,add_stop_id=S,before_stop_id=B;route_id=R,add_stop_id=S,after_stop_id=A;…"
// into route_id -> ordered list of additions. Unknown keys are ignored;
// empty segments are skipped; a malformed entry fails the whole parse (the
// caller treats this as ErrInputMalformed and skips the alert).
func ParseRouteChangeAdditions(payload string) (map[string][]AddedStop, error) {
	out := make(map[string][]AddedStop)
	for _, seg := range strings.Split(payload, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		fields := make(map[string]string)
		for _, kv := range strings.Split(seg, ",") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("%w: malformed key=value %q", ErrInputMalformed, kv)
			}
			fields[parts[0]] = parts[1]
		}

		routeID := fields["route_id"]
		addStopID := fields["add_stop_id"]
		if routeID == "" || addStopID == "" {
			return nil, fmt.Errorf("%w: route-change entry missing route_id/add_stop_id: %q", ErrInputMalformed, seg)
		}

		before, hasBefore := fields["before_stop_id"]
		after, hasAfter := fields["after_stop_id"]
		switch {
		case hasBefore && before != "":
			out[routeID] = append(out[routeID], AddedStop{AddedStopID: addStopID, RelativeStopID: before, IsBefore: true})
		case hasAfter && after != "":
			out[routeID] = append(out[routeID], AddedStop{AddedStopID: addStopID, RelativeStopID: after, IsBefore: false})
		default:
			return nil, fmt.Errorf("%w: route-change entry missing before/after_stop_id: %q", ErrInputMalformed, seg)
		}
	}
	return out, nil
}

// ParseCityList splits the remainder of a CITIES description line (after the
// CityListPrefix) on commas, trimming whitespace from each city name.
func ParseCityList(rest string) []string {
	parts := strings.Split(rest, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
