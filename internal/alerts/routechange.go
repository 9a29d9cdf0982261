package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TripStore is the subset of TimetableStore the RouteChangeEngine needs.
type TripStore interface {
	RepresentativeTripID(ctx context.Context, routeID string, date time.Time) (string, error)
	StopSequence(ctx context.Context, tripID string) ([]string, error)
	ShapePoints(ctx context.Context, tripID string) ([][2]float64, error) // [lon,lat]
	TripHeadsign(ctx context.Context, tripID string) (string, error)
	StopDesc(ctx context.Context, stopIDs []string) (map[string]string, error)
	StopCoords(ctx context.Context, stopIDs []string) (map[string][2]float64, error) // id -> [lon,lat]
	StopName(ctx context.Context, stopID string) (string, error)
	RouteDesc(ctx context.Context, routeID string) (string, error)
	RouteAgencyLine(ctx context.Context, routeID string) (agencyID, lineNumber string, err error)
}

// RouteChangeEngine applies a classified alert to one route's representative
// trip and produces the mutated stop sequence, per §4.4.
type RouteChangeEngine struct {
	Store  TripStore
	Clock  Clock
	Logger *slog.Logger
}

// Apply returns nil, nil when the alert has no route-change semantics for
// the use cases this engine understands.
func (e *RouteChangeEngine) Apply(ctx context.Context, n *NormalizedAlert, routeID string) (*RouteChange, error) {
	if n.UseCase != StopsCancelled && n.UseCase != RouteChangesFlex && n.UseCase != RouteChangesSimple {
		return nil, nil
	}

	date := PickRepresentativeDate(n, e.Clock.Now())
	if date.IsZero() {
		date = localMidnight(e.Clock.Now())
	}

	tripID, err := e.Store.RepresentativeTripID(ctx, routeID, date)
	if err != nil {
		return nil, fmt.Errorf("representative trip for route %s: %w", routeID, err)
	}

	rawSeq, err := e.Store.StopSequence(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("stop sequence for trip %s: %w", tripID, err)
	}

	seq := make([]StopSequenceEntry, len(rawSeq))
	for i, id := range rawSeq {
		seq[i] = StopSequenceEntry{StopID: id}
	}

	var deletedStopIDs []string
	singleRoute := n.singleRelevantRoute()

	if n.UseCase == StopsCancelled {
		for _, stopID := range n.RemovedStopIDs {
			removed := removeAllUnadded(&seq, stopID)
			if removed > 0 || singleRoute {
				deletedStopIDs = append(deletedStopIDs, stopID)
			}
		}
	} else {
		for _, op := range n.ScheduleChangeOps[routeID] {
			switch {
			case op.Added != nil:
				idx := findFirstIndex(seq, op.Added.RelativeStopID)
				if idx < 0 {
					e.logWarn("route change addition references unknown stop", "route", routeID, "relative_stop", op.Added.RelativeStopID)
					continue
				}
				insertAt := idx
				if !op.Added.IsBefore {
					insertAt = idx + 1
				}
				seq = insertStop(seq, insertAt, StopSequenceEntry{StopID: op.Added.AddedStopID, IsAdded: true})
			case op.RemovedStopID != "":
				removed := removeAllUnadded(&seq, op.RemovedStopID)
				if removed == 0 {
					e.logWarn("route change removal matched no stop", "route", routeID, "stop", op.RemovedStopID)
				}
				if removed > 0 || singleRoute {
					deletedStopIDs = append(deletedStopIDs, op.RemovedStopID)
				}
			}
		}
	}

	shape, err := e.Store.ShapePoints(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("shape points for trip %s: %w", tripID, err)
	}
	if len(shape) == 0 {
		shape, err = e.straightLineShape(ctx, rawSeq)
		if err != nil {
			return nil, err
		}
	}

	headsign, err := e.Store.TripHeadsign(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("headsign for trip %s: %w", tripID, err)
	}
	toText, err := e.toText(ctx, headsign, rawSeq)
	if err != nil {
		return nil, err
	}

	routeDesc, err := e.Store.RouteDesc(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("route desc for %s: %w", routeID, err)
	}

	agencyID, lineNumber, err := e.Store.RouteAgencyLine(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("agency/line for route %s: %w", routeID, err)
	}

	return &RouteChange{
		RouteID:             routeID,
		AgencyID:            agencyID,
		LineNumber:          lineNumber,
		RouteDesc:           routeDesc,
		ToText:              toText,
		UpdatedStopSequence: seq,
		DeletedStopIDs:      deletedStopIDs,
		NearAddedStopIDs:    nearAddedStopIDs(seq),
		Shape:               shape,
	}, nil
}

// Headsign computes the representative-trip to_text label for one route on
// a given date, independent of any route-change application. Used for the
// SCHEDULE_CHANGES departure_changes view, which names a route's headsign
// without ever mutating its stop sequence.
func (e *RouteChangeEngine) Headsign(ctx context.Context, routeID string, date time.Time) (string, error) {
	tripID, err := e.Store.RepresentativeTripID(ctx, routeID, date)
	if err != nil {
		return "", fmt.Errorf("representative trip for route %s: %w", routeID, err)
	}
	headsign, err := e.Store.TripHeadsign(ctx, tripID)
	if err != nil {
		return "", fmt.Errorf("headsign for trip %s: %w", tripID, err)
	}
	rawSeq, err := e.Store.StopSequence(ctx, tripID)
	if err != nil {
		return "", fmt.Errorf("stop sequence for trip %s: %w", tripID, err)
	}
	return e.toText(ctx, headsign, rawSeq)
}

// nearAddedStopIDs returns the stop ids adjacent to a transition between an
// added and a not-added run in the final stop sequence, so the map's
// bounding box isn't clipped right at the edge of a change. The original's
// equivalent scan starts comparing from the second stop, skipping the very
// first pair; this port walks every adjacent pair instead, since there's no
// reason the first stop on the route should be exempt from the same check.
func nearAddedStopIDs(seq []StopSequenceEntry) []string {
	var out []string
	for i := 1; i < len(seq); i++ {
		prev, cur := seq[i-1], seq[i]
		switch {
		case cur.IsAdded && !prev.IsAdded:
			out = append(out, prev.StopID)
		case !cur.IsAdded && prev.IsAdded:
			out = append(out, cur.StopID)
		}
	}
	return out
}

func (n *NormalizedAlert) singleRelevantRoute() bool {
	return len(n.RelevantRouteIDs) == 1
}

// removeAllUnadded removes every (stopID, is_added=false) entry from seq,
// returning the number removed. Implemented as a direct linear scan with
// in-place compaction — the "remove all occurrences, return the count"
// design note, not exception-as-control-flow.
func removeAllUnadded(seq *[]StopSequenceEntry, stopID string) int {
	s := *seq
	out := s[:0]
	removed := 0
	for _, e := range s {
		if e.StopID == stopID && !e.IsAdded {
			removed++
			continue
		}
		out = append(out, e)
	}
	*seq = out
	return removed
}

// findFirstIndex returns the first index whose stop id matches, regardless
// of its is_added flag — an added stop may be inserted relative to another
// added stop.
func findFirstIndex(seq []StopSequenceEntry, stopID string) int {
	for i, e := range seq {
		if e.StopID == stopID {
			return i
		}
	}
	return -1
}

func insertStop(seq []StopSequenceEntry, idx int, e StopSequenceEntry) []StopSequenceEntry {
	if idx > len(seq) {
		// Insertion beyond sequence end is forbidden; fail soft by
		// appending instead of dropping the stop entirely.
		idx = len(seq)
	}
	out := make([]StopSequenceEntry, 0, len(seq)+1)
	out = append(out, seq[:idx]...)
	out = append(out, e)
	out = append(out, seq[idx:]...)
	return out
}

func (e *RouteChangeEngine) straightLineShape(ctx context.Context, rawSeq []string) ([][2]float64, error) {
	coords, err := e.Store.StopCoords(ctx, rawSeq)
	if err != nil {
		return nil, fmt.Errorf("stop coords for straight-line shape: %w", err)
	}
	out := make([][2]float64, 0, len(rawSeq))
	for _, id := range rawSeq {
		if c, ok := coords[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *RouteChangeEngine) toText(ctx context.Context, headsign string, rawSeq []string) (string, error) {
	if headsign != "" {
		return ToText(headsign, "", "", ""), nil
	}
	if len(rawSeq) == 0 {
		return "", nil
	}
	first, last := rawSeq[0], rawSeq[len(rawSeq)-1]
	descs, err := e.Store.StopDesc(ctx, []string{first, last})
	if err != nil {
		return "", fmt.Errorf("stop desc for headsign fallback: %w", err)
	}
	lastName, err := e.Store.StopName(ctx, last)
	if err != nil {
		return "", fmt.Errorf("stop name for headsign fallback: %w", err)
	}
	return ToText("", descs[first], descs[last], lastName), nil
}

func (e *RouteChangeEngine) logWarn(msg string, args ...any) {
	if e.Logger != nil {
		e.Logger.Warn(msg, args...)
	}
}
