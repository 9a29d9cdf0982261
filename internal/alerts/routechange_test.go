package alerts

import (
	"context"
	"reflect"
	"testing"
	"time"
)

type fakeTripStore struct {
	tripID   string
	stopSeq  []string
	shape    [][2]float64
	headsign string
	desc     map[string]string
	coords   map[string][2]float64
	names    map[string]string
	routeDesc string
	agencyID   string
	lineNumber string
}

func (f *fakeTripStore) RepresentativeTripID(ctx context.Context, routeID string, date time.Time) (string, error) {
	return f.tripID, nil
}
func (f *fakeTripStore) StopSequence(ctx context.Context, tripID string) ([]string, error) {
	return append([]string{}, f.stopSeq...), nil
}
func (f *fakeTripStore) ShapePoints(ctx context.Context, tripID string) ([][2]float64, error) {
	return f.shape, nil
}
func (f *fakeTripStore) TripHeadsign(ctx context.Context, tripID string) (string, error) {
	return f.headsign, nil
}
func (f *fakeTripStore) StopDesc(ctx context.Context, stopIDs []string) (map[string]string, error) {
	return f.desc, nil
}
func (f *fakeTripStore) StopCoords(ctx context.Context, stopIDs []string) (map[string][2]float64, error) {
	return f.coords, nil
}
func (f *fakeTripStore) StopName(ctx context.Context, stopID string) (string, error) {
	return f.names[stopID], nil
}
func (f *fakeTripStore) RouteDesc(ctx context.Context, routeID string) (string, error) {
	return f.routeDesc, nil
}
func (f *fakeTripStore) RouteAgencyLine(ctx context.Context, routeID string) (string, string, error) {
	return f.agencyID, f.lineNumber, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestRouteChangeEngine_StopsCancelledSingleStop(t *testing.T) {
	store := &fakeTripStore{
		tripID:  "trip1",
		stopSeq: []string{"A", "B", "C", "D"},
		shape:   [][2]float64{{1, 2}},
		headsign: "Somewhere",
	}
	engine := &RouteChangeEngine{Store: store, Clock: fixedClock{time.Now()}}

	n := &NormalizedAlert{
		UseCase:          StopsCancelled,
		RemovedStopIDs:   []string{"B"},
		RelevantRouteIDs: []string{"R1"},
		ActivePeriodsRaw: []ActivePeriod{{Start: 0, End: 0}},
	}

	rc, err := engine.Apply(context.Background(), n, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rc.UpdatedStopSequence) != 3 {
		t.Fatalf("want length 3, got %d: %+v", len(rc.UpdatedStopSequence), rc.UpdatedStopSequence)
	}
	if !reflect.DeepEqual(rc.DeletedStopIDs, []string{"B"}) {
		t.Errorf("deleted_stop_ids = %v, want [B]", rc.DeletedStopIDs)
	}
}

func TestRouteChangeEngine_AddThenRemove(t *testing.T) {
	store := &fakeTripStore{
		tripID:   "trip1",
		stopSeq:  []string{"A", "B", "C", "D"},
		shape:    [][2]float64{{1, 2}},
		headsign: "Somewhere",
	}
	engine := &RouteChangeEngine{Store: store, Clock: fixedClock{time.Now()}}

	n := &NormalizedAlert{
		UseCase:          RouteChangesFlex,
		RelevantRouteIDs: []string{"R1"},
		ActivePeriodsRaw: []ActivePeriod{{Start: 0, End: 0}},
		ScheduleChangeOps: map[string][]RouteChangeOp{
			"R1": {
				{Added: &AddedStop{AddedStopID: "X", RelativeStopID: "C", IsBefore: false}},
				{RemovedStopID: "D"},
			},
		},
	}

	rc, err := engine.Apply(context.Background(), n, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []StopSequenceEntry{
		{StopID: "A"}, {StopID: "B"}, {StopID: "C"}, {StopID: "X", IsAdded: true},
	}
	if !reflect.DeepEqual(rc.UpdatedStopSequence, want) {
		t.Errorf("got %+v, want %+v", rc.UpdatedStopSequence, want)
	}
	if !reflect.DeepEqual(rc.DeletedStopIDs, []string{"D"}) {
		t.Errorf("deleted_stop_ids = %v, want [D]", rc.DeletedStopIDs)
	}
}

func TestRouteChangeEngine_NoRouteChangeSemanticsReturnsNil(t *testing.T) {
	engine := &RouteChangeEngine{Store: &fakeTripStore{}, Clock: fixedClock{time.Now()}}
	n := &NormalizedAlert{UseCase: National}
	rc, err := engine.Apply(context.Background(), n, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != nil {
		t.Errorf("want nil RouteChange for NATIONAL, got %+v", rc)
	}
}

func TestRouteChangeEngine_SetsAgencyAndLineFromStore(t *testing.T) {
	store := &fakeTripStore{
		tripID:     "trip1",
		stopSeq:    []string{"A", "B"},
		shape:      [][2]float64{{1, 2}},
		headsign:   "Somewhere",
		agencyID:   "agency-1",
		lineNumber: "42",
	}
	engine := &RouteChangeEngine{Store: store, Clock: fixedClock{time.Now()}}
	n := &NormalizedAlert{
		UseCase:          StopsCancelled,
		RelevantRouteIDs: []string{"R1"},
		ActivePeriodsRaw: []ActivePeriod{{Start: 0, End: 0}},
	}

	rc, err := engine.Apply(context.Background(), n, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.AgencyID != "agency-1" || rc.LineNumber != "42" {
		t.Errorf("got agency=%q line=%q, want agency-1/42", rc.AgencyID, rc.LineNumber)
	}
}

func TestRouteChangeEngine_NearAddedStopIDs(t *testing.T) {
	store := &fakeTripStore{
		tripID:   "trip1",
		stopSeq:  []string{"A", "B", "C", "D"},
		shape:    [][2]float64{{1, 2}},
		headsign: "Somewhere",
	}
	engine := &RouteChangeEngine{Store: store, Clock: fixedClock{time.Now()}}

	n := &NormalizedAlert{
		UseCase:          RouteChangesFlex,
		RelevantRouteIDs: []string{"R1"},
		ActivePeriodsRaw: []ActivePeriod{{Start: 0, End: 0}},
		ScheduleChangeOps: map[string][]RouteChangeOp{
			"R1": {
				{Added: &AddedStop{AddedStopID: "X", RelativeStopID: "B", IsBefore: false}},
			},
		},
	}

	rc, err := engine.Apply(context.Background(), n, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Sequence becomes A, B, X(added), C, D -- near stops are B (before the
	// added run) and C (after it).
	want := []string{"B", "C"}
	if !reflect.DeepEqual(rc.NearAddedStopIDs, want) {
		t.Errorf("NearAddedStopIDs = %v, want %v", rc.NearAddedStopIDs, want)
	}
}

func TestNearAddedStopIDs_FirstStopAdjacent(t *testing.T) {
	seq := []StopSequenceEntry{
		{StopID: "X", IsAdded: true},
		{StopID: "A"},
		{StopID: "B"},
	}
	got := nearAddedStopIDs(seq)
	want := []string{"A"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("nearAddedStopIDs = %v, want %v", got, want)
	}
}

func TestRouteChangeEngine_Headsign(t *testing.T) {
	store := &fakeTripStore{
		tripID:   "trip1",
		stopSeq:  []string{"A", "B"},
		headsign: "Downtown_Central",
	}
	engine := &RouteChangeEngine{Store: store, Clock: fixedClock{time.Now()}}

	got, err := engine.Headsign(context.Background(), "R1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Downtown - Central" {
		t.Errorf("Headsign = %q, want %q", got, "Downtown - Central")
	}
}

func TestRemoveAllUnadded(t *testing.T) {
	seq := []StopSequenceEntry{{StopID: "A"}, {StopID: "B"}, {StopID: "A"}, {StopID: "A", IsAdded: true}}
	removed := removeAllUnadded(&seq, "A")
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	want := []StopSequenceEntry{{StopID: "B"}, {StopID: "A", IsAdded: true}}
	if !reflect.DeepEqual(seq, want) {
		t.Errorf("got %+v, want %+v", seq, want)
	}
}
