package alerts

import (
	"context"
	"reflect"
	"testing"
)

type stubResolver struct {
	routesAtStops map[string][]string // joined stop ids -> routes
	agencies      map[string]string   // route -> agency
	stopsInPoly   []string
	departures    map[string]string // trip id -> HH:MM:SS
}

func (s *stubResolver) RoutesAtStopsInDateRanges(ctx context.Context, stopIDs []string, periods []ActivePeriod) ([]string, error) {
	key := ""
	for _, id := range stopIDs {
		key += id + ","
	}
	return s.routesAtStops[key], nil
}

func (s *stubResolver) AgenciesForRoutes(ctx context.Context, routeIDs []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, r := range routeIDs {
		if a, ok := s.agencies[r]; ok && !seen[a] {
			out = append(out, a)
			seen[a] = true
		}
	}
	return out, nil
}

func (s *stubResolver) StopsInPolygon(ctx context.Context, polygon [][2]string) ([]string, error) {
	return s.stopsInPoly, nil
}

func (s *stubResolver) DepartureTimesForTrips(ctx context.Context, tripIDs []string) (map[string]string, error) {
	return s.departures, nil
}

func TestClassify_StopsCancelled(t *testing.T) {
	resolver := &stubResolver{
		routesAtStops: map[string][]string{"S1,S2,": {"R1", "R2"}},
		agencies:      map[string]string{"R1": "A1", "R2": "A2"},
	}
	raw := RawAlert{
		ID: "a1",
		InformedEntity: []InformedEntity{
			{StopID: "S1"},
			{StopID: "S2"},
		},
	}

	n, err := Classify(context.Background(), raw, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UseCase != StopsCancelled {
		t.Fatalf("use case = %v, want STOPS_CANCELLED", n.UseCase)
	}
	if !reflect.DeepEqual(n.RemovedStopIDs, []string{"S1", "S2"}) {
		t.Errorf("removed_stop_ids = %v", n.RemovedStopIDs)
	}
	if !reflect.DeepEqual(n.RelevantRouteIDs, []string{"R1", "R2"}) {
		t.Errorf("relevant_route_ids = %v", n.RelevantRouteIDs)
	}
}

func TestClassify_RouteChangesSimple(t *testing.T) {
	raw := RawAlert{
		ID: "a2",
		InformedEntity: []InformedEntity{
			{RouteID: "R", StopID: "S1"},
			{RouteID: "R", StopID: "S2"},
		},
	}
	n, err := Classify(context.Background(), raw, &stubResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UseCase != RouteChangesSimple {
		t.Fatalf("use case = %v, want ROUTE_CHANGES_SIMPLE", n.UseCase)
	}
	want := []RouteChangeOp{{RemovedStopID: "S1"}, {RemovedStopID: "S2"}}
	if !reflect.DeepEqual(n.ScheduleChangeOps["R"], want) {
		t.Errorf("schedule_changes[R] = %+v, want %+v", n.ScheduleChangeOps["R"], want)
	}
}

func TestClassify_RouteChangesFlex_AdditionsBeforeRemovals(t *testing.T) {
	raw := RawAlert{
		ID: "a3",
		InformedEntity: []InformedEntity{
			{RouteID: "R", StopID: "S1"},
			{RouteID: "R", StopID: "S2"},
		},
		Description: TranslatedText{"oar": "route_id=R,add_stop_id=S3,before_stop_id=S1"},
	}
	n, err := Classify(context.Background(), raw, &stubResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UseCase != RouteChangesFlex {
		t.Fatalf("use case = %v, want ROUTE_CHANGES_FLEX", n.UseCase)
	}
	ops := n.ScheduleChangeOps["R"]
	if len(ops) != 3 {
		t.Fatalf("want 3 ops (1 addition + 2 removals), got %+v", ops)
	}
	if ops[0].Added == nil || ops[0].Added.AddedStopID != "S3" {
		t.Errorf("first op should be the addition, got %+v", ops[0])
	}
	if ops[1].RemovedStopID != "S1" || ops[2].RemovedStopID != "S2" {
		t.Errorf("removals out of order: %+v", ops[1:])
	}
	if _, hasOar := n.Description["oar"]; hasOar {
		t.Errorf("oar translation should be stripped from description")
	}
}

func TestClassify_National(t *testing.T) {
	n, err := Classify(context.Background(), RawAlert{ID: "a4"}, &stubResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UseCase != National || !n.IsNational {
		t.Errorf("want NATIONAL, got %v (is_national=%v)", n.UseCase, n.IsNational)
	}
}

func TestClassify_Agency(t *testing.T) {
	raw := RawAlert{ID: "a5", InformedEntity: []InformedEntity{{AgencyID: "7"}}}
	n, err := Classify(context.Background(), raw, &stubResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UseCase != Agency || !reflect.DeepEqual(n.RelevantAgencies, []string{"7"}) {
		t.Errorf("got use_case=%v agencies=%v", n.UseCase, n.RelevantAgencies)
	}
}

func TestClassify_Cities(t *testing.T) {
	raw := RawAlert{
		ID:          "a6",
		Description: TranslatedText{"he": CityListPrefix + "תל אביב, חיפה"},
	}
	n, err := Classify(context.Background(), raw, &stubResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UseCase != Cities {
		t.Fatalf("use case = %v, want CITIES", n.UseCase)
	}
	want := []string{"תל אביב", "חיפה"}
	if !reflect.DeepEqual(n.OriginalSelector.Cities, want) {
		t.Errorf("cities = %v, want %v", n.OriginalSelector.Cities, want)
	}
}
