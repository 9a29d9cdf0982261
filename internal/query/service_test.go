package query

import (
	"math"
	"testing"

	"transitalerts/internal/alerts"
)

func TestLocationKey(t *testing.T) {
	l := Location{Lat: 32.085300001, Lon: 34.781800009}
	got := l.key()
	want := "32.085300_34.781800"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestParseLatLon(t *testing.T) {
	lat, lon, err := parseLatLon([2]string{"32.0853", "34.7818"})
	if err != nil {
		t.Fatalf("parseLatLon: %v", err)
	}
	if lat != 32.0853 || lon != 34.7818 {
		t.Errorf("parseLatLon = (%v, %v), want (32.0853, 34.7818)", lat, lon)
	}
}

func TestParseLatLon_Invalid(t *testing.T) {
	if _, _, err := parseLatLon([2]string{"not-a-number", "34.7818"}); err == nil {
		t.Error("expected error for non-numeric latitude")
	}
}

func TestRegionPolygonDistance(t *testing.T) {
	polygon := [][2]string{{"32.0000", "34.0000"}, {"32.1000", "34.1000"}}
	loc := Location{Lat: 32.0000, Lon: 34.0000}
	dist, err := regionPolygonDistance(polygon, loc)
	if err != nil {
		t.Fatalf("regionPolygonDistance: %v", err)
	}
	if dist == nil {
		t.Fatal("expected a distance")
	}
	if *dist > 1.0 {
		t.Errorf("distance to coincident vertex = %v, want ~0", *dist)
	}
}

func TestRegionPolygonDistance_Empty(t *testing.T) {
	dist, err := regionPolygonDistance(nil, Location{Lat: 32, Lon: 34})
	if err != nil {
		t.Fatalf("regionPolygonDistance: %v", err)
	}
	if dist != nil {
		t.Errorf("expected nil distance for empty polygon, got %v", *dist)
	}
}

func TestDeepCopyAlert_Independence(t *testing.T) {
	original := &alerts.EnrichedAlert{
		NormalizedAlert: &alerts.NormalizedAlert{ID: "a1"},
		AddedStops:      []alerts.StopPair{{StopCode: "1", StopName: "Stop One"}},
		RemovedStops:    []alerts.StopPair{{StopCode: "2", StopName: "Stop Two"}},
	}

	cp := deepCopyAlert(original)
	cp.ID = "mutated"
	cp.AddedStops[0].StopName = "mutated"

	if original.ID != "a1" {
		t.Errorf("original NormalizedAlert mutated: ID = %q", original.ID)
	}
	if original.AddedStops[0].StopName != "Stop One" {
		t.Errorf("original AddedStops mutated: %q", original.AddedStops[0].StopName)
	}
}

func TestDeepCopyAlerts_Length(t *testing.T) {
	originals := []*alerts.EnrichedAlert{
		{NormalizedAlert: &alerts.NormalizedAlert{ID: "a1"}},
		{NormalizedAlert: &alerts.NormalizedAlert{ID: "a2"}},
	}
	cps := deepCopyAlerts(originals)
	if len(cps) != 2 {
		t.Fatalf("deepCopyAlerts: len = %d, want 2", len(cps))
	}
	if cps[0] == originals[0] || cps[1] == originals[1] {
		t.Error("deepCopyAlerts returned the same pointers as the originals")
	}
}

func TestGroupRouteChanges(t *testing.T) {
	changes := []*alerts.RouteChange{
		{RouteID: "R1", AgencyID: "A1", LineNumber: "4"},
		{RouteID: "R2", AgencyID: "A1", LineNumber: "12"},
		{RouteID: "R3", AgencyID: "A1", LineNumber: "4"},
		{RouteID: "R4", AgencyID: "A2", LineNumber: "4"},
	}
	groups := groupRouteChanges(changes)
	if len(groups) != 3 {
		t.Fatalf("len(groups) = %d, want 3", len(groups))
	}
	if groups[0].AgencyID != "A1" || groups[0].LineNumber != "4" || len(groups[0].Changes) != 2 {
		t.Errorf("groups[0] = %+v, want A1/4 with 2 changes", groups[0])
	}
}

func TestDeepCopyRouteChangesView_Independence(t *testing.T) {
	original := &alerts.RouteChangesView{
		Groups: []alerts.RouteChangeGroup{
			{AgencyID: "A1", LineNumber: "4", Changes: []*alerts.RouteChange{{RouteID: "R1"}}},
		},
	}
	cp := deepCopyRouteChangesView(original)
	cp.Groups[0].LineNumber = "mutated"
	cp.Groups = append(cp.Groups, alerts.RouteChangeGroup{AgencyID: "A2"})

	if original.Groups[0].LineNumber != "4" {
		t.Errorf("original mutated: LineNumber = %q", original.Groups[0].LineNumber)
	}
	if len(original.Groups) != 1 {
		t.Errorf("original Groups length mutated: %d", len(original.Groups))
	}
}

func TestRegionPolygonDistance_NearestVertex(t *testing.T) {
	polygon := [][2]string{{"0", "0"}, {"10", "10"}}
	loc := Location{Lat: 0, Lon: 0}
	dist, err := regionPolygonDistance(polygon, loc)
	if err != nil {
		t.Fatalf("regionPolygonDistance: %v", err)
	}
	if dist == nil || math.IsInf(*dist, 1) {
		t.Fatalf("expected a finite distance, got %v", dist)
	}
	if *dist > 1000 {
		t.Errorf("distance to coincident vertex should be ~0, got %v", *dist)
	}
}
