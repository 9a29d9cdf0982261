package alerts

import (
	"testing"
	"time"
)

func TestSortStopPairs_NaturalOrder(t *testing.T) {
	pairs := []StopPair{
		{StopCode: "12", StopName: "Twelve"},
		{StopCode: "4", StopName: "Four"},
		{StopCode: "Night 4", StopName: "Night Four"},
	}
	SortStopPairs(pairs)
	if pairs[0].StopCode != "4" || pairs[1].StopCode != "Night 4" || pairs[2].StopCode != "12" {
		t.Errorf("got order %v %v %v", pairs[0].StopCode, pairs[1].StopCode, pairs[2].StopCode)
	}
}

func TestSortAlerts_ActiveBeforeExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, Jerusalem)
	active := &EnrichedAlert{NormalizedAlert: &NormalizedAlert{LastEndTime: now.Unix() + 10000}}
	expired := &EnrichedAlert{NormalizedAlert: &NormalizedAlert{LastEndTime: now.Unix() - 10000}}

	alerts := []*EnrichedAlert{expired, active}
	SortAlerts(alerts, now)
	if alerts[0] != active || alerts[1] != expired {
		t.Errorf("active alert should sort before expired")
	}
}

func TestSortAlerts_DeletedAfterPresent(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, Jerusalem)
	deletedAt := now.Unix()
	present := &EnrichedAlert{NormalizedAlert: &NormalizedAlert{LastEndTime: now.Unix() + 10000}}
	deleted := &EnrichedAlert{NormalizedAlert: &NormalizedAlert{LastEndTime: now.Unix() + 10000, DeletionTstz: &deletedAt}}

	alerts := []*EnrichedAlert{deleted, present}
	SortAlerts(alerts, now)
	if alerts[0] != present || alerts[1] != deleted {
		t.Errorf("present alert should sort before deleted")
	}
}

func TestSortRouteChangeGroup(t *testing.T) {
	north := "1"
	south := "2"
	g := &RouteChangeGroup{
		Changes: []*RouteChange{
			{ToText: "B", DirName: &south},
			{ToText: "A"},
			{ToText: "B", DirName: &north},
		},
	}
	SortRouteChangeGroup(g)
	if g.Changes[0].ToText != "A" {
		t.Errorf("expected ToText=A first, got %q", g.Changes[0].ToText)
	}
	if *g.Changes[1].DirName != "1" || *g.Changes[2].DirName != "2" {
		t.Errorf("expected dir_name 1 before 2 within the B group, got %v then %v",
			*g.Changes[1].DirName, *g.Changes[2].DirName)
	}
}

func TestRouteChangesBoundingBox(t *testing.T) {
	changes := []*RouteChange{
		{NearAddedStopIDs: []string{"near1"}},
	}
	coords := map[string][2]float64{
		"added1":   {34.78, 32.08},
		"removed1": {34.80, 32.10},
		"near1":    {34.79, 32.09},
	}
	box := RouteChangesBoundingBox([]string{"added1"}, []string{"removed1"}, changes, coords)
	if box.Empty() {
		t.Fatal("expected a populated bounding box")
	}
	if box.MinLat != 32.08 || box.MaxLat != 32.10 {
		t.Errorf("lat bounds = [%v,%v], want [32.08,32.10]", box.MinLat, box.MaxLat)
	}
	if box.MinLon != 34.78 || box.MaxLon != 34.80 {
		t.Errorf("lon bounds = [%v,%v], want [34.78,34.80]", box.MinLon, box.MaxLon)
	}
}

func TestRouteChangesBoundingBox_Empty(t *testing.T) {
	box := RouteChangesBoundingBox(nil, nil, nil, nil)
	if !box.Empty() {
		t.Error("expected an empty bounding box")
	}
}

func TestSortAlerts_CloserDistanceFirst(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, Jerusalem)
	near, far := 5.0, 500.0
	a := &EnrichedAlert{NormalizedAlert: &NormalizedAlert{LastEndTime: now.Unix() + 10000}, Distance: &far}
	b := &EnrichedAlert{NormalizedAlert: &NormalizedAlert{LastEndTime: now.Unix() + 10000}, Distance: &near}

	alerts := []*EnrichedAlert{a, b}
	SortAlerts(alerts, now)
	if alerts[0] != b {
		t.Errorf("nearer alert should sort first")
	}
}
