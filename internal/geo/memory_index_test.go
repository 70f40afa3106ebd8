package geo

import (
	"context"
	"testing"

	"swiftride/internal/types"
)

var center = types.Point{Lat: 1.3000, Lng: 103.8500}

func northOf(km float64) types.Point {
	return types.Point{Lat: center.Lat + km/111.0, Lng: center.Lng}
}

func TestNearbyOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	for id, km := range map[types.ID]float64{
		"far":     4,
		"near":    1,
		"mid":     2,
		"outside": 20,
	} {
		if err := idx.Upsert(ctx, id, northOf(km)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := idx.Nearby(ctx, center, 5000, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 within 5 km, got %d", len(got))
	}
	want := []types.ID{"near", "mid", "far"}
	for i, w := range want {
		if got[i].DriverID != w {
			t.Errorf("position %d: got %s, want %s", i, got[i].DriverID, w)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceMeters < got[i-1].DistanceMeters {
			t.Fatal("distances must be ascending")
		}
	}
}

func TestNearbyHonorsLimit(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	for i := 0; i < 10; i++ {
		id := types.ID(rune('a' + i))
		if err := idx.Upsert(ctx, id, northOf(float64(i)/10)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := idx.Nearby(ctx, center, 5000, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
}

func TestUpsertMovesAndRemoveDrops(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	_ = idx.Upsert(ctx, "d1", northOf(1))
	_ = idx.Upsert(ctx, "d1", northOf(8)) // moved out of range

	got, _ := idx.Nearby(ctx, center, 5000, 10)
	if len(got) != 0 {
		t.Fatalf("moved driver should be out of radius, got %+v", got)
	}

	got, _ = idx.Nearby(ctx, center, 10000, 10)
	if len(got) != 1 {
		t.Fatalf("expected driver at new position, got %+v", got)
	}

	_ = idx.Remove(ctx, "d1")
	got, _ = idx.Nearby(ctx, center, 10000, 10)
	if len(got) != 0 {
		t.Fatalf("removed driver must not surface, got %+v", got)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	if err := NewMemoryIndex().Remove(context.Background(), "ghost"); err != nil {
		t.Fatalf("remove unknown: %v", err)
	}
}
