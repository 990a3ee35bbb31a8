package roads

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/osm"
)

// fakeSource counts loads and returns fixed roads.
type fakeSource struct {
	roads []osm.Road
	err   error
	delay time.Duration
	calls atomic.Int32
	boxes chan geo.BBox
}

func (f *fakeSource) Roads(ctx context.Context, bbox geo.BBox) ([]osm.Road, error) {
	f.calls.Add(1)
	if f.boxes != nil {
		f.boxes <- bbox
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.roads, f.err
}

// A straight east-west road through Shimla.
var cartRoad = osm.Road{
	ID:      1,
	Highway: "primary",
	Path:    []geo.Point{{Lat: 31.1000, Lon: 77.1500}, {Lat: 31.1000, Lon: 77.2000}},
}

func TestFindNearestRoadPoint_ProjectsOntoSegment(t *testing.T) {
	src := &fakeSource{roads: []osm.Road{cartRoad}}
	s := NewSnapper(NewCache(src), 0)

	p := geo.Point{Lat: 31.1050, Lon: 77.1734}
	got, found, err := s.FindNearestRoadPoint(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a road point")
	}
	if !got.Near(geo.Point{Lat: 31.1000, Lon: 77.1734}, 1e-6) {
		t.Errorf("snapped to %v, want (31.1, 77.1734)", got)
	}
}

func TestFindNearestRoadPoint_NotFoundBeyondLimit(t *testing.T) {
	src := &fakeSource{roads: []osm.Road{cartRoad}}
	s := NewSnapper(NewCache(src), 0.1)

	// ~550 m north of the road.
	_, found, err := s.FindNearestRoadPoint(context.Background(), geo.Point{Lat: 31.1050, Lon: 77.1734})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no road within 100 m")
	}
}

func TestFindNearestRoadPoint_NoRoads(t *testing.T) {
	s := NewSnapper(NewCache(&fakeSource{}), 0)
	_, found, err := s.FindNearestRoadPoint(context.Background(), geo.Point{Lat: 31.1, Lon: 77.17})
	if err != nil || found {
		t.Errorf("found = %v, err = %v; want not found, nil", found, err)
	}
}

func TestFindNearestRoadPoint_SourceError(t *testing.T) {
	s := NewSnapper(NewCache(&fakeSource{err: errors.New("overpass 504")}), 0)
	if _, _, err := s.FindNearestRoadPoint(context.Background(), geo.Point{Lat: 31.1, Lon: 77.17}); err == nil {
		t.Fatal("expected error")
	}
	if s.Cache().Len() != 0 {
		t.Error("failed loads must not be cached")
	}
}

func TestCache_LoadsTileOnce(t *testing.T) {
	src := &fakeSource{roads: []osm.Road{cartRoad}}
	c := NewCache(src)
	p := geo.Point{Lat: 31.1050, Lon: 77.1734}

	for i := 0; i < 3; i++ {
		if _, err := c.RoadsNear(context.Background(), p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCache_ConcurrentLoadsShareOneRequest(t *testing.T) {
	src := &fakeSource{roads: []osm.Road{cartRoad}, delay: 50 * time.Millisecond}
	c := NewCache(src)
	p := geo.Point{Lat: 31.1050, Lon: 77.1734}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.RoadsNear(context.Background(), p); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := src.calls.Load(); n != 1 {
		t.Errorf("source called %d times, want 1", n)
	}
}

func TestCache_Invalidate(t *testing.T) {
	src := &fakeSource{roads: []osm.Road{cartRoad}}
	c := NewCache(src)
	p := geo.Point{Lat: 31.1050, Lon: 77.1734}

	_, _ = c.RoadsNear(context.Background(), p)
	if n := c.Invalidate(); n != 1 {
		t.Errorf("Invalidate() = %d, want 1", n)
	}
	_, _ = c.RoadsNear(context.Background(), p)
	if n := src.calls.Load(); n != 2 {
		t.Errorf("source called %d times after invalidation, want 2", n)
	}
}

func TestCache_CallerCancelDoesNotPoisonTile(t *testing.T) {
	src := &fakeSource{roads: []osm.Road{cartRoad}, delay: 100 * time.Millisecond}
	c := NewCache(src)
	p := geo.Point{Lat: 31.1050, Lon: 77.1734}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.RoadsNear(ctx, p); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	// The shared load keeps running and fills the tile.
	deadline := time.Now().Add(2 * time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Len() != 1 {
		t.Fatal("tile was not cached after the first caller gave up")
	}
}

func TestTileBBox_ContainsTileWithMargin(t *testing.T) {
	p := geo.Point{Lat: 31.1048, Lon: 77.1734}
	key := TileKey(p)
	if len(key) != tilePrecision {
		t.Fatalf("key %q has precision %d", key, len(key))
	}
	b := TileBBox(key)
	if !b.Contains(p) {
		t.Errorf("tile bbox %+v does not contain %v", b, p)
	}
	raw := geohash.BoundingBox(key)
	marginDeg := b.MaxLat - raw.MaxLat
	if math.Abs(marginDeg*111.195-tileMarginKm) > 0.01 {
		t.Errorf("north margin = %.3f km, want %.1f km", marginDeg*111.195, tileMarginKm)
	}
}
