package history

import (
	"context"
	"testing"
	"time"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/routing"
)

func TestNewEntry_CopiesResult(t *testing.T) {
	start := geo.Point{Lat: 31.1048, Lon: 77.1734}
	end := geo.Point{Lat: 32.2432, Lon: 77.1892}
	req := routing.RouteRequest{Start: &start, End: &end, Options: routing.Options{Profile: routing.ProfileCycling}}
	res := &routing.RouteResult{
		Success:     true,
		DistanceKm:  140.2,
		DurationSec: 9000,
		Method:      routing.MethodOSRM,
		RequestID:   "req-1",
		Attempts:    []string{"provider-ors", "provider-osrm"},
	}

	e := NewEntry("sess-1", req, res, 250*time.Millisecond)

	if e.SessionID != "sess-1" || e.RequestID != "req-1" {
		t.Errorf("ids = %q/%q", e.SessionID, e.RequestID)
	}
	if e.Profile != "cycling" {
		t.Errorf("Profile = %q, want cycling", e.Profile)
	}
	if e.Method != "provider-osrm" || !e.Success || e.IsDirect {
		t.Errorf("method/success/direct = %q/%v/%v", e.Method, e.Success, e.IsDirect)
	}
	if len(e.Attempts) != 2 {
		t.Errorf("Attempts = %v", e.Attempts)
	}
	if e.Elapsed != 250*time.Millisecond {
		t.Errorf("Elapsed = %v", e.Elapsed)
	}
}

func TestNewEntry_DefaultProfileAndNilResult(t *testing.T) {
	e := NewEntry("", routing.RouteRequest{}, nil, 0)
	if e.Profile != "driving" {
		t.Errorf("Profile = %q, want driving", e.Profile)
	}
	if e.Success || e.Method != "" {
		t.Errorf("nil result should leave outcome empty, got %+v", e)
	}
}

func TestNullCoords(t *testing.T) {
	lat, lon := nullCoords(nil)
	if lat.Valid || lon.Valid {
		t.Error("nil point should produce NULL coordinates")
	}

	lat, lon = nullCoords(&geo.Point{Lat: 10, Lon: 20})
	if !lat.Valid || lat.Float64 != 10 || !lon.Valid || lon.Float64 != 20 {
		t.Errorf("got %+v %+v", lat, lon)
	}
}

func TestNullString(t *testing.T) {
	if nullString("").Valid {
		t.Error("empty string should be NULL")
	}
	if s := nullString("x"); !s.Valid || s.String != "x" {
		t.Errorf("got %+v", s)
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.Record(context.Background(), Entry{}); err != nil {
		t.Errorf("Nop.Record = %v", err)
	}
}
