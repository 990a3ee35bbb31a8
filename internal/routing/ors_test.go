package routing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FooledKiwi/carepath/internal/geo"
)

const testORSKey = "5b3ce3597851110001cf6248a1b2c3d4e5f60718"

var (
	shimla = geo.Point{Lat: 31.1048, Lon: 77.1734}
	manali = geo.Point{Lat: 32.2396, Lon: 77.1887}
)

// ---- ValidORSKey ----

func TestValidORSKey(t *testing.T) {
	cases := []struct {
		name string
		key  string
		want bool
	}{
		{name: "real looking", key: testORSKey, want: true},
		{name: "base64 style", key: "eyJvcmciOiI1YjNjZTM1OTc4NTExMTAwMDFjZjYyNDgiLCJpZCI6ImFiYyJ9", want: true},
		{name: "empty", key: "", want: false},
		{name: "whitespace", key: "   ", want: false},
		{name: "placeholder", key: "your_api_key_here", want: false},
		{name: "placeholder upper", key: "YOUR_ORS_API_KEY", want: false},
		{name: "contains placeholder text", key: "5b3ce3597851110001cf6248aXXXb1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7", want: true},
		{name: "padded placeholder", key: "  changeme  ", want: false},
		{name: "too short", key: "abc123", want: false},
		{name: "bad characters", key: "5b3ce3597851110001cf6248 a1b2c3d4e5f60718!", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidORSKey(tc.key); got != tc.want {
				t.Errorf("ValidORSKey(%q) = %v, want %v", tc.key, got, tc.want)
			}
		})
	}
}

func TestNewORSProvider_DisabledWithoutKey(t *testing.T) {
	p, err := NewORSProvider("")
	if !errors.Is(err, ErrProviderDisabled) {
		t.Fatalf("err = %v, want ErrProviderDisabled", err)
	}
	if p != nil {
		t.Error("provider should be nil when disabled")
	}
}

// ---- TryRoute against a fake server ----

const orsBody = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"segments": [{"distance": 126543.2, "duration": 10800.5}], "summary": {"distance": 126543.2, "duration": 10800.5}},
      "geometry": {"type": "LineString", "coordinates": [[77.1734, 31.1048], [77.18, 31.7], [77.1887, 32.2396]]}
    },
    {
      "type": "Feature",
      "properties": {"summary": {"distance": 140000, "duration": 12000}},
      "geometry": {"type": "LineString", "coordinates": [[77.1734, 31.1048], [77.25, 31.8], [77.1887, 32.2396]]}
    }
  ]
}`

// newFakeORSServer starts an httptest.Server and returns a provider pointed at it.
func newFakeORSServer(t *testing.T, h http.HandlerFunc) *ORSProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	p, err := NewORSProvider(testORSKey, WithORSBaseURL(srv.URL), WithORSTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewORSProvider: %v", err)
	}
	return p
}

func TestORSProvider_Success(t *testing.T) {
	var gotReq orsRequest
	var gotPath, gotAuth string
	p := newFakeORSServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(orsBody))
	})

	res, err := p.TryRoute(context.Background(), shimla, manali, Options{Alternatives: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v2/directions/driving-car/geojson" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != testORSKey {
		t.Errorf("Authorization = %q, want the api key", gotAuth)
	}
	// Coordinates go out longitude first.
	want := [][2]float64{{shimla.Lon, shimla.Lat}, {manali.Lon, manali.Lat}}
	if len(gotReq.Coordinates) != 2 || gotReq.Coordinates[0] != want[0] || gotReq.Coordinates[1] != want[1] {
		t.Errorf("coordinates = %v, want %v", gotReq.Coordinates, want)
	}
	if gotReq.Units != "m" {
		t.Errorf("units = %q, want m", gotReq.Units)
	}
	if gotReq.AlternativeRoutes == nil || gotReq.AlternativeRoutes.TargetCount != 2 {
		t.Errorf("alternative_routes = %+v, want target_count 2", gotReq.AlternativeRoutes)
	}

	if math.Abs(res.DistanceKm-126.5432) > 1e-9 {
		t.Errorf("distance = %v km, want 126.5432", res.DistanceKm)
	}
	if res.DurationSec != 10800.5 {
		t.Errorf("duration = %v, want 10800.5", res.DurationSec)
	}
	if len(res.Geometry) != 3 {
		t.Fatalf("geometry has %d points, want 3", len(res.Geometry))
	}
	if !res.Geometry[0].Near(shimla, geo.CoordTolerance) || !res.Geometry[2].Near(manali, geo.CoordTolerance) {
		t.Errorf("geometry endpoints %v..%v, want %v..%v", res.Geometry[0], res.Geometry[2], shimla, manali)
	}
	if len(res.Alternatives) != 1 || res.Alternatives[0].DistanceKm != 140 {
		t.Errorf("alternatives = %+v, want one of 140 km", res.Alternatives)
	}
}

func TestORSProvider_NoAlternativesByDefault(t *testing.T) {
	var raw map[string]any
	p := newFakeORSServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(orsBody))
	})
	if _, err := p.TryRoute(context.Background(), shimla, manali, Options{Profile: ProfileWalking}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := raw["alternative_routes"]; ok {
		t.Error("alternative_routes should be omitted when not requested")
	}
}

func TestORSProvider_Failures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"Access to this API has been disallowed"}`, wantSub: "status 403"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantSub: "status 429"},
		{name: "not json", status: http.StatusOK, body: `<html>`, wantSub: "decode"},
		{name: "no features", status: http.StatusOK, body: `{"type":"FeatureCollection","features":[]}`, wantSub: "no routes"},
		{name: "point geometry", status: http.StatusOK, body: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"segments":[{"distance":1,"duration":1}]},"geometry":{"type":"Point","coordinates":[77.1,31.1]}}]}`, wantSub: "no line geometry"},
		{name: "no segments", status: http.StatusOK, body: `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[77.1,31.1],[77.2,31.2]]}}]}`, wantSub: "no segments"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeORSServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := p.TryRoute(context.Background(), shimla, manali, Options{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrProviderUnavailable) {
				t.Errorf("error %v does not wrap ErrProviderUnavailable", err)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not contain %q", err, tc.wantSub)
			}
		})
	}
}

func TestORSProvider_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p, err := NewORSProvider(testORSKey, WithORSBaseURL(srv.URL), WithORSTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewORSProvider: %v", err)
	}
	if _, err := p.TryRoute(context.Background(), shimla, manali, Options{}); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestORSProfile(t *testing.T) {
	cases := map[Profile]string{
		"":             "driving-car",
		ProfileDriving: "driving-car",
		ProfileCycling: "cycling-regular",
		ProfileWalking: "foot-walking",
	}
	for in, want := range cases {
		if got := orsProfile(Options{Profile: in}.profile()); got != want {
			t.Errorf("orsProfile(%q) = %q, want %q", in, got, want)
		}
	}
}
