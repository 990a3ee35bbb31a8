package routing

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const osrmBody = `{
  "code": "Ok",
  "routes": [
    {"geometry": {"type": "LineString", "coordinates": [[77.1734, 31.1048], [77.18, 31.7], [77.1887, 32.2396]]}, "distance": 151200.4, "duration": 11000.2, "legs": []},
    {"geometry": {"type": "LineString", "coordinates": [[77.1734, 31.1048], [77.3, 31.9], [77.1887, 32.2396]]}, "distance": 160000, "duration": 12500, "legs": []}
  ],
  "waypoints": []
}`

func newOSRMServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestOSRMProvider_Success(t *testing.T) {
	var gotPath, gotQuery string
	srv := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(osrmBody))
	})

	p := NewOSRMProvider([]string{srv.URL + "/"})
	res, err := p.TryRoute(context.Background(), shimla, manali, Options{Alternatives: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := "/route/v1/driving/77.173400,31.104800;77.188700,32.239600"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	for _, part := range []string{"alternatives=true", "geometries=geojson", "overview=full", "steps=false"} {
		if !strings.Contains(gotQuery, part) {
			t.Errorf("query %q missing %q", gotQuery, part)
		}
	}
	if math.Abs(res.DistanceKm-151.2004) > 1e-9 {
		t.Errorf("distance = %v, want 151.2004", res.DistanceKm)
	}
	if len(res.Geometry) != 3 || res.Geometry[0] != shimla {
		t.Errorf("geometry = %v, want 3 points starting at %v", res.Geometry, shimla)
	}
	if len(res.Alternatives) != 1 {
		t.Errorf("alternatives = %d, want 1", len(res.Alternatives))
	}
}

func TestOSRMProvider_FallsThroughServers(t *testing.T) {
	var firstHits, secondHits atomic.Int32
	bad := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		firstHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	good := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		secondHits.Add(1)
		_, _ = w.Write([]byte(osrmBody))
	})

	p := NewOSRMProvider([]string{bad.URL, good.URL})
	if _, err := p.TryRoute(context.Background(), shimla, manali, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if firstHits.Load() != 1 || secondHits.Load() != 1 {
		t.Errorf("hits = %d/%d, want each server tried exactly once", firstHits.Load(), secondHits.Load())
	}
}

func TestOSRMProvider_SlowServerTimesOut(t *testing.T) {
	slow := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	good := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(osrmBody))
	})

	p := NewOSRMProvider([]string{slow.URL, good.URL}, WithOSRMTimeout(50*time.Millisecond))
	began := time.Now()
	if _, err := p.TryRoute(context.Background(), shimla, manali, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Errorf("took %v, slow server should have been abandoned after its timeout", elapsed)
	}
}

func TestOSRMProvider_AllServersFail(t *testing.T) {
	noRoute := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route between points"}`))
	})
	empty := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[]}`))
	})

	p := NewOSRMProvider([]string{noRoute.URL, empty.URL})
	_, err := p.TryRoute(context.Background(), shimla, manali, Options{})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	for _, sub := range []string{"NoRoute", "no routes returned"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error %q missing %q", err, sub)
		}
	}
}

func TestOSRMProvider_CancelledContextStops(t *testing.T) {
	var hits atomic.Int32
	srv := newOSRMServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(osrmBody))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewOSRMProvider([]string{srv.URL, srv.URL})
	if _, err := p.TryRoute(ctx, shimla, manali, Options{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if hits.Load() != 0 {
		t.Errorf("server hit %d times after cancellation, want 0", hits.Load())
	}
}

func TestNewOSRMProvider_Defaults(t *testing.T) {
	p := NewOSRMProvider(nil)
	got := p.Servers()
	if len(got) != len(DefaultOSRMServers) {
		t.Fatalf("servers = %v, want defaults", got)
	}
	for i := range got {
		if got[i] != DefaultOSRMServers[i] {
			t.Errorf("server[%d] = %q, want %q", i, got[i], DefaultOSRMServers[i])
		}
	}
}

func TestOSRMRouteURL_Profiles(t *testing.T) {
	cases := map[Profile]string{
		ProfileDriving: "/route/v1/driving/",
		ProfileCycling: "/route/v1/cycling/",
		ProfileWalking: "/route/v1/foot/",
	}
	for prof, want := range cases {
		u := osrmRouteURL("http://osrm", shimla, manali, Options{Profile: prof})
		if !strings.Contains(u, want) {
			t.Errorf("url for %s = %q, want segment %q", prof, u, want)
		}
	}
}
