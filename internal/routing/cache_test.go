package routing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// ---- CachedResolver ----

// mockCacheStore is a simple in-memory CacheStore for tests.
type mockCacheStore struct {
	mu       sync.Mutex
	data     map[string]*RouteResult
	getErr   error
	setErr   error
	getCalls int
	setCalls int
}

func newMockCacheStore() *mockCacheStore {
	return &mockCacheStore{data: make(map[string]*RouteResult)}
}

func (m *mockCacheStore) GetCachedRoute(_ context.Context, key string) (*RouteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *mockCacheStore) SetCachedRoute(_ context.Context, key string, res *RouteResult, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = res
	return nil
}

func (m *mockCacheStore) PurgeRoutes(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = make(map[string]*RouteResult)
	return n, nil
}

func (m *mockCacheStore) sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls
}

// mockResolver is a Resolver that returns a fixed result.
type mockResolver struct {
	res   *RouteResult
	calls int
}

func (m *mockResolver) Resolve(_ context.Context, _ RouteRequest) *RouteResult {
	m.calls++
	if m.res == nil {
		return nil
	}
	cp := *m.res
	return &cp
}

var (
	cacheStart = geo.Point{Lat: 31.1048, Lon: 77.1734}
	cacheEnd   = geo.Point{Lat: 31.0800, Lon: 77.2000}
)

func cacheRequest() RouteRequest {
	s, e := cacheStart, cacheEnd
	return RouteRequest{Start: &s, End: &e}
}

func providerResult() *RouteResult {
	return &RouteResult{
		Success:     true,
		Geometry:    []geo.Point{cacheStart, {Lat: 31.09, Lon: 77.19}, cacheEnd},
		DistanceKm:  4.2,
		DurationSec: 600,
		Method:      MethodOSRM,
	}
}

func TestCachedResolver_CacheMiss_CallsInnerAndCaches(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockResolver{res: providerResult()}

	// withAfterStore lets us block until the async goroutine has finished.
	done := make(chan struct{})
	cr := NewCachedResolver(inner, store, withAfterStore(func() { close(done) }))

	got := cr.Resolve(context.Background(), cacheRequest())
	if !got.Success || got.Method != MethodOSRM {
		t.Fatalf("got %+v, want successful osrm result", got)
	}
	if got.Cached {
		t.Error("fresh result must not be flagged as cached")
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async cache write")
	}
	if store.sets() != 1 {
		t.Errorf("SetCachedRoute called %d times, want 1", store.sets())
	}
}

func TestCachedResolver_CacheHit_DoesNotCallInner(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockResolver{res: providerResult()}
	cr := NewCachedResolver(inner, store)

	req := cacheRequest()
	cachedRes := providerResult()
	cachedRes.DistanceKm = 1.5
	store.data[CacheKey(req)] = cachedRes

	got := cr.Resolve(context.Background(), req)
	if got.DistanceKm != 1.5 {
		t.Errorf("distance = %v, want cached 1.5", got.DistanceKm)
	}
	if !got.Cached {
		t.Error("Cached flag should be set on a cache hit")
	}
	if got.RequestID == "" {
		t.Error("cache hit should still carry a request id")
	}
	if inner.calls != 0 {
		t.Errorf("inner called %d times, want 0 (cache hit)", inner.calls)
	}
}

func TestCachedResolver_CacheHit_ReanchorsEndpoints(t *testing.T) {
	store := newMockCacheStore()
	cr := NewCachedResolver(&mockResolver{}, store)

	// A point a few metres away lands in the same geohash cell.
	start := geo.Point{Lat: cacheStart.Lat + 0.0003, Lon: cacheStart.Lon}
	end := cacheEnd
	req := RouteRequest{Start: &start, End: &end}
	store.data[CacheKey(req)] = providerResult()

	got := cr.Resolve(context.Background(), req)
	if !got.Geometry[0].Near(start, geo.CoordTolerance) {
		t.Errorf("first point %v, want near %v", got.Geometry[0], start)
	}
	if !got.Geometry[len(got.Geometry)-1].Near(end, geo.CoordTolerance) {
		t.Errorf("last point %v, want near %v", got.Geometry[len(got.Geometry)-1], end)
	}
}

func TestCachedResolver_CacheHit_ReanchorsAlternatives(t *testing.T) {
	store := newMockCacheStore()
	cr := NewCachedResolver(&mockResolver{}, store)

	start := geo.Point{Lat: cacheStart.Lat + 0.0003, Lon: cacheStart.Lon}
	end := geo.Point{Lat: cacheEnd.Lat, Lon: cacheEnd.Lon - 0.0003}
	req := RouteRequest{Start: &start, End: &end, Options: Options{Alternatives: true}}
	stored := providerResult()
	stored.Alternatives = []Alternative{{
		Geometry:    []geo.Point{cacheStart, {Lat: 31.095, Lon: 77.185}, cacheEnd},
		DistanceKm:  4.9,
		DurationSec: 700,
	}}
	store.data[CacheKey(req)] = stored

	got := cr.Resolve(context.Background(), req)
	if len(got.Alternatives) != 1 {
		t.Fatalf("got %d alternatives, want 1", len(got.Alternatives))
	}
	alt := got.Alternatives[0].Geometry
	if !alt[0].Near(start, geo.CoordTolerance) {
		t.Errorf("alternative first point %v, want near %v", alt[0], start)
	}
	if !alt[len(alt)-1].Near(end, geo.CoordTolerance) {
		t.Errorf("alternative last point %v, want near %v", alt[len(alt)-1], end)
	}
}

func TestCachedResolver_CacheReadError_FallsThrough(t *testing.T) {
	store := newMockCacheStore()
	store.getErr = errors.New("db down")
	inner := &mockResolver{res: providerResult()}
	cr := NewCachedResolver(inner, store, WithCacheLogger(zerolog.Nop()))

	got := cr.Resolve(context.Background(), cacheRequest())
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1 (cache error should fall through)", inner.calls)
	}
	if !got.Success {
		t.Errorf("got %+v, want success", got)
	}
}

func TestCachedResolver_DirectResult_NotCached(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockResolver{res: DirectRoute(cacheStart, cacheEnd, Options{})}
	cr := NewCachedResolver(inner, store)

	got := cr.Resolve(context.Background(), cacheRequest())
	if !got.IsDirect {
		t.Fatalf("got %+v, want direct result", got)
	}
	// No goroutine is started for direct results, so the count is stable.
	if store.sets() != 0 {
		t.Errorf("SetCachedRoute called %d times, want 0", store.sets())
	}
}

func TestCachedResolver_InvalidInput_SkipsCache(t *testing.T) {
	store := newMockCacheStore()
	inner := &mockResolver{res: &RouteResult{Error: "InvalidInput: start is missing"}}
	cr := NewCachedResolver(inner, store)

	got := cr.Resolve(context.Background(), RouteRequest{End: &cacheEnd})
	if got.Success {
		t.Fatal("expected failure for missing start")
	}
	if store.getCalls != 0 {
		t.Errorf("cache read %d times for invalid input, want 0", store.getCalls)
	}
}

func TestCachedResolver_AsyncWriteError_IsLogged(t *testing.T) {
	store := newMockCacheStore()
	store.setErr = errors.New("write failed")

	var buf bytes.Buffer
	var mu sync.Mutex
	logger := zerolog.New(lockedWriter{&buf, &mu})

	done := make(chan struct{})
	cr := NewCachedResolver(&mockResolver{res: providerResult()}, store,
		WithCacheLogger(logger),
		withAfterStore(func() { close(done) }),
	)

	cr.Resolve(context.Background(), cacheRequest())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async cache write")
	}

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	if !strings.Contains(out, "async write failed") {
		t.Errorf("log output %q does not mention async write failed", out)
	}
	if !strings.Contains(out, "write failed") {
		t.Errorf("log output %q does not carry the store error", out)
	}
}

func TestCachedResolver_Purge(t *testing.T) {
	store := newMockCacheStore()
	store.data["a"] = providerResult()
	store.data["b"] = providerResult()
	cr := NewCachedResolver(&mockResolver{}, store)

	n, err := cr.Purge(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
}

// ---- CacheKey ----

func TestCacheKey_Deterministic(t *testing.T) {
	if CacheKey(cacheRequest()) != CacheKey(cacheRequest()) {
		t.Error("CacheKey not deterministic")
	}
}

func TestCacheKey_OptionsChangeKey(t *testing.T) {
	base := cacheRequest()
	variants := []Options{
		{Profile: ProfileWalking},
		{Alternatives: true},
		{Mountainous: true},
		{Preference: "shortest"},
	}
	for _, o := range variants {
		req := cacheRequest()
		req.Options = o
		if CacheKey(req) == CacheKey(base) {
			t.Errorf("options %+v produced the same key as defaults", o)
		}
	}
}

func TestCacheKey_DirectionMatters(t *testing.T) {
	fwd := cacheRequest()
	back := RouteRequest{Start: fwd.End, End: fwd.Start}
	if CacheKey(fwd) == CacheKey(back) {
		t.Error("reverse route must not share a cache key")
	}
}

// lockedWriter serialises writes from the async goroutine and the test.
type lockedWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
