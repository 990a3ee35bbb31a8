package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/history"
	"github.com/FooledKiwi/carepath/internal/osm"
	"github.com/FooledKiwi/carepath/internal/service"
	"github.com/FooledKiwi/carepath/internal/storage"
)

type fakeSyncer struct {
	bbox geo.BBox
	err  error
}

func (f *fakeSyncer) Sync(_ context.Context, bbox geo.BBox) (*service.SyncReport, error) {
	f.bbox = bbox
	if f.err != nil {
		return nil, f.err
	}
	return &service.SyncReport{Fetched: 3, Written: 3}, nil
}

func (f *fakeSyncer) Status(_ context.Context) (*service.FacilityStatus, error) {
	return &service.FacilityStatus{Count: 3}, f.err
}

type fakePurger struct{ n int64 }

func (f *fakePurger) Purge(context.Context) (int64, error) { return f.n, nil }

type fakeInvalidator struct{ n int }

func (f *fakeInvalidator) Invalidate() int { return f.n }

type fakeStats struct{ since time.Time }

func (f *fakeStats) Stats(_ context.Context, since time.Time) (*history.Stats, error) {
	f.since = since
	return &history.Stats{Since: since, Total: 10, ByMethod: map[string]int64{"direct": 2}}, nil
}

type fakeOperators struct {
	got string
	err error
}

func (f *fakeOperators) CreateOperator(_ context.Context, username, _, fullName, role string) (*storage.Operator, error) {
	f.got = username
	if f.err != nil {
		return nil, f.err
	}
	return &storage.Operator{ID: 1, Username: username, FullName: fullName, Role: role, Active: true}, nil
}

func newAdminRouter(h *AdminHandler) *gin.Engine {
	r := gin.New()
	admin := r.Group("/api/v1/admin")
	admin.POST("/facilities/sync", h.SyncFacilities)
	admin.GET("/facilities/status", h.FacilityStatus)
	admin.DELETE("/cache/routes", h.PurgeRouteCache)
	admin.DELETE("/cache/roads", h.PurgeRoadCache)
	admin.GET("/stats", h.Stats)
	admin.POST("/operators", h.CreateOperator)
	return r
}

func TestSyncFacilities(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"ok", `{"min_lat":30.9,"min_lon":76.9,"max_lat":31.3,"max_lon":77.5}`, nil, http.StatusOK},
		{"zero is a valid corner", `{"min_lat":0,"min_lon":0,"max_lat":1,"max_lon":1}`, nil, http.StatusOK},
		{"missing field", `{"min_lat":30.9,"min_lon":76.9,"max_lat":31.3}`, nil, http.StatusBadRequest},
		{"out of range", `{"min_lat":-95,"min_lon":76.9,"max_lat":31.3,"max_lon":77.5}`, nil, http.StatusBadRequest},
		{"empty box", `{"min_lat":31,"min_lon":77,"max_lat":31,"max_lon":77}`, osm.ErrEmptyBBox, http.StatusBadRequest},
		{"overpass down", `{"min_lat":30.9,"min_lon":76.9,"max_lat":31.3,"max_lon":77.5}`, errors.New("busy"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeSyncer{err: tt.err}
			r := newAdminRouter(NewAdminHandler(fs, nil, nil, nil, nil))
			w := do(r, http.MethodPost, "/api/v1/admin/facilities/sync", tt.body, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAdmin_DisabledDependencies(t *testing.T) {
	r := newAdminRouter(NewAdminHandler(nil, nil, nil, nil, nil))

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/admin/facilities/sync"},
		{http.MethodGet, "/api/v1/admin/facilities/status"},
		{http.MethodDelete, "/api/v1/admin/cache/routes"},
		{http.MethodDelete, "/api/v1/admin/cache/roads"},
		{http.MethodGet, "/api/v1/admin/stats"},
		{http.MethodPost, "/api/v1/admin/operators"},
	} {
		w := do(r, tc.method, tc.path, "", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status = %d, want 503", tc.method, tc.path, w.Code)
		}
	}
}

func TestPurgeCaches(t *testing.T) {
	r := newAdminRouter(NewAdminHandler(nil, &fakePurger{n: 12}, &fakeInvalidator{n: 4}, nil, nil))

	var body struct {
		Purged int64 `json:"purged"`
	}
	w := do(r, http.MethodDelete, "/api/v1/admin/cache/routes", "", nil)
	decode(t, w, &body)
	if w.Code != http.StatusOK || body.Purged != 12 {
		t.Errorf("routes: status %d purged %d", w.Code, body.Purged)
	}

	w = do(r, http.MethodDelete, "/api/v1/admin/cache/roads", "", nil)
	decode(t, w, &body)
	if w.Code != http.StatusOK || body.Purged != 4 {
		t.Errorf("roads: status %d purged %d", w.Code, body.Purged)
	}
}

func TestStats(t *testing.T) {
	fs := &fakeStats{}
	r := newAdminRouter(NewAdminHandler(nil, nil, nil, fs, nil))

	w := do(r, http.MethodGet, "/api/v1/admin/stats?since=1h", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ago := time.Since(fs.since); ago < 59*time.Minute || ago > 61*time.Minute {
		t.Errorf("since is %v ago, want about 1h", ago)
	}
	var st history.Stats
	decode(t, w, &st)
	if st.Total != 10 || st.ByMethod["direct"] != 2 {
		t.Errorf("stats = %+v", st)
	}

	w = do(r, http.MethodGet, "/api/v1/admin/stats?since=yesterday", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", w.Code)
	}
}

func TestCreateOperator(t *testing.T) {
	fo := &fakeOperators{}
	r := newAdminRouter(NewAdminHandler(nil, nil, nil, nil, fo))

	w := do(r, http.MethodPost, "/api/v1/admin/operators",
		`{"username":"nurse1","password":"longenough","full_name":"Duty Nurse","role":"viewer"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	if fo.got != "nurse1" {
		t.Errorf("created %q", fo.got)
	}

	w = do(r, http.MethodPost, "/api/v1/admin/operators",
		`{"username":"x","password":"longenough","full_name":"X","role":"root"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown role: status = %d, want 400", w.Code)
	}

	fo.err = fmt.Errorf("%w: nurse1", service.ErrOperatorExists)
	w = do(r, http.MethodPost, "/api/v1/admin/operators",
		`{"username":"nurse1","password":"longenough","full_name":"Duty Nurse","role":"viewer"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("taken username: status = %d, want 409", w.Code)
	}
}
