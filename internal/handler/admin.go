package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/history"
	"github.com/FooledKiwi/carepath/internal/osm"
	"github.com/FooledKiwi/carepath/internal/service"
	"github.com/FooledKiwi/carepath/internal/storage"
)

// defaultStatsWindow is used when GET /admin/stats has no since parameter.
const defaultStatsWindow = 24 * time.Hour

// FacilitySyncer refreshes the stored facilities. *service.FacilityService
// satisfies it.
type FacilitySyncer interface {
	Sync(ctx context.Context, bbox geo.BBox) (*service.SyncReport, error)
	Status(ctx context.Context) (*service.FacilityStatus, error)
}

// RoutePurger clears the route cache. *routing.CachedResolver satisfies it.
type RoutePurger interface {
	Purge(ctx context.Context) (int64, error)
}

// RoadInvalidator drops the road tile cache. *roads.Cache satisfies it.
type RoadInvalidator interface {
	Invalidate() int
}

// StatsSource aggregates route history. *history.PostgresRecorder satisfies it.
type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (*history.Stats, error)
}

// OperatorCreator registers operators. *service.AuthService satisfies it.
type OperatorCreator interface {
	CreateOperator(ctx context.Context, username, password, fullName, role string) (*storage.Operator, error)
}

// AdminHandler holds dependencies for the operator endpoints. Any of them may
// be nil; the matching endpoint then answers 503.
type AdminHandler struct {
	facilities FacilitySyncer
	routeCache RoutePurger
	roadCache  RoadInvalidator
	stats      StatsSource
	operators  OperatorCreator
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	facilities FacilitySyncer,
	routeCache RoutePurger,
	roadCache RoadInvalidator,
	stats StatsSource,
	operators OperatorCreator,
) *AdminHandler {
	return &AdminHandler{
		facilities: facilities,
		routeCache: routeCache,
		roadCache:  roadCache,
		stats:      stats,
		operators:  operators,
	}
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not enabled"})
}

type syncRequest struct {
	MinLat *float64 `json:"min_lat" binding:"required"`
	MinLon *float64 `json:"min_lon" binding:"required"`
	MaxLat *float64 `json:"max_lat" binding:"required"`
	MaxLon *float64 `json:"max_lon" binding:"required"`
}

// SyncFacilities handles POST /api/v1/admin/facilities/sync
//
// Request body:
//
//	{"min_lat":30.9,"min_lon":76.9,"max_lat":31.3,"max_lon":77.5}
//
// Response 200: {"fetched":120,"written":120,"elapsed_ns":...}
// Response 400: missing or empty bounding box.
// Response 502: the Overpass query failed.
func (h *AdminHandler) SyncFacilities(c *gin.Context) {
	if h.facilities == nil {
		unavailable(c, "facility sync")
		return
	}
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_lat, min_lon, max_lat and max_lon are required"})
		return
	}
	bbox := geo.BBox{MinLat: *req.MinLat, MinLon: *req.MinLon, MaxLat: *req.MaxLat, MaxLon: *req.MaxLon}
	for _, corner := range []geo.Point{{Lat: bbox.MinLat, Lon: bbox.MinLon}, {Lat: bbox.MaxLat, Lon: bbox.MaxLon}} {
		if err := corner.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	report, err := h.facilities.Sync(c.Request.Context(), bbox)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, osm.ErrEmptyBBox) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bounding box has no area"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "facility sync failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// FacilityStatus handles GET /api/v1/admin/facilities/status
func (h *AdminHandler) FacilityStatus(c *gin.Context) {
	if h.facilities == nil {
		unavailable(c, "facility sync")
		return
	}
	st, err := h.facilities.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query facilities"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// PurgeRouteCache handles DELETE /api/v1/admin/cache/routes
func (h *AdminHandler) PurgeRouteCache(c *gin.Context) {
	if h.routeCache == nil {
		unavailable(c, "route cache")
		return
	}
	n, err := h.routeCache.Purge(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to purge route cache"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// PurgeRoadCache handles DELETE /api/v1/admin/cache/roads
func (h *AdminHandler) PurgeRoadCache(c *gin.Context) {
	if h.roadCache == nil {
		unavailable(c, "road cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": h.roadCache.Invalidate()})
}

// Stats handles GET /api/v1/admin/stats
//
// Query params:
//   - since (optional) Go duration looking back from now, e.g. "1h", "168h"; default 24h
func (h *AdminHandler) Stats(c *gin.Context) {
	if h.stats == nil {
		unavailable(c, "route history")
		return
	}
	window := defaultStatsWindow
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration such as 24h"})
			return
		}
		window = d
	}

	st, err := h.stats.Stats(c.Request.Context(), time.Now().Add(-window))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query route history"})
		return
	}
	c.JSON(http.StatusOK, st)
}

type createOperatorRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role" binding:"required,oneof=admin viewer"`
}

// CreateOperator handles POST /api/v1/admin/operators. A taken username
// answers 409.
func (h *AdminHandler) CreateOperator(c *gin.Context) {
	if h.operators == nil {
		unavailable(c, "operator management")
		return
	}
	var req createOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := h.operators.CreateOperator(c.Request.Context(), req.Username, req.Password, req.FullName, req.Role)
	if errors.Is(err, service.ErrOperatorExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "operator username already taken"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create operator"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        op.ID,
		"username":  op.Username,
		"full_name": op.FullName,
		"role":      op.Role,
		"active":    op.Active,
	})
}
