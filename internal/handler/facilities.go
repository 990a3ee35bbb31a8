package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/service"
)

const (
	maxSearchRadiusKm = 200.0
	maxFacilityLimit  = 100
)

// ListFacilitiesNear handles GET /api/v1/facilities/nearby
//
// Query params:
//   - lat, lon      (required) WGS-84 coordinates
//   - max_distance  (optional) search radius in km; default 20
//   - limit         (optional) default 10, at most 100
//   - type          (optional) facility type or level, e.g. "hospital", "Tertiary"
//   - sort          (optional) distance | emergency | rating
//   - format        (optional) "geojson" for a FeatureCollection
//
// Response 200:
//
//	[{"id":4,"name":"IGMC","type":"hospital","level":"Tertiary","location":[31.10,77.17],"distance_km":1.2,...}]
//
// Response 400: missing or invalid query parameters.
// Response 500: storage error.
func (h *Handler) ListFacilitiesNear(c *gin.Context) {
	p, ok := parseRequiredPoint(c, "lat", "lon")
	if !ok {
		return
	}

	opts := facility.SelectOptions{FilterByType: c.Query("type")}
	if raw := c.Query("max_distance"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_distance must be a positive number"})
			return
		}
		if v > maxSearchRadiusKm {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_distance must not exceed 200 km"})
			return
		}
		opts.MaxDistanceKm = v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxFacilityLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 100"})
			return
		}
		opts.Limit = v
	}
	sortBy, err := facility.ParseSortBy(c.Query("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts.SortBy = sortBy

	results, err := h.facilities.Nearby(c.Request.Context(), p, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query facilities"})
		return
	}

	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, facilityCollection(results))
		return
	}
	if results == nil {
		results = []facility.Result{}
	}
	c.JSON(http.StatusOK, results)
}

// GetFacility handles GET /api/v1/facilities/:id
//
// Response 200: the facility.
// Response 400: invalid id.
// Response 404: facility does not exist.
// Response 500: storage error.
func (h *Handler) GetFacility(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	f, err := h.facilities.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrFacilityNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "facility not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query facility"})
		return
	}
	c.JSON(http.StatusOK, f)
}
