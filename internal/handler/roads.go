package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// NearestRoad handles GET /api/v1/roads/nearest
//
// Query params:
//   - lat, lon (required) point to snap
//
// Response 200:
//
//	{"point":[31.1049,77.1733],"distance_km":0.012}
//
// Response 400: missing or invalid query parameters.
// Response 404: no road within range.
// Response 502: road data could not be loaded.
// Response 503: road snapping is disabled.
func (h *Handler) NearestRoad(c *gin.Context) {
	if h.roads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "road snapping is not enabled"})
		return
	}
	p, ok := parseRequiredPoint(c, "lat", "lon")
	if !ok {
		return
	}

	snapped, found, err := h.roads.FindNearestRoadPoint(c.Request.Context(), p)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load road data"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no road found near the point"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"point":       snapped,
		"distance_km": geo.DistanceKm(p, snapped),
	})
}
