package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/routing"
	"github.com/FooledKiwi/carepath/internal/service"
)

// resolveRequest is the body of POST /api/v1/routes/resolve. Coordinates are
// [lat, lon] pairs.
type resolveRequest struct {
	Start        []float64 `json:"start"`
	End          []float64 `json:"end"`
	Profile      string    `json:"profile"`
	Alternatives bool      `json:"alternatives"`
	Mountainous  bool      `json:"mountainous"`
	Preference   string    `json:"preference"`
}

// pairToPoint keeps malformed coordinates for the resolver to reject, so the
// client gets the same InvalidInput result as any other caller.
func pairToPoint(pair []float64) *geo.Point {
	if len(pair) != 2 {
		return nil
	}
	return &geo.Point{Lat: pair[0], Lon: pair[1]}
}

// ResolveRoute handles POST /api/v1/routes/resolve
//
// Request body:
//
//	{"start":[31.1048,77.1734],"end":[31.0977,77.2676],"profile":"driving","alternatives":true,"mountainous":true}
//
// Header X-Session-ID (optional) ties the request to a client session; a newer
// request of the same session cancels this one.
//
// Response 200: the RouteResult. Invalid coordinates also answer 200 with
// {"success":false,"error":"InvalidInput: ..."}.
// Response 400: malformed body, unknown profile or unknown preference.
// Response 409: superseded by a newer request of the same session.
func (h *Handler) ResolveRoute(c *gin.Context) {
	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be JSON with start and end"})
		return
	}
	profile, err := routing.ParseProfile(body.Profile)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	preference, err := routing.ParsePreference(body.Preference)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := routing.RouteRequest{
		Start: pairToPoint(body.Start),
		End:   pairToPoint(body.End),
		Options: routing.Options{
			Profile:      profile,
			Alternatives: body.Alternatives,
			Mountainous:  body.Mountainous,
			Preference:   preference,
		},
	}

	res, err := h.routes.Resolve(c.Request.Context(), c.GetHeader(SessionHeader), req)
	if errors.Is(err, service.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve route"})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResolveRouteGeoJSON handles GET /api/v1/routes/resolve.geojson
//
// Query params:
//   - start_lat, start_lon, end_lat, end_lon (required)
//   - profile, alternatives, mountainous, preference (optional)
//
// Response 200: a FeatureCollection with one LineString per route.
// Response 400: missing or invalid parameters.
// Response 409: superseded by a newer request of the same session.
func (h *Handler) ResolveRouteGeoJSON(c *gin.Context) {
	start, ok := parseRequiredPoint(c, "start_lat", "start_lon")
	if !ok {
		return
	}
	end, ok := parseRequiredPoint(c, "end_lat", "end_lon")
	if !ok {
		return
	}
	opts, ok := parseRouteOptions(c)
	if !ok {
		return
	}

	res, err := h.routes.Resolve(c.Request.Context(), c.GetHeader(SessionHeader), routing.RouteRequest{Start: &start, End: &end, Options: opts})
	if errors.Is(err, service.ErrSuperseded) {
		c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
		return
	}
	if err != nil || res == nil || !res.Success {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve route"})
		return
	}
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, routeCollection(res))
}

// GetRouteToFacility handles GET /api/v1/facilities/:id/route
//
// Query params:
//   - lat, lon (required) starting point
//   - profile, alternatives, mountainous, preference (optional)
//
// Response 200:
//
//	{"facility":{...},"route":{...RouteResult}}
//
// Response 400: missing or invalid parameters.
// Response 404: facility does not exist.
// Response 409: superseded by a newer request of the same session.
// Response 500: storage error.
func (h *Handler) GetRouteToFacility(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	start, ok := parseRequiredPoint(c, "lat", "lon")
	if !ok {
		return
	}
	opts, ok := parseRouteOptions(c)
	if !ok {
		return
	}

	res, f, err := h.routes.RouteToFacility(c.Request.Context(), c.GetHeader(SessionHeader), start, id, opts)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFacilityNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "facility not found"})
		case errors.Is(err, service.ErrSuperseded):
			c.JSON(http.StatusConflict, gin.H{"error": "superseded by a newer request"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate route"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"facility": f,
		"route":    res,
	})
}
