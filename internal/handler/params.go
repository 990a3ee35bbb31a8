package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/routing"
)

// parseRequiredFloat reads a float query parameter and writes a 400 when it
// is missing or malformed.
func parseRequiredFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " query parameter is required"})
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a valid number"})
		return 0, false
	}
	return v, true
}

// parseRequiredPoint reads a valid coordinate from the latKey/lonKey query
// parameters.
func parseRequiredPoint(c *gin.Context, latKey, lonKey string) (geo.Point, bool) {
	lat, ok := parseRequiredFloat(c, latKey)
	if !ok {
		return geo.Point{}, false
	}
	lon, ok := parseRequiredFloat(c, lonKey)
	if !ok {
		return geo.Point{}, false
	}
	p, err := geo.NewPoint(lat, lon)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return geo.Point{}, false
	}
	return p, true
}

// parseOptionalBool accepts the strconv.ParseBool spellings; absent means false.
func parseOptionalBool(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be true or false"})
		return false, false
	}
	return v, true
}

// parseID reads a positive integer path parameter.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

// parseRouteOptions reads profile, alternatives, mountainous and preference
// from the query string.
func parseRouteOptions(c *gin.Context) (routing.Options, bool) {
	profile, err := routing.ParseProfile(c.Query("profile"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return routing.Options{}, false
	}
	alternatives, ok := parseOptionalBool(c, "alternatives")
	if !ok {
		return routing.Options{}, false
	}
	mountainous, ok := parseOptionalBool(c, "mountainous")
	if !ok {
		return routing.Options{}, false
	}
	preference, err := routing.ParsePreference(c.Query("preference"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return routing.Options{}, false
	}
	return routing.Options{
		Profile:      profile,
		Alternatives: alternatives,
		Mountainous:  mountainous,
		Preference:   preference,
	}, true
}
