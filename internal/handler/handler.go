// Package handler exposes the routing, facility and road-snapping services
// over HTTP with gin.
package handler

import (
	"context"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/routing"
)

// SessionHeader carries the client session whose older in-flight route
// request is superseded by a new one.
const SessionHeader = "X-Session-ID"

// RouteResolver is the routing surface used by the handlers.
// *service.RouteService satisfies it.
type RouteResolver interface {
	Resolve(ctx context.Context, sessionID string, req routing.RouteRequest) (*routing.RouteResult, error)
	RouteToFacility(ctx context.Context, sessionID string, start geo.Point, facilityID int64, opts routing.Options) (*routing.RouteResult, *facility.Facility, error)
}

// FacilityFinder answers facility lookups. *service.FacilityService
// satisfies it.
type FacilityFinder interface {
	Nearby(ctx context.Context, p geo.Point, opts facility.SelectOptions) ([]facility.Result, error)
	Get(ctx context.Context, id int64) (*facility.Facility, error)
}

// RoadSnapper finds the closest road point. *roads.Snapper satisfies it.
type RoadSnapper interface {
	FindNearestRoadPoint(ctx context.Context, p geo.Point) (geo.Point, bool, error)
}

// Handler holds the dependencies of the public endpoints.
// A single Handler is shared across all route groups; individual methods are
// registered as gin handler functions.
type Handler struct {
	routes     RouteResolver
	facilities FacilityFinder
	roads      RoadSnapper
}

// New creates a Handler with the given dependencies. roads may be nil, in
// which case the road endpoint answers 503.
func New(routes RouteResolver, facilities FacilityFinder, roads RoadSnapper) *Handler {
	return &Handler{
		routes:     routes,
		facilities: facilities,
		roads:      roads,
	}
}
