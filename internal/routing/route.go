// Package routing resolves driving routes between two points.
//
// A Resolver tries an ordered list of Providers (OpenRouteService, then a list
// of OSRM servers) and, when none of them answers, degrades to a straight-line
// estimate. Resolution never fails for valid input: callers always get a
// RouteResult they can draw.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// Error taxonomy. Only ErrInvalidInput reaches callers, through
// RouteResult.Error; the other two are logged and absorbed by the chain.
var (
	ErrInvalidInput          = errors.New("InvalidInput")
	ErrProviderUnavailable   = errors.New("routing: provider unavailable")
	ErrAllProvidersExhausted = errors.New("routing: all providers exhausted")
	ErrProviderDisabled      = errors.New("routing: provider disabled")
)

// Profile is the travel mode requested from the providers.
type Profile string

const (
	ProfileDriving Profile = "driving"
	ProfileCycling Profile = "cycling"
	ProfileWalking Profile = "walking"
)

// ParseProfile maps user input onto a Profile. Empty input means driving.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "driving", "car", "driving-car":
		return ProfileDriving, nil
	case "cycling", "bike", "bicycle", "cycling-regular":
		return ProfileCycling, nil
	case "walking", "foot", "foot-walking":
		return ProfileWalking, nil
	}
	return "", fmt.Errorf("routing: unknown profile %q", s)
}

// ParsePreference accepts "recommended", "fastest" or "shortest" in any case.
// Empty input keeps the provider default.
func ParsePreference(s string) (string, error) {
	switch p := strings.ToLower(strings.TrimSpace(s)); p {
	case "", "recommended", "fastest", "shortest":
		return p, nil
	}
	return "", fmt.Errorf("routing: unknown preference %q", s)
}

// Method identifies which stage of the chain produced a RouteResult.
type Method string

const (
	MethodORS    Method = "provider-ors"
	MethodOSRM   Method = "provider-osrm"
	MethodDirect Method = "direct"
)

// Options tune a single route calculation.
type Options struct {
	Profile      Profile
	Alternatives bool
	// Mountainous lowers the average speed assumed by the direct estimate.
	Mountainous bool
	// Preference is passed to providers that support it ("recommended",
	// "fastest", "shortest"). Empty means the provider default.
	Preference string
}

func (o Options) profile() Profile {
	if o.Profile == "" {
		return ProfileDriving
	}
	return o.Profile
}

// RouteRequest is one route calculation. A nil Start or End is invalid input.
type RouteRequest struct {
	Start   *geo.Point
	End     *geo.Point
	Options Options
}

// Alternative is an additional route offered by a provider.
type Alternative struct {
	Geometry    []geo.Point `json:"geometry"`
	DistanceKm  float64     `json:"distance_km"`
	DurationSec float64     `json:"duration_sec"`
}

// RouteResult is produced fresh for every request and owned by the caller.
//
// When Success is true, Geometry holds at least two points and its ends lie
// within geo.CoordTolerance of the requested start and end. IsDirect implies
// a two-point geometry and Method == MethodDirect.
type RouteResult struct {
	Success      bool          `json:"success"`
	Geometry     []geo.Point   `json:"geometry"`
	DistanceKm   float64       `json:"distance_km"`
	DurationSec  float64       `json:"duration_sec"`
	Method       Method        `json:"method,omitempty"`
	IsDirect     bool          `json:"is_direct"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Error        string        `json:"error,omitempty"`

	// RequestID correlates the result with resolver log lines.
	RequestID string `json:"request_id,omitempty"`
	// Attempts lists the providers tried, in order, before this result.
	Attempts []string `json:"attempts,omitempty"`
	// Cached is true when the result was served from the route cache.
	Cached bool `json:"cached,omitempty"`
}

// Provider is one routing backend in the chain. TryRoute returns a non-nil
// error when the chain should move on to the next provider.
type Provider interface {
	Name() Method
	TryRoute(ctx context.Context, start, end geo.Point, opts Options) (*RouteResult, error)
}

// Resolver produces a RouteResult for every request; it never returns an error.
type Resolver interface {
	Resolve(ctx context.Context, req RouteRequest) *RouteResult
}
