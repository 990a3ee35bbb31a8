package routing

import (
	"github.com/FooledKiwi/carepath/internal/geo"
)

const (
	// DefaultDirectSpeedKmh is the average speed assumed by the straight-line estimate.
	DefaultDirectSpeedKmh = 30.0

	// DefaultMountainSpeedKmh replaces DefaultDirectSpeedKmh on mountain roads.
	DefaultMountainSpeedKmh = 20.0
)

// DirectEstimator produces the straight-line route used when every provider
// has failed. It does no I/O and cannot fail.
type DirectEstimator struct {
	SpeedKmh         float64
	MountainSpeedKmh float64
}

// Route returns a two-point geometry [start, end] with haversine distance and
// a duration derived from the assumed average speed.
func (e DirectEstimator) Route(start, end geo.Point, opts Options) *RouteResult {
	speed := e.SpeedKmh
	if speed <= 0 {
		speed = DefaultDirectSpeedKmh
	}
	if opts.Mountainous {
		speed = e.MountainSpeedKmh
		if speed <= 0 {
			speed = DefaultMountainSpeedKmh
		}
	}
	distKm := geo.DistanceKm(start, end)
	return &RouteResult{
		Success:     true,
		Geometry:    []geo.Point{start, end},
		DistanceKm:  distKm,
		DurationSec: distKm / speed * 3600,
		Method:      MethodDirect,
		IsDirect:    true,
	}
}

// DirectRoute is DirectEstimator.Route with the default speeds.
func DirectRoute(start, end geo.Point, opts Options) *RouteResult {
	return DirectEstimator{}.Route(start, end, opts)
}
