// Package geo holds the coordinate primitives shared by route resolution,
// facility search and road snapping.
//
// Points are WGS-84 degrees in (latitude, longitude) order, which is the order
// used by the browser map. Routing providers speak GeoJSON, which is
// longitude-first; LonLat and FromLonLat are the only places where the axis
// order is swapped.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// CoordTolerance is the tolerance, in degrees, used when comparing the ends
// of a route geometry with the requested start and end points.
const CoordTolerance = 1e-4

// ErrInvalidPoint is returned for coordinates that are missing, non-finite or
// outside the WGS-84 ranges.
var ErrInvalidPoint = errors.New("geo: invalid point")

var validate = validator.New()

// pointRules carries the range rules checked by the validator.
type pointRules struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

// Point is an immutable (latitude, longitude) pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// NewPoint returns a validated Point.
func NewPoint(lat, lon float64) (Point, error) {
	p := Point{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

// FromPair converts a browser-style [lat, lon] pair into a Point.
// A nil or wrongly sized slice is rejected.
func FromPair(pair []float64) (*Point, error) {
	if pair == nil {
		return nil, fmt.Errorf("%w: missing coordinates", ErrInvalidPoint)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("%w: expected [lat, lon], got %d values", ErrInvalidPoint, len(pair))
	}
	p, err := NewPoint(pair[0], pair[1])
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate reports whether p is finite and within latitude [-90, 90] and
// longitude [-180, 180].
func (p Point) Validate() error {
	if !finite(p.Lat) || !finite(p.Lon) {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrInvalidPoint, p.Lat, p.Lon)
	}
	if err := validate.Struct(pointRules{Lat: p.Lat, Lon: p.Lon}); err != nil {
		return fmt.Errorf("%w: (%v, %v) out of range", ErrInvalidPoint, p.Lat, p.Lon)
	}
	return nil
}

// LonLat returns p in GeoJSON axis order.
func (p Point) LonLat() [2]float64 {
	return [2]float64{p.Lon, p.Lat}
}

// FromLonLat builds a Point from a GeoJSON [lon, lat] position.
func FromLonLat(c [2]float64) Point {
	return Point{Lat: c[1], Lon: c[0]}
}

// Near reports whether p and q differ by at most tol degrees on both axes.
func (p Point) Near(q Point, tol float64) bool {
	return math.Abs(p.Lat-q.Lat) <= tol && math.Abs(p.Lon-q.Lon) <= tol
}

// String formats p as "lat,lon".
func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// MarshalJSON encodes p as a [lat, lon] array, the shape Leaflet consumes.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lon})
}

// UnmarshalJSON decodes a [lat, lon] array.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	q, err := FromPair(pair)
	if err != nil {
		return err
	}
	*p = *q
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
