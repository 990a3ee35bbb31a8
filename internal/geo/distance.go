package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

const deg2rad = math.Pi / 180.0

// DistanceKm returns the great-circle distance between p and q in kilometres.
func DistanceKm(p, q Point) float64 {
	dLat := (q.Lat - p.Lat) * deg2rad
	dLon := (q.Lon - p.Lon) * deg2rad
	lat1 := p.Lat * deg2rad
	lat2 := q.Lat * deg2rad

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	a := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	// Rounding can push a marginally above 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PathKm returns the summed length of a polyline in kilometres.
func PathKm(path []Point) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += DistanceKm(path[i-1], path[i])
	}
	return total
}

// BBox is a latitude/longitude bounding box.
type BBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// BBoxAround returns the box enclosing every point within radiusKm of p.
// When the circle crosses the antimeridian or reaches a pole the box spans
// every longitude, so callers must still filter by distance.
func BBoxAround(p Point, radiusKm float64) BBox {
	dLat := radiusKm / EarthRadiusKm / deg2rad
	cosLat := math.Cos(p.Lat * deg2rad)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = math.Min(180, dLat/cosLat)
	}
	minLon, maxLon := p.Lon-dLon, p.Lon+dLon
	if minLon < -180 || maxLon > 180 {
		minLon, maxLon = -180, 180
	}
	return BBox{
		MinLat: math.Max(-90, p.Lat-dLat),
		MinLon: minLon,
		MaxLat: math.Min(90, p.Lat+dLat),
		MaxLon: maxLon,
	}
}

// Expand grows b by marginKm on every side.
func (b BBox) Expand(marginKm float64) BBox {
	dLat := marginKm / EarthRadiusKm / deg2rad
	midLat := (b.MinLat + b.MaxLat) / 2
	cosLat := math.Cos(midLat * deg2rad)
	dLon := 180.0
	if cosLat > 1e-6 {
		dLon = math.Min(180, dLat/cosLat)
	}
	return BBox{
		MinLat: math.Max(-90, b.MinLat-dLat),
		MinLon: math.Max(-180, b.MinLon-dLon),
		MaxLat: math.Min(90, b.MaxLat+dLat),
		MaxLon: math.Min(180, b.MaxLon+dLon),
	}
}

// Contains reports whether p lies inside b (edges included).
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Overpass formats b as an Overpass QL bounding box "(south,west,north,east)" body.
func (b BBox) Overpass() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// NearestOnSegment projects p onto the segment a-b and returns the closest
// point of the segment. It uses a local equirectangular projection, which is
// accurate for the short road segments it is used on.
func NearestOnSegment(p, a, b Point) Point {
	cosLat := math.Cos(p.Lat * deg2rad)
	ax, ay := (a.Lon-p.Lon)*cosLat, a.Lat-p.Lat
	bx, by := (b.Lon-p.Lon)*cosLat, b.Lat-p.Lat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a
	}
	t := -(ax*dx + ay*dy) / lenSq
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	return Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
}
