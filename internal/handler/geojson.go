package handler

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/routing"
)

func lineString(path []geo.Point) orb.LineString {
	ls := make(orb.LineString, len(path))
	for i, p := range path {
		ls[i] = orb.Point(p.LonLat())
	}
	return ls
}

// routeCollection renders the main route and its alternatives as LineString
// features. The main route has "alternative": 0.
func routeCollection(res *routing.RouteResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	main := geojson.NewFeature(lineString(res.Geometry))
	main.Properties["alternative"] = 0
	main.Properties["distance_km"] = res.DistanceKm
	main.Properties["duration_sec"] = res.DurationSec
	main.Properties["method"] = string(res.Method)
	main.Properties["is_direct"] = res.IsDirect
	main.Properties["cached"] = res.Cached
	main.Properties["request_id"] = res.RequestID
	fc.Append(main)

	for i, alt := range res.Alternatives {
		f := geojson.NewFeature(lineString(alt.Geometry))
		f.Properties["alternative"] = i + 1
		f.Properties["distance_km"] = alt.DistanceKm
		f.Properties["duration_sec"] = alt.DurationSec
		f.Properties["method"] = string(res.Method)
		fc.Append(f)
	}
	return fc
}

// facilityCollection renders selected facilities as Point features.
func facilityCollection(results []facility.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range results {
		f := geojson.NewFeature(orb.Point(r.Location.LonLat()))
		f.ID = r.ID
		f.Properties["name"] = r.Name
		f.Properties["type"] = r.Type
		f.Properties["level"] = string(r.Level)
		f.Properties["emergency"] = r.Emergency
		f.Properties["rating"] = r.Rating
		f.Properties["distance_km"] = r.DistanceKm
		if len(r.Specialties) > 0 {
			f.Properties["specialties"] = r.Specialties
		}
		fc.Append(f)
	}
	return fc
}
