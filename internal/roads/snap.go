package roads

import (
	"context"
	"math"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// DefaultMaxSnapKm is the farthest a point may be from a road and still snap.
const DefaultMaxSnapKm = 2.0

// Snapper finds the closest point on the road network.
type Snapper struct {
	cache *Cache
	maxKm float64
}

// NewSnapper creates a Snapper over cache. maxKm <= 0 selects DefaultMaxSnapKm.
func NewSnapper(cache *Cache, maxKm float64) *Snapper {
	if maxKm <= 0 {
		maxKm = DefaultMaxSnapKm
	}
	return &Snapper{cache: cache, maxKm: maxKm}
}

// Cache returns the road cache owned by s.
func (s *Snapper) Cache() *Cache { return s.cache }

// FindNearestRoadPoint projects p onto every road segment of its tile and
// returns the closest projection. found is false when no road lies within the
// snapping distance.
func (s *Snapper) FindNearestRoadPoint(ctx context.Context, p geo.Point) (nearest geo.Point, found bool, err error) {
	roads, err := s.cache.RoadsNear(ctx, p)
	if err != nil {
		return geo.Point{}, false, err
	}

	best := math.Inf(1)
	for _, r := range roads {
		for i := 1; i < len(r.Path); i++ {
			q := geo.NearestOnSegment(p, r.Path[i-1], r.Path[i])
			if d := geo.DistanceKm(p, q); d < best {
				best, nearest = d, q
			}
		}
	}
	if best > s.maxKm {
		return geo.Point{}, false, nil
	}
	return nearest, true, nil
}
