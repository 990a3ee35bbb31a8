package facility

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/FooledKiwi/carepath/internal/geo"
)

const (
	// DefaultMaxDistanceKm is the search radius used when none is given.
	DefaultMaxDistanceKm = 20.0

	// DefaultLimit caps the result list when no limit is given.
	DefaultLimit = 10
)

// SortBy orders the selected facilities.
type SortBy string

const (
	SortDistance  SortBy = "distance"
	SortEmergency SortBy = "emergency"
	SortRating    SortBy = "rating"
)

// ParseSortBy maps user input onto a SortBy. Empty input sorts by distance.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortDistance:
		return SortDistance, nil
	case SortEmergency:
		return SortEmergency, nil
	case SortRating:
		return SortRating, nil
	}
	return "", fmt.Errorf("facility: unknown sort %q", s)
}

// SelectOptions configure Nearest. Zero values select the defaults.
type SelectOptions struct {
	MaxDistanceKm float64
	Limit         int
	// FilterByType keeps facilities whose Type or Level matches, ignoring case.
	FilterByType string
	SortBy       SortBy
}

// Result is a selected facility with its distance from the query point.
type Result struct {
	Facility
	DistanceKm float64 `json:"distance_km"`
}

// Nearest returns the facilities within opts.MaxDistanceKm of p, filtered by
// type and sorted, truncated to opts.Limit. Facilities at equal keys keep
// their input order. The input slice is not modified.
func Nearest(p geo.Point, facilities []Facility, opts SelectOptions) []Result {
	maxKm := Radius(opts.MaxDistanceKm)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	filter := strings.TrimSpace(opts.FilterByType)

	out := make([]Result, 0, len(facilities))
	for _, f := range facilities {
		if filter != "" && !matchesType(f, filter) {
			continue
		}
		d := geo.DistanceKm(p, f.Location)
		if d > maxKm {
			continue
		}
		out = append(out, Result{Facility: f, DistanceKm: d})
	}

	sort.SliceStable(out, less(out, opts.SortBy))
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Radius returns km, or DefaultMaxDistanceKm when km is not a positive finite
// number.
func Radius(km float64) float64 {
	if math.IsNaN(km) || math.IsInf(km, 0) || km <= 0 {
		return DefaultMaxDistanceKm
	}
	return km
}

func matchesType(f Facility, filter string) bool {
	return strings.EqualFold(f.Type, filter) || strings.EqualFold(string(f.Level), filter)
}

func less(rs []Result, by SortBy) func(i, j int) bool {
	switch by {
	case SortEmergency:
		return func(i, j int) bool {
			if rs[i].Emergency != rs[j].Emergency {
				return rs[i].Emergency
			}
			return rs[i].DistanceKm < rs[j].DistanceKm
		}
	case SortRating:
		return func(i, j int) bool {
			if rs[i].Rating != rs[j].Rating {
				return rs[i].Rating > rs[j].Rating
			}
			return rs[i].DistanceKm < rs[j].DistanceKm
		}
	default:
		return func(i, j int) bool { return rs[i].DistanceKm < rs[j].DistanceKm }
	}
}
