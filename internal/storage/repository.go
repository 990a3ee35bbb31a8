// Package storage provides PostgreSQL-backed repository implementations.
package storage

import (
	"context"
	"time"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
)

// FacilitiesRepository defines operations on the facilities table.
type FacilitiesRepository interface {
	// UpsertFacilities inserts or updates facilities keyed by (osm_type, osm_id)
	// and returns how many rows were written.
	UpsertFacilities(ctx context.Context, fs []facility.Facility) (int, error)

	// ListFacilitiesIn returns every facility whose location lies inside bbox,
	// ordered by ID.
	ListFacilitiesIn(ctx context.Context, bbox geo.BBox) ([]facility.Facility, error)

	// GetFacility returns a single facility by ID.
	// Returns (nil, nil) when the facility does not exist.
	GetFacility(ctx context.Context, id int64) (*facility.Facility, error)

	// CountFacilities returns the number of stored facilities and the time of
	// the most recent sync (zero when the table is empty).
	CountFacilities(ctx context.Context) (int64, time.Time, error)
}
