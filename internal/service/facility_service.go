package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/storage"
)

// FacilitySource fetches facilities from the upstream map data.
// *osm.Client satisfies it.
type FacilitySource interface {
	Facilities(ctx context.Context, bbox geo.BBox) ([]facility.Facility, error)
}

// SyncReport summarises one facility sync.
type SyncReport struct {
	Fetched int           `json:"fetched"`
	Written int           `json:"written"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// FacilityStatus describes the stored facility set.
type FacilityStatus struct {
	Count    int64     `json:"count"`
	LastSync time.Time `json:"last_sync"`
}

// FacilityService answers nearest-facility queries from the database and
// refreshes it from OpenStreetMap.
type FacilityService struct {
	repo   storage.FacilitiesRepository
	source FacilitySource
}

// NewFacilityService creates a FacilityService. source may be nil, in which
// case Sync is unavailable.
func NewFacilityService(repo storage.FacilitiesRepository, source FacilitySource) *FacilityService {
	return &FacilityService{repo: repo, source: source}
}

// Nearby returns the facilities closest to p. Candidates are loaded from the
// bounding box of the search radius and then filtered, sorted and truncated
// by facility.Nearest.
func (s *FacilityService) Nearby(ctx context.Context, p geo.Point, opts facility.SelectOptions) ([]facility.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("service: Nearby: %w", err)
	}
	candidates, err := s.repo.ListFacilitiesIn(ctx, geo.BBoxAround(p, facility.Radius(opts.MaxDistanceKm)))
	if err != nil {
		return nil, fmt.Errorf("service: Nearby: list facilities: %w", err)
	}
	return facility.Nearest(p, candidates, opts), nil
}

// Get returns one facility or ErrFacilityNotFound.
func (s *FacilityService) Get(ctx context.Context, id int64) (*facility.Facility, error) {
	f, err := s.repo.GetFacility(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service: Get facility %d: %w", id, err)
	}
	if f == nil {
		return nil, fmt.Errorf("service: Get facility %d: %w", id, ErrFacilityNotFound)
	}
	return f, nil
}

// Sync pulls every facility inside bbox from the source and upserts it.
func (s *FacilityService) Sync(ctx context.Context, bbox geo.BBox) (*SyncReport, error) {
	if s.source == nil {
		return nil, fmt.Errorf("service: Sync: no facility source configured")
	}
	began := time.Now()

	fetched, err := s.source.Facilities(ctx, bbox)
	if err != nil {
		return nil, fmt.Errorf("service: Sync: fetch: %w", err)
	}
	written, err := s.repo.UpsertFacilities(ctx, fetched)
	if err != nil {
		return nil, fmt.Errorf("service: Sync: upsert: %w", err)
	}

	report := &SyncReport{Fetched: len(fetched), Written: written, Elapsed: time.Since(began)}
	log.Info().
		Int("fetched", report.Fetched).
		Int("written", report.Written).
		Dur("elapsed", report.Elapsed).
		Msg("facility sync finished")
	return report, nil
}

// Status reports how many facilities are stored and when they were synced.
func (s *FacilityService) Status(ctx context.Context) (*FacilityStatus, error) {
	n, last, err := s.repo.CountFacilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: Status: %w", err)
	}
	return &FacilityStatus{Count: n, LastSync: last}, nil
}
