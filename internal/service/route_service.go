package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/history"
	"github.com/FooledKiwi/carepath/internal/routing"
	"github.com/FooledKiwi/carepath/internal/storage"
)

// ErrSuperseded is returned by RouteService.Resolve when a newer request for
// the same session cancelled this one. The result that accompanies it is
// stale and should be discarded.
var ErrSuperseded = errors.New("service: request superseded by a newer one")

// ErrFacilityNotFound is returned when the requested facility does not exist
// in the database. Callers should use errors.Is to detect it.
var ErrFacilityNotFound = errors.New("facility not found")

// RouteService resolves routes on behalf of client sessions. A session sends
// a new request every time the user moves a marker; the newest request wins
// and cancels the one still in flight.
type RouteService struct {
	resolver   routing.Resolver
	facilities storage.FacilitiesRepository
	recorder   history.Recorder
	logger     zerolog.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]inflightRequest
}

type inflightRequest struct {
	seq    uint64
	cancel context.CancelCauseFunc
}

// RouteServiceOption configures a RouteService.
type RouteServiceOption func(*RouteService)

// WithRecorder records every finished resolution.
func WithRecorder(r history.Recorder) RouteServiceOption {
	return func(s *RouteService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithRouteLogger replaces the global logger.
func WithRouteLogger(l zerolog.Logger) RouteServiceOption {
	return func(s *RouteService) { s.logger = l }
}

// NewRouteService creates a RouteService.
//
//   - resolver is usually a *routing.CachedResolver wrapping a
//     *routing.ChainResolver.
//   - facilities is used to look up destinations by ID in RouteToFacility.
func NewRouteService(resolver routing.Resolver, facilities storage.FacilitiesRepository, opts ...RouteServiceOption) *RouteService {
	s := &RouteService{
		resolver:   resolver,
		facilities: facilities,
		recorder:   history.Nop{},
		logger:     log.Logger,
		inflight:   make(map[string]inflightRequest),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Resolve runs req through the resolver. With a non-empty sessionID any
// earlier request of that session still in flight is cancelled; that earlier
// call then returns ErrSuperseded alongside its result.
func (s *RouteService) Resolve(ctx context.Context, sessionID string, req routing.RouteRequest) (*routing.RouteResult, error) {
	if sessionID != "" {
		var release func()
		ctx, release = s.claim(ctx, sessionID)
		defer release()
	}

	began := time.Now()
	res := s.resolver.Resolve(ctx, req)
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		s.logger.Debug().Str("session_id", sessionID).Msg("route request superseded")
		return res, ErrSuperseded
	}
	s.record(ctx, history.NewEntry(sessionID, req, res, time.Since(began)))
	return res, nil
}

// RouteToFacility resolves the route from start to the facility identified
// by facilityID.
//
// Errors:
//   - ErrFacilityNotFound (wrapped) if the facility does not exist.
//   - ErrSuperseded as for Resolve.
func (s *RouteService) RouteToFacility(ctx context.Context, sessionID string, start geo.Point, facilityID int64, opts routing.Options) (*routing.RouteResult, *facility.Facility, error) {
	f, err := s.facilities.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, nil, fmt.Errorf("service: RouteToFacility: fetch facility %d: %w", facilityID, err)
	}
	if f == nil {
		return nil, nil, fmt.Errorf("service: RouteToFacility: facility %d: %w", facilityID, ErrFacilityNotFound)
	}

	end := f.Location
	res, err := s.Resolve(ctx, sessionID, routing.RouteRequest{Start: &start, End: &end, Options: opts})
	return res, f, err
}

// InFlight returns the number of sessions with a request in progress.
func (s *RouteService) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// claim registers a new request for sessionID, cancelling the previous one.
// The returned release func must be called when the request finishes.
func (s *RouteService) claim(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)

	s.mu.Lock()
	s.seq++
	seq := s.seq
	if prev, ok := s.inflight[sessionID]; ok {
		prev.cancel(ErrSuperseded)
	}
	s.inflight[sessionID] = inflightRequest{seq: seq, cancel: cancel}
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if cur, ok := s.inflight[sessionID]; ok && cur.seq == seq {
			delete(s.inflight, sessionID)
		}
		s.mu.Unlock()
		cancel(nil)
	}
}

// record is best-effort: a failed write is logged and otherwise ignored.
func (s *RouteService) record(ctx context.Context, e history.Entry) {
	if err := s.recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn().Err(err).Str("request_id", e.RequestID).Msg("route history write failed")
	}
}
