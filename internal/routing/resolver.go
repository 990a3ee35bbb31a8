package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// ChainResolver tries its providers strictly in order and short-circuits on
// the first usable route. When every provider fails, or the context is done,
// it returns the direct estimate.
type ChainResolver struct {
	providers []Provider
	direct    DirectEstimator
	logger    zerolog.Logger
}

// ResolverOption configures a ChainResolver.
type ResolverOption func(*ChainResolver)

// WithDirectEstimator overrides the fallback speeds.
func WithDirectEstimator(e DirectEstimator) ResolverOption {
	return func(r *ChainResolver) { r.direct = e }
}

// WithResolverLogger replaces the global logger.
func WithResolverLogger(l zerolog.Logger) ResolverOption {
	return func(r *ChainResolver) { r.logger = l }
}

// NewChainResolver builds a resolver over providers, in priority order. Nil
// interface values are skipped.
func NewChainResolver(providers []Provider, opts ...ResolverOption) *ChainResolver {
	r := &ChainResolver{logger: log.Logger}
	for _, p := range providers {
		if p != nil {
			r.providers = append(r.providers, p)
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Providers returns the names of the configured providers in order.
func (r *ChainResolver) Providers() []Method {
	out := make([]Method, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.Name()
	}
	return out
}

// Resolve implements Resolver.
func (r *ChainResolver) Resolve(ctx context.Context, req RouteRequest) *RouteResult {
	requestID := uuid.NewString()
	logger := r.logger.With().Str("request_id", requestID).Logger()

	start, end, err := ValidateRequest(req)
	if err != nil {
		logger.Info().Err(err).Msg("rejected route request")
		return &RouteResult{Success: false, Error: err.Error(), RequestID: requestID}
	}

	attempts := make([]string, 0, len(r.providers)+1)
	for _, p := range r.providers {
		if ctx.Err() != nil {
			logger.Debug().Err(context.Cause(ctx)).Msg("context done, skipping remaining providers")
			break
		}
		attempts = append(attempts, string(p.Name()))

		began := time.Now()
		res, err := tryProvider(ctx, p, start, end, req.Options)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("provider", string(p.Name())).
				Dur("elapsed", time.Since(began)).
				Msg("route provider failed, falling through")
			continue
		}

		res.Success = true
		res.Method = p.Name()
		res.IsDirect = false
		res.Geometry = anchorEndpoints(res.Geometry, start, end)
		for i := range res.Alternatives {
			res.Alternatives[i].Geometry = anchorEndpoints(res.Alternatives[i].Geometry, start, end)
		}
		res.RequestID = requestID
		res.Attempts = attempts
		logger.Debug().
			Str("provider", string(p.Name())).
			Float64("distance_km", res.DistanceKm).
			Int("alternatives", len(res.Alternatives)).
			Dur("elapsed", time.Since(began)).
			Msg("route resolved")
		return res
	}

	if len(r.providers) > 0 {
		logger.Warn().Err(ErrAllProvidersExhausted).Strs("attempts", attempts).Msg("using direct estimate")
	}
	res := r.direct.Route(start, end, req.Options)
	res.RequestID = requestID
	res.Attempts = append(attempts, string(MethodDirect))
	return res
}

// ValidateRequest checks both endpoints and returns them by value. Errors
// wrap ErrInvalidInput.
func ValidateRequest(req RouteRequest) (geo.Point, geo.Point, error) {
	if req.Start == nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("%w: start is missing", ErrInvalidInput)
	}
	if req.End == nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("%w: end is missing", ErrInvalidInput)
	}
	if err := req.Start.Validate(); err != nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("%w: start: %v", ErrInvalidInput, err)
	}
	if err := req.End.Validate(); err != nil {
		return geo.Point{}, geo.Point{}, fmt.Errorf("%w: end: %v", ErrInvalidInput, err)
	}
	return *req.Start, *req.End, nil
}

// tryProvider calls p and turns a panic or an unusable result into an error,
// so a misbehaving adapter cannot break the chain.
func tryProvider(ctx context.Context, p Provider, start, end geo.Point, opts Options) (res *RouteResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("%w: panic: %v", ErrProviderUnavailable, rec)
		}
	}()
	res, err = p.TryRoute(ctx, start, end, opts)
	if err != nil {
		return nil, err
	}
	if res == nil || len(res.Geometry) < 2 {
		return nil, fmt.Errorf("%w: empty geometry", ErrProviderUnavailable)
	}
	return res, nil
}

// anchorEndpoints makes the first and last points of path match start and end
// within geo.CoordTolerance. Providers snap endpoints to the road network, so
// the requested points are added when the snapped ones drift.
func anchorEndpoints(path []geo.Point, start, end geo.Point) []geo.Point {
	if len(path) == 0 {
		return []geo.Point{start, end}
	}
	out := path
	if !out[0].Near(start, geo.CoordTolerance) {
		out = append([]geo.Point{start}, out...)
	}
	if !out[len(out)-1].Near(end, geo.CoordTolerance) {
		out = append(out, end)
	}
	return out
}

// IsInvalidInput reports whether a failed result was caused by bad input.
func IsInvalidInput(res *RouteResult) bool {
	return res != nil && !res.Success && strings.HasPrefix(res.Error, ErrInvalidInput.Error())
}
