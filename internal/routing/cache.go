package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mmcloughlin/geohash"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultCacheTTL is how long a cached route entry remains valid.
	DefaultCacheTTL = 24 * time.Hour

	// cacheQueryTimeout is the deadline for each cache read/write query.
	cacheQueryTimeout = 5 * time.Second

	// geohashPrecision controls the spatial resolution of both endpoints in the
	// cache key. Precision 7 is a cell of roughly 150 m, close enough that two
	// clicks on the same building share a route.
	geohashPrecision = 7
)

// CacheStore abstracts the persistence layer for route caching.
type CacheStore interface {
	// GetCachedRoute returns a cached RouteResult for key, or (nil, nil) when
	// there is no valid (non-expired) entry.
	GetCachedRoute(ctx context.Context, key string) (*RouteResult, error)

	// SetCachedRoute upserts a route entry that expires after ttl.
	SetCachedRoute(ctx context.Context, key string, res *RouteResult, ttl time.Duration) error

	// PurgeRoutes deletes every entry and returns how many were removed.
	PurgeRoutes(ctx context.Context) (int64, error)
}

// CachedResolver wraps another Resolver and transparently caches provider
// routes. Direct estimates and failed results are never stored.
type CachedResolver struct {
	inner      Resolver
	store      CacheStore
	ttl        time.Duration
	logger     zerolog.Logger
	afterStore func() // called after every async store attempt; tests only
}

// CachedResolverOption configures a CachedResolver.
type CachedResolverOption func(*CachedResolver)

// WithCacheLogger sets the logger used when async cache writes fail.
func WithCacheLogger(l zerolog.Logger) CachedResolverOption {
	return func(r *CachedResolver) { r.logger = l }
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) CachedResolverOption {
	return func(r *CachedResolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func withAfterStore(fn func()) CachedResolverOption {
	return func(r *CachedResolver) { r.afterStore = fn }
}

// NewCachedResolver wraps inner with a cache-aside layer backed by store.
func NewCachedResolver(inner Resolver, store CacheStore, opts ...CachedResolverOption) *CachedResolver {
	r := &CachedResolver{inner: inner, store: store, ttl: DefaultCacheTTL, logger: log.Logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve implements Resolver. It checks the cache first; on a miss it
// delegates to the inner Resolver and persists provider routes.
func (r *CachedResolver) Resolve(ctx context.Context, req RouteRequest) *RouteResult {
	start, end, err := ValidateRequest(req)
	if err != nil {
		return r.inner.Resolve(ctx, req)
	}
	key := CacheKey(req)

	cached, err := r.store.GetCachedRoute(ctx, key)
	if err != nil {
		// Cache read failures are non-fatal: fall through to the real resolver.
		r.logger.Debug().Err(err).Str("key", key).Msg("route cache read failed")
	}
	if cached != nil && len(cached.Geometry) >= 2 {
		cached.Success = true
		cached.Cached = true
		cached.IsDirect = false
		cached.Error = ""
		cached.RequestID = uuid.NewString()
		cached.Attempts = nil
		cached.Geometry = anchorEndpoints(cached.Geometry, start, end)
		if len(cached.Alternatives) > 0 {
			alts := make([]Alternative, len(cached.Alternatives))
			for i, a := range cached.Alternatives {
				a.Geometry = anchorEndpoints(a.Geometry, start, end)
				alts[i] = a
			}
			cached.Alternatives = alts
		}
		return cached
	}

	res := r.inner.Resolve(ctx, req)
	if res == nil || !res.Success || res.IsDirect {
		return res
	}

	// Persist asynchronously so we don't add cache-write latency to the hot path.
	// The background context outlives the caller's request.
	stored := *res
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), cacheQueryTimeout)
		defer cancel()

		if err := r.store.SetCachedRoute(storeCtx, key, &stored, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("routing: cache: async write failed")
		}

		if r.afterStore != nil {
			r.afterStore()
		}
	}()

	return res
}

// Purge clears the route cache.
func (r *CachedResolver) Purge(ctx context.Context) (int64, error) {
	return r.store.PurgeRoutes(ctx)
}

// CacheKey identifies a request by the geohash cells of both endpoints plus
// every option that changes the provider answer.
func CacheKey(req RouteRequest) string {
	var s, e string
	if req.Start != nil {
		s = geohash.EncodeWithPrecision(req.Start.Lat, req.Start.Lon, geohashPrecision)
	}
	if req.End != nil {
		e = geohash.EncodeWithPrecision(req.End.Lat, req.End.Lon, geohashPrecision)
	}
	o := req.Options
	return fmt.Sprintf("%s:%s:%s:alt=%t:mtn=%t:%s", s, e, o.profile(), o.Alternatives, o.Mountainous, o.Preference)
}

// --- pgx-backed CacheStore implementation ---

// pgCacheStore is the production implementation of CacheStore backed by pgx.
type pgCacheStore struct {
	pool *pgxpool.Pool
}

// NewPgCacheStore creates a CacheStore backed by the given connection pool.
func NewPgCacheStore(pool *pgxpool.Pool) CacheStore {
	return &pgCacheStore{pool: pool}
}

// GetCachedRoute queries route_cache for a valid (non-expired) entry.
func (s *pgCacheStore) GetCachedRoute(ctx context.Context, key string) (*RouteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	const q = `
		SELECT result
		FROM route_cache
		WHERE cache_key  = $1
		  AND expires_at > NOW()`

	var payload []byte
	err := s.pool.QueryRow(ctx, q, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, fmt.Errorf("routing: cache: get: %w", err)
	}

	var res RouteResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("routing: cache: decode: %w", err)
	}
	return &res, nil
}

// SetCachedRoute upserts a route entry into route_cache. The expiry is
// computed in Go so ttl is the single source of truth.
func (s *pgCacheStore) SetCachedRoute(ctx context.Context, key string, res *RouteResult, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("routing: cache: encode: %w", err)
	}
	expiresAt := time.Now().Add(ttl)

	const q = `
		INSERT INTO route_cache
			(cache_key, method, distance_km, duration_s, result, calc_ts, expires_at)
		VALUES
			($1, $2, $3, $4, $5, NOW(), $6)
		ON CONFLICT (cache_key)
		DO UPDATE SET
			method      = EXCLUDED.method,
			distance_km = EXCLUDED.distance_km,
			duration_s  = EXCLUDED.duration_s,
			result      = EXCLUDED.result,
			calc_ts     = EXCLUDED.calc_ts,
			expires_at  = EXCLUDED.expires_at`

	_, err = s.pool.Exec(ctx, q,
		key,
		string(res.Method),
		res.DistanceKm,
		res.DurationSec,
		payload,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("routing: cache: set: %w", err)
	}
	return nil
}

// PurgeRoutes deletes every row of route_cache.
func (s *pgCacheStore) PurgeRoutes(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheQueryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM route_cache`)
	if err != nil {
		return 0, fmt.Errorf("routing: cache: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
