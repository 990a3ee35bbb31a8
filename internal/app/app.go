package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/FooledKiwi/carepath/internal/config"
	"github.com/FooledKiwi/carepath/internal/handler"
	"github.com/FooledKiwi/carepath/internal/history"
	"github.com/FooledKiwi/carepath/internal/middleware"
	"github.com/FooledKiwi/carepath/internal/osm"
	"github.com/FooledKiwi/carepath/internal/roads"
	"github.com/FooledKiwi/carepath/internal/routing"
	"github.com/FooledKiwi/carepath/internal/service"
	"github.com/FooledKiwi/carepath/internal/storage"
)

// DBError represents a database-related error.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db error during %q: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// App holds the application-level dependencies.
type App struct {
	DB      *pgxpool.Pool
	History *sqlx.DB
	Router  *gin.Engine
	cfg     *config.Config
}

// New initializes the application: connects to PostGIS, runs migrations,
// wires all domain dependencies, and configures the HTTP engine with routes.
func New(cfg *config.Config) (*App, error) {
	pool, err := OpenPool(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("database connection pool established")

	if err := storage.RunMigrations(context.Background(), pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: run migrations: %w", err)
	}
	log.Info().Msg("database schema up to date")

	historyDB, err := history.Open(cfg.DBDSN)
	if err != nil {
		pool.Close()
		return nil, &DBError{Op: "history_connect", Err: err}
	}

	// --- Routing chain ---
	providers := BuildProviders(cfg)
	chain := routing.NewChainResolver(providers, routing.WithDirectEstimator(routing.DirectEstimator{
		SpeedKmh:         cfg.Providers.Direct.SpeedKmh,
		MountainSpeedKmh: cfg.Providers.Direct.MountainSpeedKmh,
	}))
	log.Info().Interface("providers", chain.Providers()).Msg("routing chain ready")

	var resolver routing.Resolver = chain
	var routeCache handler.RoutePurger
	if !cfg.Providers.Cache.Disabled {
		cached := routing.NewCachedResolver(chain, routing.NewPgCacheStore(pool), routing.WithCacheTTL(cfg.Providers.Cache.TTL))
		resolver = cached
		routeCache = cached
	}

	if budget := cfg.ChainBudget(len(providers) > 0 && providers[0].Name() == routing.MethodORS); cfg.RequestTimeout < budget {
		log.Warn().
			Dur("request_timeout", cfg.RequestTimeout).
			Dur("chain_budget", budget).
			Msg("request timeout is shorter than the provider chain; slow requests fall back to the direct estimate")
	}

	// --- Domain dependencies ---
	facilitiesRepo := storage.NewFacilitiesRepository(pool)
	recorder := history.NewPostgresRecorder(historyDB)
	routeService := service.NewRouteService(resolver, facilitiesRepo, service.WithRecorder(recorder))

	overpass := osm.NewClient(cfg.Providers.Overpass.Endpoint, cfg.Providers.Overpass.Timeout)
	facilityService := service.NewFacilityService(facilitiesRepo, overpass)

	var snapper handler.RoadSnapper
	var roadCache handler.RoadInvalidator
	if !cfg.NoRoadSnapping {
		c := roads.NewCache(overpass)
		snapper = roads.NewSnapper(c, cfg.Providers.Roads.MaxSnapKm)
		roadCache = c
	}

	authService := service.NewAuthService(
		storage.NewOperatorsRepository(pool),
		storage.NewRefreshTokensRepository(pool),
		cfg.JWTSecret,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
	)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is not set; operator endpoints are unavailable")
	}

	h := handler.New(routeService, facilityService, snapper)
	ah := handler.NewAuthHandler(authService)
	adminH := handler.NewAdminHandler(facilityService, routeCache, roadCache, recorder, authService)

	return &App{
		DB:      pool,
		History: historyDB,
		Router:  NewRouter(cfg, h, ah, adminH, authService),
		cfg:     cfg,
	}, nil
}

// OpenPool connects to PostgreSQL and pings it.
func OpenPool(dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &DBError{Op: "parse_dsn", Err: err}
	}

	poolCfg.MaxConns = 20
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &DBError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &DBError{Op: "ping", Err: err}
	}
	return pool, nil
}

// BuildProviders returns the routing providers in priority order: ORS when a
// usable key is configured, then the OSRM server list.
func BuildProviders(cfg *config.Config) []routing.Provider {
	var providers []routing.Provider

	p := cfg.Providers
	ors, err := routing.NewORSProvider(cfg.ORSAPIKey,
		routing.WithORSBaseURL(p.ORS.BaseURL),
		routing.WithORSLanguage(p.ORS.Language),
		routing.WithORSPreference(p.ORS.Preference),
		routing.WithORSTimeout(p.ORS.Timeout),
	)
	switch {
	case err == nil:
		providers = append(providers, ors)
	case errors.Is(err, routing.ErrProviderDisabled):
		log.Info().Msg("ORS_API_KEY missing or a placeholder; OpenRouteService disabled")
	default:
		log.Warn().Err(err).Msg("OpenRouteService disabled")
	}

	providers = append(providers, routing.NewOSRMProvider(p.OSRM.Servers, routing.WithOSRMTimeout(p.OSRM.Timeout)))
	return providers
}

// NewRouter builds the gin engine and registers every route.
func NewRouter(cfg *config.Config, h *handler.Handler, ah *handler.AuthHandler, adminH *handler.AdminHandler, tokens middleware.TokenValidator) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(log.Logger))
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	{
		// Public endpoints (no auth required).
		api.POST("/routes/resolve", h.ResolveRoute)
		api.GET("/routes/resolve.geojson", h.ResolveRouteGeoJSON)

		api.GET("/facilities/nearby", h.ListFacilitiesNear)
		api.GET("/facilities/:id", h.GetFacility)
		api.GET("/facilities/:id/route", h.GetRouteToFacility)

		api.GET("/roads/nearest", h.NearestRoad)

		// Auth endpoints (no auth required to call these).
		auth := api.Group("/auth")
		{
			auth.POST("/login", ah.Login)
			auth.POST("/refresh", ah.Refresh)
			auth.POST("/logout", ah.Logout)
		}

		// Protected endpoints: admin role.
		admin := api.Group("/admin")
		admin.Use(middleware.JWTAuth(tokens))
		admin.Use(middleware.RequireRole(service.RoleAdmin))
		{
			admin.POST("/facilities/sync", adminH.SyncFacilities)
			admin.GET("/facilities/status", adminH.FacilityStatus)

			admin.DELETE("/cache/routes", adminH.PurgeRouteCache)
			admin.DELETE("/cache/roads", adminH.PurgeRoadCache)

			admin.GET("/stats", adminH.Stats)
			admin.POST("/operators", adminH.CreateOperator)
		}
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", handler.SessionHeader}
	c.MaxAge = 12 * time.Hour
	return c
}

// Shutdown gracefully closes the database connections.
func (a *App) Shutdown() {
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			log.Warn().Err(err).Msg("closing history database")
		}
	}
	if a.DB != nil {
		a.DB.Close()
		log.Info().Msg("database connection pool closed")
	}
}
