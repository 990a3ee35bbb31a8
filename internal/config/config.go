// Package config loads and validates the server configuration from flags,
// environment variables, an optional .env file and an optional YAML
// providers file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/FooledKiwi/carepath/internal/logger"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

// Options are read from the command line and the environment.
type Options struct {
	Logger logger.Logger `group:"Logger options"`

	DBDSN string `long:"db-dsn" env:"DB_DSN" description:"PostgreSQL connection string"`
	Port  int    `short:"p" long:"port" env:"PORT" description:"Port to listen on" default:"8080"`

	// JWT authentication settings. Auth endpoints fail gracefully when the
	// secret is unset.
	JWTSecret       string        `long:"jwt-secret"        env:"JWT_SECRET"        description:"HS256 signing key for operator tokens"`
	AccessTokenTTL  time.Duration `long:"access-token-ttl"  env:"ACCESS_TOKEN_TTL"  description:"Access token lifetime" default:"15m"`
	RefreshTokenTTL time.Duration `long:"refresh-token-ttl" env:"REFRESH_TOKEN_TTL" description:"Refresh token lifetime" default:"168h"`

	// ORSAPIKey enables OpenRouteService. Missing or placeholder keys leave
	// it out of the chain.
	ORSAPIKey string `long:"ors-api-key" env:"ORS_API_KEY" description:"OpenRouteService API key"`

	ProvidersFile  string        `short:"c" long:"providers" env:"PROVIDERS_FILE" description:"YAML file with routing provider settings"`
	RequestTimeout time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" description:"Deadline for one HTTP request" default:"45s"`
	CORSOrigins    []string      `long:"cors-origin" env:"CORS_ORIGINS" env-delim:"," description:"Allowed browser origins (all when empty)"`
	NoRoadSnapping bool          `long:"no-road-snapping" env:"DISABLE_ROAD_SNAPPING" description:"Disable the nearest-road endpoint"`
}

// ORS configures the OpenRouteService provider.
type ORS struct {
	BaseURL    string        `yaml:"base_url"   validate:"omitempty,url"`
	Language   string        `yaml:"language"`
	Preference string        `yaml:"preference" validate:"omitempty,oneof=recommended fastest shortest"`
	Timeout    time.Duration `yaml:"timeout"    validate:"gt=0"`
}

// OSRM configures the OSRM server list, tried in order.
type OSRM struct {
	Servers []string      `yaml:"servers" validate:"dive,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Direct configures the straight-line fallback.
type Direct struct {
	SpeedKmh         float64 `yaml:"speed_kmh"          validate:"gt=0"`
	MountainSpeedKmh float64 `yaml:"mountain_speed_kmh" validate:"gt=0"`
}

// Cache configures the PostgreSQL route cache.
type Cache struct {
	Disabled bool          `yaml:"disabled"`
	TTL      time.Duration `yaml:"ttl" validate:"gt=0"`
}

// Overpass configures the OpenStreetMap Overpass client.
type Overpass struct {
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout"  validate:"gt=0"`
}

// Roads configures road snapping.
type Roads struct {
	MaxSnapKm float64 `yaml:"max_snap_km" validate:"gt=0"`
}

// Providers is the YAML providers file. Omitted keys keep their defaults.
type Providers struct {
	ORS      ORS      `yaml:"ors"`
	OSRM     OSRM     `yaml:"osrm"`
	Direct   Direct   `yaml:"direct"`
	Cache    Cache    `yaml:"cache"`
	Overpass Overpass `yaml:"overpass"`
	Roads    Roads    `yaml:"roads"`
}

// DefaultProviders returns the settings used when no providers file is given.
func DefaultProviders() Providers {
	return Providers{
		ORS: ORS{
			BaseURL:    "https://api.openrouteservice.org",
			Language:   "en",
			Preference: "recommended",
			Timeout:    10 * time.Second,
		},
		OSRM: OSRM{
			Servers: []string{
				"https://router.project-osrm.org",
				"https://routing.openstreetmap.de/routed-car",
			},
			Timeout: 10 * time.Second,
		},
		Direct:   Direct{SpeedKmh: 30, MountainSpeedKmh: 20},
		Cache:    Cache{TTL: 24 * time.Hour},
		Overpass: Overpass{Endpoint: "https://overpass-api.de/api/interpreter", Timeout: 60 * time.Second},
		Roads:    Roads{MaxSnapKm: 2},
	}
}

// Config holds all runtime configuration.
type Config struct {
	Options
	Providers Providers
}

var validate = validator.New()

// Load reads .env (when present), parses args and the environment, then
// merges the providers file over DefaultProviders and validates the result.
// A help request is returned as a *flags.Error of type flags.ErrHelp.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{Providers: DefaultProviders()}
	parser := flags.NewParser(&cfg.Options, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.ProvidersFile != "" {
		if err := cfg.Providers.loadFile(cfg.ProvidersFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes a YAML providers file over p.
func (p *Providers) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read providers file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return &ConfigError{Field: "PROVIDERS_FILE", Message: err.Error()}
	}
	return nil
}

// Validate checks every field and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.DBDSN == "" {
		errs = append(errs, &ConfigError{Field: "DB_DSN", Message: "required but not set"})
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "PORT", Message: "must be between 1 and 65535"})
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, &ConfigError{Field: "ACCESS_TOKEN_TTL", Message: "must be positive"})
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, &ConfigError{Field: "REFRESH_TOKEN_TTL", Message: "must be positive"})
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, &ConfigError{Field: "REQUEST_TIMEOUT", Message: "must be positive"})
	}

	if err := validate.Struct(c.Providers); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Join(append(errs, err)...)
		}
		for _, fe := range verrs {
			errs = append(errs, &ConfigError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}
	return errors.Join(errs...)
}

// ChainBudget is the longest the provider chain can take before falling back:
// one ORS call plus one call per OSRM server.
func (c *Config) ChainBudget(orsEnabled bool) time.Duration {
	d := time.Duration(len(c.Providers.OSRM.Servers)) * c.Providers.OSRM.Timeout
	if orsEnabled {
		d += c.Providers.ORS.Timeout
	}
	return d
}
