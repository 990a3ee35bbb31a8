package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/FooledKiwi/carepath/internal/geo"
)

const (
	// orsBaseURL is the public OpenRouteService API.
	orsBaseURL = "https://api.openrouteservice.org"

	// providerTimeout bounds a single provider or server call.
	providerTimeout = 10 * time.Second

	// httpMaxIdleConns is the maximum number of idle (keep-alive) connections
	// kept in the transport pool across all hosts.
	httpMaxIdleConns = 10

	// httpIdleConnTimeout is how long an idle connection is kept in the pool
	// before being closed.
	httpIdleConnTimeout = 30 * time.Second

	// orsMinKeyLength rejects truncated or obviously fake keys.
	orsMinKeyLength = 32
)

var orsKeyPattern = regexp.MustCompile(`^[A-Za-z0-9=_-]+$`)

// orsPlaceholderKeys are the values shipped in sample .env files.
var orsPlaceholderKeys = []string{
	"your_api_key",
	"your_api_key_here",
	"your_ors_api_key",
	"ors_api_key",
	"changeme",
	"replace_me",
	"xxx",
}

// ValidORSKey reports whether key looks like a usable OpenRouteService key.
// Empty values and whole-key placeholders disable the provider.
func ValidORSKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	lower := strings.ToLower(key)
	for _, p := range orsPlaceholderKeys {
		if lower == p {
			return false
		}
	}
	return len(key) >= orsMinKeyLength && orsKeyPattern.MatchString(key)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        httpMaxIdleConns,
			MaxIdleConnsPerHost: httpMaxIdleConns,
			IdleConnTimeout:     httpIdleConnTimeout,
		},
	}
}

// ORSProvider queries the OpenRouteService directions API.
type ORSProvider struct {
	apiKey     string
	baseURL    string
	language   string
	preference string
	timeout    time.Duration
	httpClient *http.Client
}

// ORSOption configures an ORSProvider.
type ORSOption func(*ORSProvider)

// WithORSBaseURL points the provider at another ORS instance.
func WithORSBaseURL(u string) ORSOption {
	return func(p *ORSProvider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithORSLanguage sets the instruction language (default "en").
func WithORSLanguage(lang string) ORSOption {
	return func(p *ORSProvider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithORSPreference sets the default route preference (default "recommended").
func WithORSPreference(pref string) ORSOption {
	return func(p *ORSProvider) {
		if pref != "" {
			p.preference = pref
		}
	}
}

// WithORSTimeout overrides the per-call timeout.
func WithORSTimeout(d time.Duration) ORSOption {
	return func(p *ORSProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewORSProvider creates the OpenRouteService adapter. It returns
// ErrProviderDisabled when apiKey is missing or a placeholder, so the caller
// can leave ORS out of the chain.
func NewORSProvider(apiKey string, opts ...ORSOption) (*ORSProvider, error) {
	if !ValidORSKey(apiKey) {
		return nil, fmt.Errorf("routing: ors: %w: api key missing or malformed", ErrProviderDisabled)
	}
	p := &ORSProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    orsBaseURL,
		language:   "en",
		preference: "recommended",
		timeout:    providerTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	p.httpClient = newHTTPClient(p.timeout)
	return p, nil
}

// Name implements Provider.
func (p *ORSProvider) Name() Method { return MethodORS }

// TryRoute implements Provider.
func (p *ORSProvider) TryRoute(ctx context.Context, start, end geo.Point, opts Options) (*RouteResult, error) {
	body := orsRequest{
		Coordinates: [][2]float64{start.LonLat(), end.LonLat()},
		Preference:  p.preference,
		Units:       "m",
		Language:    p.language,
	}
	if opts.Preference != "" {
		body.Preference = opts.Preference
	}
	if opts.Alternatives {
		body.AlternativeRoutes = &orsAlternatives{TargetCount: 2, WeightFactor: 1.4}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("routing: ors: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", p.baseURL, orsProfile(opts.profile()))
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("routing: ors: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/geo+json, application/json")
	httpReq.Header.Set("Authorization", p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("routing: ors: http: %w: %w", ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("routing: ors: read response: %w: %w", ErrProviderUnavailable, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("routing: ors: %w: status %d: %s", ErrProviderUnavailable, httpResp.StatusCode, truncate(respBytes, 200))
	}

	return parseORSResponse(respBytes)
}

// parseORSResponse turns a directions FeatureCollection into a RouteResult.
// The first feature is the main route; the rest are alternatives.
func parseORSResponse(data []byte) (*RouteResult, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("routing: ors: %w: decode geojson: %v", ErrProviderUnavailable, err)
	}
	var meta orsResponse
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("routing: ors: %w: decode properties: %v", ErrProviderUnavailable, err)
	}
	if len(fc.Features) == 0 || len(meta.Features) != len(fc.Features) {
		return nil, fmt.Errorf("routing: ors: %w: no routes returned", ErrProviderUnavailable)
	}

	routes := make([]Alternative, 0, len(fc.Features))
	for i, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok || len(ls) < 2 {
			return nil, fmt.Errorf("routing: ors: %w: feature %d has no line geometry", ErrProviderUnavailable, i)
		}
		distM, durS, ok := meta.Features[i].Properties.totals()
		if !ok {
			return nil, fmt.Errorf("routing: ors: %w: feature %d has no segments", ErrProviderUnavailable, i)
		}
		routes = append(routes, Alternative{
			Geometry:    lineToPoints(ls),
			DistanceKm:  distM / 1000,
			DurationSec: durS,
		})
	}

	main := routes[0]
	return &RouteResult{
		Geometry:     main.Geometry,
		DistanceKm:   main.DistanceKm,
		DurationSec:  main.DurationSec,
		Alternatives: routes[1:],
	}, nil
}

func lineToPoints(ls orb.LineString) []geo.Point {
	out := make([]geo.Point, len(ls))
	for i, pt := range ls {
		out[i] = geo.FromLonLat([2]float64(pt))
	}
	return out
}

func orsProfile(p Profile) string {
	switch p {
	case ProfileCycling:
		return "cycling-regular"
	case ProfileWalking:
		return "foot-walking"
	default:
		return "driving-car"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// --- JSON types for the OpenRouteService directions API ---

type orsRequest struct {
	Coordinates       [][2]float64     `json:"coordinates"`
	Preference        string           `json:"preference,omitempty"`
	Units             string           `json:"units"`
	Language          string           `json:"language,omitempty"`
	AlternativeRoutes *orsAlternatives `json:"alternative_routes,omitempty"`
}

type orsAlternatives struct {
	TargetCount  int     `json:"target_count"`
	WeightFactor float64 `json:"weight_factor"`
}

type orsResponse struct {
	Features []orsFeature `json:"features"`
}

type orsFeature struct {
	Properties orsProperties `json:"properties"`
}

type orsProperties struct {
	Segments []orsSummary `json:"segments"`
	Summary  *orsSummary  `json:"summary"`
}

type orsSummary struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
}

// totals returns the route distance (m) and duration (s). The first segment
// is authoritative for a two-waypoint request; the summary covers responses
// that omit segments.
func (p orsProperties) totals() (distM, durS float64, ok bool) {
	if len(p.Segments) > 0 {
		return p.Segments[0].Distance, p.Segments[0].Duration, true
	}
	if p.Summary != nil {
		return p.Summary.Distance, p.Summary.Duration, true
	}
	return 0, 0, false
}
