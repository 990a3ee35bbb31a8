package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// DefaultOSRMServers are tried in order when no servers are configured.
var DefaultOSRMServers = []string{
	"https://router.project-osrm.org",
	"https://routing.openstreetmap.de/routed-car",
}

// OSRMProvider queries a list of OSRM servers in order and returns the first
// usable route. A server that errors, times out or answers with a non-"Ok"
// code is skipped.
type OSRMProvider struct {
	servers    []string
	timeout    time.Duration
	httpClient *http.Client
}

// OSRMOption configures an OSRMProvider.
type OSRMOption func(*OSRMProvider)

// WithOSRMTimeout overrides the per-server timeout.
func WithOSRMTimeout(d time.Duration) OSRMOption {
	return func(p *OSRMProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewOSRMProvider creates the OSRM adapter. An empty servers list selects
// DefaultOSRMServers.
func NewOSRMProvider(servers []string, opts ...OSRMOption) *OSRMProvider {
	if len(servers) == 0 {
		servers = DefaultOSRMServers
	}
	cleaned := make([]string, 0, len(servers))
	for _, s := range servers {
		if s = strings.TrimRight(strings.TrimSpace(s), "/"); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	p := &OSRMProvider{servers: cleaned, timeout: providerTimeout}
	for _, o := range opts {
		o(p)
	}
	p.httpClient = newHTTPClient(p.timeout)
	return p
}

// Name implements Provider.
func (p *OSRMProvider) Name() Method { return MethodOSRM }

// Servers returns the configured base URLs in query order.
func (p *OSRMProvider) Servers() []string {
	return append([]string(nil), p.servers...)
}

// TryRoute implements Provider. Servers are tried in order; the returned error
// joins every per-server failure.
func (p *OSRMProvider) TryRoute(ctx context.Context, start, end geo.Point, opts Options) (*RouteResult, error) {
	var errs []error
	for _, server := range p.servers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := p.queryServer(ctx, server, start, end, opts)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("routing: osrm: %w: %w", ErrProviderUnavailable, errors.Join(errs...))
}

func (p *OSRMProvider) queryServer(ctx context.Context, server string, start, end geo.Point, opts Options) (*RouteResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, osrmRouteURL(server, start, end, opts), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", server, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: http: %w", server, err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", server, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", server, httpResp.StatusCode, truncate(respBytes, 200))
	}

	res, err := parseOSRMResponse(respBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", server, err)
	}
	return res, nil
}

// osrmRouteURL builds a /route/v1 request. OSRM takes "lon,lat" pairs
// separated by ";".
func osrmRouteURL(server string, start, end geo.Point, opts Options) string {
	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", start.Lon, start.Lat, end.Lon, end.Lat)
	q := url.Values{}
	q.Set("overview", "full")
	q.Set("geometries", "geojson")
	q.Set("steps", "false")
	q.Set("alternatives", fmt.Sprintf("%t", opts.Alternatives))
	return fmt.Sprintf("%s/route/v1/%s/%s?%s", server, osrmProfile(opts.profile()), coords, q.Encode())
}

func parseOSRMResponse(data []byte) (*RouteResult, error) {
	var resp osrmResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Code != "Ok" {
		return nil, fmt.Errorf("code %q: %s", resp.Code, resp.Message)
	}
	if len(resp.Routes) == 0 {
		return nil, errors.New("no routes returned")
	}

	routes := make([]Alternative, 0, len(resp.Routes))
	for i, r := range resp.Routes {
		if r.Geometry == nil {
			return nil, fmt.Errorf("route %d has no geometry", i)
		}
		ls, ok := r.Geometry.Geometry().(orb.LineString)
		if !ok || len(ls) < 2 {
			return nil, fmt.Errorf("route %d has no line geometry", i)
		}
		routes = append(routes, Alternative{
			Geometry:    lineToPoints(ls),
			DistanceKm:  r.Distance / 1000,
			DurationSec: r.Duration,
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

func osrmProfile(p Profile) string {
	switch p {
	case ProfileCycling:
		return "cycling"
	case ProfileWalking:
		return "foot"
	default:
		return "driving"
	}
}

// --- JSON types for the OSRM route service ---

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Distance float64           `json:"distance"`
	Duration float64           `json:"duration"`
}
