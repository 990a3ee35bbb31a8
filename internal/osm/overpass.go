// Package osm fetches healthcare facilities and road geometry from an
// Overpass API endpoint.
package osm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/serjvanilla/go-overpass"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
)

const (
	// DefaultEndpoint is the main public Overpass instance.
	DefaultEndpoint = "https://overpass-api.de/api/interpreter"

	// DefaultTimeout bounds one Overpass query.
	DefaultTimeout = 60 * time.Second

	// maxParallel limits concurrent queries against the public instance.
	maxParallel = 2
)

// ErrEmptyBBox is returned for a bounding box with no area.
var ErrEmptyBBox = errors.New("osm: empty bounding box")

// Road is a highway way with its ordered node geometry.
type Road struct {
	ID      int64
	Highway string
	Name    string
	Path    []geo.Point
}

// Client wraps an Overpass client. The underlying library is not
// context-aware, so each query runs in its own goroutine and the caller stops
// waiting when ctx is done.
type Client struct {
	client  *overpass.Client
	timeout time.Duration
}

// NewClient creates a Client for endpoint. An empty endpoint selects
// DefaultEndpoint and a zero timeout DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, maxParallel, httpClient)
	return &Client{
		client:  &client,
		timeout: timeout,
	}
}

// Facilities returns every healthcare facility inside bbox. Ways are reduced
// to the centroid of their nodes. The result is ordered by OSM type and id.
func (c *Client) Facilities(ctx context.Context, bbox geo.BBox) ([]facility.Facility, error) {
	if err := checkBBox(bbox); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		[out:json][timeout:%d];
		(
			node["amenity"~"^(hospital|clinic|doctors|dentist)$"](%[2]s);
			way["amenity"~"^(hospital|clinic|doctors|dentist)$"](%[2]s);
			node["healthcare"](%[2]s);
			way["healthcare"](%[2]s);
		);
		out body;
		>;
		out skel qt;
	`, int(c.timeout.Seconds()), bbox.Overpass())

	result, err := c.executeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("osm: facilities: %w", err)
	}
	return convertFacilities(result), nil
}

// Roads returns the drivable highway ways inside bbox, ordered by id.
func (c *Client) Roads(ctx context.Context, bbox geo.BBox) ([]Road, error) {
	if err := checkBBox(bbox); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		[out:json][timeout:%d];
		(
			way["highway"~"^(motorway|trunk|primary|secondary|tertiary|residential|unclassified)$"](%s);
		);
		out body;
		>;
		out skel qt;
	`, int(c.timeout.Seconds()), bbox.Overpass())

	result, err := c.executeQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("osm: roads: %w", err)
	}
	return convertRoads(result), nil
}

func (c *Client) executeQuery(ctx context.Context, query string) (*overpass.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.client.Query(query)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("overpass query abandoned: %w", ctx.Err())
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", o.err)
		}
		return &o.result, nil
	}
}

func convertFacilities(result *overpass.Result) []facility.Facility {
	var out []facility.Facility

	for _, node := range result.Nodes {
		if len(node.Tags) == 0 {
			// Way members fetched by the recursion step carry no tags.
			continue
		}
		f, ok := facility.FromTags(string(overpass.ElementTypeNode), node.ID, geo.Point{Lat: node.Lat, Lon: node.Lon}, node.Tags)
		if ok {
			out = append(out, f)
		}
	}

	for _, way := range result.Ways {
		loc, ok := centroid(way)
		if !ok {
			continue
		}
		f, ok := facility.FromTags(string(overpass.ElementTypeWay), way.ID, loc, way.Tags)
		if ok {
			out = append(out, f)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OSMType != out[j].OSMType {
			return out[i].OSMType < out[j].OSMType
		}
		return out[i].OSMID < out[j].OSMID
	})
	return out
}

func convertRoads(result *overpass.Result) []Road {
	out := make([]Road, 0, len(result.Ways))
	for _, way := range result.Ways {
		path := make([]geo.Point, 0, len(way.Nodes))
		for _, n := range way.Nodes {
			if n == nil || (n.Lat == 0 && n.Lon == 0) {
				continue
			}
			path = append(path, geo.Point{Lat: n.Lat, Lon: n.Lon})
		}
		if len(path) < 2 {
			continue
		}
		out = append(out, Road{
			ID:      way.ID,
			Highway: way.Tags["highway"],
			Name:    way.Tags["name"],
			Path:    path,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// centroid averages the resolved node coordinates of way, falling back to the
// centre of its bounds.
func centroid(way *overpass.Way) (geo.Point, bool) {
	var lat, lon float64
	var count int
	for _, n := range way.Nodes {
		if n == nil || (n.Lat == 0 && n.Lon == 0) {
			continue
		}
		lat += n.Lat
		lon += n.Lon
		count++
	}
	if count > 0 {
		return geo.Point{Lat: lat / float64(count), Lon: lon / float64(count)}, true
	}
	if way.Bounds != nil {
		return geo.Point{
			Lat: (way.Bounds.Min.Lat + way.Bounds.Max.Lat) / 2,
			Lon: (way.Bounds.Min.Lon + way.Bounds.Max.Lon) / 2,
		}, true
	}
	return geo.Point{}, false
}

func checkBBox(b geo.BBox) error {
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("%w: %+v", ErrEmptyBBox, b)
	}
	return nil
}
