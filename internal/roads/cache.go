// Package roads snaps points onto the nearest road using road geometry
// fetched from OpenStreetMap.
package roads

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/FooledKiwi/carepath/internal/geo"
	"github.com/FooledKiwi/carepath/internal/osm"
)

const (
	// tilePrecision is the geohash precision of a cached tile, a cell of
	// roughly 5 km by 5 km.
	tilePrecision = 5

	// tileMarginKm widens every tile so roads just across a tile edge are
	// still candidates.
	tileMarginKm = 2.0

	// loadTimeout bounds one tile load, independent of the caller that
	// triggered it.
	loadTimeout = 90 * time.Second
)

// Source provides road geometry for a bounding box.
type Source interface {
	Roads(ctx context.Context, bbox geo.BBox) ([]osm.Road, error)
}

// Cache holds road geometry per geohash tile for the lifetime of the process.
// Tiles are loaded lazily; concurrent loads of the same tile share one
// request. There is no eviction: Invalidate drops everything.
type Cache struct {
	src   Source
	group singleflight.Group

	mu    sync.RWMutex
	tiles map[string][]osm.Road
}

// NewCache creates an empty cache over src.
func NewCache(src Source) *Cache {
	return &Cache{src: src, tiles: make(map[string][]osm.Road)}
}

// TileKey returns the key of the tile containing p.
func TileKey(p geo.Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, tilePrecision)
}

// TileBBox returns the area fetched for tile key, margin included.
func TileBBox(key string) geo.BBox {
	box := geohash.BoundingBox(key)
	return geo.BBox{
		MinLat: box.MinLat,
		MinLon: box.MinLng,
		MaxLat: box.MaxLat,
		MaxLon: box.MaxLng,
	}.Expand(tileMarginKm)
}

// RoadsNear returns the cached roads of the tile containing p, loading the
// tile on first use.
func (c *Cache) RoadsNear(ctx context.Context, p geo.Point) ([]osm.Road, error) {
	key := TileKey(p)

	c.mu.RLock()
	roads, ok := c.tiles[key]
	c.mu.RUnlock()
	if ok {
		return roads, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The load outlives the first caller so that waiters sharing it are
		// not cancelled with it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		began := time.Now()
		roads, err := c.src.Roads(loadCtx, TileBBox(key))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.tiles[key] = roads
		c.mu.Unlock()

		log.Debug().
			Str("tile", key).
			Int("roads", len(roads)).
			Dur("elapsed", time.Since(began)).
			Msg("road tile loaded")
		return roads, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("roads: load tile %s: %w", key, res.Err)
		}
		return res.Val.([]osm.Road), nil
	}
}

// Invalidate drops every cached tile and returns how many were dropped.
func (c *Cache) Invalidate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.tiles)
	c.tiles = make(map[string][]osm.Road)
	return n
}

// Len returns the number of cached tiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tiles)
}
