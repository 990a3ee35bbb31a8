package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FooledKiwi/carepath/internal/facility"
	"github.com/FooledKiwi/carepath/internal/geo"
)

// queryTimeout is applied to every database query.
const queryTimeout = 5 * time.Second

// upsertTimeout bounds a whole facility import batch.
const upsertTimeout = 60 * time.Second

// pgFacilitiesRepository is the pgx-backed implementation of FacilitiesRepository.
type pgFacilitiesRepository struct {
	pool *pgxpool.Pool
}

// NewFacilitiesRepository creates a FacilitiesRepository backed by the given connection pool.
func NewFacilitiesRepository(pool *pgxpool.Pool) FacilitiesRepository {
	return &pgFacilitiesRepository{pool: pool}
}

const facilityColumns = `id, osm_type, osm_id, name, type, level, ST_AsText(geom),
		specialties, emergency, rating, phone, address`

// UpsertFacilities writes fs in a single batch.
func (r *pgFacilitiesRepository) UpsertFacilities(ctx context.Context, fs []facility.Facility) (int, error) {
	if len(fs) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, upsertTimeout)
	defer cancel()

	const q = `
		INSERT INTO facilities
			(osm_type, osm_id, name, type, level, geom, specialties, emergency, rating, phone, address, synced_at)
		VALUES
			($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326), $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (osm_type, osm_id)
		DO UPDATE SET
			name        = EXCLUDED.name,
			type        = EXCLUDED.type,
			level       = EXCLUDED.level,
			geom        = EXCLUDED.geom,
			specialties = EXCLUDED.specialties,
			emergency   = EXCLUDED.emergency,
			rating      = EXCLUDED.rating,
			phone       = EXCLUDED.phone,
			address     = EXCLUDED.address,
			synced_at   = EXCLUDED.synced_at`

	batch := &pgx.Batch{}
	for _, f := range fs {
		specialties := f.Specialties
		if specialties == nil {
			specialties = []string{}
		}
		batch.Queue(q,
			f.OSMType, f.OSMID, f.Name, f.Type, string(f.Level),
			f.Location.Lon, f.Location.Lat,
			specialties, f.Emergency, f.Rating,
			pgtext(f.Phone), pgtext(f.Address),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	written := 0
	for range fs {
		if _, err := br.Exec(); err != nil {
			return written, fmt.Errorf("storage: UpsertFacilities: %w", err)
		}
		written++
	}
	return written, nil
}

// ListFacilitiesIn returns facilities inside bbox using the GiST index on geom.
func (r *pgFacilitiesRepository) ListFacilitiesIn(ctx context.Context, bbox geo.BBox) ([]facility.Facility, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	q := `SELECT ` + facilityColumns + `
		FROM facilities
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY id`

	rows, err := r.pool.Query(ctx, q, bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat)
	if err != nil {
		return nil, fmt.Errorf("storage: ListFacilitiesIn: %w", err)
	}
	defer rows.Close()

	var out []facility.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: ListFacilitiesIn: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: ListFacilitiesIn: %w", err)
	}
	return out, nil
}

// GetFacility returns a single facility by ID, or (nil, nil) if not found.
func (r *pgFacilitiesRepository) GetFacility(ctx context.Context, id int64) (*facility.Facility, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, id)
	f, err := scanFacility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: GetFacility: %w", err)
	}
	return &f, nil
}

// CountFacilities returns the row count and the latest synced_at.
func (r *pgFacilitiesRepository) CountFacilities(ctx context.Context) (int64, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		n      int64
		synced pgtype.Timestamp
	)
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), MAX(synced_at) FROM facilities`).Scan(&n, &synced)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("storage: CountFacilities: %w", err)
	}
	return n, synced.Time, nil
}

// scanFacility reads one row selected with facilityColumns.
func scanFacility(row pgx.Row) (facility.Facility, error) {
	var (
		f       facility.Facility
		level   string
		geomWKT pgtype.Text
		phone   pgtype.Text
		address pgtype.Text
	)
	err := row.Scan(&f.ID, &f.OSMType, &f.OSMID, &f.Name, &f.Type, &level, &geomWKT,
		&f.Specialties, &f.Emergency, &f.Rating, &phone, &address)
	if err != nil {
		return facility.Facility{}, err
	}
	if !geomWKT.Valid {
		return facility.Facility{}, fmt.Errorf("facility id=%d has NULL geometry (data integrity issue)", f.ID)
	}
	loc, err := parsePointWKT(geomWKT.String)
	if err != nil {
		return facility.Facility{}, fmt.Errorf("facility id=%d: parse geometry: %w", f.ID, err)
	}
	f.Location = loc
	f.Level = facility.Level(level)
	f.Phone = phone.String
	f.Address = address.String
	if f.Specialties == nil {
		f.Specialties = []string{}
	}
	return f, nil
}

// parsePointWKT parses a WKT POINT string into a geo.Point.
// PostGIS ST_AsText(GEOMETRY(POINT, 4326)) returns "POINT(lon lat)".
func parsePointWKT(wkt string) (geo.Point, error) {
	wkt = strings.TrimSpace(wkt)
	if !strings.HasPrefix(wkt, "POINT(") || !strings.HasSuffix(wkt, ")") {
		return geo.Point{}, fmt.Errorf("unexpected WKT format: %q", wkt)
	}

	inner := wkt[len("POINT(") : len(wkt)-1]
	parts := strings.Fields(inner)
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("unexpected WKT coordinates: %q", inner)
	}

	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("parse lon %q: %w", parts[0], err)
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("parse lat %q: %w", parts[1], err)
	}

	return geo.NewPoint(lat, lon)
}

// pgtext builds a pgtype.Text from a Go string.
// Empty strings are stored as NULL (Valid=false).
func pgtext(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
