package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/FooledKiwi/carepath/internal/geo"
)

// writeTimeout bounds a single history insert.
const writeTimeout = 3 * time.Second

// Open connects to dsn through lib/pq.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// PostgresRecorder writes entries to route_history.
type PostgresRecorder struct {
	db *sqlx.DB
}

// NewPostgresRecorder creates a recorder on db.
func NewPostgresRecorder(db *sqlx.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record implements Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	const query = `
		INSERT INTO route_history (
			request_id, session_id,
			start_lat, start_lon, end_lat, end_lon,
			profile, method, success, is_direct, cached,
			distance_km, duration_s, attempts, error, elapsed_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	attempts := e.Attempts
	if attempts == nil {
		attempts = []string{}
	}
	startLat, startLon := nullCoords(e.Start)
	endLat, endLon := nullCoords(e.End)

	_, err := r.db.ExecContext(ctx, query,
		e.RequestID, nullString(e.SessionID),
		startLat, startLon, endLat, endLon,
		e.Profile, e.Method, e.Success, e.IsDirect, e.Cached,
		e.DistanceKm, e.DurationSec, pq.Array(attempts), nullString(e.Error), e.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Stats returns aggregates over entries created at or after since.
func (r *PostgresRecorder) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	const totals = `
		SELECT
			COUNT(*)                                  AS total,
			COUNT(*) FILTER (WHERE success)           AS successful,
			COUNT(*) FILTER (WHERE is_direct)         AS direct,
			COUNT(*) FILTER (WHERE cached)            AS cached,
			COALESCE(AVG(elapsed_ms), 0)::float8      AS avg_elapsed_ms
		FROM route_history
		WHERE created_at >= $1`

	st := Stats{Since: since, ByMethod: make(map[string]int64)}
	if err := r.db.GetContext(ctx, &st, totals, since); err != nil {
		return nil, fmt.Errorf("history: stats: %w", err)
	}

	const byMethod = `
		SELECT method, COUNT(*) AS n
		FROM route_history
		WHERE created_at >= $1 AND method <> ''
		GROUP BY method`

	var rows []struct {
		Method string `db:"method"`
		N      int64  `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, byMethod, since); err != nil {
		return nil, fmt.Errorf("history: stats by method: %w", err)
	}
	for _, row := range rows {
		st.ByMethod[row.Method] = row.N
	}
	return &st, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullCoords(p *geo.Point) (lat, lon sql.NullFloat64) {
	if p == nil {
		return lat, lon
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lon, Valid: true}
}
