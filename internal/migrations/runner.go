// Package migrations applies the embedded carepath schema at startup.
//
// Files are named NNN_description.sql and run in numeric order, each in its
// own transaction. schema_migrations records the version and a SHA-256 of the
// file; an applied file whose content changed afterwards stops startup.
//
// The server and cmd/facility-sync both migrate, so Run holds a Postgres
// advisory lock while it works. 001_facilities.sql needs the PostGIS
// extension to be installable by the connecting role.
package migrations

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed *.sql
var sqlFiles embed.FS

// lockKey is the pg_advisory_lock key shared by every carepath process.
const lockKey int64 = 0x63617265 // "care"

// ErrChecksumMismatch reports an applied migration whose file was edited.
var ErrChecksumMismatch = errors.New("migrations: applied file changed")

var fileName = regexp.MustCompile(`^(\d{3})_[a-z0-9_]+\.sql$`)

type migration struct {
	version  string
	sql      string
	checksum string
}

// Run applies every pending migration and verifies the checksums of the ones
// already applied.
func Run(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := load(sqlFiles)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("migrations: acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("migrations: lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey)
	}()

	if _, err := conn.Exec(ctx, trackingDDL); err != nil {
		return fmt.Errorf("migrations: tracking table: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT version, COALESCE(checksum, '') FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrations: read applied: %w", err)
	}
	applied := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			rows.Close()
			return fmt.Errorf("migrations: read applied: %w", err)
		}
		applied[v] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrations: read applied: %w", err)
	}

	var done []string
	for _, m := range files {
		sum, ok := applied[m.version]
		switch {
		case !ok:
			if err := apply(ctx, conn, m); err != nil {
				return fmt.Errorf("migrations: apply %s: %w", m.version, err)
			}
			done = append(done, m.version)
		case sum == "":
			// Recorded before checksums were tracked.
			if _, err := conn.Exec(ctx, `UPDATE schema_migrations SET checksum = $2 WHERE version = $1`, m.version, m.checksum); err != nil {
				return fmt.Errorf("migrations: backfill checksum %s: %w", m.version, err)
			}
		case sum != m.checksum:
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, m.version)
		}
	}

	if len(done) == 0 {
		log.Info().Int("migrations", len(files)).Msg("schema is up to date")
	} else {
		log.Info().Strs("applied", done).Msg("schema migrated")
	}
	return nil
}

// trackingDDL mirrors 000_migrations_table.sql so the table exists before the
// first file is read.
const trackingDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    VARCHAR(255) PRIMARY KEY,
    checksum   CHAR(64),
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum CHAR(64);`

func apply(ctx context.Context, conn *pgxpool.Conn, m migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)
		 ON CONFLICT (version) DO UPDATE SET checksum = EXCLUDED.checksum`,
		m.version, m.checksum,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Info().Str("version", m.version).Str("checksum", m.checksum[:12]).Msg("migration applied")
	return nil
}

// load reads NNN_*.sql files from fsys in version order. Misnamed files and
// duplicate numbers are errors.
func load(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	seen := make(map[string]string)
	var out []migration
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".sql") {
			continue
		}
		match := fileName.FindStringSubmatch(de.Name())
		if match == nil {
			return nil, fmt.Errorf("%s: want NNN_description.sql", de.Name())
		}
		if prev, dup := seen[match[1]]; dup {
			return nil, fmt.Errorf("%s and %s share number %s", prev, de.Name(), match[1])
		}
		seen[match[1]] = de.Name()

		content, err := fs.ReadFile(fsys, de.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", de.Name(), err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{version: de.Name(), sql: string(content), checksum: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// RequiredTables are the tables CheckSchema expects after Run.
var RequiredTables = []string{
	"facilities",
	"route_cache",
	"operators",
	"refresh_tokens",
	"route_history",
}

// CheckSchema reports every table of RequiredTables missing from the public
// schema in one error.
func CheckSchema(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT t
		FROM unnest($1::text[]) AS t
		WHERE NOT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = t
		)`, RequiredTables)
	if err != nil {
		return fmt.Errorf("migrations: check schema: %w", err)
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return fmt.Errorf("migrations: check schema: %w", err)
		}
		missing = append(missing, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrations: check schema: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("migrations: missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}
