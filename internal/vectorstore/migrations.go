package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// baseSchema creates the bookkeeping tables every store needs regardless of
// its declared schema_version. It is executed once, outside the per-store
// migration registry, exactly as the teacher separates goose's base schema
// from its own RunPluginMigrations loop.
const baseSchema = `
CREATE TABLE IF NOT EXISTS vectorstore_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL,
	dimension INTEGER NOT NULL,
	format TEXT NOT NULL,
	normalize INTEGER NOT NULL,
	indexes TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vectorstore_migrations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	from_version INTEGER NOT NULL,
	to_version INTEGER NOT NULL,
	applied_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vectorstore_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	format TEXT NOT NULL,
	vector BLOB NOT NULL,
	meta TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vectorstore_audit (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	store_name TEXT NOT NULL,
	record_id INTEGER NOT NULL,
	operation TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);
`

// execContext is satisfied by both *sql.DB and *sql.Tx, letting migration
// functions and query helpers share code regardless of whether they run
// inside the upgrade transaction.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureBaseSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, baseSchema)
	if err != nil {
		return Backend(err)
	}
	return nil
}

// openOrUpgrade implements the spec's open/upgrade protocol: compare the
// declared version against the persisted one, and if the store is behind,
// run every registered migration v -> v+1 in one atomic transaction that
// also owns the meta-record update. Registered as (from, to=from+1, fn)
// exactly as the teacher's RunPluginMigrations tracks (version, name,
// applied_at) rows, generalized here into an in-process hop registry
// instead of a single flat list of named migrations.
func openOrUpgrade(ctx context.Context, db *sql.DB, cfg Config, migrations []Migration) (*Meta, error) {
	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()

	if meta == nil {
		// Fresh store: baseline at version 1, not the declared version —
		// a brand new store is no different from one that has simply never
		// been upgraded, so it must still climb every registered hop in
		// [1, declared) and log each one, exactly as an existing store
		// behind the declared version does below.
		indexesJSON, err := json.Marshal(cfg.MetaIndexes)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: marshal indexes: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO vectorstore_meta (id, version, dimension, format, normalize, indexes, created_at_ms, updated_at_ms)
			VALUES (1, 1, ?, ?, ?, ?, ?, ?)`,
			cfg.Dimension, cfg.Format, boolToInt(cfg.Normalize), string(indexesJSON), now, now)
		if err != nil {
			return nil, Backend(err)
		}
		meta = &Meta{
			Version:     1,
			Dimension:   cfg.Dimension,
			Format:      string(cfg.Format),
			Normalize:   cfg.Normalize,
			Indexes:     cfg.MetaIndexes,
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}
		if err := applyMetaIndexes(ctx, db, cfg.MetaIndexes); err != nil {
			return nil, err
		}
	}

	if meta.Version > cfg.SchemaVersion {
		return nil, fmt.Errorf("%w: persisted=%d declared=%d", ErrSchemaNewerThanCode, meta.Version, cfg.SchemaVersion)
	}

	if meta.Version == cfg.SchemaVersion {
		_, err := db.ExecContext(ctx, `UPDATE vectorstore_meta SET updated_at_ms = ? WHERE id = 1`, now)
		if err != nil {
			return nil, Backend(err)
		}
		meta.UpdatedAtMs = now
		return meta, nil
	}

	// meta.Version < cfg.SchemaVersion: run every registered hop in
	// [meta.Version, cfg.SchemaVersion) inside one transaction.
	byFrom := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		byFrom[m.From] = m
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Backend(err)
	}
	defer tx.Rollback() //nolint:errcheck

	applied := make([]MigrationLogEntry, 0, cfg.SchemaVersion-meta.Version)
	versions := make([]int, 0, cfg.SchemaVersion-meta.Version)
	for v := meta.Version; v < cfg.SchemaVersion; v++ {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, v := range versions {
		m, ok := byFrom[v]
		if !ok {
			// A missing consecutive hop is tolerated: log and continue,
			// per spec. The final persisted schema is overwritten below
			// regardless of which hops actually ran.
			slog.Default().With("component", "vectorstore").Warn(
				"missing migration hop, skipping",
				"action", "migration_hop_missing", "from", v, "to", v+1)
			continue
		}
		if err := m.Fn(tx); err != nil {
			return nil, &MigrationError{From: m.From, To: m.To, Cause: err}
		}
		hopNow := time.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vectorstore_migrations (from_version, to_version, applied_at_ms)
			VALUES (?, ?, ?)`, m.From, m.To, hopNow); err != nil {
			return nil, &MigrationError{From: m.From, To: m.To, Cause: err}
		}
		applied = append(applied, MigrationLogEntry{From: m.From, To: m.To})
	}

	indexesJSON, err := json.Marshal(cfg.MetaIndexes)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: marshal indexes: %w", err)
	}
	upgradeNow := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE vectorstore_meta
		SET version = ?, dimension = ?, format = ?, normalize = ?, indexes = ?, updated_at_ms = ?
		WHERE id = 1`,
		cfg.SchemaVersion, cfg.Dimension, string(cfg.Format), boolToInt(cfg.Normalize), string(indexesJSON), upgradeNow); err != nil {
		return nil, Backend(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, Backend(err)
	}

	if err := applyMetaIndexes(ctx, db, cfg.MetaIndexes); err != nil {
		return nil, err
	}

	return &Meta{
		Version:     cfg.SchemaVersion,
		Dimension:   cfg.Dimension,
		Format:      string(cfg.Format),
		Normalize:   cfg.Normalize,
		Indexes:     cfg.MetaIndexes,
		CreatedAtMs: meta.CreatedAtMs,
		UpdatedAtMs: upgradeNow,
	}, nil
}

func readMeta(ctx context.Context, db *sql.DB) (*Meta, error) {
	row := db.QueryRowContext(ctx, `
		SELECT version, dimension, format, normalize, indexes, created_at_ms, updated_at_ms
		FROM vectorstore_meta WHERE id = 1`)
	var m Meta
	var normalizeInt int
	var indexesJSON string
	err := row.Scan(&m.Version, &m.Dimension, &m.Format, &normalizeInt, &indexesJSON, &m.CreatedAtMs, &m.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, Backend(err)
	}
	m.Normalize = normalizeInt != 0
	if indexesJSON != "" {
		if err := json.Unmarshal([]byte(indexesJSON), &m.Indexes); err != nil {
			return nil, fmt.Errorf("vectorstore: unmarshal indexes: %w", err)
		}
	}
	return &m, nil
}

// migrationLog returns every applied (from, to) hop in application order.
func migrationLog(ctx context.Context, db *sql.DB) ([]MigrationLogEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT from_version, to_version FROM vectorstore_migrations ORDER BY seq ASC`)
	if err != nil {
		return nil, Backend(err)
	}
	defer rows.Close()

	var log []MigrationLogEntry
	for rows.Next() {
		var e MigrationLogEntry
		if err := rows.Scan(&e.From, &e.To); err != nil {
			return nil, Backend(err)
		}
		log = append(log, e)
	}
	return log, rows.Err()
}

// applyMetaIndexes creates one non-unique index per configured meta field,
// over the JSON-extracted value, using sqlite's builtin json1 functions.
func applyMetaIndexes(ctx context.Context, db *sql.DB, fields []string) error {
	for _, f := range fields {
		stmt := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_meta_%s ON vectorstore_records(json_extract(meta, '$.%s'))`,
			sanitizeIndexName(f), f)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return Backend(err)
		}
	}
	return nil
}

func sanitizeIndexName(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
