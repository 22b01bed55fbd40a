package vectorstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomengine/loom/internal/accel"

	_ "modernc.org/sqlite"
)

// Store is a persistent, versioned, per-named vector store backed by
// sqlite. Its shape mirrors the teacher's SQLiteStore: a single *sql.DB, a
// mutex-guarded optional in-memory mirror, and an atomic pointer for the
// accelerator swap-in, all sequenced on a single writer per handle.
type Store struct {
	db     *sql.DB
	cfg    Config
	meta   *Meta
	logger *slog.Logger

	writeMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[int64]*Record // nil when cache disabled

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	accelMu     sync.Mutex
	acc         *accel.Accelerator
	accelFailed bool
}

// Open opens (creating if necessary) the sqlite-backed store at dbPath,
// running the base schema and the open/upgrade protocol against cfg.
func Open(ctx context.Context, dbPath string, cfg Config, migrations []Migration) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0", ErrDimensionMismatch)
	}
	if cfg.SchemaVersion < 1 {
		cfg.SchemaVersion = 1
	}
	if cfg.Format == Binary {
		cfg.Normalize = false
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("vectorstore: create db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, Backend(err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, Backend(err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, Backend(err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, Backend(err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous = NORMAL`); err != nil {
		db.Close()
		return nil, Backend(err)
	}

	if err := ensureBaseSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	meta, err := openOrUpgrade(ctx, db, cfg, migrations)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		meta:   meta,
		logger: slog.Default().With("component", "vectorstore", "store", cfg.Name),
	}

	if cfg.Cache {
		if err := s.loadCache(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) loadCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, format, vector, meta, created_at_ms, updated_at_ms FROM vectorstore_records`)
	if err != nil {
		return Backend(err)
	}
	defer rows.Close()

	cache := make(map[int64]*Record)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		cache[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return Backend(err)
	}

	s.cacheMu.Lock()
	s.cache = cache
	s.cacheMu.Unlock()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (*Record, error) {
	var rec Record
	var format string
	var metaJSON string
	var createdMs, updatedMs int64
	if err := r.Scan(&rec.ID, &format, &rec.Vector, &metaJSON, &createdMs, &updatedMs); err != nil {
		return nil, Backend(err)
	}
	rec.Format = Format(format)
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &rec.Meta); err != nil {
			return nil, fmt.Errorf("vectorstore: unmarshal meta: %w", err)
		}
	}
	return &rec, nil
}

// Upsert packs vector according to format and writes it under id (or a
// freshly auto-assigned id when id is nil). See packDense/packBits for the
// per-format packing rules.
func (s *Store) Upsert(ctx context.Context, id *int64, format Format, vector any, meta map[string]any) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var packed []byte
	var err error
	switch format {
	case Dense:
		floats, ok := vector.([]float32)
		if !ok {
			return 0, fmt.Errorf("%w: dense vector must be []float32, got %T", ErrFormatMismatch, vector)
		}
		packed, err = packDense(floats, s.cfg.Dimension, s.cfg.Normalize)
	case Binary:
		packed, err = packBits(vector, s.cfg.Dimension)
	default:
		return 0, fmt.Errorf("%w: unknown format %q", ErrFormatMismatch, format)
	}
	if err != nil {
		return 0, err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: marshal meta: %w", err)
	}

	now := time.Now().UnixMilli()

	var resultID int64
	if id == nil {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO vectorstore_records (format, vector, meta, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?)`, string(format), packed, string(metaJSON), now, now)
		if err != nil {
			return 0, Backend(err)
		}
		resultID, err = res.LastInsertId()
		if err != nil {
			return 0, Backend(err)
		}
	} else {
		resultID = *id
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO vectorstore_records (id, format, vector, meta, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				format = excluded.format,
				vector = excluded.vector,
				meta = excluded.meta,
				updated_at_ms = excluded.updated_at_ms`,
			resultID, string(format), packed, string(metaJSON), now, now)
		if err != nil {
			return 0, Backend(err)
		}
	}

	createdAtMs := now
	if id != nil {
		// This may have been an update, not an insert: read the row's true
		// created_at_ms back so the cache mirror stays honest for Export.
		if err := s.db.QueryRowContext(ctx,
			`SELECT created_at_ms FROM vectorstore_records WHERE id = ?`, resultID,
		).Scan(&createdAtMs); err != nil {
			return 0, Backend(err)
		}
	}

	rec := &Record{
		ID: resultID, Format: format, Vector: packed, Meta: meta,
		CreatedAt: time.UnixMilli(createdAtMs), UpdatedAt: time.UnixMilli(now),
	}
	s.cacheMu.Lock()
	if s.cache != nil {
		s.cache[resultID] = rec
	}
	s.cacheMu.Unlock()

	s.appendAudit(ctx, resultID, "upsert")

	return resultID, nil
}

// Get returns a single record by id.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	if s.cfg.Cache {
		s.cacheMu.RLock()
		rec, ok := s.cache[id]
		s.cacheMu.RUnlock()
		if ok {
			s.cacheHits.Add(1)
			return rec, nil
		}
		s.cacheMisses.Add(1)
		return nil, NotFound(id)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, format, vector, meta, created_at_ms, updated_at_ms
		FROM vectorstore_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, NotFound(id)
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM vectorstore_records WHERE id = ?`, id)
	if err != nil {
		return Backend(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Backend(err)
	}
	if n == 0 {
		return NotFound(id)
	}

	s.cacheMu.Lock()
	if s.cache != nil {
		delete(s.cache, id)
	}
	s.cacheMu.Unlock()

	s.appendAudit(ctx, id, "delete")
	return nil
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s.cfg.Cache {
		s.cacheMu.RLock()
		defer s.cacheMu.RUnlock()
		return int64(len(s.cache)), nil
	}
	var n int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectorstore_records`)
	if err := row.Scan(&n); err != nil {
		return 0, Backend(err)
	}
	return n, nil
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectorstore_records`); err != nil {
		return Backend(err)
	}

	s.cacheMu.Lock()
	if s.cache != nil {
		s.cache = make(map[int64]*Record)
	}
	s.cacheMu.Unlock()

	s.appendAudit(ctx, 0, "clear")
	return nil
}

func (s *Store) appendAudit(ctx context.Context, recordID int64, operation string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vectorstore_audit (store_name, record_id, operation, created_at_ms)
		VALUES (?, ?, ?, ?)`, s.cfg.Name, recordID, operation, time.Now().UnixMilli())
	if err != nil {
		s.logger.Warn("audit append failed", "operation", operation, "error", err)
	}
}

// Query runs a top-K search using a bounded min-heap, scanning either the
// in-memory mirror (cache enabled) or the backing table in id order.
func (s *Store) Query(ctx context.Context, opts QueryOpts) ([]ScoredRecord, error) {
	if opts.K <= 0 {
		return nil, nil
	}

	scorer, err := s.buildScorer(ctx, opts)
	if err != nil {
		return nil, err
	}

	collector := newTopKCollector(opts.K)
	examined := 0

	visit := func(rec *Record) bool {
		if opts.Predicate != nil && !opts.Predicate(rec.Meta) {
			return true
		}
		score, ok := scorer(rec)
		if !ok {
			return true
		}
		collector.Offer(scoredItem{id: rec.ID, score: score, record: rec})
		examined++
		return opts.MaxCandidates <= 0 || examined < opts.MaxCandidates
	}

	if s.cfg.Cache {
		s.cacheMu.RLock()
		ids := make([]int64, 0, len(s.cache))
		for id := range s.cache {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if !visit(s.cache[id]) {
				break
			}
		}
		s.cacheMu.RUnlock()
	} else {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, format, vector, meta, created_at_ms, updated_at_ms
			FROM vectorstore_records ORDER BY id ASC`)
		if err != nil {
			return nil, Backend(err)
		}
		defer rows.Close()
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return nil, err
			}
			if !visit(rec) {
				break
			}
		}
		if err := rows.Err(); err != nil {
			return nil, Backend(err)
		}
	}

	drained := collector.Drain()
	out := make([]ScoredRecord, len(drained))
	for i, item := range drained {
		out[i] = ScoredRecord{Record: *item.record, Score: item.score}
	}
	return out, nil
}

// buildScorer prepares the query vector once and returns a per-candidate
// scoring closure, dispatching on the candidate's own stored format so a
// mixed store scores each record correctly.
func (s *Store) buildScorer(ctx context.Context, opts QueryOpts) (func(*Record) (float64, bool), error) {
	distance := opts.Distance
	if distance == "" {
		distance = Cosine
	}

	switch v := opts.Query.(type) {
	case []float32:
		q := v
		if s.cfg.Normalize && distance == Cosine {
			q = normalizeVector(q)
		}
		return func(rec *Record) (float64, bool) {
			if rec.Format != Dense {
				return 0, false
			}
			candidate := unpackDense(rec.Vector)
			if distance == Euclidean {
				return euclideanScore(q, candidate), true
			}
			return cosineScore(q, candidate), true
		}, nil
	default:
		packed, err := packBits(opts.Query, s.cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return func(rec *Record) (float64, bool) {
			if rec.Format != Binary {
				return 0, false
			}
			dist, derr := s.hamming(ctx, packed, rec.Vector)
			if derr != nil {
				s.logger.Warn("hamming distance failed", "error", derr)
				return 0, false
			}
			return -float64(dist), true
		}, nil
	}
}

func (s *Store) hamming(ctx context.Context, a, b []byte) (int, error) {
	s.accelMu.Lock()
	acc := s.acc
	failed := s.accelFailed
	s.accelMu.Unlock()

	if acc != nil && !failed {
		d, err := acc.Hamming(ctx, a, b)
		if err == nil {
			return d, nil
		}
		s.logger.Warn("accelerated hamming call failed, falling back permanently for this session", "error", err)
		s.accelMu.Lock()
		s.accelFailed = true
		s.accelMu.Unlock()
	}
	return hammingFallback(a, b), nil
}

// EnableAccel attempts to load a native-accelerated popcount module. On any
// failure to load, link, or locate the export, it logs a warning and the
// store falls back to the in-language popcount table permanently for this
// session -- this is the spec's stated default, not the stricter
// fail-enable_accel alternative.
func (s *Store) EnableAccel(ctx context.Context, wasmBytes []byte) error {
	acc, err := accel.Load(ctx, wasmBytes)
	if err != nil {
		s.logger.Warn("accel module load failed, using fallback popcount for this session", "error", err)
		s.accelMu.Lock()
		s.accelFailed = true
		s.accelMu.Unlock()
		return err
	}
	s.accelMu.Lock()
	s.acc = acc
	s.accelFailed = false
	s.accelMu.Unlock()
	return nil
}

// Export emits the full store contents for backup or for the memory-bank /
// plot-card-index serialization forms.
func (s *Store) Export(ctx context.Context) (*Export, error) {
	exp := &Export{Schema: *s.meta}

	visit := func(rec *Record) {
		ev := ExportedVector{
			ID: rec.ID, Format: rec.Format, Meta: rec.Meta,
			CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
		}
		if rec.Format == Dense {
			ev.Floats = unpackDense(rec.Vector)
		} else {
			ev.Bytes = append([]byte(nil), rec.Vector...)
		}
		exp.Vectors = append(exp.Vectors, ev)
	}

	if s.cfg.Cache {
		s.cacheMu.RLock()
		ids := make([]int64, 0, len(s.cache))
		for id := range s.cache {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			visit(s.cache[id])
		}
		s.cacheMu.RUnlock()
		return exp, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, format, vector, meta, created_at_ms, updated_at_ms
		FROM vectorstore_records ORDER BY id ASC`)
	if err != nil {
		return nil, Backend(err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		visit(rec)
	}
	return exp, rows.Err()
}

// Import upserts every exported vector under its original id and format.
// Schema compatibility is the caller's responsibility; a dimension that
// disagrees with the store's own raises DimensionMismatch.
func (s *Store) Import(ctx context.Context, exp *Export, clearBefore bool) error {
	if clearBefore {
		if err := s.Clear(ctx); err != nil {
			return err
		}
	}
	for _, ev := range exp.Vectors {
		id := ev.ID
		var vector any
		if ev.Format == Dense {
			vector = ev.Floats
		} else {
			vector = ev.Bytes
		}
		if _, err := s.Upsert(ctx, &id, ev.Format, vector, ev.Meta); err != nil {
			return err
		}
	}
	return nil
}

// Stats mirrors the teacher's GetExtendedStats shape.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN format = 'dense' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN format = 'binary' THEN 1 ELSE 0 END), 0)
		FROM vectorstore_records`)
	if err := row.Scan(&stats.RecordCount, &stats.DenseCount, &stats.BinaryCount); err != nil {
		return nil, Backend(err)
	}

	log, err := migrationLog(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if len(log) > 0 {
		last := log[len(log)-1]
		stats.LastMigration = &last
	}

	stats.CacheHits = s.cacheHits.Load()
	stats.CacheMisses = s.cacheMisses.Load()

	s.accelMu.Lock()
	stats.AcceleratedPath = s.acc != nil && !s.accelFailed
	stats.AccelLoadFailed = s.accelFailed
	s.accelMu.Unlock()

	return stats, nil
}

// Snapshot writes a point-in-time backup to path using sqlite's VACUUM
// INTO, grounded on the teacher's GenerateSnapshot.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("vectorstore: create snapshot directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return Backend(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vectorstore: rename snapshot into place: %w", err)
	}
	return nil
}

// Meta returns the store's current persisted meta row.
func (s *Store) Meta() Meta { return *s.meta }

// Close releases the underlying database handle and any loaded accelerator.
func (s *Store) Close(ctx context.Context) error {
	s.accelMu.Lock()
	if s.acc != nil {
		_ = s.acc.Close(ctx)
		s.acc = nil
	}
	s.accelMu.Unlock()
	return s.db.Close()
}
