package vectorstore

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
)

func testConfig(name string, dim int, format Format) Config {
	return Config{
		Name:          name,
		SchemaVersion: 1,
		Dimension:     dim,
		Format:        format,
		Normalize:     format == Dense,
		Cache:         true,
	}
}

func TestUpsertAndGetDense(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(ctx, dbPath, testConfig("test", 3, Dense), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	id, err := s.Upsert(ctx, nil, Dense, []float32{3, 4, 0}, map[string]any{"category": "a"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Format != Dense {
		t.Fatalf("expected dense format, got %s", rec.Format)
	}
	got := unpackDense(rec.Vector)
	// normalized, so magnitude should be 1
	var sumSq float64
	for _, f := range got {
		sumSq += float64(f) * float64(f)
	}
	if sumSq < 0.999999 || sumSq > 1.000001 {
		t.Fatalf("expected unit vector, got sumSq=%v", sumSq)
	}
}

func TestDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(ctx, dbPath, testConfig("test", 3, Dense), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	_, err = s.Upsert(ctx, nil, Dense, []float32{1, 2}, nil)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestMigrationLog(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")

	migrations := []Migration{
		{From: 1, To: 2, Fn: func(ec execContext) error {
			_, err := ec.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_meta_category ON vectorstore_records(json_extract(meta, '$.category'))`)
			return err
		}},
		{From: 2, To: 3, Fn: func(ec execContext) error { return nil }},
	}

	cfg := testConfig("test", 3, Dense)
	cfg.SchemaVersion = 3

	s, err := Open(ctx, dbPath, cfg, migrations)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	if s.Meta().Version != 3 {
		t.Fatalf("expected version 3, got %d", s.Meta().Version)
	}

	log, err := migrationLog(ctx, s.db)
	if err != nil {
		t.Fatalf("migrationLog: %v", err)
	}
	if len(log) != 2 || log[0] != (MigrationLogEntry{1, 2}) || log[1] != (MigrationLogEntry{2, 3}) {
		t.Fatalf("unexpected migration log: %+v", log)
	}
}

func TestSchemaNewerThanCode(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")

	cfgV3 := testConfig("test", 3, Dense)
	cfgV3.SchemaVersion = 3
	s, err := Open(ctx, dbPath, cfgV3, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close(ctx)

	cfgV1 := testConfig("test", 3, Dense)
	cfgV1.SchemaVersion = 1
	_, err = Open(ctx, dbPath, cfgV1, nil)
	if err == nil {
		t.Fatal("expected SchemaNewerThanCode error")
	}
}

func TestBinaryPopcountEquivalence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")

	cfg := testConfig("test", 256, Binary)
	s, err := Open(ctx, dbPath, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		bits := randomBits(rng, 256)
		if _, err := s.Upsert(ctx, nil, Binary, bits, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	query := randomBits(rng, 256)
	fallbackResults, err := s.Query(ctx, QueryOpts{Query: query, K: 10})
	if err != nil {
		t.Fatalf("Query (fallback): %v", err)
	}

	if err := s.EnableAccel(ctx, oracleWasm(t)); err != nil {
		t.Skipf("no real wasm module available in this environment: %v", err)
	}

	accelResults, err := s.Query(ctx, QueryOpts{Query: query, K: 10})
	if err != nil {
		t.Fatalf("Query (accel): %v", err)
	}

	if len(fallbackResults) != len(accelResults) {
		t.Fatalf("result length mismatch: %d vs %d", len(fallbackResults), len(accelResults))
	}
	for i := range fallbackResults {
		if fallbackResults[i].ID != accelResults[i].ID {
			t.Fatalf("id mismatch at %d: %d vs %d", i, fallbackResults[i].ID, accelResults[i].ID)
		}
		if fallbackResults[i].Score != accelResults[i].Score {
			t.Fatalf("score mismatch at %d: %v vs %v", i, fallbackResults[i].Score, accelResults[i].Score)
		}
	}
}

func randomBits(rng *rand.Rand, n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = rng.Intn(2) == 1
	}
	return bits
}

// oracleWasm is a placeholder hook for an externally supplied wasm binary
// implementing the hamming ABI; this environment has none available, so the
// accelerated half of the equivalence test is skipped rather than faked.
func oracleWasm(t *testing.T) []byte {
	t.Helper()
	return nil
}

func TestQueryTopKSortedNoDuplicates(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "store.db")
	s, err := Open(ctx, dbPath, testConfig("test", 2, Dense), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	vectors := [][2]float32{{1, 0}, {0, 1}, {0.7, 0.7}, {-1, 0}, {0.9, 0.1}}
	for _, v := range vectors {
		if _, err := s.Upsert(ctx, nil, Dense, []float32{v[0], v[1]}, nil); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	results, err := s.Query(ctx, QueryOpts{Query: []float32{1, 0}, K: 3, Distance: Cosine})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	seen := map[int64]bool{}
	for i, r := range results {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d in results", r.ID)
		}
		seen[r.ID] = true
		if i > 0 && results[i-1].Score < r.Score {
			t.Fatalf("results not sorted descending: %v before %v", results[i-1].Score, r.Score)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "a.db")
	s, err := Open(ctx, dbPath, testConfig("a", 2, Dense), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	id, err := s.Upsert(ctx, nil, Dense, []float32{1, 0}, map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	exp, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dbPath2 := filepath.Join(t.TempDir(), "b.db")
	s2, err := Open(ctx, dbPath2, testConfig("b", 2, Dense), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s2.Close(ctx)

	if err := s2.Import(ctx, exp, false); err != nil {
		t.Fatalf("Import: %v", err)
	}

	rec, err := s2.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get after import: %v", err)
	}
	if rec.Meta["k"] != "v" {
		t.Fatalf("expected meta round-trip, got %+v", rec.Meta)
	}
}
