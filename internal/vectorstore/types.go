package vectorstore

import "time"

// Format identifies the shape a record's vector bytes were packed in.
type Format string

const (
	Dense  Format = "dense"
	Binary Format = "binary"
)

// Distance selects the scoring function for a dense query.
type Distance string

const (
	Cosine    Distance = "cosine"
	Euclidean Distance = "euclidean"
)

// Config declares the shape of a named store at open time. It is compared
// against the persisted meta record to decide whether an upgrade is needed.
type Config struct {
	Name          string
	SchemaVersion int
	Dimension     int
	Format        Format
	Normalize     bool
	IDField       string
	MetaIndexes   []string
	Cache         bool
	Verbose       bool
}

func (c Config) idField() string {
	if c.IDField == "" {
		return "id"
	}
	return c.IDField
}

// Record is the immutable aggregate returned by Get/Query/Export.
type Record struct {
	ID        int64
	Format    Format
	Vector    []byte
	Meta      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Meta is the store's single persisted schema row.
type Meta struct {
	Version     int
	Dimension   int
	Format      string
	Normalize   bool
	Indexes     []string
	CreatedAtMs int64
	UpdatedAtMs int64
}

// MigrationLogEntry is one applied (from, to) hop, in application order.
type MigrationLogEntry struct {
	From, To int
}

// Migration is a single registered schema hop, always from -> from+1.
// The registry is per-store-config rather than process-global: callers pass
// their own slice to Open.
type Migration struct {
	From, To int
	Fn       MigrationFunc
}

// MigrationFunc mutates the store's schema within the single upgrade
// transaction that also owns the meta-record update. execContext is
// satisfied by *sql.Tx.
type MigrationFunc func(ctx execContext) error

// ScoredRecord is one hit from Query, sorted best-score-first.
type ScoredRecord struct {
	Record
	Score float64
}

// QueryOpts configures a top-K search.
type QueryOpts struct {
	// Query is []float32 for Dense stores, or a bit source (see packBits)
	// for Binary stores.
	Query any
	K     int
	// Distance only applies to Dense stores; Binary always uses Hamming.
	Distance Distance
	// Predicate is evaluated against a candidate's meta before vector math.
	Predicate func(meta map[string]any) bool
	// MaxCandidates bounds the number of records examined; 0 means
	// unbounded.
	MaxCandidates int
}

// Export is the full-store snapshot used by Export/Import and by the
// memory bank / plot-card index's serialization forms.
type Export struct {
	Schema  Meta            `json:"schema"`
	Vectors []ExportedVector `json:"vectors"`
}

// ExportedVector carries a dense vector as floats and a binary vector as
// raw packed bytes, mirroring the wire form described for sessions.
type ExportedVector struct {
	ID        int64          `json:"id"`
	Format    Format         `json:"format"`
	Floats    []float32      `json:"vector,omitempty"`
	Bytes     []byte         `json:"vector_bytes,omitempty"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Stats mirrors the teacher's GetExtendedStats shape.
type Stats struct {
	RecordCount      int64
	DenseCount       int64
	BinaryCount      int64
	CacheHits        int64
	CacheMisses      int64
	LastMigration    *MigrationLogEntry
	AcceleratedPath  bool
	AccelLoadFailed  bool
}
