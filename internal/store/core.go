// Package store is the persistent index for the STAR retrieval core:
// compounds, molecules, atoms, and their co-occurrence edges, backed by
// SQLite with an FTS5 full-text index and a sqlite-vec (or brute-force
// fallback) approximate-nearest-neighbor index over molecule embeddings.
//
// Everything under this package is disposable: it can be rebuilt in full
// from the mirror store (internal/mirror), which cmd/starcore does on
// startup when the index holds no compounds. A non-empty index is not
// checked against the mirror for staleness.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"starcore/internal/logging"
)

// Store is the SQLite-backed index store.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	embeddingDim int
	vectorExt    bool
	requireVec   bool
}

// Options configures a new Store.
type Options struct {
	EmbeddingDim int  // fixed vector dimension for this deployment
	RequireVec   bool // fail fast instead of degrading when sqlite-vec is unavailable
}

// Open initializes (creating if needed) the SQLite database at path.
func Open(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Get(logging.CategoryStore).Info("opening index store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open(sqlDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryStore).Warn("pragma failed (%s): %v", pragma, err)
		}
	}

	dim := opts.EmbeddingDim
	if dim == 0 {
		dim = 768
	}

	s := &Store{db: db, dbPath: path, embeddingDim: dim, requireVec: opts.RequireVec}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.detectVecExtension(dim)
	if s.requireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available and require_vec_ext is set")
	}
	if s.vectorExt {
		logging.Get(logging.CategoryStore).Info("sqlite-vec extension available, ANN search enabled")
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension unavailable; vector search degrades to brute-force scan")
	}

	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS compounds (
			id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			last_ingest_ts INTEGER NOT NULL,
			total_molecules INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compounds_source_path ON compounds(source_path)`,
		`CREATE INDEX IF NOT EXISTS idx_compounds_content_hash ON compounds(content_hash)`,

		`CREATE TABLE IF NOT EXISTS molecules (
			id TEXT PRIMARY KEY,
			compound_id TEXT NOT NULL REFERENCES compounds(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			start_byte INTEGER NOT NULL,
			end_byte INTEGER NOT NULL,
			type TEXT NOT NULL,
			simhash INTEGER NOT NULL,
			embedding BLOB,
			timestamp INTEGER NOT NULL,
			buckets TEXT NOT NULL DEFAULT '[]',
			epochs TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			provenance TEXT NOT NULL DEFAULT 'internal',
			needs_reembed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_molecules_compound ON molecules(compound_id)`,
		`CREATE INDEX IF NOT EXISTS idx_molecules_timestamp ON molecules(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_molecules_provenance ON molecules(provenance)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS molecules_fts USING fts5(
			id UNINDEXED, content, tokenize='unicode61 remove_diacritics 2'
		)`,

		`CREATE TABLE IF NOT EXISTS atoms (
			name TEXT PRIMARY KEY,
			frequency INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS edges (
			atom_a TEXT NOT NULL,
			atom_b TEXT NOT NULL,
			weight INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (atom_a, atom_b)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_atom_a ON edges(atom_a)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_atom_b ON edges(atom_b)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w (%s)", err, stmt)
		}
	}
	return nil
}

// detectVecExtension probes for a working vec0 virtual table (either the
// real sqlite-vec extension under the "sqlite_vec" build tag, or the
// pure-Go compat shim in vec_compat.go) and creates the molecule vector
// table when available.
func (s *Store) detectVecExtension(dim int) {
	probe := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[%d])", dim)
	if _, err := s.db.Exec(probe); err != nil {
		s.vectorExt = false
		return
	}
	_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")

	createVec := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS molecule_vectors USING vec0(embedding float[%d])", dim)
	if _, err := s.db.Exec(createVec); err != nil {
		logging.Get(logging.CategoryStore).Warn("vec0 probe succeeded but molecule_vectors creation failed: %v", err)
		s.vectorExt = false
		return
	}
	s.vectorExt = true
}

// HasVectorIndex reports whether ANN search is backed by sqlite-vec right
// now. Callers fall back to brute-force cosine scan when false, never to
// an outright failure.
func (s *Store) HasVectorIndex() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectorExt
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for maintenance tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CosineSimilarity computes cosine similarity between two equal-length
// float32 vectors, returning 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Stats returns row counts per table, for diagnostics; cmd/starcore reads
// the compound count at startup to decide whether to rebuild.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"compounds", "molecules", "atoms", "edges"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
