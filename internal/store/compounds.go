package store

import (
	"database/sql"
	"errors"
	"fmt"

	"starcore/internal/logging"
)

// ErrNotFound is returned when a point lookup by id misses.
var ErrNotFound = errors.New("store: not found")

// CompoundByHash looks up a compound by its content hash. Distinct
// sources may carry byte-identical content, in which case this returns
// one of them; returns ErrNotFound if no compound has
// ingested this exact content before.
func (s *Store) CompoundByHash(contentHash string) (*Compound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, source_path, content_hash, last_ingest_ts, total_molecules
		 FROM compounds WHERE content_hash = ?`, contentHash)
	return scanCompound(row)
}

// CompoundBySourcePath looks up a compound by the source path it was
// ingested from. A compound's identity follows its source: re-ingesting a
// path whose content changed updates this same compound in place rather
// than minting a new one.
func (s *Store) CompoundBySourcePath(sourcePath string) (*Compound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, source_path, content_hash, last_ingest_ts, total_molecules
		 FROM compounds WHERE source_path = ?`, sourcePath)
	return scanCompound(row)
}

// GetCompound looks up a compound by id.
func (s *Store) GetCompound(id string) (*Compound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, source_path, content_hash, last_ingest_ts, total_molecules
		 FROM compounds WHERE id = ?`, id)
	return scanCompound(row)
}

func scanCompound(row *sql.Row) (*Compound, error) {
	var c Compound
	err := row.Scan(&c.ID, &c.SourcePath, &c.ContentHash, &c.LastIngestTS, &c.TotalMolecules)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCompound creates or updates a compound row by primary key.
func (s *Store) UpsertCompound(c *Compound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO compounds (id, source_path, content_hash, last_ingest_ts, total_molecules)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source_path = excluded.source_path,
		   content_hash = excluded.content_hash,
		   last_ingest_ts = excluded.last_ingest_ts,
		   total_molecules = excluded.total_molecules`,
		c.ID, c.SourcePath, c.ContentHash, c.LastIngestTS, c.TotalMolecules,
	)
	if err != nil {
		return fmt.Errorf("upsert compound: %w", err)
	}
	return nil
}

// ReplaceCompound atomically swaps a compound's entire derived state: any
// existing molecules are removed (their atom frequencies and edge weights
// decremented), then the compound row, the new molecules, their FTS and
// vector entries, and their atom/edge references are written — all in one
// transaction. Readers never observe a partially ingested compound, and a
// failure anywhere leaves the store exactly as it was.
func (s *Store) ReplaceCompound(c *Compound, molecules []*Molecule, contents []string) error {
	if len(molecules) != len(contents) {
		return fmt.Errorf("replace compound %s: %d molecules but %d content strings", c.ID, len(molecules), len(contents))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace compound: %w", err)
	}
	defer tx.Rollback()

	if err := releaseCompoundTx(tx, c.ID); err != nil {
		return fmt.Errorf("replace compound %s: %w", c.ID, err)
	}

	_, err = tx.Exec(
		`INSERT INTO compounds (id, source_path, content_hash, last_ingest_ts, total_molecules)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source_path = excluded.source_path,
		   content_hash = excluded.content_hash,
		   last_ingest_ts = excluded.last_ingest_ts,
		   total_molecules = excluded.total_molecules`,
		c.ID, c.SourcePath, c.ContentHash, c.LastIngestTS, c.TotalMolecules,
	)
	if err != nil {
		return fmt.Errorf("replace compound %s: upsert row: %w", c.ID, err)
	}

	for i, m := range molecules {
		if err := insertMoleculeTx(tx, m, contents[i], s.vectorExt); err != nil {
			return fmt.Errorf("replace compound %s: molecule %s: %w", c.ID, m.ID, err)
		}
		if err := adjustAtomRefsTx(tx, m.Tags, 1); err != nil {
			return fmt.Errorf("replace compound %s: atom refs: %w", c.ID, err)
		}
		if err := adjustEdgesForTagSetTx(tx, m.Tags, 1); err != nil {
			return fmt.Errorf("replace compound %s: edges: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace compound %s: %w", c.ID, err)
	}
	return nil
}

// DeleteCompound removes a compound, its molecules, and their atom/edge
// references. Nothing in the ingestion or retrieval paths calls it, so a
// compound whose mirror copy disappears stays indexed.
func (s *Store) DeleteCompound(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := releaseCompoundTx(tx, id); err != nil {
		return fmt.Errorf("delete compound %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM compounds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete compound: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Get(logging.CategoryStore).Info("deleted compound %s", id)
	return nil
}

// releaseCompoundTx removes a compound's molecules and their FTS rows
// within an open transaction, decrementing the atom frequencies and edge
// weights those molecules carried so derived counters never double-count
// a replaced version.
func releaseCompoundTx(tx *sql.Tx, compoundID string) error {
	tagSets, err := moleculeTagSetsForCompound(tx, compoundID)
	if err != nil {
		return err
	}
	for _, tags := range tagSets {
		if err := adjustAtomRefsTx(tx, tags, -1); err != nil {
			return err
		}
		if err := adjustEdgesForTagSetTx(tx, tags, -1); err != nil {
			return err
		}
	}
	return deleteMoleculesTx(tx, compoundID)
}

func moleculeIDsForCompound(tx *sql.Tx, compoundID string) ([]string, error) {
	rows, err := tx.Query(`SELECT id FROM molecules WHERE compound_id = ?`, compoundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	if n == 0 {
		return "''"
	}
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

func toArgs(ss []string) []interface{} {
	args := make([]interface{}, len(ss))
	for i, v := range ss {
		args[i] = v
	}
	return args
}
