package store

import (
	"database/sql"
	"fmt"

	"starcore/internal/logging"
)

// UpsertAtomRefs increments the frequency counter for every tag a molecule
// carries, creating the atom row on first sight.
func (s *Store) UpsertAtomRefs(tags []string) error {
	return s.adjustAtomRefs(tags, 1)
}

// DecrementAtomRefs reduces the frequency counter for tags a molecule is
// losing (re-tagging or deletion), used alongside PruneOrphanAtoms to keep
// the atom arena from accumulating stale entries.
func (s *Store) DecrementAtomRefs(tags []string) error {
	return s.adjustAtomRefs(tags, -1)
}

func (s *Store) adjustAtomRefs(tags []string, delta int) error {
	if len(tags) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := adjustAtomRefsTx(tx, tags, delta); err != nil {
		return err
	}
	return tx.Commit()
}

// adjustAtomRefsTx shifts the frequency counter for each tag by one in
// delta's direction, within an open transaction. Decrements floor at
// zero; increments create the atom row on first sight.
func adjustAtomRefsTx(tx *sql.Tx, tags []string, delta int) error {
	for _, tag := range dedupeStrings(tags) {
		var err error
		if delta > 0 {
			_, err = tx.Exec(
				`INSERT INTO atoms (name, frequency) VALUES (?, 1)
				 ON CONFLICT(name) DO UPDATE SET frequency = frequency + 1`, tag)
		} else {
			_, err = tx.Exec(
				`UPDATE atoms SET frequency = MAX(0, frequency - 1) WHERE name = ?`, tag)
		}
		if err != nil {
			return fmt.Errorf("adjust atom %q: %w", tag, err)
		}
	}
	return nil
}

// AtomFrequency returns how many molecules currently carry the given tag.
func (s *Store) AtomFrequency(name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var freq int64
	err := s.db.QueryRow(`SELECT frequency FROM atoms WHERE name = ?`, name).Scan(&freq)
	if err == nil {
		return freq, nil
	}
	return 0, nil
}

// AllAtoms returns every atom name currently in the arena, referenced or
// orphaned, for callers that need the full vocabulary: the query parser's
// tag-hint matching and the synonym ring builder
// both walk this list rather than re-deriving it from molecule rows.
func (s *Store) AllAtoms() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT name FROM atoms`)
	if err != nil {
		return nil, fmt.Errorf("list atoms: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// PruneOrphanAtoms removes atoms with zero frequency and no surviving
// edges, the lazy-GC counterpart to DecrementAtomRefs. The ingestion
// orchestrator does not call it; orphaned atoms stay in the table until
// PruneOrphanAtoms is invoked explicitly.
func (s *Store) PruneOrphanAtoms() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM atoms WHERE frequency <= 0
		   AND name NOT IN (SELECT atom_a FROM edges)
		   AND name NOT IN (SELECT atom_b FROM edges)`)
	if err != nil {
		return 0, fmt.Errorf("prune orphan atoms: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryStore).Info("pruned %d orphan atoms", n)
	}
	return n, nil
}
