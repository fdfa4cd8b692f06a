package store

import (
	"database/sql"
	"fmt"
)

// IncrementEdge records one co-occurrence between two atoms within the same
// molecule, normalizing order so atom_a <= atom_b.
// Self-edges (a == b) are not recorded.
func (s *Store) IncrementEdge(a, b string) error {
	if a == "" || b == "" || a == b {
		return nil
	}
	lo, hi := NormalizeEdge(a, b)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO edges (atom_a, atom_b, weight) VALUES (?, ?, 1)
		 ON CONFLICT(atom_a, atom_b) DO UPDATE SET weight = weight + 1`,
		lo, hi)
	if err != nil {
		return fmt.Errorf("increment edge %s-%s: %w", lo, hi, err)
	}
	return nil
}

// IncrementEdgesForTagSet records a co-occurrence edge between every
// distinct pair of tags on a molecule, the step that builds the tag graph
// the walker traverses.
func (s *Store) IncrementEdgesForTagSet(tags []string) error {
	if len(dedupeStrings(tags)) < 2 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := adjustEdgesForTagSetTx(tx, tags, 1); err != nil {
		return err
	}
	return tx.Commit()
}

// DecrementEdgesForTagSet releases the pairwise co-occurrence weights a
// molecule's tag set contributed, the counterpart to
// IncrementEdgesForTagSet when that molecule is re-tagged or deleted.
func (s *Store) DecrementEdgesForTagSet(tags []string) error {
	if len(dedupeStrings(tags)) < 2 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := adjustEdgesForTagSetTx(tx, tags, -1); err != nil {
		return err
	}
	return tx.Commit()
}

// adjustEdgesForTagSetTx shifts the pairwise co-occurrence weight for a
// molecule's tag set by one in delta's direction, within an open
// transaction. Decrements floor at zero and drop the exhausted edge row,
// keeping the walker's neighbor lists free of dead edges.
func adjustEdgesForTagSetTx(tx *sql.Tx, tags []string, delta int) error {
	unique := dedupeStrings(tags)
	if len(unique) < 2 {
		return nil
	}

	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			lo, hi := NormalizeEdge(unique[i], unique[j])
			var err error
			if delta > 0 {
				_, err = tx.Exec(
					`INSERT INTO edges (atom_a, atom_b, weight) VALUES (?, ?, 1)
					 ON CONFLICT(atom_a, atom_b) DO UPDATE SET weight = weight + 1`, lo, hi)
			} else {
				if _, err = tx.Exec(
					`UPDATE edges SET weight = MAX(0, weight - 1) WHERE atom_a = ? AND atom_b = ?`, lo, hi); err == nil {
					_, err = tx.Exec(
						`DELETE FROM edges WHERE atom_a = ? AND atom_b = ? AND weight <= 0`, lo, hi)
				}
			}
			if err != nil {
				return fmt.Errorf("adjust edge %s-%s: %w", lo, hi, err)
			}
		}
	}
	return nil
}

// Neighbors returns every edge touching atom, ordered by weight descending.
// This is the primary call the tag-walker makes at each hop:
// it needs the full neighbor set with weights to compute gravity decay
// before applying max_per_hop and temperature sampling itself.
func (s *Store) Neighbors(atom string) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(atom)
}

// neighborsLocked assumes s.mu is already held (for read or write) by the
// caller. Neighbors is its only caller.
func (s *Store) neighborsLocked(atom string) ([]Edge, error) {
	rows, err := s.db.Query(
		`SELECT atom_a, atom_b, weight FROM edges
		 WHERE atom_a = ? OR atom_b = ?
		 ORDER BY weight DESC`, atom, atom)
	if err != nil {
		return nil, fmt.Errorf("query neighbors of %s: %w", atom, err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.AtomA, &e.AtomB, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OtherAtom returns the neighbor atom on the far side of e from atom.
func (e Edge) OtherAtom(atom string) string {
	if e.AtomA == atom {
		return e.AtomB
	}
	return e.AtomA
}

// EdgeWeight returns the co-occurrence weight between two atoms, or 0 if
// they have never co-occurred.
func (s *Store) EdgeWeight(a, b string) (int64, error) {
	lo, hi := NormalizeEdge(a, b)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var weight int64
	err := s.db.QueryRow(`SELECT weight FROM edges WHERE atom_a = ? AND atom_b = ?`, lo, hi).Scan(&weight)
	if err != nil {
		return 0, nil
	}
	return weight, nil
}

func dedupeStrings(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
