package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"starcore/internal/logging"
)

// SearchFilter restricts a search to a sandbox of buckets/tags/provenance.
// An empty slice means "no restriction on this dimension". Results never
// leak across buckets: a molecule matches only if at least one of its
// buckets is in Buckets (when Buckets is non-empty).
type SearchFilter struct {
	Buckets    []string
	Tags       []string
	Provenance []Provenance
}

// ScoredMolecule pairs a molecule with a raw per-channel relevance score.
// The gravity fuser (internal/fuser) combines these across channels; this
// score is channel-local (lexical rank for FTS, cosine similarity for
// vector search).
type ScoredMolecule struct {
	Molecule *Molecule
	Score    float64
}

// UpsertMolecule writes a molecule's primary row, FTS index entry, and
// (when available) ANN vector entry within a single transaction, so
// secondary structures never drift out of
// sync with the primary row. content is the molecule's text (for FTS);
// callers pass the sanitized/atomized text, not the raw source.
func (s *Store) UpsertMolecule(m *Molecule, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert molecule: %w", err)
	}
	defer tx.Rollback()

	if err := insertMoleculeTx(tx, m, content, s.vectorExt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert molecule: %w", err)
	}
	return nil
}

// insertMoleculeTx writes one molecule's primary row, FTS entry, and
// (when available) vector entry within an open transaction. Callers own
// the transaction boundary: UpsertMolecule wraps a single molecule,
// ReplaceCompound a whole compound's worth.
func insertMoleculeTx(tx *sql.Tx, m *Molecule, content string, vectorExt bool) error {
	buckets, err := json.Marshal(nonNil(m.Buckets))
	if err != nil {
		return fmt.Errorf("marshal buckets: %w", err)
	}
	epochs, err := json.Marshal(nonNil(m.Epochs))
	if err != nil {
		return fmt.Errorf("marshal epochs: %w", err)
	}
	tags, err := json.Marshal(nonNil(m.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	var embBlob []byte
	if len(m.Embedding) > 0 {
		embBlob = float32ToBlob(m.Embedding)
	}

	needsReembed := 0
	if m.NeedsReembed {
		needsReembed = 1
	}

	_, err = tx.Exec(
		`INSERT INTO molecules
		   (id, compound_id, sequence, start_byte, end_byte, type, simhash, embedding,
		    timestamp, buckets, epochs, tags, provenance, needs_reembed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   compound_id = excluded.compound_id,
		   sequence = excluded.sequence,
		   start_byte = excluded.start_byte,
		   end_byte = excluded.end_byte,
		   type = excluded.type,
		   simhash = excluded.simhash,
		   embedding = excluded.embedding,
		   timestamp = excluded.timestamp,
		   buckets = excluded.buckets,
		   epochs = excluded.epochs,
		   tags = excluded.tags,
		   provenance = excluded.provenance,
		   needs_reembed = excluded.needs_reembed`,
		m.ID, m.CompoundID, m.Sequence, m.StartByte, m.EndByte, string(m.Type),
		int64(m.SimHash), embBlob, m.Timestamp, string(buckets), string(epochs),
		string(tags), string(m.Provenance), needsReembed,
	)
	if err != nil {
		return fmt.Errorf("upsert molecule row: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM molecules_fts WHERE id = ?`, m.ID); err != nil {
		return fmt.Errorf("clear fts row: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO molecules_fts (id, content) VALUES (?, ?)`, m.ID, content); err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}

	if vectorExt && len(embBlob) > 0 {
		var rowid int64
		if err := tx.QueryRow(`SELECT rowid FROM molecules WHERE id = ?`, m.ID).Scan(&rowid); err != nil {
			return fmt.Errorf("resolve molecule rowid: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM molecule_vectors WHERE rowid = ?`, rowid); err != nil {
			logging.Get(logging.CategoryStore).Warn("clear vector row for molecule %s failed: %v", m.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO molecule_vectors (rowid, embedding) VALUES (?, ?)`, rowid, embBlob); err != nil {
			logging.Get(logging.CategoryStore).Warn("vector index write for molecule %s failed, continuing without ANN entry: %v", m.ID, err)
		}
	}

	return nil
}

// GetMolecule loads a single molecule by id.
func (s *Store) GetMolecule(id string) (*Molecule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, compound_id, sequence, start_byte, end_byte, type, simhash, embedding,
		        timestamp, buckets, epochs, tags, provenance, needs_reembed
		 FROM molecules WHERE id = ?`, id)
	return scanMolecule(row)
}

// MoleculesByCompound returns every molecule belonging to a compound,
// ordered by sequence (the order the atomizer produced them in).
func (s *Store) MoleculesByCompound(compoundID string) ([]*Molecule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, compound_id, sequence, start_byte, end_byte, type, simhash, embedding,
		        timestamp, buckets, epochs, tags, provenance, needs_reembed
		 FROM molecules WHERE compound_id = ? ORDER BY sequence ASC`, compoundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMolecules(rows)
}

// deleteMoleculesTx removes all molecules (and their FTS entries) for a
// compound within an open transaction, the cleanup half of replacing a
// compound whose content changed.
func deleteMoleculesTx(tx *sql.Tx, compoundID string) error {
	ids, err := moleculeIDsForCompound(tx, compoundID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(`DELETE FROM molecules_fts WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...); err != nil {
			return fmt.Errorf("delete fts rows: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM molecules WHERE compound_id = ?`, compoundID); err != nil {
		return fmt.Errorf("delete molecule rows: %w", err)
	}
	return nil
}

// moleculeTagSetsForCompound returns the tag set of every molecule in a
// compound, for releasing atom/edge references before those molecules are
// replaced or deleted.
func moleculeTagSetsForCompound(tx *sql.Tx, compoundID string) ([][]string, error) {
	rows, err := tx.Query(`SELECT tags FROM molecules WHERE compound_id = ?`, compoundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, err
		}
		var tags []string
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		out = append(out, tags)
	}
	return out, rows.Err()
}

// SearchFTS runs a full-text query against molecule content, returning
// hits ranked by FTS5's bm25 score (negated so higher is better), subject
// to filter. This is the planet searcher's direct-hit lexical channel.
func (s *Store) SearchFTS(query string, filter SearchFilter, limit int) ([]ScoredMolecule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT m.id, m.compound_id, m.sequence, m.start_byte, m.end_byte, m.type, m.simhash,
		        m.embedding, m.timestamp, m.buckets, m.epochs, m.tags, m.provenance, m.needs_reembed,
		        bm25(molecules_fts) AS rank
		 FROM molecules_fts
		 JOIN molecules m ON m.id = molecules_fts.id
		 WHERE molecules_fts MATCH ?
		 ORDER BY rank LIMIT ?`,
		query, clampLimit(limit)*searchOverfetch,
	)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []ScoredMolecule
	for rows.Next() {
		var m Molecule
		var typeStr, bucketsJSON, epochsJSON, tagsJSON, provStr string
		var simhash int64
		var embBlob []byte
		var needsReembed int
		var rank float64

		if err := rows.Scan(&m.ID, &m.CompoundID, &m.Sequence, &m.StartByte, &m.EndByte,
			&typeStr, &simhash, &embBlob, &m.Timestamp, &bucketsJSON, &epochsJSON, &tagsJSON,
			&provStr, &needsReembed, &rank); err != nil {
			return nil, err
		}
		populateMolecule(&m, typeStr, simhash, embBlob, bucketsJSON, epochsJSON, tagsJSON, provStr, needsReembed)

		if !filter.allows(&m) {
			continue
		}
		// bm25 returns lower-is-better; invert so higher score means more relevant.
		out = append(out, ScoredMolecule{Molecule: &m, Score: -rank})
		if len(out) >= clampLimit(limit) {
			break
		}
	}
	return out, rows.Err()
}

// SearchVector ranks molecules by cosine similarity to queryVec. It always
// computes similarity in application code: the vec0/sqlite-vec virtual
// table is populated for disk-resident ANN storage but the k-nearest-
// neighbor query path is not exercised here, so this always takes the
// brute-force path. A missing vector index never surfaces as a hard
// failure, only as a slower scan.
func (s *Store) SearchVector(queryVec []float32, filter SearchFilter, limit int) ([]ScoredMolecule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, compound_id, sequence, start_byte, end_byte, type, simhash, embedding,
		        timestamp, buckets, epochs, tags, provenance, needs_reembed
		 FROM molecules WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("vector search scan: %w", err)
	}
	defer rows.Close()

	molecules, err := scanMolecules(rows)
	if err != nil {
		return nil, err
	}

	var out []ScoredMolecule
	for _, m := range molecules {
		if !filter.allows(m) {
			continue
		}
		score := CosineSimilarity(m.Embedding, queryVec)
		out = append(out, ScoredMolecule{Molecule: m, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// MoleculesByTags returns every molecule carrying at least one of atoms,
// subject to filter. Used by the tag-walker's final gathering step: the
// walker operates on the atom graph alone and only touches molecule rows
// once, at the end, to resolve its surviving frontier into candidates.
func (s *Store) MoleculesByTags(atoms []string, filter SearchFilter) ([]*Molecule, error) {
	if len(atoms) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, compound_id, sequence, start_byte, end_byte, type, simhash, embedding,
		        timestamp, buckets, epochs, tags, provenance, needs_reembed
		 FROM molecules`)
	if err != nil {
		return nil, fmt.Errorf("molecules by tags scan: %w", err)
	}
	defer rows.Close()

	molecules, err := scanMolecules(rows)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(atoms))
	for _, a := range atoms {
		wanted[a] = struct{}{}
	}

	var out []*Molecule
	for _, m := range molecules {
		if !filter.allows(m) {
			continue
		}
		if anyOverlap(mapKeys(wanted), m.Tags) {
			out = append(out, m)
		}
	}
	return out, nil
}

// AllBuckets returns the distinct set of bucket labels across every
// molecule, for the listBuckets() auxiliary operation.
func (s *Store) AllBuckets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT buckets FROM molecules`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var bucketsJSON string
		if err := rows.Scan(&bucketsJSON); err != nil {
			return nil, err
		}
		var buckets []string
		_ = json.Unmarshal([]byte(bucketsJSON), &buckets)
		for _, b := range buckets {
			seen[b] = struct{}{}
		}
	}
	return mapKeys(seen), rows.Err()
}

// AllTags returns the distinct set of tags carried by molecules in
// buckets (or every molecule, when buckets is empty), for the
// listTags({ buckets? }) auxiliary operation.
func (s *Store) AllTags(buckets []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT buckets, tags FROM molecules`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	filter := SearchFilter{Buckets: buckets}
	seen := make(map[string]struct{})
	for rows.Next() {
		var bucketsJSON, tagsJSON string
		if err := rows.Scan(&bucketsJSON, &tagsJSON); err != nil {
			return nil, err
		}
		var molBuckets, tags []string
		_ = json.Unmarshal([]byte(bucketsJSON), &molBuckets)
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		if len(filter.Buckets) > 0 && !anyOverlap(filter.Buckets, molBuckets) {
			continue
		}
		for _, t := range tags {
			seen[t] = struct{}{}
		}
	}
	return mapKeys(seen), rows.Err()
}

// SetProvenance updates a single molecule's provenance column in place,
// the primitive behind the quarantine(molecule_id)/restore(molecule_id)
// auxiliary operations: quarantining sets Provenance to
// ProvenanceQuarantine, restoring sets it back to ProvenanceInternal.
// Content, tags, and embeddings are untouched.
func (s *Store) SetProvenance(id string, p Provenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE molecules SET provenance = ? WHERE id = ?`, string(p), id)
	if err != nil {
		return fmt.Errorf("set provenance for %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ShiftMoleculeRange adjusts a molecule's byte range by delta without
// touching its content-derived fields (simhash, tags, embedding), used by
// updateContent(molecule_id, content) to keep every molecule after an
// edited one pointed at the right offsets in the mirror file once the
// edited molecule's byte span changes length.
func (s *Store) ShiftMoleculeRange(id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE molecules SET start_byte = start_byte + ?, end_byte = end_byte + ? WHERE id = ?`,
		delta, delta, id)
	if err != nil {
		return fmt.Errorf("shift molecule range for %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

const searchOverfetch = 4

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// allows implements the bucket/tag/provenance sandbox contract: an empty
// filter dimension imposes no restriction; a non-empty one requires at
// least one overlapping value.
func (f SearchFilter) allows(m *Molecule) bool {
	if len(f.Buckets) > 0 && !anyOverlap(f.Buckets, m.Buckets) {
		return false
	}
	if len(f.Tags) > 0 && !anyOverlap(f.Tags, m.Tags) {
		return false
	}
	if len(f.Provenance) > 0 {
		matched := false
		for _, p := range f.Provenance {
			if p == m.Provenance {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func anyOverlap(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func scanMolecule(row *sql.Row) (*Molecule, error) {
	var m Molecule
	var typeStr, bucketsJSON, epochsJSON, tagsJSON, provStr string
	var simhash int64
	var embBlob []byte
	var needsReembed int

	err := row.Scan(&m.ID, &m.CompoundID, &m.Sequence, &m.StartByte, &m.EndByte, &typeStr,
		&simhash, &embBlob, &m.Timestamp, &bucketsJSON, &epochsJSON, &tagsJSON, &provStr, &needsReembed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	populateMolecule(&m, typeStr, simhash, embBlob, bucketsJSON, epochsJSON, tagsJSON, provStr, needsReembed)
	return &m, nil
}

func scanMolecules(rows *sql.Rows) ([]*Molecule, error) {
	var out []*Molecule
	for rows.Next() {
		var m Molecule
		var typeStr, bucketsJSON, epochsJSON, tagsJSON, provStr string
		var simhash int64
		var embBlob []byte
		var needsReembed int

		if err := rows.Scan(&m.ID, &m.CompoundID, &m.Sequence, &m.StartByte, &m.EndByte, &typeStr,
			&simhash, &embBlob, &m.Timestamp, &bucketsJSON, &epochsJSON, &tagsJSON, &provStr, &needsReembed); err != nil {
			return nil, err
		}
		populateMolecule(&m, typeStr, simhash, embBlob, bucketsJSON, epochsJSON, tagsJSON, provStr, needsReembed)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func populateMolecule(m *Molecule, typeStr string, simhash int64, embBlob []byte, bucketsJSON, epochsJSON, tagsJSON, provStr string, needsReembed int) {
	m.Type = MoleculeType(typeStr)
	m.SimHash = uint64(simhash)
	m.Provenance = Provenance(provStr)
	m.NeedsReembed = needsReembed != 0
	if len(embBlob) > 0 {
		m.Embedding = blobToFloat32(embBlob)
	}
	_ = json.Unmarshal([]byte(bucketsJSON), &m.Buckets)
	_ = json.Unmarshal([]byte(epochsJSON), &m.Epochs)
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func float32ToBlob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToFloat32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
