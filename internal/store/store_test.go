package store_test

import (
	"path/filepath"
	"testing"

	"starcore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "star.db"), store.Options{EmbeddingDim: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCompoundUpsertAndLookup(t *testing.T) {
	s := openTestStore(t)

	c := &store.Compound{ID: "cmp-1", SourcePath: "/notes/a.md", ContentHash: "hash-a", LastIngestTS: 100, TotalMolecules: 2}
	require.NoError(t, s.UpsertCompound(c))

	got, err := s.GetCompound("cmp-1")
	require.NoError(t, err)
	assert.Equal(t, c.SourcePath, got.SourcePath)
	assert.Equal(t, c.ContentHash, got.ContentHash)

	byHash, err := s.CompoundByHash("hash-a")
	require.NoError(t, err)
	assert.Equal(t, "cmp-1", byHash.ID)

	_, err = s.CompoundByHash("does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)

	c.TotalMolecules = 5
	require.NoError(t, s.UpsertCompound(c))
	got, err = s.GetCompound("cmp-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.TotalMolecules)
}

func TestCompoundDeleteCascadesMolecules(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}))

	m := &store.Molecule{ID: "mol-1", CompoundID: "cmp-1", Sequence: 0, StartByte: 0, EndByte: 10,
		Type: store.MoleculeProse, Timestamp: 1, Tags: []string{"alpha"}, Provenance: store.ProvenanceInternal}
	require.NoError(t, s.UpsertMolecule(m, "hello world"))

	require.NoError(t, s.DeleteCompound("cmp-1"))

	_, err := s.GetMolecule("mol-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMoleculeUpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}))

	m := &store.Molecule{
		ID: "mol-1", CompoundID: "cmp-1", Sequence: 0, StartByte: 0, EndByte: 20,
		Type: store.MoleculeProse, SimHash: 0xdeadbeef, Embedding: []float32{1, 0, 0, 0, 0, 0, 0, 0},
		Timestamp: 1000, Buckets: []string{"personal"}, Tags: []string{"planning", "q3"},
		Provenance: store.ProvenanceInternal,
	}
	require.NoError(t, s.UpsertMolecule(m, "quarterly planning notes"))

	got, err := s.GetMolecule("mol-1")
	require.NoError(t, err)
	assert.Equal(t, m.SimHash, got.SimHash)
	assert.Equal(t, m.Embedding, got.Embedding)
	assert.ElementsMatch(t, m.Tags, got.Tags)
	assert.ElementsMatch(t, m.Buckets, got.Buckets)
	assert.False(t, got.NeedsReembed)

	// Re-upsert with a content change should update in place, not duplicate.
	m.NeedsReembed = true
	require.NoError(t, s.UpsertMolecule(m, "quarterly planning notes, revised"))
	got, err = s.GetMolecule("mol-1")
	require.NoError(t, err)
	assert.True(t, got.NeedsReembed)

	all, err := s.MoleculesByCompound("cmp-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSearchFTSRespectsBucketIsolation(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}))

	require.NoError(t, s.UpsertMolecule(&store.Molecule{
		ID: "mol-work", CompoundID: "cmp-1", Timestamp: 1, Type: store.MoleculeProse,
		Buckets: []string{"work"}, Provenance: store.ProvenanceInternal,
	}, "quarterly revenue projections"))
	require.NoError(t, s.UpsertMolecule(&store.Molecule{
		ID: "mol-personal", CompoundID: "cmp-1", Timestamp: 1, Type: store.MoleculeProse,
		Buckets: []string{"personal"}, Provenance: store.ProvenanceInternal,
	}, "quarterly vacation plans"))

	hits, err := s.SearchFTS("quarterly", store.SearchFilter{Buckets: []string{"work"}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mol-work", hits[0].Molecule.ID)

	allHits, err := s.SearchFTS("quarterly", store.SearchFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, allHits, 2)
}

func TestSearchVectorRanksByCosineSimilarity(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}))

	require.NoError(t, s.UpsertMolecule(&store.Molecule{
		ID: "close", CompoundID: "cmp-1", Timestamp: 1, Type: store.MoleculeProse,
		Embedding: []float32{1, 0, 0, 0, 0, 0, 0, 0}, Provenance: store.ProvenanceInternal,
	}, "a"))
	require.NoError(t, s.UpsertMolecule(&store.Molecule{
		ID: "far", CompoundID: "cmp-1", Timestamp: 1, Type: store.MoleculeProse,
		Embedding: []float32{0, 1, 0, 0, 0, 0, 0, 0}, Provenance: store.ProvenanceInternal,
	}, "b"))

	hits, err := s.SearchVector([]float32{1, 0, 0, 0, 0, 0, 0, 0}, store.SearchFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close", hits[0].Molecule.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestEdgesNormalizeOrderAndAccumulateWeight(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.IncrementEdge("zebra", "alpha"))
	require.NoError(t, s.IncrementEdge("alpha", "zebra"))

	neighbors, err := s.Neighbors("alpha")
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "alpha", neighbors[0].AtomA)
	assert.Equal(t, "zebra", neighbors[0].AtomB)
	assert.Equal(t, int64(2), neighbors[0].Weight)
	assert.Equal(t, "zebra", neighbors[0].OtherAtom("alpha"))

	weight, err := s.EdgeWeight("zebra", "alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(2), weight)
}

func TestIncrementEdgesForTagSetCreatesAllPairs(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.IncrementEdgesForTagSet([]string{"go", "sqlite", "retrieval"}))

	for _, atom := range []string{"go", "sqlite", "retrieval"} {
		neighbors, err := s.Neighbors(atom)
		require.NoError(t, err)
		assert.Len(t, neighbors, 2)
	}
}

func TestAtomFrequencyAndPruning(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertAtomRefs([]string{"ephemeral"}))
	freq, err := s.AtomFrequency("ephemeral")
	require.NoError(t, err)
	assert.Equal(t, int64(1), freq)

	require.NoError(t, s.DecrementAtomRefs([]string{"ephemeral"}))
	pruned, err := s.PruneOrphanAtoms()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pruned, int64(1))

	freq, err = s.AtomFrequency("ephemeral")
	require.NoError(t, err)
	assert.Equal(t, int64(0), freq)
}

func TestStoreStatsCountsRows(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["compounds"])
	assert.Equal(t, int64(0), stats["molecules"])
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "star.db")

	s1, err := store.Open(dbPath, store.Options{EmbeddingDim: 8})
	require.NoError(t, err)
	require.NoError(t, s1.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}))
	require.NoError(t, s1.Close())

	s2, err := store.Open(dbPath, store.Options{EmbeddingDim: 8})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetCompound("cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "/a", got.SourcePath)
}


func TestReplaceCompoundSwapsDerivedStateAtomically(t *testing.T) {
	s := openTestStore(t)

	first := &store.Compound{ID: "cmp-1", SourcePath: "notes/a.md", ContentHash: "h1", LastIngestTS: 1, TotalMolecules: 1}
	m1 := &store.Molecule{
		ID: "cmp-1-0", CompoundID: "cmp-1", EndByte: 18, Type: store.MoleculeProse,
		Timestamp: 1, Tags: []string{"alpha", "shared"}, Provenance: store.ProvenanceInternal,
	}
	require.NoError(t, s.ReplaceCompound(first, []*store.Molecule{m1}, []string{"first version text"}))

	second := &store.Compound{ID: "cmp-1", SourcePath: "notes/a.md", ContentHash: "h2", LastIngestTS: 2, TotalMolecules: 1}
	m2 := &store.Molecule{
		ID: "cmp-1-0", CompoundID: "cmp-1", EndByte: 19, Type: store.MoleculeProse,
		Timestamp: 2, Tags: []string{"beta", "shared"}, Provenance: store.ProvenanceInternal,
	}
	require.NoError(t, s.ReplaceCompound(second, []*store.Molecule{m2}, []string{"second version text"}))

	got, err := s.GetCompound("cmp-1")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)

	mols, err := s.MoleculesByCompound("cmp-1")
	require.NoError(t, err)
	require.Len(t, mols, 1)
	assert.ElementsMatch(t, []string{"beta", "shared"}, mols[0].Tags)

	// The replaced version's derived counters are released in the same
	// transaction that installs the new ones.
	alpha, err := s.AtomFrequency("alpha")
	require.NoError(t, err)
	assert.Zero(t, alpha)
	shared, err := s.AtomFrequency("shared")
	require.NoError(t, err)
	assert.Equal(t, int64(1), shared)
	w, err := s.EdgeWeight("alpha", "shared")
	require.NoError(t, err)
	assert.Zero(t, w)

	hits, err := s.SearchFTS(`"first"`, store.SearchFilter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = s.SearchFTS(`"second"`, store.SearchFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestReplaceCompoundRejectsMismatchedContents(t *testing.T) {
	s := openTestStore(t)
	c := &store.Compound{ID: "cmp-1", SourcePath: "/a", ContentHash: "h1", LastIngestTS: 1}
	err := s.ReplaceCompound(c, []*store.Molecule{{ID: "m", CompoundID: "cmp-1", EndByte: 1, Type: store.MoleculeProse, Timestamp: 1, Provenance: store.ProvenanceInternal}}, nil)
	require.Error(t, err)

	_, err = s.GetCompound("cmp-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCompoundBySourcePath(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertCompound(&store.Compound{ID: "cmp-1", SourcePath: "notes/a.md", ContentHash: "h1", LastIngestTS: 1}))

	got, err := s.CompoundBySourcePath("notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "cmp-1", got.ID)

	_, err = s.CompoundBySourcePath("notes/missing.md")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
