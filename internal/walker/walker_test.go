package walker_test

import (
	"math/rand"
	"path/filepath"
	"testing"

	"starcore/internal/store"
	"starcore/internal/walker"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "star.db"), store.Options{EmbeddingDim: 8})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWalk_SeedsAtHopZeroWithGravityOne(t *testing.T) {
	s := newTestStore(t)
	candidates, atoms, err := walker.Walk(s, []string{"adhd"}, walker.Config{MaxHops: 2, MaxPerHop: 10, GravityThreshold: 0.1, Damping: 0.8}, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("Walk() candidates = %v, want none (no molecules indexed)", candidates)
	}
	seed, ok := atoms["adhd"]
	if !ok || seed.BestGravity != 1 || seed.Hops != 0 {
		t.Fatalf("Walk() seed atom = %+v, want gravity=1 hops=0", seed)
	}
}

func TestWalk_PropagatesDampedGravityToNeighbors(t *testing.T) {
	s := newTestStore(t)
	if err := s.IncrementEdge("adhd", "focus"); err != nil {
		t.Fatalf("IncrementEdge() error = %v", err)
	}

	_, atoms, err := walker.Walk(s, []string{"adhd"}, walker.Config{MaxHops: 2, MaxPerHop: 10, GravityThreshold: 0.01, Damping: 0.5}, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	focus, ok := atoms["focus"]
	if !ok {
		t.Fatalf("Walk() atoms = %v, want focus reached", atoms)
	}
	if focus.BestGravity != 0.5 {
		t.Fatalf("focus.BestGravity = %v, want 0.5 (1 * damping 0.5)", focus.BestGravity)
	}
	if focus.Hops != 1 {
		t.Fatalf("focus.Hops = %d, want 1", focus.Hops)
	}
}

func TestWalk_GravityThresholdStopsPropagation(t *testing.T) {
	s := newTestStore(t)
	if err := s.IncrementEdge("adhd", "focus"); err != nil {
		t.Fatalf("IncrementEdge() error = %v", err)
	}

	_, atoms, err := walker.Walk(s, []string{"adhd"}, walker.Config{MaxHops: 3, MaxPerHop: 10, GravityThreshold: 0.9, Damping: 0.5}, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if _, ok := atoms["focus"]; ok {
		t.Fatalf("Walk() reached focus despite gravity 0.5 < threshold 0.9")
	}
}

func TestWalk_MaxHopsStopsPropagation(t *testing.T) {
	s := newTestStore(t)
	if err := s.IncrementEdge("a", "b"); err != nil {
		t.Fatalf("IncrementEdge() error = %v", err)
	}
	if err := s.IncrementEdge("b", "c"); err != nil {
		t.Fatalf("IncrementEdge() error = %v", err)
	}

	_, atoms, err := walker.Walk(s, []string{"a"}, walker.Config{MaxHops: 1, MaxPerHop: 10, GravityThreshold: 0.01, Damping: 0.9}, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if _, ok := atoms["b"]; !ok {
		t.Fatalf("Walk() should reach b at hop 1")
	}
	if _, ok := atoms["c"]; ok {
		t.Fatalf("Walk() should not reach c beyond MaxHops=1")
	}
}

func TestWalk_DeterministicWithZeroTemperature(t *testing.T) {
	s := newTestStore(t)
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"a", "d"}} {
		if err := s.IncrementEdge(pair[0], pair[1]); err != nil {
			t.Fatalf("IncrementEdge() error = %v", err)
		}
	}

	cfg := walker.Config{MaxHops: 1, MaxPerHop: 10, GravityThreshold: 0.01, Damping: 0.9, Temperature: 0}
	_, atomsFirst, err := walker.Walk(s, []string{"a"}, cfg, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	_, atomsSecond, err := walker.Walk(s, []string{"a"}, cfg, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(atomsFirst) != len(atomsSecond) {
		t.Fatalf("Walk() not deterministic: %v vs %v", atomsFirst, atomsSecond)
	}
}

func TestWalk_TemperatureUsesProvidedRand(t *testing.T) {
	s := newTestStore(t)
	if err := s.IncrementEdge("a", "b"); err != nil {
		t.Fatalf("IncrementEdge() error = %v", err)
	}
	cfg := walker.Config{MaxHops: 1, MaxPerHop: 10, GravityThreshold: 0.01, Damping: 0.9, Temperature: 1, Rand: rand.New(rand.NewSource(1))}
	_, atoms, err := walker.Walk(s, []string{"a"}, cfg, store.SearchFilter{})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if _, ok := atoms["b"]; !ok {
		t.Fatalf("Walk() with temperature=1 should still reach the only neighbor")
	}
}
