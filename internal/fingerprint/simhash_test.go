package fingerprint

import (
	"testing"
)

func TestContentHashIsStableAndSensitiveToContent(t *testing.T) {
	a := ContentHash([]byte("hello world"))
	b := ContentHash([]byte("hello world"))
	c := ContentHash([]byte("hello there"))

	if a != b {
		t.Fatalf("ContentHash not stable: %s != %s", a, b)
	}
	if a == c {
		t.Fatalf("ContentHash collided for different content")
	}
}

func TestSimHashSymmetry(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	h1 := SimHash(text)
	h2 := SimHash(text)
	if h1 != h2 {
		t.Fatalf("SimHash not idempotent: %x != %x", h1, h2)
	}
	if HammingDistance(h1, h2) != 0 {
		t.Fatalf("HammingDistance of identical signatures should be 0")
	}
}

func TestSimHashNearDuplicateDetection(t *testing.T) {
	a := SimHash("quarterly revenue projections for the north region")
	b := SimHash("quarterly revenue projections for the north region, revised")
	c := SimHash("a completely unrelated recipe for sourdough bread")

	if !NearDuplicate(a, b, 10) {
		t.Fatalf("expected near-duplicate texts to be within threshold, distance=%d", HammingDistance(a, b))
	}
	if NearDuplicate(a, c, 3) {
		t.Fatalf("expected unrelated texts to exceed a tight threshold, distance=%d", HammingDistance(a, c))
	}
}

func TestHammingDistanceIsSymmetric(t *testing.T) {
	a := SimHash("alpha beta gamma")
	b := SimHash("delta epsilon zeta")
	if HammingDistance(a, b) != HammingDistance(b, a) {
		t.Fatalf("HammingDistance should be symmetric")
	}
}

func TestBatchHammingDistancesPreservesOrder(t *testing.T) {
	query := SimHash("the quick brown fox")
	candidates := []uint64{
		SimHash("the quick brown fox"),
		SimHash("something entirely different here"),
	}
	dists := BatchHammingDistances(query, candidates)
	if len(dists) != 2 {
		t.Fatalf("expected 2 distances, got %d", len(dists))
	}
	if dists[0] != 0 {
		t.Fatalf("expected exact match to have distance 0, got %d", dists[0])
	}
	if dists[1] <= dists[0] {
		t.Fatalf("expected the unrelated candidate to be farther than the exact match")
	}
}

func TestSimHashEmptyTextReturnsZero(t *testing.T) {
	if got := SimHash(""); got != 0 {
		t.Fatalf("SimHash of empty text = %x, want 0", got)
	}
}
