package synonym

import (
	"testing"

	"starcore/internal/store"
)

func TestCoOccurrenceRing_NormalizesAndFiltersByWeight(t *testing.T) {
	edges := []store.Edge{
		{AtomA: "adhd", AtomB: "focus", Weight: 10},
		{AtomA: "adhd", AtomB: "sleep", Weight: 5},
		{AtomA: "adhd", AtomB: "rare", Weight: 1},
	}
	ring := coOccurrenceRing("adhd", edges, Options{MinWeight: 0.2})
	if len(ring) != 2 {
		t.Fatalf("coOccurrenceRing() = %v, want 2 members above MinWeight", ring)
	}
	for _, m := range ring {
		if m.Term == "rare" {
			t.Fatalf("coOccurrenceRing() included %q, want it filtered by MinWeight", m.Term)
		}
	}
}

func TestLexicalVariants_SharesLongPrefix(t *testing.T) {
	vocab := []string{"diagnosis", "diagnoses", "unrelated"}
	variants := lexicalVariants("diagnosis", vocab, nil)
	if len(variants) != 1 || variants[0].Term != "diagnoses" {
		t.Fatalf("lexicalVariants() = %v, want [diagnoses]", variants)
	}
}

func TestLexicalVariants_SkipsShortTerms(t *testing.T) {
	if got := lexicalVariants("cat", []string{"cats"}, nil); got != nil {
		t.Fatalf("lexicalVariants() = %v, want nil for short atom", got)
	}
}

func TestRing_ExpandIsCaseInsensitiveAndMissingIsNil(t *testing.T) {
	r := &Ring{members: map[string][]Member{"adhd": {{Term: "focus", Weight: 1}}}}
	if got := r.Expand("ADHD"); len(got) != 1 || got[0].Term != "focus" {
		t.Fatalf("Expand(ADHD) = %v, want [focus]", got)
	}
	if got := r.Expand("nope"); got != nil {
		t.Fatalf("Expand(nope) = %v, want nil", got)
	}
}

func TestManager_RebuildPublishesNewRingAtomically(t *testing.T) {
	m := NewManager()
	if got := m.Current().Expand("adhd"); got != nil {
		t.Fatalf("Current() before rebuild should have empty ring, got %v", got)
	}
	m.current.Store(&Ring{members: map[string][]Member{"adhd": {{Term: "focus", Weight: 0.9}}}})
	if got := m.Current().Expand("adhd"); len(got) != 1 {
		t.Fatalf("Current() after store = %v, want 1 member", got)
	}
}
