// Package synonym builds the auto-generated keyword-expansion ring:
// for each frequent corpus term, a bounded set of synonyms drawn
// from tag co-occurrence neighbors and lexical variants, rebuilt at
// startup and published via atomic pointer swap so concurrent query-time
// readers never observe a partially-built ring.
package synonym

import (
	"sort"
	"strings"
	"sync/atomic"

	"starcore/internal/logging"
	"starcore/internal/store"
)

// Member is one synonym ring entry: a term and the attenuation weight a
// query-time expansion should apply relative to the original keyword.
type Member struct {
	Term   string
	Weight float64
}

// Ring is an immutable snapshot of term -> synonym members. Once built it
// is never mutated; a rebuild produces a new Ring and the Manager swaps
// the pointer atomically.
type Ring struct {
	members map[string][]Member
}

// Expand returns the ring members for term (without the term itself),
// ordered by descending weight. Returns nil if term has no ring.
func (r *Ring) Expand(term string) []Member {
	if r == nil {
		return nil
	}
	return r.members[strings.ToLower(term)]
}

// Options bounds ring construction.
type Options struct {
	MaxRingSize int     // most synonyms any one term's ring may hold
	MinWeight   float64 // drop neighbors propagated below this co-occurrence weight fraction
	// MinFrequency restricts ring construction to frequent terms; atoms
	// below this reference count are skipped entirely, keeping the ring
	// small and meaningful.
	MinFrequency int64
}

// DefaultOptions keeps rings small: enough synonyms
// to broaden recall without diluting the query.
func DefaultOptions() Options {
	return Options{MaxRingSize: 8, MinWeight: 0.1, MinFrequency: 2}
}

// Build derives a Ring from the index store's current atom/edge tables:
// for every atom at or above MinFrequency, its ring is the top MaxRingSize
// co-occurrence neighbors by edge weight, normalized into [0,1] relative
// to that atom's strongest neighbor, plus lexical variants (atoms sharing
// a long common prefix, catching simple pluralization/inflection) at a
// fixed attenuated weight.
func Build(s *store.Store, atoms []string, opts Options) (*Ring, error) {
	timer := logging.StartTimer(logging.CategorySynonym, "Build")
	defer timer.Stop()

	if opts.MaxRingSize <= 0 {
		opts.MaxRingSize = 8
	}

	members := make(map[string][]Member, len(atoms))
	for _, atom := range atoms {
		freq, err := s.AtomFrequency(atom)
		if err != nil {
			return nil, err
		}
		if freq < opts.MinFrequency {
			continue
		}

		edges, err := s.Neighbors(atom)
		if err != nil {
			return nil, err
		}
		ring := coOccurrenceRing(atom, edges, opts)
		ring = append(ring, lexicalVariants(atom, atoms, ring)...)
		if len(ring) == 0 {
			continue
		}
		sort.Slice(ring, func(i, j int) bool { return ring[i].Weight > ring[j].Weight })
		if len(ring) > opts.MaxRingSize {
			ring = ring[:opts.MaxRingSize]
		}
		members[atom] = ring
	}

	logging.Get(logging.CategorySynonym).Info("built synonym ring for %d terms (from %d candidate atoms)", len(members), len(atoms))
	return &Ring{members: members}, nil
}

func coOccurrenceRing(atom string, edges []store.Edge, opts Options) []Member {
	if len(edges) == 0 {
		return nil
	}
	var maxWeight int64
	for _, e := range edges {
		if e.Weight > maxWeight {
			maxWeight = e.Weight
		}
	}
	if maxWeight == 0 {
		return nil
	}

	var ring []Member
	for _, e := range edges {
		norm := float64(e.Weight) / float64(maxWeight)
		if norm < opts.MinWeight {
			continue
		}
		ring = append(ring, Member{Term: e.OtherAtom(atom), Weight: norm})
	}
	return ring
}

// lexicalVariantWeight is the fixed attenuation applied to variants found
// by the prefix heuristic rather than co-occurrence, since they carry no
// corpus-derived confidence signal.
const lexicalVariantWeight = 0.3

// lexicalVariants finds other vocabulary terms sharing a long prefix with
// atom (catching simple inflection: "diagnosis"/"diagnoses",
// "budget"/"budgets"), excluding anything already in existing.
func lexicalVariants(atom string, vocabulary []string, existing []Member) []Member {
	if len(atom) < 4 {
		return nil
	}
	already := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		already[m.Term] = struct{}{}
	}

	var variants []Member
	for _, candidate := range vocabulary {
		if candidate == atom {
			continue
		}
		if _, ok := already[candidate]; ok {
			continue
		}
		if commonPrefixLen(atom, candidate) >= len(atom)-2 && len(candidate) >= len(atom)-2 {
			variants = append(variants, Member{Term: candidate, Weight: lexicalVariantWeight})
		}
	}
	return variants
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Manager holds the current Ring behind an atomic pointer so query-time
// readers always see a complete snapshot, never a ring under
// construction. The ring is read-mostly: rebuilt at startup and on
// demand, published via pointer swap.
type Manager struct {
	current atomic.Pointer[Ring]
}

// NewManager returns a Manager with an empty ring (no expansions) until
// the first Rebuild completes.
func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(&Ring{members: map[string][]Member{}})
	return m
}

// Current returns the most recently published Ring.
func (m *Manager) Current() *Ring {
	return m.current.Load()
}

// Rebuild constructs a new Ring from s and publishes it atomically,
// replacing whatever snapshot concurrent readers were using.
func (m *Manager) Rebuild(s *store.Store, atoms []string, opts Options) error {
	ring, err := Build(s, atoms, opts)
	if err != nil {
		return err
	}
	m.current.Store(ring)
	return nil
}
