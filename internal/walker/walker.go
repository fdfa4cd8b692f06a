// Package walker performs the tag-walker's associative expansion:
// a priority-queue graph walk over the atom co-occurrence graph,
// seeded from the query parser's tag hints, propagating a damped gravity
// score outward until it decays below a threshold or the hop/fan-out caps
// are hit.
package walker

import (
	"container/heap"
	"math/rand"

	"starcore/internal/logging"
	"starcore/internal/store"
)

// Config bounds a single walk. recall_mode presets (internal/config)
// translate into one of these at query time.
type Config struct {
	Damping          float64 // 0.7-1.0
	GravityThreshold float64 // 0.0-0.5, propagated gravity below this is dropped
	MaxHops          int     // 1 focused / 2 balanced / 3 max-recall
	MaxPerHop        int     // 20-200, atoms expanded from any single hop level
	Temperature      float64 // 0.1-0.8, probability of weighted-random over deterministic top-K
	MaxCandidates    int     // total candidate cap before the walk terminates early

	// Rand drives the temperature-based sampling. Nil means
	// rand.New(rand.NewSource(time-derived)) is NOT used (the module avoids
	// implicit global time seeding in library code); callers that want real
	// randomization must supply one, and a nil Rand with Temperature > 0
	// falls back to deterministic top-K, same as Temperature == 0.
	Rand *rand.Rand
}

// MoonAtom is one atom reached by the walk, with the best (highest)
// gravity seen across all paths that reached it, and the hop count of the
// path that achieved that best gravity.
type MoonAtom struct {
	Atom        string
	BestGravity float64
	Hops        int
}

// Candidate is a molecule surfaced by the walk:
// the molecule carries at least one walked atom, credited with
// that atom's best gravity and the hop distance that reached it.
type Candidate struct {
	Molecule    *store.Molecule
	BestGravity float64
	HopsToReach int
}

type frontierItem struct {
	atom    string
	gravity float64
	hops    int
}

// frontierQueue is a max-heap by gravity: the walk always expands the
// highest-gravity atom next.
type frontierQueue []frontierItem

func (q frontierQueue) Len() int            { return len(q) }
func (q frontierQueue) Less(i, j int) bool  { return q[i].gravity > q[j].gravity }
func (q frontierQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *frontierQueue) Push(x interface{}) { *q = append(*q, x.(frontierItem)) }
func (q *frontierQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Walk runs the tag-walker over s's atom graph, seeded from seedTags at
// hop 0 with gravity 1, and gathers molecules carrying any walked atom
// (subject to filter). Returns the candidate molecules and the full set
// of moon atoms reached, for the fuser's SharedTags computation.
func Walk(s *store.Store, seedTags []string, cfg Config, filter store.SearchFilter) ([]Candidate, map[string]MoonAtom, error) {
	timer := logging.StartTimer(logging.CategoryWalker, "Walk")
	defer timer.Stop()

	cfg = withDefaults(cfg)

	moonAtoms := make(map[string]MoonAtom)
	queue := &frontierQueue{}
	heap.Init(queue)

	for _, tag := range dedupe(seedTags) {
		heap.Push(queue, frontierItem{atom: tag, gravity: 1, hops: 0})
		moonAtoms[tag] = MoonAtom{Atom: tag, BestGravity: 1, Hops: 0}
	}

	expandedPerHop := make(map[int]int)
	visited := make(map[string]struct{})
	total := len(moonAtoms)

	for queue.Len() > 0 {
		if cfg.MaxCandidates > 0 && total >= cfg.MaxCandidates {
			logging.Get(logging.CategoryWalker).Debug("walk stopping: candidate cap %d reached", cfg.MaxCandidates)
			break
		}

		item := heap.Pop(queue).(frontierItem)
		if _, already := visited[item.atom]; already {
			continue
		}
		visited[item.atom] = struct{}{}

		if expandedPerHop[item.hops] >= cfg.MaxPerHop {
			logging.Get(logging.CategoryWalker).Debug("dropping atom %q: per-hop cap %d reached at hop %d", item.atom, cfg.MaxPerHop, item.hops)
			continue
		}
		expandedPerHop[item.hops]++

		edges, err := s.Neighbors(item.atom)
		if err != nil {
			return nil, nil, err
		}
		if len(edges) == 0 {
			continue
		}

		neighbors := selectNeighbors(item.atom, edges, cfg)
		for _, n := range neighbors {
			propagated := item.gravity * cfg.Damping
			if propagated < cfg.GravityThreshold {
				continue
			}
			hops := item.hops + 1
			if hops > cfg.MaxHops {
				continue
			}

			if existing, ok := moonAtoms[n]; !ok || propagated > existing.BestGravity {
				moonAtoms[n] = MoonAtom{Atom: n, BestGravity: propagated, Hops: hops}
				total++
			}
			heap.Push(queue, frontierItem{atom: n, gravity: propagated, hops: hops})
		}
	}

	atomNames := make([]string, 0, len(moonAtoms))
	for a := range moonAtoms {
		atomNames = append(atomNames, a)
	}

	molecules, err := s.MoleculesByTags(atomNames, filter)
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]Candidate, 0, len(molecules))
	for _, m := range molecules {
		best, hops := bestAtomFor(m.Tags, moonAtoms)
		candidates = append(candidates, Candidate{Molecule: m, BestGravity: best, HopsToReach: hops})
	}

	logging.Get(logging.CategoryWalker).Info("walk reached %d atoms, surfaced %d candidate molecules", len(moonAtoms), len(candidates))
	return candidates, moonAtoms, nil
}

// bestAtomFor finds, among a molecule's tags, the highest gravity reached
// by the walk, for crediting that molecule in the result.
func bestAtomFor(tags []string, moonAtoms map[string]MoonAtom) (float64, int) {
	var best float64
	var hops int
	for _, t := range tags {
		if m, ok := moonAtoms[t]; ok && m.BestGravity > best {
			best = m.BestGravity
			hops = m.Hops
		}
	}
	return best, hops
}

// selectNeighbors picks which of atom's co-occurrence neighbors to add to
// the frontier. With probability cfg.Temperature (and a usable Rand), it
// takes a weighted-random sample over all neighbors (weighted by edge
// weight); otherwise it deterministically takes the top-weighted
// cfg.MaxPerHop neighbors.
func selectNeighbors(atom string, edges []store.Edge, cfg Config) []string {
	k := cfg.MaxPerHop
	if k <= 0 || k > len(edges) {
		k = len(edges)
	}

	useRandom := cfg.Temperature > 0 && cfg.Rand != nil && cfg.Rand.Float64() < cfg.Temperature
	if useRandom {
		return weightedSample(atom, edges, k, cfg.Rand)
	}
	return topKByWeight(atom, edges, k)
}

func topKByWeight(atom string, edges []store.Edge, k int) []string {
	sorted := append([]store.Edge(nil), edges...)
	// Simple insertion sort: edge lists are small (bounded by max_per_hop
	// upstream callers configure), so this avoids pulling in sort for a
	// handful of elements. It is stable: equal-weight edges keep the order
	// Neighbors returned them in, which the store orders by weight only.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Weight > sorted[j-1].Weight; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]string, len(sorted))
	for i, e := range sorted {
		out[i] = e.OtherAtom(atom)
	}
	return out
}

func weightedSample(atom string, edges []store.Edge, k int, r *rand.Rand) []string {
	pool := append([]store.Edge(nil), edges...)
	out := make([]string, 0, k)
	for len(out) < k && len(pool) > 0 {
		var total int64
		for _, e := range pool {
			total += e.Weight + 1 // +1 so zero-weight edges still have a chance
		}
		pick := r.Int63n(total)
		var cursor int64
		idx := 0
		for i, e := range pool {
			cursor += e.Weight + 1
			if pick < cursor {
				idx = i
				break
			}
		}
		out = append(out, pool[idx].OtherAtom(atom))
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

func withDefaults(cfg Config) Config {
	if cfg.Damping <= 0 {
		cfg.Damping = 0.85
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 2
	}
	if cfg.MaxPerHop <= 0 {
		cfg.MaxPerHop = 50
	}
	return cfg
}

func dedupe(ss []string) []string {
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
