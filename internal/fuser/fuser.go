// Package fuser computes the final gravity score for every candidate
// molecule and merges planet (direct-hit) and moon (walk-hit) candidates
// into the budget-partitioned result list.
package fuser

import (
	"math"
	"sort"

	"starcore/internal/config"
	"starcore/internal/fingerprint"
	"starcore/internal/logging"
	"starcore/internal/planet"
	"starcore/internal/store"
	"starcore/internal/walker"
)

// Class distinguishes a candidate's origin for budget partitioning.
type Class string

const (
	ClassPlanet Class = "planet"
	ClassMoon   Class = "moon"
)

// Source records which channel(s) produced a candidate, and for moon
// candidates, the atom it was reached through.
type Source struct {
	FTS     bool
	Vector  bool
	Walker  bool
	ViaAtom string
}

// String renders the channels that produced a candidate, e.g. "fts+vector"
// or "walker(via=adhd)", for diagnostic output (cmd/starinspect).
func (s Source) String() string {
	var parts []string
	if s.FTS {
		parts = append(parts, "fts")
	}
	if s.Vector {
		parts = append(parts, "vector")
	}
	if s.Walker {
		if s.ViaAtom != "" {
			parts = append(parts, "walker(via="+s.ViaAtom+")")
		} else {
			parts = append(parts, "walker")
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "+" + p
	}
	return out
}

// Result is one fused candidate, ready for the context assembler.
type Result struct {
	Molecule   *store.Molecule
	Gravity    float64
	Class      Class
	Provenance Source
}

// QueryContext carries the per-query values needed to score every
// candidate: the now-timestamp, the set of tags the query cares about
// (query tag hints unioned with walked atoms), the query's own SimHash
// and embedding for ContentSim/VectorScore.
type QueryContext struct {
	Now            int64
	QueryTags      map[string]struct{}
	QuerySimHash   uint64
	QueryEmbedding []float32
	SortAscending  bool // temporal intent: "earliest" reverses the default ordering
}

// Fuse combines planet and moon candidates into one gravity-ranked,
// budget-partitioned, deduplicated result list.
func Fuse(planetHits []planet.Hit, moonHits []walker.Candidate, qctx QueryContext, weights config.FuserConfig, budget config.WalkerConfig, maxChars int) []Result {
	timer := logging.StartTimer(logging.CategoryFuser, "Fuse")
	defer timer.Stop()

	candidates := make([]Result, 0, len(planetHits)+len(moonHits))
	for _, h := range planetHits {
		candidates = append(candidates, Result{
			Molecule:   h.Molecule,
			Class:      ClassPlanet,
			Provenance: Source{FTS: h.FTSScore > 0, Vector: h.VectorScore > 0},
			Gravity:    gravity(h.Molecule, qctx, weights, budget.TemporalDecay, normalizedLexical(h.FTSScore), vectorScore(h.VectorScore), 0),
		})
	}
	for _, h := range moonHits {
		candidates = append(candidates, Result{
			Molecule:   h.Molecule,
			Class:      ClassMoon,
			Provenance: Source{Walker: true},
			Gravity:    gravity(h.Molecule, qctx, weights, budget.TemporalDecay, 0, 0, h.BestGravity),
		})
	}

	candidates = dedupe(candidates, weights.DedupHammingBucket)
	sortCandidates(candidates, qctx.SortAscending)

	return partitionByBudget(candidates, budget, maxChars)
}

// gravity computes the weighted-sum score across every channel.
func gravity(m *store.Molecule, qctx QueryContext, w config.FuserConfig, decayRate float64, lexical, vector, walkerGravity float64) float64 {
	shared := sharedTags(m.Tags, qctx.QueryTags)
	contentSim := 1 - float64(fingerprint.HammingDistance(m.SimHash, qctx.QuerySimHash))/64

	return w.WeightTags*shared +
		w.WeightTime*timeDecayFor(qctx.Now, m.Timestamp, decayRate) +
		w.WeightSim*contentSim +
		w.WeightLex*lexical +
		w.WeightVec*vector +
		w.WeightWalk*walkerGravity
}

// timeDecayFor follows an exp(-decayRate * age) curve. A zero decayRate
// yields 1 for every candidate (no age bias).
func timeDecayFor(now, timestamp int64, decayRate float64) float64 {
	if decayRate <= 0 {
		return 1
	}
	age := float64(now - timestamp)
	if age < 0 {
		age = 0
	}
	return math.Exp(-decayRate * age)
}

func sharedTags(molTags []string, queryTags map[string]struct{}) float64 {
	if len(queryTags) == 0 {
		return 0
	}
	hits := 0
	for _, t := range molTags {
		if _, ok := queryTags[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTags))
}

// normalizedLexical squashes an unbounded bm25-derived score into [0,1]
// via a simple saturating curve, since FTS5's score has no fixed range.
func normalizedLexical(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}

func vectorScore(cosineSimilarity float64) float64 {
	if cosineSimilarity <= 0 {
		return 0
	}
	return cosineSimilarity
}

// dedupe buckets candidates by Hamming distance < 5 between SimHashes,
// keeping the highest-gravity representative of each bucket.
// Tie-breaks: more recent timestamp, then shorter content (end-start byte
// span), then stable id order.
func dedupe(candidates []Result, hammingBucket int) []Result {
	if hammingBucket <= 0 {
		hammingBucket = 5
	}

	kept := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		replaced := false
		for i, existing := range kept {
			if fingerprint.HammingDistance(c.Molecule.SimHash, existing.Molecule.SimHash) < hammingBucket {
				if better(c, existing) {
					kept[i] = c
				}
				replaced = true
				break
			}
		}
		if !replaced {
			kept = append(kept, c)
		}
	}
	return kept
}

func better(a, b Result) bool {
	if a.Gravity != b.Gravity {
		return a.Gravity > b.Gravity
	}
	if a.Molecule.Timestamp != b.Molecule.Timestamp {
		return a.Molecule.Timestamp > b.Molecule.Timestamp
	}
	aSpan := a.Molecule.EndByte - a.Molecule.StartByte
	bSpan := b.Molecule.EndByte - b.Molecule.StartByte
	if aSpan != bSpan {
		return aSpan < bSpan
	}
	return a.Molecule.ID < b.Molecule.ID
}

func sortCandidates(candidates []Result, ascending bool) {
	sort.Slice(candidates, func(i, j int) bool {
		if ascending {
			return candidates[i].Molecule.Timestamp < candidates[j].Molecule.Timestamp
		}
		return candidates[i].Gravity > candidates[j].Gravity
	})
}

// partitionByBudget assigns candidates to planet/moon buckets against
// their own char budgets: a candidate
// that doesn't fit its own class's remaining budget is skipped, never
// spilled into the other class's bucket.
func partitionByBudget(candidates []Result, budget config.WalkerConfig, maxChars int) []Result {
	planetBudget := budget.PlanetBudget
	moonBudget := budget.MoonBudget
	if planetBudget <= 0 && moonBudget <= 0 {
		planetBudget, moonBudget = 0.7, 0.3
	}
	planetCap := int(float64(maxChars) * planetBudget)
	moonCap := int(float64(maxChars) * moonBudget)

	var planetUsed, moonUsed int
	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		span := c.Molecule.EndByte - c.Molecule.StartByte
		switch c.Class {
		case ClassPlanet:
			if planetUsed+span > planetCap {
				continue
			}
			planetUsed += span
		case ClassMoon:
			if moonUsed+span > moonCap {
				continue
			}
			moonUsed += span
		}
		out = append(out, c)
		if planetUsed >= planetCap && moonUsed >= moonCap {
			break
		}
	}
	return out
}
