// Package tagger derives the tags set for a molecule via an infection
// model: seed keyword pattern scanning, local infection from
// neighboring molecules in the same compound, and a frequency cap that
// drops corpus-wide stopword tags.
package tagger

import (
	"sort"
	"strings"
	"unicode"

	"starcore/internal/logging"
)

// SeedDictionary maps a lowercase keyword to its canonical tag name.
// Callers supply it (DefaultSeeds or their own map); the tagger only
// reads it.
type SeedDictionary map[string]string

// Neighbor carries just enough of a neighboring molecule for local
// infection: its tag set and its distance (in molecule sequence) from the
// molecule being tagged.
type Neighbor struct {
	Tags     []string
	Distance int // 1 = immediately adjacent
}

// Options bounds the infection algorithm.
type Options struct {
	Seeds SeedDictionary
	Prev  *Neighbor // previous molecule in the same compound, if any
	Next  *Neighbor // next molecule in the same compound, if any

	// FrequencyOf reports how many molecules in the corpus currently carry
	// a candidate tag, for the stopword frequency cap. Nil
	// means no cap is applied (e.g. during dry-run tagging before the atom
	// table is populated).
	FrequencyOf func(tag string) int64
	// MaxFrequency is the stopword threshold: tags whose FrequencyOf
	// result exceeds this are dropped. Zero disables the cap.
	MaxFrequency int64
}

// Tag derives the deterministic tag set for molecule text via the
// infection model: pattern scan, then local infection from neighbors,
// then a frequency cap. Input order never affects output: the result is
// sorted and deduplicated.
func Tag(text string, opts Options) []string {
	lowered := strings.ToLower(text)

	tags := make(map[string]struct{})
	for keyword, canonical := range opts.Seeds {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			tags[normalizeTag(canonical)] = struct{}{}
		}
	}

	for _, infected := range localInfection(opts.Prev, opts.Next) {
		tags[infected] = struct{}{}
	}

	out := make([]string, 0, len(tags))
	for tag := range tags {
		if tag == "" || len(tag) > 64 {
			continue
		}
		if opts.FrequencyOf != nil && opts.MaxFrequency > 0 {
			if opts.FrequencyOf(tag) > opts.MaxFrequency {
				logging.Get(logging.CategoryTagger).Debug("dropped stopword tag %q (over frequency cap)", tag)
				continue
			}
		}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// localInfection computes the set of tags that spread from neighboring
// molecules: the intersection of the previous and next molecule's tag
// sets. Distance weighting is applied as a hard cutoff: a neighbor
// farther than 2 molecules away never infects, since its tags are
// unlikely to still describe the molecule between them.
func localInfection(prev, next *Neighbor) []string {
	const maxInfectionDistance = 2

	prevSet := tagSet(prev, maxInfectionDistance)
	nextSet := tagSet(next, maxInfectionDistance)
	if len(prevSet) == 0 || len(nextSet) == 0 {
		return nil
	}

	var shared []string
	for tag := range prevSet {
		if _, ok := nextSet[tag]; ok {
			shared = append(shared, tag)
		}
	}
	return shared
}

func tagSet(n *Neighbor, maxDistance int) map[string]struct{} {
	if n == nil || n.Distance > maxDistance || n.Distance < 1 {
		return nil
	}
	set := make(map[string]struct{}, len(n.Tags))
	for _, t := range n.Tags {
		set[normalizeTag(t)] = struct{}{}
	}
	return set
}

// normalizeTag lowercases a candidate tag and strips punctuation, keeping
// tags canonical regardless of how a seed dictionary spells them.
func normalizeTag(tag string) string {
	var b strings.Builder
	b.Grow(len(tag))
	for _, r := range strings.ToLower(tag) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultSeeds returns an empty dictionary: with it, no tags come from
// keyword matches. Nothing in this module loads seeds from a file.
func DefaultSeeds() SeedDictionary {
	return SeedDictionary{}
}
