// Package queryparse turns a raw query string into the structured pieces
// the rest of the retrieval pipeline consumes: clauses
// ("molecules of intent"), a keyword set, tag hints against the known
// vocabulary, and temporal sort intent.
package queryparse

import (
	"strings"
	"unicode"

	"starcore/internal/logging"
	"starcore/internal/starerrors"
)

// MaxQueryLength bounds the raw query string; longer input fails with
// starerrors.QueryMalformed rather than degrading silently.
const MaxQueryLength = 4096

// clauseTokenThreshold: a clause with at least this many tokens, or
// containing a conjunction, is itself split further.
const clauseTokenThreshold = 12

var conjunctions = map[string]struct{}{
	"and": {}, "but": {}, "then": {}, "also": {},
}

var temporalAscendingMarkers = map[string]struct{}{
	"earliest": {}, "oldest": {}, "first": {},
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "and": {}, "or": {}, "but": {},
	"for": {}, "with": {}, "about": {}, "my": {}, "me": {}, "i": {}, "it": {},
	"that": {}, "this": {}, "at": {}, "by": {}, "from": {}, "be": {},
}

// Sort describes the requested result ordering.
type Sort int

const (
	// SortDescending is the default: most relevant/most recent first.
	SortDescending Sort = iota
	// SortAscending is set when the query carries a temporal marker like
	// "earliest" or "oldest".
	SortAscending
)

// Parsed is the structured result of parsing a query.
type Parsed struct {
	Raw      string
	Clauses  []string // molecules of intent
	Keywords []string // deduplicated, stopword-filtered, lowercase
	TagHints []string // keywords that exactly match known tags
	Sort     Sort
}

// Parse splits query into clauses, extracts keywords and tag hints
// (checked against knownTags), and detects temporal intent. Returns
// starerrors.QueryMalformed if query is empty (after trimming) or exceeds
// MaxQueryLength.
func Parse(query string, knownTags map[string]struct{}) (*Parsed, error) {
	timer := logging.StartTimer(logging.CategoryQueryParse, "Parse")
	defer timer.Stop()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, starerrors.New(starerrors.QueryMalformed, "query is empty")
	}
	if len(trimmed) > MaxQueryLength {
		return nil, starerrors.New(starerrors.QueryMalformed, "query exceeds maximum length")
	}

	clauses := splitClauses(trimmed)
	keywords := keywordSet(trimmed)

	var tagHints []string
	for _, kw := range keywords {
		if _, ok := knownTags[kw]; ok {
			tagHints = append(tagHints, kw)
		}
	}

	sortHint := SortDescending
	for _, kw := range keywords {
		if _, ok := temporalAscendingMarkers[kw]; ok {
			sortHint = SortAscending
			break
		}
	}

	logging.Get(logging.CategoryQueryParse).Debug(
		"parsed query into %d clauses, %d keywords, %d tag hints, sort=%v",
		len(clauses), len(keywords), len(tagHints), sortHint)

	return &Parsed{
		Raw:      trimmed,
		Clauses:  clauses,
		Keywords: keywords,
		TagHints: tagHints,
		Sort:     sortHint,
	}, nil
}

// splitClauses breaks the query into sentence-like clauses: first on
// sentence terminators, then any resulting clause at or above
// clauseTokenThreshold tokens (or containing a conjunction) is split again
// on commas and conjunctions so each independently-searchable unit stays
// small enough to search on its own.
func splitClauses(query string) []string {
	sentences := splitOnAny(query, ".", "?", "!", "\n")

	var clauses []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if needsFurtherSplit(s) {
			clauses = append(clauses, splitOnConjunctions(s)...)
		} else {
			clauses = append(clauses, s)
		}
	}
	if len(clauses) == 0 {
		clauses = []string{query}
	}
	return clauses
}

func needsFurtherSplit(clause string) bool {
	fields := strings.Fields(clause)
	if len(fields) >= clauseTokenThreshold {
		return true
	}
	for _, f := range fields {
		if _, ok := conjunctions[normalizeToken(f)]; ok {
			return true
		}
	}
	return false
}

func splitOnConjunctions(clause string) []string {
	parts := splitOnAny(clause, ",")
	var out []string
	for _, p := range parts {
		words := strings.Fields(p)
		var current []string
		for _, w := range words {
			if _, ok := conjunctions[normalizeToken(w)]; ok && len(current) > 0 {
				out = append(out, strings.Join(current, " "))
				current = nil
				continue
			}
			current = append(current, w)
		}
		if len(current) > 0 {
			out = append(out, strings.Join(current, " "))
		}
	}
	if len(out) == 0 {
		return []string{clause}
	}
	return out
}

func splitOnAny(s string, seps ...string) []string {
	parts := []string{s}
	for _, sep := range seps {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}
	return parts
}

// keywordSet tokenizes query, lowercases, strips punctuation, and drops
// stopwords and empty tokens, returning a deduplicated, order-preserving
// slice.
func keywordSet(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, field := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	}) {
		tok := normalizeToken(field)
		if tok == "" {
			continue
		}
		if _, isStop := stopwords[tok]; isStop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func normalizeToken(tok string) string {
	return strings.ToLower(strings.TrimFunc(tok, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}
