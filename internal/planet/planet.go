// Package planet performs the "direct hit" search channel:
// building an FTS query from a parsed query's keywords (with optional
// synonym expansion), merging in an ANN vector search by molecule id, and
// applying the code-weight penalty for narrative queries that hit code
// molecules.
package planet

import (
	"context"
	"strings"

	"starcore/internal/logging"
	"starcore/internal/queryparse"
	"starcore/internal/store"
	"starcore/internal/synonym"
)

// Hit is one planet (direct-hit) candidate: a molecule with its FTS and/or
// vector channel scores kept separate, for the fuser to combine.
type Hit struct {
	Molecule    *store.Molecule
	FTSScore    float64
	VectorScore float64
}

// Options configures a single planet search.
type Options struct {
	Filter         store.SearchFilter
	Limit          int
	Synonyms       *synonym.Ring // nil disables expansion
	CodeWeight     float64       // penalty multiplier in [0,1] applied to code molecules when the query shows no code markers
	QueryVector    []float32     // nil skips the vector channel
	HasCodeMarkers bool
	CharBudget     int // planet-class char budget; 0 disables the vector short-circuit
}

var codeMarkers = []string{"func", "class", "import", "package", "```", "def ", "return "}

// Search executes the planet searcher against s for the already-parsed
// query, returning a list of candidates merged by molecule id (FTS and
// vector hits on the same molecule produce one Hit with both scores set).
func Search(ctx context.Context, s *store.Store, parsed *queryparse.Parsed, opts Options) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategoryPlanet, "Search")
	defer timer.Stop()

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	ftsQuery := buildFTSQuery(parsed.Keywords, opts.Synonyms)
	if ftsQuery == "" {
		logging.Get(logging.CategoryPlanet).Debug("empty FTS query after keyword extraction, skipping lexical channel")
	}

	byID := make(map[string]*Hit)

	if ftsQuery != "" {
		ftsHits, err := s.SearchFTS(ftsQuery, opts.Filter, opts.Limit)
		if err != nil {
			return nil, err
		}
		for _, h := range ftsHits {
			byID[h.Molecule.ID] = &Hit{Molecule: h.Molecule, FTSScore: h.Score}
		}
	}

	// The vector channel only widens the candidate pool; once the FTS hits
	// alone already fill the planet-class char budget, running it burns
	// query-deadline time on candidates the fuser's budget partition would
	// drop anyway.
	if opts.QueryVector != nil && budgetRemains(byID, opts.CharBudget) {
		select {
		case <-ctx.Done():
			return mergedCandidates(byID, opts), ctx.Err()
		default:
		}
		vecHits, err := s.SearchVector(opts.QueryVector, opts.Filter, opts.Limit)
		if err != nil {
			return nil, err
		}
		for _, h := range vecHits {
			if existing, ok := byID[h.Molecule.ID]; ok {
				existing.VectorScore = h.Score
			} else {
				byID[h.Molecule.ID] = &Hit{Molecule: h.Molecule, VectorScore: h.Score}
			}
		}
	}

	return mergedCandidates(byID, opts), nil
}

// budgetRemains reports whether hits' total byte span still leaves room
// in the planet-class char budget. A zero budget disables the check.
func budgetRemains(byID map[string]*Hit, charBudget int) bool {
	if charBudget <= 0 {
		return true
	}
	total := 0
	for _, h := range byID {
		total += h.Molecule.EndByte - h.Molecule.StartByte
	}
	if total >= charBudget {
		logging.Get(logging.CategoryPlanet).Debug("planet char budget (%d) already filled by %d FTS hits, skipping vector channel", charBudget, len(byID))
		return false
	}
	return true
}

func mergedCandidates(byID map[string]*Hit, opts Options) []Hit {
	hasCodeMarkers := opts.HasCodeMarkers
	codeWeight := opts.CodeWeight
	if codeWeight <= 0 {
		codeWeight = 1
	}

	out := make([]Hit, 0, len(byID))
	for _, h := range byID {
		if h.Molecule.Type == store.MoleculeCode && !hasCodeMarkers && codeWeight < 1 {
			h.FTSScore *= codeWeight
			h.VectorScore *= codeWeight
		}
		out = append(out, *h)
	}
	return out
}

// buildFTSQuery turns a keyword set into an FTS5 MATCH expression, OR-ing
// in synonym ring members at query time. The ring's attenuation weights
// are not applied: FTS5 MATCH has no native per-term boost syntax
// available to this tokenizer, and the fuser's lexical score does not
// tell a synonym match from a keyword match.
func buildFTSQuery(keywords []string, ring *synonym.Ring) string {
	if len(keywords) == 0 {
		return ""
	}

	terms := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		terms = append(terms, quoteFTSTerm(kw))

		if ring == nil {
			continue
		}
		for _, syn := range ring.Expand(kw) {
			if _, dup := seen[syn.Term]; dup {
				continue
			}
			seen[syn.Term] = struct{}{}
			terms = append(terms, quoteFTSTerm(syn.Term))
		}
	}
	return strings.Join(terms, " OR ")
}

func quoteFTSTerm(term string) string {
	escaped := strings.ReplaceAll(term, `"`, `""`)
	return `"` + escaped + `"`
}

// DetectCodeMarkers is a cheap heuristic for whether a raw query is itself
// about code, the gate for the code-weight penalty. Callers populate
// Options.HasCodeMarkers with it before calling Search.
func DetectCodeMarkers(query string) bool {
	lowered := strings.ToLower(query)
	for _, marker := range codeMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
