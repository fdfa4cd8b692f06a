// Package retrieval wires the parser, synonym ring, planet searcher,
// tag-walker, gravity fuser, and context assembler into the single
// search() operation the query API surface exposes. Every query owns one
// Engine.Search call that spawns planet and moon child tasks under a
// shared deadline, and cancellation at that deadline propagates down to
// both.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"starcore/internal/assembler"
	"starcore/internal/config"
	"starcore/internal/embedding"
	"starcore/internal/fingerprint"
	"starcore/internal/fuser"
	"starcore/internal/ingest"
	"starcore/internal/logging"
	"starcore/internal/mirror"
	"starcore/internal/planet"
	"starcore/internal/queryparse"
	"starcore/internal/starerrors"
	"starcore/internal/store"
	"starcore/internal/synonym"
	"starcore/internal/tagger"
	"starcore/internal/walker"
)

// Engine is the retrieval core's top-level handle: the store, mirror,
// ingestion orchestrator, embedder, and synonym ring a deployment needs to
// answer search() and its auxiliary operations.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	mirror   *mirror.Store
	orch     *ingest.Orchestrator
	embedder embedding.EmbeddingEngine
	synonyms *synonym.Manager

	// taggerSeeds mirrors the ingestion orchestrator's seed dictionary so
	// UpdateContent's single-molecule retag uses the same pattern scan as
	// the ingest pipeline.
	taggerSeeds tagger.SeedDictionary
}

// New assembles an Engine from its already-opened collaborators. embedder
// may be nil: queries proceed FTS/walker-only and ingestion degrades to
// zero-vector placeholders. seeds should match
// whatever tagger.SeedDictionary the ingestion orchestrator was built
// with, so UpdateContent's retag stays consistent with fresh ingests.
func New(cfg *config.Config, s *store.Store, m *mirror.Store, orch *ingest.Orchestrator, embedder embedding.EmbeddingEngine, seeds tagger.SeedDictionary) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       s,
		mirror:      m,
		orch:        orch,
		embedder:    embedder,
		synonyms:    synonym.NewManager(),
		taggerSeeds: seeds,
	}
}

// RebuildSynonymRing regenerates the synonym ring from the current atom
// vocabulary and publishes it via the manager's atomic pointer swap.
// Callers run this once at startup after an index rebuild and
// periodically thereafter; it is never run inline with a query.
func (e *Engine) RebuildSynonymRing() error {
	atoms, err := e.store.AllAtoms()
	if err != nil {
		return fmt.Errorf("rebuild synonym ring: list atoms: %w", err)
	}
	return e.synonyms.Rebuild(e.store, atoms, synonym.DefaultOptions())
}

// Options configures a single search() call.
type Options struct {
	Buckets    []string
	Tags       []string
	Provenance []store.Provenance
	MaxChars   int             // 0 means use the configured recall mode's default
	Deep       bool            // true forces RecallMaximum regardless of RecallMode
	CodeWeight float64         // 0 means use config default
	RecallMode config.RecallMode // "" means use the configured default
}

// Response is search()'s return shape: the assembled context window plus
// per-molecule results, the strategy used, and response metadata.
type Response struct {
	Context  string
	Results  []assembler.MoleculeResult
	Strategy string
	Metadata map[string]any
	Status   string // "ok", or "partial" when the query deadline truncated the search
}

// Search answers a natural-language query with a bounded, ranked context
// window: parse -> synonym expansion -> planet + walker (concurrent) ->
// gravity fuser -> context assembler. Bucket/tag/provenance filters are
// threaded into every phase (planet FTS, planet vector, and the walker's
// final gather) so no phase can leak results across a sandbox.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "Search")
	defer timer.Stop()

	recallMode := opts.RecallMode
	if opts.Deep {
		recallMode = config.RecallMaximum
	}
	walkerCfg, budgetCfg, maxChars := e.resolvePreset(recallMode, opts.MaxChars)

	codeWeight := opts.CodeWeight
	if codeWeight <= 0 {
		codeWeight = e.cfg.Retrieval.CodeWeight
	}

	// Every query carries a deadline, scaled to its char budget: bigger
	// windows buy proportionally more search time.
	deadline := time.Duration(maxChars/8) * time.Millisecond
	if deadline < time.Second {
		deadline = time.Second
	}
	qctxDeadline, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	knownTags, err := e.knownTagVocabulary()
	if err != nil {
		return nil, starerrors.Wrap(starerrors.IndexUnavailable, "load tag vocabulary", err)
	}

	parsed, err := queryparse.Parse(query, knownTags)
	if err != nil {
		return nil, err // already a *starerrors.Error with Code QueryMalformed
	}

	filter := store.SearchFilter{Buckets: opts.Buckets, Tags: opts.Tags, Provenance: opts.Provenance}

	querySimHash := fingerprint.SimHash(parsed.Raw)
	queryVector, embedWarning := e.embedQuery(qctxDeadline, parsed.Raw)

	planetOpts := planet.Options{
		Filter:         filter,
		Limit:          200,
		Synonyms:       e.synonyms.Current(),
		CodeWeight:     codeWeight,
		QueryVector:    queryVector,
		HasCodeMarkers: planet.DetectCodeMarkers(parsed.Raw),
		CharBudget:     int(float64(maxChars) * budgetCfg.PlanetBudget),
	}

	var planetHits []planet.Hit
	var moonHits []walker.Candidate
	var moonAtoms map[string]walker.MoonAtom

	g, gctx := errgroup.WithContext(qctxDeadline)
	g.Go(func() error {
		hits, err := planet.Search(gctx, e.store, parsed, planetOpts)
		if err != nil {
			return err
		}
		planetHits = hits
		return nil
	})
	g.Go(func() error {
		cands, atoms, err := walker.Walk(e.store, parsed.TagHints, walkerCfg, filter)
		if err != nil {
			return err
		}
		moonHits, moonAtoms = cands, atoms
		return nil
	})

	status := "ok"
	var warnings []string
	if embedWarning != "" {
		warnings = append(warnings, embedWarning)
	}

	if err := g.Wait(); err != nil {
		if qctxDeadline.Err() == context.DeadlineExceeded {
			logging.Get(logging.CategoryRetrieval).Warn("search deadline exceeded after %s, returning partial results", deadline)
			status = "partial"
			warnings = append(warnings, "search deadline exceeded, results are partial")
		} else {
			return nil, fmt.Errorf("search %q: %w", query, err)
		}
	}
	if !e.store.HasVectorIndex() && queryVector != nil {
		warnings = append(warnings, "vector index unavailable, falling back to full-scan cosine similarity")
	}

	queryTags := unionTags(parsed.TagHints, moonAtoms)
	qctx := fuser.QueryContext{
		Now:            time.Now().UnixMilli(),
		QueryTags:      queryTags,
		QuerySimHash:   querySimHash,
		QueryEmbedding: queryVector,
		SortAscending:  parsed.Sort == queryparse.SortAscending,
	}

	fused := fuser.Fuse(planetHits, moonHits, qctx, e.cfg.Fuser, budgetCfg, maxChars)

	assembled := assembler.Assemble(e.mirror, fused, maxChars, strategyName(recallMode), parsed.Clauses)
	for _, w := range warnings {
		assembled.Metadata["warnings"] = append(toStringSlice(assembled.Metadata["warnings"]), w)
	}

	return &Response{
		Context:  assembled.Context,
		Results:  assembled.Results,
		Strategy: assembled.Strategy,
		Metadata: assembled.Metadata,
		Status:   status,
	}, nil
}

// embedQuery embeds the query's raw text for the planet searcher's vector
// channel and the fuser's VectorScore. A nil engine or an embed failure
// degrades to FTS/walker-only scoring with a warning rather than failing
// the query.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, string) {
	if e.embedder == nil {
		return nil, ""
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("query embedding failed, proceeding without vector channel: %v", err)
		return nil, "embedder unavailable, proceeding without vector search"
	}
	return vec, ""
}

// knownTagVocabulary returns the atom arena as a set, for the query
// parser's exact tag-hint matching.
func (e *Engine) knownTagVocabulary() (map[string]struct{}, error) {
	atoms, err := e.store.AllAtoms()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(atoms))
	for _, a := range atoms {
		set[a] = struct{}{}
	}
	return set, nil
}

func unionTags(tagHints []string, moonAtoms map[string]walker.MoonAtom) map[string]struct{} {
	out := make(map[string]struct{}, len(tagHints)+len(moonAtoms))
	for _, t := range tagHints {
		out[t] = struct{}{}
	}
	for a := range moonAtoms {
		out[a] = struct{}{}
	}
	return out
}

func toStringSlice(v any) []string {
	if v == nil {
		return nil
	}
	ss, _ := v.([]string)
	return ss
}

// resolvePreset turns a recall_mode (or the engine's configured default)
// plus an optional max_chars override into the walker's traversal config,
// the fuser's budget config, and the char budget this one Search call
// uses.
func (e *Engine) resolvePreset(mode config.RecallMode, maxCharsOverride int) (walker.Config, config.WalkerConfig, int) {
	cfg := *e.cfg
	if mode != "" && mode != cfg.Retrieval.RecallMode {
		_ = cfg.ApplyRecallMode(mode)
	}
	maxChars := cfg.Retrieval.MaxCharsDefault
	if maxCharsOverride > 0 {
		maxChars = maxCharsOverride
	}
	walkerCfg := walker.Config{
		Damping:          cfg.Walker.Damping,
		GravityThreshold: cfg.Walker.GravityThreshold,
		MaxHops:          cfg.Walker.MaxHops,
		MaxPerHop:        cfg.Walker.MaxPerHop,
		Temperature:      cfg.Walker.Temperature,
	}
	return walkerCfg, cfg.Walker, maxChars
}

func strategyName(mode config.RecallMode) string {
	if mode == "" {
		return "balanced"
	}
	return string(mode)
}
