// Package ingest runs the per-compound ingestion state machine:
// sanitize, atomize, tag+fingerprint, embed, index — idempotent
// by content hash, with a bounded embed-request queue providing
// backpressure and golang.org/x/sync/singleflight collapsing concurrent
// ingests of the same source with identical content.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"starcore/internal/atomize"
	"starcore/internal/embedding"
	"starcore/internal/fingerprint"
	"starcore/internal/logging"
	"starcore/internal/mirror"
	"starcore/internal/sanitizer"
	"starcore/internal/store"
	"starcore/internal/tagger"
)

// State is a position in the per-file state machine.
type State string

const (
	StateDiscovered               State = "discovered"
	StateNoOp                     State = "no_op"
	StateSanitized                State = "sanitized"
	StateAtomized                 State = "atomized"
	StateTaggedFingerprinted      State = "tagged_fingerprinted"
	StateEmbedded                 State = "embedded"
	StateIndexed                  State = "indexed"
	StateIndexedWithZeroEmbedding State = "indexed_with_zero_embedding"
)

// Request is one compound to ingest.
type Request struct {
	Content    []byte
	Source     string
	Strategy   atomize.Strategy
	Language   string // tree-sitter language tag, only meaningful for StrategyCode
	Buckets    []string
	SeedTags   []string // explicit tags to union in regardless of the tagger's own inference
	Provenance store.Provenance

	// Timestamp is an explicit caller-supplied ingest time (unix
	// milliseconds, 0 = unset). MTime is the source file's modification
	// time, same unit. Resolution order: MTime, then Timestamp, then
	// wall-clock now.
	Timestamp int64
	MTime     int64
}

// Result reports the outcome of one ingest call.
type Result struct {
	CompoundID    string
	State         State
	MoleculeCount int
}

// Options configures the orchestrator.
type Options struct {
	Atomize         atomize.Options
	TaggerSeeds     tagger.SeedDictionary
	TagFrequencyCap int64 // stopword tag cap; 0 disables
	EmbedQueueSize  int   // bounded in-flight embed requests; a full queue blocks the producer
	Concurrency     int   // max compounds ingested in parallel
}

// Stats is the ingestion orchestrator's running counters since New. Bulk
// re-sync reports its own BulkResyncStats rather than these.
type Stats struct {
	Discovered               int64
	NoOps                    int64
	Indexed                  int64
	IndexedWithZeroEmbedding int64
	Failed                   int64
}

// Orchestrator wires the sanitize -> atomize -> tag/fingerprint -> embed
// -> index pipeline together over a store and mirror.
type Orchestrator struct {
	store    *store.Store
	mirror   *mirror.Store
	embedder embedding.EmbeddingEngine
	opts     Options

	sf          singleflight.Group
	compoundSem chan struct{} // bounds parallel compound pipelines
	embedSem    chan struct{} // bounds in-flight embed requests; full queue blocks the producer

	discovered               atomic.Int64
	noOps                    atomic.Int64
	indexed                  atomic.Int64
	indexedWithZeroEmbedding atomic.Int64
	failed                   atomic.Int64
}

// New constructs an Orchestrator. embedder may be nil, in which case
// every ingest degrades straight to StateIndexedWithZeroEmbedding (no
// embedder configured is treated the same as an embedder that always
// fails).
func New(s *store.Store, m *mirror.Store, embedder embedding.EmbeddingEngine, opts Options) *Orchestrator {
	if opts.EmbedQueueSize <= 0 {
		opts.EmbedQueueSize = 8
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Orchestrator{
		store:       s,
		mirror:      m,
		embedder:    embedder,
		opts:        opts,
		compoundSem: make(chan struct{}, opts.Concurrency),
		embedSem:    make(chan struct{}, opts.EmbedQueueSize),
	}
}

// Stats returns a snapshot of the running counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Discovered:               o.discovered.Load(),
		NoOps:                    o.noOps.Load(),
		Indexed:                  o.indexed.Load(),
		IndexedWithZeroEmbedding: o.indexedWithZeroEmbedding.Load(),
		Failed:                   o.failed.Load(),
	}
}

// Ingest runs the full pipeline for req.
// Idempotent by content hash: re-ingesting a source whose content is
// unchanged is a no-op, and a source whose content changed is rebuilt in
// place under its existing compound id. Concurrent calls for the same
// source and content collapse into one pipeline run via singleflight.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (*Result, error) {
	o.discovered.Add(1)

	// Sanitize before hashing: the hash is the per-source change detector,
	// and the mirror holds the sanitized bytes (molecule offsets index into
	// sanitized content, and the assembler reads those offsets straight
	// from the mirror). Sanitize is idempotent, so a rebuild that
	// re-ingests mirrored bytes resolves to the same hash and a clean
	// no-op.
	sanitized := sanitizer.Sanitize(string(req.Content))
	contentHash := fingerprint.ContentHash([]byte(sanitized))

	sfKey := compoundIDForSource(req.Source) + "\x00" + contentHash
	v, err, _ := o.sf.Do(sfKey, func() (interface{}, error) {
		select {
		case o.compoundSem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-o.compoundSem }()

		return o.runPipeline(ctx, req, sanitized, contentHash)
	})
	if err != nil {
		o.failed.Add(1)
		return nil, err
	}
	result := v.(*Result)
	switch result.State {
	case StateNoOp:
		o.noOps.Add(1)
	case StateIndexed:
		o.indexed.Add(1)
	case StateIndexedWithZeroEmbedding:
		o.indexedWithZeroEmbedding.Add(1)
	}
	return result, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, req Request, sanitized, contentHash string) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "runPipeline")
	defer timer.Stop()

	// A compound's identity follows its source path: an unchanged hash is
	// a no-op, a changed hash rebuilds the same compound in place rather
	// than minting a second one next to the stale version.
	compoundID := compoundIDForSource(req.Source)
	existing, err := o.store.CompoundBySourcePath(req.Source)
	if err == store.ErrNotFound {
		// A normalized alias of the same path resolves to the same id.
		existing, err = o.store.GetCompound(compoundID)
	}
	switch {
	case err == nil && existing.ContentHash == contentHash:
		logging.Get(logging.CategoryIngest).Debug("source %s unchanged (hash %s), no-op", req.Source, contentHash)
		return &Result{CompoundID: existing.ID, State: StateNoOp, MoleculeCount: existing.TotalMolecules}, nil
	case err == nil:
		logging.Get(logging.CategoryIngest).Info("source %s changed, rebuilding compound %s in place", req.Source, existing.ID)
		compoundID = existing.ID
	case err != store.ErrNotFound:
		return nil, fmt.Errorf("lookup compound for %s: %w", req.Source, err)
	}

	// Atomized.
	atomOpts := o.opts.Atomize
	atomOpts.Language = req.Language
	parts := atomize.Atomize([]byte(sanitized), req.Strategy, atomOpts)
	if len(parts) == 0 {
		return nil, fmt.Errorf("ingest %s: atomization produced no molecules", req.Source)
	}

	ts := resolveTimestamp(req)

	// Tagged + fingerprinted.
	texts := make([]string, len(parts))
	tagSets := make([][]string, len(parts))
	simhashes := make([]uint64, len(parts))
	for i, p := range parts {
		text := sanitized[p.StartByte:p.EndByte]
		texts[i] = text
		simhashes[i] = fingerprint.SimHash(text)
		tagSets[i] = o.tagSeedPass(text)
	}
	tagSets = o.infectionPass(tagSets)
	for i := range tagSets {
		tagSets[i] = append(tagSets[i], req.SeedTags...)
		tagSets[i] = dedupeStrings(tagSets[i])
	}

	// Embedded.
	embeddings, degraded := o.embedAll(ctx, texts)

	// The mirror holds the sanitized bytes, never the raw input: every
	// molecule's byte range indexes into sanitized content, and the context
	// assembler reads those ranges from this file.
	if err := o.mirror.Write(compoundID, []byte(sanitized)); err != nil {
		return nil, fmt.Errorf("ingest %s: mirror write: %w", req.Source, err)
	}

	molecules := make([]*store.Molecule, len(parts))
	for i, p := range parts {
		molecules[i] = &store.Molecule{
			ID: fmt.Sprintf("%s-%d", compoundID, p.Sequence), CompoundID: compoundID,
			Sequence: p.Sequence, StartByte: p.StartByte, EndByte: p.EndByte, Type: p.Type,
			SimHash: simhashes[i], Timestamp: ts, Buckets: req.Buckets, Tags: tagSets[i],
			Provenance: req.Provenance, NeedsReembed: degraded,
		}
		if i < len(embeddings) {
			molecules[i].Embedding = embeddings[i]
		}
	}

	// One transaction swaps the compound's whole derived state (old
	// molecules out, new molecules + atom/edge refs in): a mid-pipeline
	// failure rolls back to exactly the prior index state. The freshly
	// written mirror copy is dropped on failure too — for a changed
	// compound its old molecules then surface as MirrorMiss and are
	// flagged for reindex, which beats silently reading old offsets
	// against new bytes.
	if err := o.store.ReplaceCompound(&store.Compound{
		ID: compoundID, SourcePath: req.Source, ContentHash: contentHash,
		LastIngestTS: ts, TotalMolecules: len(parts),
	}, molecules, texts); err != nil {
		if delErr := o.mirror.Delete(compoundID); delErr != nil {
			logging.Get(logging.CategoryIngest).Warn("could not remove mirror copy for failed ingest of %s: %v", req.Source, delErr)
		}
		return nil, fmt.Errorf("ingest %s: index compound: %w", req.Source, err)
	}

	state := StateIndexed
	if degraded {
		state = StateIndexedWithZeroEmbedding
	}
	logging.Get(logging.CategoryIngest).Info("ingested %s as compound %s: %d molecules, state=%s", req.Source, compoundID, len(parts), state)
	return &Result{CompoundID: compoundID, State: state, MoleculeCount: len(parts)}, nil
}

// compoundIDForSource derives the stable compound id from a source path:
// cleaned, slash-normalized, with any leading slashes or parent-dir
// prefixes stripped. The mirror lays each compound out at this same
// relative location, so the id survives an index rebuild as the mirror
// file's own path — bulk re-sync over the mirror tree re-derives the
// exact ids it was written under.
func compoundIDForSource(source string) string {
	id := filepath.ToSlash(filepath.Clean(source))
	id = strings.TrimPrefix(id, "/")
	for strings.HasPrefix(id, "../") {
		id = strings.TrimPrefix(id, "../")
	}
	if id == "" || id == "." || id == ".." {
		return "unnamed"
	}
	return id
}

// tagSeedPass runs the tagger's seed-dictionary pass only (no neighbor
// context yet, since neighbor tags don't exist until every molecule in
// this compound has had its own seed pass).
func (o *Orchestrator) tagSeedPass(text string) []string {
	return tagger.Tag(text, tagger.Options{
		Seeds:        o.opts.TaggerSeeds,
		FrequencyOf:  o.atomFrequency,
		MaxFrequency: o.opts.TagFrequencyCap,
	})
}

// infectionPass runs a second tagging pass using each molecule's
// immediate neighbors' seed-pass tags, the local infection step, now
// that neighbor tags are available.
func (o *Orchestrator) infectionPass(seedTags [][]string) [][]string {
	out := make([][]string, len(seedTags))
	for i := range seedTags {
		var prev, next *tagger.Neighbor
		if i > 0 {
			prev = &tagger.Neighbor{Tags: seedTags[i-1], Distance: 1}
		}
		if i < len(seedTags)-1 {
			next = &tagger.Neighbor{Tags: seedTags[i+1], Distance: 1}
		}
		infected := tagger.Tag("", tagger.Options{Prev: prev, Next: next})
		out[i] = dedupeStrings(append(append([]string{}, seedTags[i]...), infected...))
	}
	return out
}

func (o *Orchestrator) atomFrequency(tag string) int64 {
	freq, err := o.store.AtomFrequency(tag)
	if err != nil {
		return 0
	}
	return freq
}

// embedAll batches every molecule text through the embedder, gated by
// embedSem: a full queue blocks the producer rather than dropping work.
// On any embedder failure, falls back to zero vectors and signals
// degraded=true so the caller marks molecules NeedsReembed.
func (o *Orchestrator) embedAll(ctx context.Context, texts []string) ([][]float32, bool) {
	if o.embedder == nil {
		return zeroVectors(len(texts), 0), true
	}

	select {
	case o.embedSem <- struct{}{}:
	case <-ctx.Done():
		return zeroVectors(len(texts), o.embedder.Dimensions()), true
	}
	defer func() { <-o.embedSem }()

	vecs, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logging.Get(logging.CategoryIngest).Warn("embed batch failed, indexing with zero embeddings for later reembed: %v", err)
		return zeroVectors(len(texts), o.embedder.Dimensions()), true
	}
	return vecs, false
}

func zeroVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
	}
	return out
}

// resolveTimestamp prefers file mtime, then an explicit ingest timestamp,
// then wall-clock now. All three sources are milliseconds since epoch, so
// every indexed molecule's timestamp is non-zero and has millisecond
// precision.
func resolveTimestamp(req Request) int64 {
	if req.MTime > 0 {
		return req.MTime
	}
	if req.Timestamp > 0 {
		return req.Timestamp
	}
	return time.Now().UnixMilli()
}

func dedupeStrings(ss []string) []string {
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
