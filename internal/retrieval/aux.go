package retrieval

import (
	"context"
	"fmt"
	"time"

	"starcore/internal/fingerprint"
	"starcore/internal/ingest"
	"starcore/internal/logging"
	"starcore/internal/sanitizer"
	"starcore/internal/store"
	"starcore/internal/tagger"
)

// Ingest runs the ingestion orchestrator's pipeline for one compound,
// then invalidates nothing else: the
// synonym ring and tag vocabulary are read-mostly snapshots rebuilt on an
// operator's schedule (RebuildSynonymRing), not on every ingest.
func (e *Engine) Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return e.orch.Ingest(ctx, req)
}

// RebuildIndex discards nothing (the index is already disposable) and
// runs BulkResync over the whole mirror tree: a mirror file with no
// compound, or whose content hash differs from the indexed one, is
// re-ingested, and unchanged ones are no-ops. Any state under index/ is
// reproducible from mirror/ alone. Callers should follow a successful
// rebuild with RebuildSynonymRing.
func (e *Engine) RebuildIndex(ctx context.Context) (*ingest.BulkResyncStats, error) {
	stats, err := e.orch.BulkResync(ctx, e.mirror.Root())
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return stats, nil
}

// ListBuckets returns every distinct bucket label currently in use.
func (e *Engine) ListBuckets() ([]string, error) {
	return e.store.AllBuckets()
}

// ListTags returns every distinct tag currently carried by a molecule in
// one of buckets, or every tag in the corpus when buckets is empty.
func (e *Engine) ListTags(buckets []string) ([]string, error) {
	return e.store.AllTags(buckets)
}

// Quarantine marks a molecule's provenance as quarantined: it stops
// surfacing in search results at
// every phase (planet, moon, and the context assembler), since
// SearchFilter.Provenance defaults to excluding it whenever a caller
// passes an explicit provenance allowlist, and a default Provenance
// filter of "internal, external" is the deployment's job to pass.
// Content, tags, and embedding are left untouched so Restore is lossless.
func (e *Engine) Quarantine(moleculeID string) error {
	logging.Get(logging.CategoryRetrieval).Info("quarantining molecule %s", moleculeID)
	return e.store.SetProvenance(moleculeID, store.ProvenanceQuarantine)
}

// Restore reverses Quarantine, putting the molecule back to internal
// provenance.
func (e *Engine) Restore(moleculeID string) error {
	logging.Get(logging.CategoryRetrieval).Info("restoring molecule %s", moleculeID)
	return e.store.SetProvenance(moleculeID, store.ProvenanceInternal)
}

// UpdateContent replaces a single molecule's text. The mirror store owns
// the only copy of a compound's bytes, so this splices the new content
// into the compound's mirrored file at the molecule's byte range, shifts
// every later molecule in the same compound by the resulting length
// delta (their own content is unchanged, only their offsets move), and
// re-derives the edited molecule's sanitized text, SimHash, and tags from
// scratch. The embedding is left flagged NeedsReembed rather than
// computed inline, since embedding is an off-box call this path has no
// deadline budget for; the next maintenance cycle picks it up the same
// way it repairs embedder outages during ingest.
func (e *Engine) UpdateContent(ctx context.Context, moleculeID string, content string) error {
	mol, err := e.store.GetMolecule(moleculeID)
	if err != nil {
		return fmt.Errorf("update content %s: %w", moleculeID, err)
	}

	full, err := e.mirror.ReadAll(mol.CompoundID)
	if err != nil {
		return fmt.Errorf("update content %s: read compound: %w", moleculeID, err)
	}

	sanitized := sanitizer.Sanitize(content)
	spliced := make([]byte, 0, len(full)-(mol.EndByte-mol.StartByte)+len(sanitized))
	spliced = append(spliced, full[:mol.StartByte]...)
	spliced = append(spliced, []byte(sanitized)...)
	spliced = append(spliced, full[mol.EndByte:]...)

	if err := e.mirror.Write(mol.CompoundID, spliced); err != nil {
		return fmt.Errorf("update content %s: write compound: %w", moleculeID, err)
	}

	delta := len(sanitized) - (mol.EndByte - mol.StartByte)
	siblings, err := e.store.MoleculesByCompound(mol.CompoundID)
	if err != nil {
		return fmt.Errorf("update content %s: list siblings: %w", moleculeID, err)
	}
	if delta != 0 {
		for _, sib := range siblings {
			if sib.ID == moleculeID || sib.Sequence <= mol.Sequence {
				continue
			}
			if err := e.store.ShiftMoleculeRange(sib.ID, delta); err != nil {
				return fmt.Errorf("update content %s: shift sibling %s: %w", moleculeID, sib.ID, err)
			}
		}
	}

	// The compound's bytes changed, so its stored hash must follow: a stale
	// hash would make a later re-ingest of the old content a false no-op and
	// break the hash-identifies-bytes invariant. The compound id itself is
	// stable (molecule ids and the mirror path hang off it).
	comp, err := e.store.GetCompound(mol.CompoundID)
	if err != nil {
		return fmt.Errorf("update content %s: load compound: %w", moleculeID, err)
	}
	comp.ContentHash = fingerprint.ContentHash(spliced)
	comp.LastIngestTS = time.Now().UnixMilli()
	if err := e.store.UpsertCompound(comp); err != nil {
		return fmt.Errorf("update content %s: refresh compound hash: %w", moleculeID, err)
	}

	// Release the old tag set's atom/edge references before re-tagging, so
	// corpus-wide frequency counters track the live tags rather than every
	// tag this molecule ever carried.
	oldTags := mol.Tags
	mol.EndByte = mol.StartByte + len(sanitized)
	mol.SimHash = fingerprint.SimHash(sanitized)
	mol.Tags = e.retagMolecule(sanitized)
	mol.NeedsReembed = true

	if err := e.store.UpsertMolecule(mol, sanitized); err != nil {
		return fmt.Errorf("update content %s: upsert: %w", moleculeID, err)
	}
	if err := e.store.DecrementAtomRefs(oldTags); err != nil {
		return fmt.Errorf("update content %s: release atom refs: %w", moleculeID, err)
	}
	if err := e.store.DecrementEdgesForTagSet(oldTags); err != nil {
		return fmt.Errorf("update content %s: release edges: %w", moleculeID, err)
	}
	if err := e.store.UpsertAtomRefs(mol.Tags); err != nil {
		return fmt.Errorf("update content %s: upsert atom refs: %w", moleculeID, err)
	}
	if err := e.store.IncrementEdgesForTagSet(mol.Tags); err != nil {
		return fmt.Errorf("update content %s: increment edges: %w", moleculeID, err)
	}
	return nil
}

// retagMolecule re-runs the tagger's seed pass alone (no neighbor
// infection, since UpdateContent edits one molecule at a time and its
// neighbors' tags haven't changed) against the new content.
func (e *Engine) retagMolecule(text string) []string {
	return tagger.Tag(text, tagger.Options{
		Seeds:       e.taggerSeeds,
		FrequencyOf: e.atomFrequency,
	})
}

func (e *Engine) atomFrequency(tag string) int64 {
	freq, err := e.store.AtomFrequency(tag)
	if err != nil {
		return 0
	}
	return freq
}
