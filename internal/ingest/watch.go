package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"starcore/internal/atomize"
	"starcore/internal/logging"
	"starcore/internal/store"
)

// IngestFile reads path from disk and ingests it. Strategy is inferred
// from the file extension; unrecognized extensions atomize as prose.
func (o *Orchestrator) IngestFile(ctx context.Context, path string) (*Result, error) {
	return o.ingestPath(ctx, path, path)
}

// ingestPath reads fullPath from disk and ingests it under source, the
// identity recorded on the compound. Bulk re-sync and the watcher pass
// root-relative sources here, so compound ids stay stable across machines
// and a rebuild that walks the mirror tree re-derives the same ids.
func (o *Orchestrator) ingestPath(ctx context.Context, fullPath, source string) (*Result, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("ingest file %s: stat: %w", fullPath, err)
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("ingest file %s: read: %w", fullPath, err)
	}

	strategy, language := strategyForPath(fullPath)
	return o.Ingest(ctx, Request{
		Content:    content,
		Source:     source,
		Strategy:   strategy,
		Language:   language,
		Provenance: store.ProvenanceInternal,
		MTime:      info.ModTime().UnixMilli(),
	})
}

// BulkResyncStats summarizes one BulkResync run.
type BulkResyncStats struct {
	Scanned  int
	Ingested int
	NoOps    int
	Failed   int
}

// BulkResync walks sourceRoot (the user-owned directory tree that is the
// actual source of truth, distinct from the mirror's internal copy) and
// ingests every file whose content hash differs from what's already
// indexed; matching hashes are no-ops, so re-running over an unchanged
// tree is cheap.
func (o *Orchestrator) BulkResync(ctx context.Context, sourceRoot string) (*BulkResyncStats, error) {
	timer := logging.StartTimer(logging.CategoryIngest, "BulkResync")
	defer timer.Stop()

	stats := &BulkResyncStats{}
	err := filepath.WalkDir(sourceRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stats.Scanned++
		// Sources are recorded relative to the walked root: the same tree
		// re-synced from a different mount, and the mirror tree itself on a
		// rebuild, resolve to the same compound ids.
		source := path
		if rel, rerr := filepath.Rel(sourceRoot, path); rerr == nil {
			source = filepath.ToSlash(rel)
		}
		result, ingestErr := o.ingestPath(ctx, path, source)
		if ingestErr != nil {
			stats.Failed++
			logging.Get(logging.CategoryIngest).Error("bulk resync: failed to ingest %s: %v", path, ingestErr)
			return nil
		}
		if result.State == StateNoOp {
			stats.NoOps++
		} else {
			stats.Ingested++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("bulk resync %s: %w", sourceRoot, err)
	}

	logging.Get(logging.CategoryIngest).Info("bulk resync of %s complete: scanned=%d ingested=%d no_ops=%d failed=%d",
		sourceRoot, stats.Scanned, stats.Ingested, stats.NoOps, stats.Failed)
	return stats, nil
}

var codeExtensions = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".rs": "rust",
}

var dataExtensions = map[string]struct{}{
	".yaml": {}, ".yml": {}, ".json": {}, ".toml": {}, ".csv": {},
}

func strategyForPath(path string) (atomize.Strategy, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := codeExtensions[ext]; ok {
		return atomize.StrategyCode, lang
	}
	if _, ok := dataExtensions[ext]; ok {
		return atomize.StrategyData, ""
	}
	return atomize.StrategyProse, ""
}
