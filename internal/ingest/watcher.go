package ingest

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"starcore/internal/logging"
)

// Watch runs until ctx is cancelled, watching root for file creates and
// writes and calling IngestFile for each one.
// Remove/rename events are ignored. Deleting a source file leaves its
// compound indexed: neither Watch nor BulkResync removes compounds.
func (o *Orchestrator) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return err
	}
	logging.Get(logging.CategoryIngest).Info("watching %s for changes", root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Same root-relative source convention as BulkResync, so a
			// watched edit updates the compound a re-sync created.
			source := event.Name
			if rel, rerr := filepath.Rel(root, event.Name); rerr == nil {
				source = filepath.ToSlash(rel)
			}
			if _, err := o.ingestPath(ctx, event.Name, source); err != nil {
				logging.Get(logging.CategoryIngest).Warn("watch: failed to ingest %s: %v", event.Name, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryIngest).Error("watcher error: %v", err)
		}
	}
}
