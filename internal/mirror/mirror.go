// Package mirror is the source of truth for ingested content: a plain
// filesystem tree holding one file per compound, written atomically and
// read by byte range. Everything in internal/store is a disposable index
// rebuilt from this tree; the mirror itself is never rebuilt from the
// index.
package mirror

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"starcore/internal/logging"
	"starcore/internal/starerrors"
)

// Store is a filesystem-backed mirror rooted at a directory.
type Store struct {
	root string
}

// Open returns a Store rooted at root, creating the directory if needed.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create mirror root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the mirror's root directory.
func (s *Store) Root() string {
	return s.root
}

// pathFor maps a compound id to its on-disk location. Compound ids are
// relative source paths (see internal/ingest), so the mirror reproduces
// the source tree's own layout and an index rebuild can re-derive every
// compound id by walking this tree.
func (s *Store) pathFor(compoundID string) string {
	return filepath.Join(s.root, filepath.FromSlash(compoundID))
}

// Write stores content for compoundID atomically: write to a temp file in
// the same directory, fsync, then rename over any existing copy. A reader
// never observes a partially-written file; a torn write here would
// corrupt the only durable copy of the content.
func (s *Store) Write(compoundID string, content []byte) error {
	timer := logging.StartTimer(logging.CategoryMirror, "Write")
	defer timer.Stop()

	dest := s.pathFor(compoundID)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create mirror shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename into mirror: %w", err)
	}
	logging.Get(logging.CategoryMirror).Debug("wrote %d bytes to mirror for compound %s", len(content), compoundID)
	return nil
}

// ReadAll reads the full content for a compound.
func (s *Store) ReadAll(compoundID string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(compoundID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, starerrors.Wrap(starerrors.MirrorMiss, "compound not found in mirror: "+compoundID, err)
		}
		return nil, starerrors.Wrap(starerrors.MirrorMiss, "read mirror file", err)
	}
	return data, nil
}

// ReadRange reads [start, end) bytes from a compound's mirrored content,
// the operation the context assembler uses to inflate a molecule back to
// its source text.
func (s *Store) ReadRange(compoundID string, start, end int) ([]byte, error) {
	f, err := os.Open(s.pathFor(compoundID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, starerrors.Wrap(starerrors.MirrorMiss, "compound not found in mirror: "+compoundID, err)
		}
		return nil, starerrors.Wrap(starerrors.MirrorMiss, "open mirror file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, starerrors.Wrap(starerrors.MirrorMiss, "stat mirror file", err)
	}
	size := int(info.Size())
	if start < 0 || end > size || start > end {
		return nil, starerrors.New(starerrors.MirrorMiss,
			fmt.Sprintf("byte range [%d,%d) out of bounds for %d-byte file", start, end, size))
	}

	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, int64(start)); err != nil && err != io.EOF {
		return nil, starerrors.Wrap(starerrors.MirrorMiss, "read byte range", err)
	}
	return buf, nil
}

// Delete removes a compound's mirrored file.
func (s *Store) Delete(compoundID string) error {
	path := s.pathFor(compoundID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete mirror file: %w", err)
	}
	return nil
}

// Exists reports whether a compound currently has mirrored content.
func (s *Store) Exists(compoundID string) bool {
	_, err := os.Stat(s.pathFor(compoundID))
	return err == nil
}

// Walk visits every mirrored compound id (the file's root-relative,
// slash-normalized path), used by index-rebuild tooling that must
// reconstruct internal/store from scratch.
func (s *Store) Walk(visit func(compoundID string) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(path)[0] == '.' {
			return nil
		}
		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		return visit(filepath.ToSlash(rel))
	})
}
