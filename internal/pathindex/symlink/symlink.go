// Package symlink implements pathindex.PathIndex as a tree of symlinks
// that shadows the backed-up source tree: each leaf under the store's
// tree directory is a symlink to the latest version record for that
// source path.
package symlink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"arrow/internal/layout"
	"arrow/internal/pathindex"
)

// Index is a symlink-tree-backed pathindex.PathIndex.
type Index struct {
	dir layout.Dir
}

var _ pathindex.PathIndex = (*Index)(nil)

// New returns an Index rooted at dir's tree directory. The directory is
// created if it does not already exist.
func New(dir layout.Dir) (*Index, error) {
	if err := os.MkdirAll(dir.TreeDir(), 0o750); err != nil {
		return nil, fmt.Errorf("pathindex: create tree dir: %w", err)
	}
	return &Index{dir: dir}, nil
}

func (i *Index) leafPath(relPath string) string {
	return filepath.Join(i.dir.TreeDir(), filepath.FromSlash(relPath))
}

// Lookup reads the symlink for relPath, if any, and decodes its target
// filename back into a version UUID.
func (i *Index) Lookup(relPath string) (uuid.UUID, bool, error) {
	leaf := i.leafPath(relPath)
	target, err := os.Readlink(leaf)
	if err != nil {
		if os.IsNotExist(err) {
			return uuid.UUID{}, false, nil
		}
		return uuid.UUID{}, false, fmt.Errorf("pathindex: readlink %s: %w", relPath, err)
	}
	id, err := layout.DecodeVersionName(filepath.Base(target))
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("pathindex: decode link target for %s: %w", relPath, err)
	}
	return id, true, nil
}

// Update points relPath's leaf at id's version-record file, replacing any
// existing link atomically via a temp-symlink-then-rename.
func (i *Index) Update(relPath string, id uuid.UUID) error {
	leaf := i.leafPath(relPath)
	if err := os.MkdirAll(filepath.Dir(leaf), 0o750); err != nil {
		return fmt.Errorf("pathindex: create leaf dir for %s: %w", relPath, err)
	}

	target, err := filepath.Rel(filepath.Dir(leaf), i.dir.VersionPath(id))
	if err != nil {
		target = i.dir.VersionPath(id)
	}

	tmp := leaf + ".tmp-" + uuid.NewString()
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("pathindex: create symlink for %s: %w", relPath, err)
	}
	if err := os.Rename(tmp, leaf); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("pathindex: rename symlink for %s: %w", relPath, err)
	}
	return nil
}

// Close is a no-op; the symlink tree has no open resources.
func (i *Index) Close() error { return nil }
