// Package bolt implements pathindex.PathIndex on top of a single bbolt
// database file, for deployments that prefer one compact file over a
// directory tree of symlinks.
package bolt

import (
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"arrow/internal/pathindex"
)

var pathsBucket = []byte("paths")

// Index is a bbolt-backed pathindex.PathIndex.
type Index struct {
	db *bbolt.DB
}

var _ pathindex.PathIndex = (*Index)(nil)

// Open opens (creating if necessary) a bbolt database at path and ensures
// its single bucket exists.
func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("pathindex: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pathsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pathindex: init bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// Lookup returns the UUID stored under relPath, if any.
func (i *Index) Lookup(relPath string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	var found bool
	err := i.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(pathsBucket).Get([]byte(relPath))
		if v == nil {
			return nil
		}
		parsed, err := uuid.FromBytes(v)
		if err != nil {
			return fmt.Errorf("decode stored uuid for %s: %w", relPath, err)
		}
		id = parsed
		found = true
		return nil
	})
	if err != nil {
		return uuid.UUID{}, false, fmt.Errorf("pathindex: lookup %s: %w", relPath, err)
	}
	return id, found, nil
}

// Update stores id under relPath, replacing any previous value.
func (i *Index) Update(relPath string, id uuid.UUID) error {
	err := i.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pathsBucket).Put([]byte(relPath), id[:])
	})
	if err != nil {
		return fmt.Errorf("pathindex: update %s: %w", relPath, err)
	}
	return nil
}

// Close closes the underlying database.
func (i *Index) Close() error {
	if err := i.db.Close(); err != nil {
		return fmt.Errorf("pathindex: close: %w", err)
	}
	return nil
}
