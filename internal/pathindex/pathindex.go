// Package pathindex defines the lookup from a source-relative path to the
// UUID of its most recent version record. The backup driver consults it
// before deciding whether a file has a basis to diff against, and updates
// it after each new version is finalized.
package pathindex

import "github.com/google/uuid"

// PathIndex maps source-relative paths to the latest version UUID on
// record for that path. Implementations must be safe for concurrent use.
type PathIndex interface {
	// Lookup returns the UUID of the latest version for relPath, or
	// ok=false if relPath has never been backed up.
	Lookup(relPath string) (id uuid.UUID, ok bool, err error)

	// Update records id as the latest version for relPath, replacing
	// whatever was there before.
	Update(relPath string, id uuid.UUID) error

	// Close releases any resources the index holds open.
	Close() error
}
