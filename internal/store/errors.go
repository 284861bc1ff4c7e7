package store

import "errors"

var (
	// ErrNotFound is returned by Get/Addref/GetLen when no chunk with the
	// given ChunkId exists. Not always an error condition: for many
	// callers this is the normal "chunk is new" signal.
	ErrNotFound = errors.New("store: chunk not found")

	// ErrCorrupt is returned when a bucket or superblock header is short
	// or fails its magic/version check, or a bucket file's size does not
	// match its header. Fatal for the affected bucket.
	ErrCorrupt = errors.New("store: corrupt bucket or superblock")

	// ErrChunkTooLarge is returned when a chunk cannot fit in a bucket
	// even after growth.
	ErrChunkTooLarge = errors.New("store: chunk too large")

	// ErrClosed is returned by any operation on a closed Store.
	ErrClosed = errors.New("store: use of closed handle")
)
