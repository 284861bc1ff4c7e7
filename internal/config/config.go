// Package config provides configuration persistence for a runnable backup
// binary: where the store and path index live, which remote peer (if any)
// to talk to, and which source paths to skip.
package config

import "context"

// Config describes the desired shape of one backup binary's invocation.
// It is declarative: it says what should exist, not how to create it.
type Config struct {
	// Root is the source directory walked each run.
	Root string

	// StoreRoot is the on-disk root of the block store and version
	// filer, used when Remote is empty.
	StoreRoot string

	// Remote is a "host:port" address of a remote peer speaking the
	// opcode protocol. When set, backups are driven against that peer
	// instead of a local store, and StoreRoot is ignored.
	Remote string

	// MinChunkSize and MaxChunkSize are saved and loaded with the rest of
	// the configuration; nothing else reads them. version.ClampChunkSize
	// always clamps to version.MinChunkSize and version.MaxChunkSize.
	MinChunkSize uint32
	MaxChunkSize uint32

	// IgnoreGlobs are doublestar patterns matched against paths
	// relative to Root; matching files are skipped during the walk.
	IgnoreGlobs []string

	// MaxConcurrentJobs bounds the backup scheduler's overlap (0 means
	// the scheduler's own default).
	MaxConcurrentJobs int
}

// Store persists and loads a Config.
type Store interface {
	// Load reads the configuration. Returns nil if none has been saved.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}
