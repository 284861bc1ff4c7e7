// Package memory provides an in-memory config.Store. Intended for testing;
// configuration is not persisted across restarts.
package memory

import (
	"context"
	"sync"

	"arrow/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config
}

var _ config.Store = (*Store)(nil)

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the last saved configuration, or nil if none has
// been saved yet.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return nil, nil
	}
	c := copyConfig(*s.cfg)
	return &c, nil
}

// Save replaces the stored configuration.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyConfig(*cfg)
	s.cfg = &c
	return nil
}

func copyConfig(cfg config.Config) config.Config {
	if len(cfg.IgnoreGlobs) > 0 {
		globs := make([]string, len(cfg.IgnoreGlobs))
		copy(globs, cfg.IgnoreGlobs)
		cfg.IgnoreGlobs = globs
	}
	return cfg
}
