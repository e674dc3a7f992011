package config

import (
	"sync"
	"sync/atomic"
)

// Store owns the live Runtime settings. Readers get an immutable snapshot;
// writers go through Update, which validates the whole result before it
// becomes visible.
type Store struct {
	mu      sync.Mutex // serialises writers
	current atomic.Pointer[Runtime]
	version atomic.Int64
}

// NewStore validates rt and returns a Store seeded with it.
func NewStore(rt Runtime) (*Store, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	s := &Store{}
	snap := rt.Clone()
	s.current.Store(&snap)
	return s, nil
}

// Load returns the current snapshot. Callers must treat it as read-only;
// mutate through Update.
func (s *Store) Load() *Runtime {
	return s.current.Load()
}

// Version increments on every successful Update.
func (s *Store) Version() int64 {
	return s.version.Load()
}

// Update applies fn to a private copy of the current settings and publishes
// the copy only if fn succeeds and the result validates. Concurrent readers
// see either the old or the new snapshot, never a mix.
func (s *Store) Update(fn func(*Runtime) error) (Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	if err := fn(&next); err != nil {
		return Runtime{}, err
	}
	if err := next.Validate(); err != nil {
		return Runtime{}, err
	}
	s.current.Store(&next)
	s.version.Add(1)
	return next.Clone(), nil
}
