// Package store holds the current schedule list: always exactly the output
// of the most recently applied fetch cycle, replaced wholesale and never
// patched incrementally.
package store

import (
	"sync"

	"postsched/internal/model"
)

// Store is the atomically-swapped schedule list. Readers never observe a
// partially-updated list, and overlapping fetch cycles are resolved by
// generation: a Replace whose generation is not higher than the last
// applied one is discarded, so a stale in-flight response can never clobber
// a newer result.
type Store struct {
	mu        sync.RWMutex
	schedules []model.Schedule
	gen       uint64
	closed    bool
}

func New() *Store {
	return &Store{}
}

// Replace swaps in the given cycle's result. It reports whether the swap
// was applied; it is not applied when the store is closed or when a
// higher-generation cycle already committed.
func (s *Store) Replace(gen uint64, schedules []model.Schedule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if gen <= s.gen {
		return false
	}

	s.gen = gen
	s.schedules = schedules
	return true
}

// List returns a copy of the current schedule list, sorted ascending by
// Datetime (the pipeline sorts before Replace).
func (s *Store) List() []model.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Schedule, len(s.schedules))
	copy(out, s.schedules)
	return out
}

// Upcoming returns the soonest schedule, if any. The list is pre-sorted so
// this is the first element.
func (s *Store) Upcoming() (model.Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.schedules) == 0 {
		return model.Schedule{}, false
	}
	return s.schedules[0], true
}

// Count returns the exact number of schedules currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schedules)
}

// Generation returns the generation of the last applied cycle.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Close suppresses all further replaces. Called at session teardown so an
// in-flight fetch cannot commit after the subsystem stopped.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
