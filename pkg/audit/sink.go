package audit

import (
	"context"
	"sort"
	"sync"
)

// Sink persists audit entries. Write must be idempotent on Entry.ID so that a
// retried write never produces a duplicate.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Reader searches persisted entries
type Reader interface {
	Search(ctx context.Context, filter SearchFilter) ([]Entry, error)
}

// MemorySink keeps entries in memory. Used by tests and single-process setups.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]struct{}
	failFn  func(Entry) error
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{ids: make(map[string]struct{})}
}

// FailWith makes subsequent writes call fn and fail with its non-nil result
func (s *MemorySink) FailWith(fn func(Entry) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// Write appends an entry unless its id was already written
func (s *MemorySink) Write(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFn != nil {
		if err := s.failFn(entry); err != nil {
			return err
		}
	}
	if _, ok := s.ids[entry.ID]; ok {
		return nil
	}
	s.ids[entry.ID] = struct{}{}
	s.entries = append(s.entries, entry.Clone())
	return nil
}

// Search returns matching entries, oldest first
func (s *MemorySink) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for _, e := range s.entries {
		if filter.matches(e) {
			matched = append(matched, e.Clone())
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return []Entry{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Len returns the number of stored entries
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
