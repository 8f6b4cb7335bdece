// Package memory provides the in-memory cache store: a mutex-guarded
// hash map whose lifetime equals the process. It works on every
// platform, including restricted environments with no filesystem.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/surgo/internal/storage"
)

// Store is the in-memory backend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*storage.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{entries: map[string]*storage.Entry{}}
}

var _ storage.Store = (*Store)(nil)

// Get returns the entry for key.
func (s *Store) Get(_ context.Context, key storage.Key) (*storage.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

// Set stores the entry.
func (s *Store) Set(_ context.Context, key storage.Key, e *storage.Entry) error {
	cp := *e
	s.mu.Lock()
	s.entries[key.String()] = &cp
	s.mu.Unlock()
	return nil
}

// Touch bumps access metadata.
func (s *Store) Touch(_ context.Context, key storage.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key.String()]; ok {
		e.LastAccessedAt = at
		e.AccessCount++
	}
	return nil
}

// Remove deletes the entry for key.
func (s *Store) Remove(_ context.Context, key storage.Key) error {
	s.mu.Lock()
	delete(s.entries, key.String())
	s.mu.Unlock()
	return nil
}

// RemoveAll deletes every entry.
func (s *Store) RemoveAll(_ context.Context) error {
	s.mu.Lock()
	s.entries = map[string]*storage.Entry{}
	s.mu.Unlock()
	return nil
}

// RemoveByKeyString deletes by rendered key.
func (s *Store) RemoveByKeyString(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// RemoveForTable deletes entries depending on table.
func (s *Store) RemoveForTable(_ context.Context, table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.DependsOn(table) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// AllEntries returns entries least recently used first.
func (s *Store) AllEntries(_ context.Context) ([]storage.KeyedEntry, error) {
	s.mu.RLock()
	out := make([]storage.KeyedEntry, 0, len(s.entries))
	for k, e := range s.entries {
		cp := *e
		out = append(out, storage.KeyedEntry{Key: k, Entry: &cp})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Entry.LastAccessedAt.Before(out[j].Entry.LastAccessedAt)
	})
	return out, nil
}

// Count returns the entry count.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// IsEmpty reports whether the store is empty.
func (s *Store) IsEmpty(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries) == 0, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
