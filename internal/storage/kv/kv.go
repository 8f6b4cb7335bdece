// Package kv provides the cache store for flat key-value environments
// (browser-style storage). Entry payloads live under prefix-scoped keys
// and a sidecar JSON index holds per-entry metadata, so membership and
// table-dependency lookups never scan payloads.
package kv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/storage"
)

// KV is the flat string store the backend sits on. Implementations need
// not be safe for concurrent use; Store serializes access.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// MapKV is an in-process KV for tests and for platforms without a
// native key-value store.
type MapKV struct {
	m map[string]string
}

// NewMapKV creates an empty MapKV.
func NewMapKV() *MapKV { return &MapKV{m: map[string]string{}} }

func (s *MapKV) Get(key string) (string, bool, error) {
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MapKV) Set(key, value string) error {
	s.m[key] = value
	return nil
}

func (s *MapKV) Delete(key string) error {
	delete(s.m, key)
	return nil
}

const (
	keyPrefix = "surgo:cache:"
	indexKey  = "surgo:cache:index"
)

// indexMeta is the sidecar record for one entry. Times are unix
// nanoseconds; TTL is nanoseconds, zero meaning no expiry.
type indexMeta struct {
	Tables         []string `json:"tables"`
	CreatedAt      int64    `json:"created_at"`
	LastAccessedAt int64    `json:"last_accessed_at"`
	AccessCount    int64    `json:"access_count"`
	TTL            int64    `json:"ttl,omitempty"`
}

// Store is the key-value backend.
type Store struct {
	mu sync.Mutex
	kv KV
}

var _ storage.Store = (*Store)(nil)

// New wraps kv as a cache store.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Close is a no-op; the underlying KV's lifetime belongs to the caller.
func (s *Store) Close() error { return nil }

func entryKey(key string) string { return keyPrefix + key }

func (s *Store) readIndex() (map[string]indexMeta, error) {
	raw, ok, err := s.kv.Get(indexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache index: %w", err)
	}
	idx := map[string]indexMeta{}
	if !ok || raw == "" {
		return idx, nil
	}
	if err := json.Unmarshal([]byte(raw), &idx); err != nil {
		return nil, fmt.Errorf("corrupt cache index: %w", err)
	}
	return idx, nil
}

func (s *Store) writeIndex(idx map[string]indexMeta) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	if err := s.kv.Set(indexKey, string(raw)); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return nil
}

// Get returns the entry for key.
func (s *Store) Get(_ context.Context, key storage.Key) (*storage.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return nil, false, err
	}
	ks := key.String()
	meta, ok := idx[ks]
	if !ok {
		return nil, false, nil
	}
	raw, ok, err := s.kv.Get(entryKey(ks))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if !ok {
		// Index and payload drifted; drop the dangling index record.
		delete(idx, ks)
		_ = s.writeIndex(idx)
		return nil, false, nil
	}
	v, err := decodePayload(raw)
	if err != nil {
		return nil, false, err
	}
	return metaToEntry(meta, v), true, nil
}

// Set stores the entry and updates the sidecar index atomically under
// the store mutex.
func (s *Store) Set(_ context.Context, key storage.Key, e *storage.Entry) error {
	payload, err := encodePayload(e.Value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	ks := key.String()
	if err := s.kv.Set(entryKey(ks), payload); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	idx[ks] = entryToMeta(e)
	return s.writeIndex(idx)
}

// Touch bumps access metadata in the index.
func (s *Store) Touch(_ context.Context, key storage.Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	ks := key.String()
	meta, ok := idx[ks]
	if !ok {
		return nil
	}
	meta.LastAccessedAt = at.UnixNano()
	meta.AccessCount++
	idx[ks] = meta
	return s.writeIndex(idx)
}

// Remove deletes the entry for key.
func (s *Store) Remove(ctx context.Context, key storage.Key) error {
	return s.RemoveByKeyString(ctx, key.String())
}

// RemoveByKeyString deletes by rendered key.
func (s *Store) RemoveByKeyString(_ context.Context, ks string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	if _, ok := idx[ks]; !ok {
		return nil
	}
	if err := s.kv.Delete(entryKey(ks)); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	delete(idx, ks)
	return s.writeIndex(idx)
}

// RemoveAll deletes every entry and resets the index.
func (s *Store) RemoveAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	for ks := range idx {
		if err := s.kv.Delete(entryKey(ks)); err != nil {
			return fmt.Errorf("failed to delete cache entry: %w", err)
		}
	}
	return s.writeIndex(map[string]indexMeta{})
}

// RemoveForTable deletes entries depending on table, via the index.
func (s *Store) RemoveForTable(_ context.Context, table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return 0, err
	}
	removed := 0
	for ks, meta := range idx {
		if !containsTable(meta.Tables, table) {
			continue
		}
		if err := s.kv.Delete(entryKey(ks)); err != nil {
			return removed, fmt.Errorf("failed to delete cache entry: %w", err)
		}
		delete(idx, ks)
		removed++
	}
	if err := s.writeIndex(idx); err != nil {
		return removed, err
	}
	return removed, nil
}

// AllEntries returns entries least recently used first.
func (s *Store) AllEntries(_ context.Context) ([]storage.KeyedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]storage.KeyedEntry, 0, len(idx))
	for ks, meta := range idx {
		raw, ok, err := s.kv.Get(entryKey(ks))
		if err != nil {
			return nil, fmt.Errorf("failed to read cache entry: %w", err)
		}
		if !ok {
			continue
		}
		v, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.KeyedEntry{Key: ks, Entry: metaToEntry(meta, v)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Entry.LastAccessedAt.Before(out[j].Entry.LastAccessedAt)
	})
	return out, nil
}

// Count returns the entry count from the index.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return 0, err
	}
	return len(idx), nil
}

// IsEmpty reports whether the index is empty.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	return n == 0, err
}

// Payloads are CBOR, base64-wrapped for the string-only KV surface.

func encodePayload(v codec.Value) (string, error) {
	b, err := codec.SerializeBinary(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decodePayload(raw string) (codec.Value, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return codec.Value{}, fmt.Errorf("corrupt cache payload: %w", err)
	}
	v, err := codec.ParseBinary(b)
	if err != nil {
		return codec.Value{}, fmt.Errorf("corrupt cache payload: %w", err)
	}
	return v, nil
}

func entryToMeta(e *storage.Entry) indexMeta {
	return indexMeta{
		Tables:         append([]string(nil), e.Tables...),
		CreatedAt:      e.CreatedAt.UnixNano(),
		LastAccessedAt: e.LastAccessedAt.UnixNano(),
		AccessCount:    e.AccessCount,
		TTL:            int64(e.TTL),
	}
}

func metaToEntry(meta indexMeta, v codec.Value) *storage.Entry {
	return &storage.Entry{
		Value:          v,
		Tables:         meta.Tables,
		CreatedAt:      time.Unix(0, meta.CreatedAt),
		LastAccessedAt: time.Unix(0, meta.LastAccessedAt),
		AccessCount:    meta.AccessCount,
		TTL:            time.Duration(meta.TTL),
	}
}

func containsTable(tables []string, table string) bool {
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}
