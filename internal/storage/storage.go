// Package storage defines the cache storage contract and the entry
// model shared by its backends. Three conforming implementations live
// in subpackages: memory (hash map), sqlite (embedded SQL), and kv
// (prefix-scoped key-value with a sidecar index).
package storage

import (
	"context"
	"time"

	"github.com/steveyegge/surgo/codec"
)

// Key identifies one cached read: the RPC method, its target, and a
// deterministic hash of the remaining parameters.
type Key struct {
	Method     string
	Target     string
	ParamsHash string
}

// String renders the composite storage key. The '|' separator cannot
// appear in method names or the hex params hash, and targets are
// validated identifiers, so the rendering is unambiguous.
func (k Key) String() string {
	return k.Method + "|" + k.Target + "|" + k.ParamsHash
}

// Entry is one cached wire value with its table dependencies and
// access metadata.
type Entry struct {
	Value          codec.Value
	Tables         []string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	// TTL of zero means the entry never expires by age.
	TTL time.Duration
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// DependsOn reports whether the entry lists table as a dependency.
func (e *Entry) DependsOn(table string) bool {
	for _, t := range e.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// KeyedEntry pairs a stored entry with its rendered key, for eviction
// scans.
type KeyedEntry struct {
	Key   string
	Entry *Entry
}

// Store is the pluggable cache backend. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the entry for key, or ok=false on a miss. Expiry is
	// the coordinator's concern; Get returns expired entries as stored.
	Get(ctx context.Context, key Key) (e *Entry, ok bool, err error)

	// Set stores the entry, replacing any previous value for key.
	Set(ctx context.Context, key Key, e *Entry) error

	// Touch bumps the access metadata for key to at and increments the
	// access count. A missing key is not an error.
	Touch(ctx context.Context, key Key, at time.Time) error

	// Remove deletes the entry for key. A missing key is not an error.
	Remove(ctx context.Context, key Key) error

	// RemoveAll deletes every entry.
	RemoveAll(ctx context.Context) error

	// RemoveByKeyString deletes by rendered key, for eviction passes.
	RemoveByKeyString(ctx context.Context, key string) error

	// RemoveForTable deletes every entry whose Tables contains table,
	// returning how many were removed.
	RemoveForTable(ctx context.Context, table string) (int, error)

	// AllEntries returns every entry ordered by LastAccessedAt
	// ascending (least recently used first).
	AllEntries(ctx context.Context) ([]KeyedEntry, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// IsEmpty reports whether the store holds no entries.
	IsEmpty(ctx context.Context) (bool, error)

	// Close releases backend resources.
	Close() error
}
