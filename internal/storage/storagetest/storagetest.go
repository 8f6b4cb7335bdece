// Package storagetest exercises the storage.Store contract so every
// backend runs the same conformance suite.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/storage"
)

func key(n string) storage.Key {
	return storage.Key{Method: "select", Target: n, ParamsHash: "abcd1234abcd1234"}
}

func entry(tables []string, at time.Time) *storage.Entry {
	return &storage.Entry{
		Value:          codec.Array(codec.Object(map[string]codec.Value{"name": codec.String("x")})),
		Tables:         tables,
		CreatedAt:      at,
		LastAccessedAt: at,
	}
}

// Run exercises the full contract against store.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	empty, err := store.IsEmpty(ctx)
	if err != nil || !empty {
		t.Fatalf("fresh store IsEmpty = %v, %v", empty, err)
	}

	// Set and get round trip.
	e := entry([]string{"users", "accounts"}, base)
	e.TTL = time.Hour
	if err := store.Set(ctx, key("users"), e); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := store.Get(ctx, key("users"))
	if err != nil || !ok {
		t.Fatalf("Get after Set = %v, %v", ok, err)
	}
	if !got.Value.Equal(e.Value) {
		t.Error("stored value mismatch")
	}
	if len(got.Tables) != 2 || got.Tables[0] != "users" {
		t.Errorf("tables = %v", got.Tables)
	}
	if got.TTL != time.Hour {
		t.Errorf("ttl = %v", got.TTL)
	}
	if !withinMillis(got.CreatedAt, base) {
		t.Errorf("created_at drifted: %v vs %v", got.CreatedAt, base)
	}

	// Touch bumps access metadata.
	touchAt := base.Add(30 * time.Second)
	if err := store.Touch(ctx, key("users"), touchAt); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _, _ = store.Get(ctx, key("users"))
	if got.AccessCount != 1 {
		t.Errorf("access_count after touch = %d, want 1", got.AccessCount)
	}
	if !withinMillis(got.LastAccessedAt, touchAt) {
		t.Errorf("last_accessed_at = %v, want %v", got.LastAccessedAt, touchAt)
	}

	// Miss on unknown key.
	if _, ok, _ := store.Get(ctx, key("ghost")); ok {
		t.Error("Get(ghost) = hit, want miss")
	}

	// Ordering by last access, ascending.
	for i, name := range []string{"cold", "warm", "hot"} {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := store.Set(ctx, key(name), entry([]string{name}, at)); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}
	all, err := store.AllEntries(ctx)
	if err != nil {
		t.Fatalf("AllEntries: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("AllEntries len = %d, want 4", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Entry.LastAccessedAt.Before(all[i-1].Entry.LastAccessedAt) {
			t.Errorf("AllEntries not ascending at %d", i)
		}
	}

	// Table invalidation hits exactly the dependent entries.
	n, err := store.RemoveForTable(ctx, "users")
	if err != nil {
		t.Fatalf("RemoveForTable: %v", err)
	}
	if n != 1 {
		t.Errorf("RemoveForTable(users) removed %d, want 1", n)
	}
	if _, ok, _ := store.Get(ctx, key("users")); ok {
		t.Error("users entry survived invalidation")
	}
	if _, ok, _ := store.Get(ctx, key("cold")); !ok {
		t.Error("cold entry must survive users invalidation")
	}

	// RemoveForTable must not match substrings of other table names.
	if err := store.Set(ctx, key("userspace"), entry([]string{"userspace"}, base)); err != nil {
		t.Fatalf("Set(userspace): %v", err)
	}
	if _, err := store.RemoveForTable(ctx, "users"); err != nil {
		t.Fatalf("RemoveForTable: %v", err)
	}
	if _, ok, _ := store.Get(ctx, key("userspace")); !ok {
		t.Error("userspace entry wrongly removed by users invalidation")
	}

	// CSV membership: middle position.
	multi := entry([]string{"alpha", "users", "omega"}, base)
	if err := store.Set(ctx, key("multi"), multi); err != nil {
		t.Fatalf("Set(multi): %v", err)
	}
	if n, _ := store.RemoveForTable(ctx, "users"); n != 1 {
		t.Errorf("middle-position member removed %d, want 1", n)
	}

	// Remove and counts.
	if err := store.Remove(ctx, key("cold")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove(ctx, key("cold")); err != nil {
		t.Errorf("Remove of a missing key must be a no-op, got %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 { // warm, hot, userspace
		t.Errorf("Count = %d, want 3", count)
	}

	// RemoveAll empties the store.
	if err := store.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	empty, _ = store.IsEmpty(ctx)
	if !empty {
		t.Error("store not empty after RemoveAll")
	}
}

// withinMillis tolerates backend timestamp precision (the SQL store
// keeps fractional seconds as REAL).
func withinMillis(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < 5*time.Millisecond
}
