package surgo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/surgo"
	"github.com/steveyegge/surgo/codec"
)

func newTestDB(t *testing.T, s *fakeServer, cfg *surgo.Config) *surgo.DB {
	t.Helper()
	if cfg == nil {
		cfg = surgo.DefaultConfig()
		cfg.Reconnect = surgo.NeverReconnect()
	}
	db, err := surgo.New(s.url(), cfg)
	require.NoError(t, err)
	require.NoError(t, db.Connect(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func signinAndUse(t *testing.T, db *surgo.DB) {
	t.Helper()
	ctx := context.Background()
	token, err := db.Signin(ctx, surgo.RootAuth{Username: "root", Password: "root"})
	require.NoError(t, err)
	require.Equal(t, fakeToken, token)
	require.NoError(t, db.Use(ctx, "test", "test"))
}

type testUser struct {
	ID  string `json:"id,omitempty"`
	Age int    `json:"age,omitempty"`
}

func TestPingAndVersion(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)
	ctx := context.Background()

	require.NoError(t, db.Ping(ctx))
	v, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake-2.0.0", v)
}

func TestSigninStoresTokenAndRejectsBadCreds(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)
	ctx := context.Background()

	_, err := db.Signin(ctx, surgo.RootAuth{Username: "root", Password: "wrong"})
	var rpcErr *surgo.RPCError
	require.ErrorAs(t, err, &rpcErr)

	signinAndUse(t, db)
}

func TestQueryReturnsStatementResults(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)
	ctx := context.Background()
	signinAndUse(t, db)

	results, err := db.Query(ctx, "INFO FOR DB", nil)
	require.NoError(t, err)
	first, ok := results.First()
	require.True(t, ok)
	assert.True(t, first.OK())
	assert.Equal(t, "12.3µs", first.Time)
}

func TestEmptyQueryRejectedBeforeSend(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)

	_, err := db.Query(context.Background(), "", nil)
	var iq *surgo.InvalidQueryError
	require.ErrorAs(t, err, &iq)
	assert.Zero(t, s.calls("query"), "invalid query must never reach the server")
}

func TestInvalidTargetRejectedBeforeSend(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)

	err := db.Select(context.Background(), "users;DROP", nil)
	var ve *surgo.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, s.calls("select"))

	err = db.Select(context.Background(), "select", nil)
	require.ErrorAs(t, err, &ve, "reserved keyword must be rejected")
}

// Seed scenario 1: after a select fills the cache, a second select
// completes without a new request even when the server blocks.
func TestCacheHitBypassesServer(t *testing.T) {
	s := newFakeServer(t)
	s.seed("users", codec.Object(map[string]codec.Value{
		"id":  codec.String("users:a"),
		"age": codec.Int(30),
	}))
	db := newTestDB(t, s, nil)
	ctx := context.Background()
	signinAndUse(t, db)

	var first []testUser
	require.NoError(t, db.Select(ctx, "users", &first))
	require.Len(t, first, 1)
	assert.Equal(t, 30, first[0].Age)
	require.Equal(t, 1, s.calls("select"))

	s.setBlockingSelect()
	defer s.unblockSelect()

	done := make(chan []testUser, 1)
	go func() {
		var second []testUser
		if err := db.Select(ctx, "users", &second); err != nil {
			t.Errorf("cached select: %v", err)
		}
		done <- second
	}()
	select {
	case second := <-done:
		assert.Equal(t, first, second)
	case <-time.After(2 * time.Second):
		t.Fatal("second select hit the blocked server instead of the cache")
	}
	assert.Equal(t, 1, s.calls("select"), "cache hit must not dispatch")
}

// Seed scenario 2: a successful mutation invalidates the cached table
// and the next select re-dispatches.
func TestMutationInvalidatesCache(t *testing.T) {
	s := newFakeServer(t)
	s.seed("users", codec.Object(map[string]codec.Value{"age": codec.Int(30)}))
	db := newTestDB(t, s, nil)
	ctx := context.Background()
	signinAndUse(t, db)

	var rows []testUser
	require.NoError(t, db.Select(ctx, "users", &rows))
	require.Equal(t, 1, s.calls("select"))
	require.Len(t, rows, 1)

	require.NoError(t, db.Create(ctx, "users", map[string]any{"name": "B", "age": 25}, nil))

	rows = nil
	require.NoError(t, db.Select(ctx, "users", &rows))
	assert.Equal(t, 2, s.calls("select"), "post-mutation select must re-dispatch")
	assert.Len(t, rows, 2, "stale cached array must not be returned")
}

// Seed scenario 3: TTL expiry forces a fresh dispatch.
func TestCacheTTLExpiry(t *testing.T) {
	s := newFakeServer(t)
	s.seed("x", codec.Object(map[string]codec.Value{"n": codec.Int(1)}))
	cfg := surgo.DefaultConfig()
	cfg.Reconnect = surgo.NeverReconnect()
	cfg.Cache.DefaultTTL = time.Second
	db := newTestDB(t, s, cfg)
	ctx := context.Background()
	signinAndUse(t, db)

	require.NoError(t, db.Select(ctx, "x", nil))
	require.NoError(t, db.Select(ctx, "x", nil))
	require.Equal(t, 1, s.calls("select"), "within ttl the cache serves")

	time.Sleep(1500 * time.Millisecond)
	require.NoError(t, db.Select(ctx, "x", nil))
	assert.Equal(t, 2, s.calls("select"), "after ttl the select must re-dispatch")
}

// Seed scenario 4: live fan-out delivers to every subscriber exactly
// once, in order; kill finishes every stream.
func TestLiveFanOut(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)
	ctx := context.Background()
	signinAndUse(t, db)

	lq1, err := db.Live(ctx, "products", false)
	require.NoError(t, err)
	lq2, err := db.SubscribeLive(lq1.ID())
	require.NoError(t, err)

	s.pushNotification("CREATE", lq1.ID(), codec.Object(map[string]codec.Value{
		"name": codec.String("P"),
	}))

	for _, lq := range []*surgo.LiveQuery{lq1, lq2} {
		select {
		case n := <-lq.Ch():
			assert.Equal(t, surgo.ActionCreate, n.Action)
			name, _ := n.Result.Get("name").Str()
			assert.Equal(t, "P", name)
		case <-time.After(2 * time.Second):
			t.Fatal("notification never arrived")
		}
	}

	require.NoError(t, db.Kill(ctx, lq1.ID()))
	for _, lq := range []*surgo.LiveQuery{lq1, lq2} {
		select {
		case _, ok := <-lq.Ch():
			assert.False(t, ok, "stream must finish after kill")
		case <-time.After(2 * time.Second):
			t.Fatal("stream not finished after kill")
		}
	}
}

func TestCloseNotificationFinishesStreams(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)
	ctx := context.Background()
	signinAndUse(t, db)

	lq, err := db.Live(ctx, "products", false)
	require.NoError(t, err)

	s.pushNotification("CLOSE", lq.ID(), codec.Null())

	// The close action is the last item observed, then the stream ends.
	select {
	case n, ok := <-lq.Ch():
		require.True(t, ok)
		assert.Equal(t, surgo.ActionClose, n.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("close notification never arrived")
	}
	select {
	case _, ok := <-lq.Ch():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after close action")
	}

	_, err = db.SubscribeLive(lq.ID())
	assert.Error(t, err, "closed subscription id must be forgotten")
}

// Seed scenario 5: after a forced drop, the session restores
// authentication and namespace selection without a new signin.
func TestReconnectRestoresSession(t *testing.T) {
	s := newFakeServer(t)
	cfg := surgo.DefaultConfig()
	cfg.Reconnect = surgo.ExponentialBackoff(50*time.Millisecond, 100*time.Millisecond, 2, 3)
	db := newTestDB(t, s, cfg)
	ctx := context.Background()
	signinAndUse(t, db)
	require.Equal(t, 1, s.calls("signin"))

	s.dropConnections()

	// IsConnected flips as soon as the dial succeeds; the use replay
	// marks the restore itself complete.
	deadline := time.After(1 * time.Second)
	for !db.IsConnected() || s.calls("use") < 2 {
		select {
		case <-deadline:
			t.Fatal("session not restored within 1s")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The replayed session state makes a namespaced query succeed.
	results, err := db.Query(ctx, "INFO FOR DB", nil)
	require.NoError(t, err)
	_, ok := results.First()
	assert.True(t, ok)

	assert.Equal(t, 1, s.calls("signin"), "restore must replay the token, not signin")
	assert.GreaterOrEqual(t, s.calls("authenticate"), 1)
	assert.GreaterOrEqual(t, s.calls("use"), 2)
}

func TestLiveStreamsDieOnDisconnect(t *testing.T) {
	s := newFakeServer(t)
	cfg := surgo.DefaultConfig()
	cfg.Reconnect = surgo.ExponentialBackoff(20*time.Millisecond, 40*time.Millisecond, 2, 5)
	db := newTestDB(t, s, cfg)
	ctx := context.Background()
	signinAndUse(t, db)

	lq, err := db.Live(ctx, "products", false)
	require.NoError(t, err)

	s.dropConnections()

	select {
	case _, ok := <-lq.Ch():
		assert.False(t, ok, "live stream must finish when the connection drops")
	case <-time.After(2 * time.Second):
		t.Fatal("live stream survived the disconnect")
	}
}

// Seed scenario 6: concurrent pings never receive each other's
// payloads (request-id correlation under load).
func TestConcurrentPings(t *testing.T) {
	s := newFakeServer(t)
	db := newTestDB(t, s, nil)
	ctx := context.Background()

	const n = 10000
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := db.Ping(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
	assert.Equal(t, n, s.calls("ping"))
}

func TestExplicitCloseDisablesReconnect(t *testing.T) {
	s := newFakeServer(t)
	cfg := surgo.DefaultConfig()
	cfg.Reconnect = surgo.AlwaysReconnect(10*time.Millisecond, 20*time.Millisecond, 2)
	db := newTestDB(t, s, cfg)
	signinAndUse(t, db)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close must be idempotent")

	time.Sleep(150 * time.Millisecond)
	assert.False(t, db.IsConnected(), "reconnection after explicit close must not occur")
	assert.Equal(t, surgo.StateDisconnected, db.State())
}

func TestOperationsFailWhenNotConnected(t *testing.T) {
	s := newFakeServer(t)
	db, err := surgo.New(s.url(), nil)
	require.NoError(t, err)
	err = db.Ping(context.Background())
	assert.True(t, errors.Is(err, surgo.ErrNotConnected), "err = %v", err)
}

func TestUnsupportedOperationsOnHTTP(t *testing.T) {
	// The stateless transport refuses live queries and variables
	// before anything touches the network.
	db, err := surgo.New("http://127.0.0.1:1", nil)
	require.NoError(t, err)
	require.NoError(t, db.Connect(context.Background()))
	defer db.Close()

	_, err = db.Live(context.Background(), "users", false)
	var uo *surgo.UnsupportedOperationError
	require.ErrorAs(t, err, &uo)

	err = db.Let(context.Background(), "x", 1)
	require.ErrorAs(t, err, &uo)

	err = db.Unset(context.Background(), "x")
	require.ErrorAs(t, err, &uo)
}

func TestConnectionEventsSurface(t *testing.T) {
	s := newFakeServer(t)
	cfg := surgo.DefaultConfig()
	cfg.Reconnect = surgo.NeverReconnect()
	db, err := surgo.New(s.url(), cfg)
	require.NoError(t, err)
	events := db.ConnectionEvents()
	require.NoError(t, db.Connect(context.Background()))
	defer db.Close()

	select {
	case ev := <-events:
		assert.Equal(t, surgo.EventConnected, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no connected event")
	}

	s.dropConnections()
	select {
	case ev := <-events:
		assert.Equal(t, surgo.EventDisconnected, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnected event")
	}
}

func TestCacheStatsSurface(t *testing.T) {
	s := newFakeServer(t)
	s.seed("users", codec.Object(map[string]codec.Value{"age": codec.Int(1)}))
	db := newTestDB(t, s, nil)
	ctx := context.Background()
	signinAndUse(t, db)

	require.NoError(t, db.Select(ctx, "users", nil))
	require.NoError(t, db.Select(ctx, "users", nil))

	stats := db.CacheStats(ctx)
	assert.Equal(t, 1, stats.Entries)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
}
