package surgo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/cache"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/live"
	"github.com/steveyegge/surgo/internal/proto"
	"github.com/steveyegge/surgo/internal/reconnect"
	"github.com/steveyegge/surgo/internal/telemetry"
	"github.com/steveyegge/surgo/internal/transport"
)

// State is the coarse connection state of a DB.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// DB is a session against one server over one transport. All mutable
// session state (token, namespace selection, pending requests, live
// subscriptions) is owned here; multiple independent DBs coexist
// freely. Operations may be called concurrently.
type DB struct {
	cfg       *Config
	transport transport.Transport
	mux       *live.Mux
	cache     *cache.Cache
	recorder  *telemetry.Recorder
	recon     *reconnect.Controller

	mu         sync.Mutex // guards everything below
	ids        *proto.IDGenerator
	token      string
	namespace  string
	database   string
	liveTables map[string]string // subscription id -> table, for live-query cache invalidation
	connecting bool
	pumpOnce   sync.Once
	closeOnce  sync.Once

	eventsMu   sync.Mutex
	eventSinks []chan ConnectionEvent

	done chan struct{}
}

// New builds a client for endpoint. The scheme selects the transport:
// ws and wss give the persistent bidirectional transport, http and
// https give the stateless request/response transport. The choice is
// fixed for the life of the client. A nil cfg selects DefaultConfig.
func New(endpoint string, cfg *Config) (*DB, error) {
	fromNil := cfg == nil
	if fromNil {
		cfg = DefaultConfig()
	}
	cfg = cfg.normalized(fromNil)

	opts := transport.Options{
		Encoding:       cfg.Encoding.proto(),
		RequestTimeout: cfg.RequestTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		PoolSize:       cfg.HTTPPoolSize,
	}

	var tr transport.Transport
	var err error
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		tr, err = transport.NewWebSocket(endpoint, opts)
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		tr, err = transport.NewHTTP(endpoint, opts)
	default:
		return nil, &errs.ConnectionError{Msg: fmt.Sprintf("endpoint %q has no recognized scheme", endpoint)}
	}
	if err != nil {
		return nil, err
	}
	return newWithTransport(tr, cfg), nil
}

func newWithTransport(tr transport.Transport, cfg *Config) *DB {
	db := &DB{
		cfg:        cfg,
		transport:  tr,
		mux:        live.NewMux(cfg.LiveBuffer),
		cache:      cache.New(cfg.CacheStore, cfg.cachePolicy()),
		recorder:   telemetry.NewRecorder(),
		ids:        proto.NewIDGenerator(),
		liveTables: map[string]string{},
		done:       make(chan struct{}),
	}
	db.recon = reconnect.NewController(cfg.Reconnect, tr, db.restore)
	if cfg.Meter != nil {
		if err := db.recorder.BridgeOTel(cfg.Meter); err != nil {
			cfg.Logger("surgo: otel bridge unavailable: %v", err)
		}
	}
	return db
}

// Metrics exposes the request telemetry recorder.
func (db *DB) Metrics() *telemetry.Recorder { return db.recorder }

// Connect establishes the transport, starts the notification router,
// and arms reconnection. Idempotent while connected. After Close it
// returns ErrTransportClosed.
func (db *DB) Connect(ctx context.Context) error {
	select {
	case <-db.done:
		return errs.ErrTransportClosed
	default:
	}
	db.mu.Lock()
	if db.connecting {
		db.mu.Unlock()
		return nil
	}
	db.connecting = true
	db.mu.Unlock()
	defer func() {
		db.mu.Lock()
		db.connecting = false
		db.mu.Unlock()
	}()

	if db.transport.IsConnected() {
		return nil
	}
	if err := db.transport.Connect(ctx); err != nil {
		return err
	}

	db.mu.Lock()
	db.ids = proto.NewIDGenerator()
	db.mu.Unlock()

	go db.route(db.transport.Notifications())
	db.pumpOnce.Do(func() { go db.pumpEvents() })
	db.recon.Arm()
	return nil
}

// Close cancels reconnection, disconnects the transport (draining
// pending requests and finishing every live stream), and closes the
// cache store. Idempotent and best-effort: repeated calls return nil
// and produce no additional side effects. A closed DB stays closed;
// build a new one to reconnect.
func (db *DB) Close() error {
	db.recon.Disarm()
	_ = db.transport.Disconnect()
	db.closeOnce.Do(func() {
		close(db.done)
		if err := db.cache.Store().Close(); err != nil {
			db.cfg.Logger("surgo: cache store close: %v", err)
		}
	})
	return nil
}

// Disconnect is an alias for Close, matching the wire-protocol verb.
func (db *DB) Disconnect() error { return db.Close() }

// IsConnected reports whether the transport currently holds an
// established connection.
func (db *DB) IsConnected() bool { return db.transport.IsConnected() }

// State reports the coarse connection state.
func (db *DB) State() State {
	if db.transport.IsConnected() {
		return StateConnected
	}
	if db.recon.Reconnecting() {
		return StateReconnecting
	}
	db.mu.Lock()
	connecting := db.connecting
	db.mu.Unlock()
	if connecting {
		return StateConnecting
	}
	return StateDisconnected
}

// ConnectionEvents returns a stream of connect/disconnect events. Slow
// consumers miss events rather than stalling the client.
func (db *DB) ConnectionEvents() <-chan ConnectionEvent {
	ch := make(chan ConnectionEvent, 16)
	db.eventsMu.Lock()
	db.eventSinks = append(db.eventSinks, ch)
	db.eventsMu.Unlock()
	return ch
}

// CacheStats reports client-cache counters and entry-age extremes.
func (db *DB) CacheStats(ctx context.Context) CacheStats {
	return db.cache.Stats(ctx)
}

// InvalidateCache removes every cached entry depending on table.
func (db *DB) InvalidateCache(ctx context.Context, table string) {
	db.cache.Invalidate(ctx, table)
}

// InvalidateCacheAll clears the client cache.
func (db *DB) InvalidateCacheAll(ctx context.Context) {
	db.cache.InvalidateAll(ctx)
}

// pumpEvents forwards transport lifecycle events to the reconnect
// controller and to user event sinks. One per DB lifetime.
func (db *DB) pumpEvents() {
	events := db.transport.Events()
	for {
		select {
		case <-db.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			db.broadcast(ev)
			if ev.Kind == transport.EventDisconnected {
				db.recon.OnDisconnect()
			}
		}
	}
}

func (db *DB) broadcast(ev ConnectionEvent) {
	db.eventsMu.Lock()
	sinks := append([]chan ConnectionEvent(nil), db.eventSinks...)
	db.eventsMu.Unlock()
	for _, ch := range sinks {
		select {
		case ch <- ev:
		default:
		}
	}
}

// route consumes one connection lifecycle's notification stream,
// invalidating cached tables per policy and fanning out to live
// streams. When the stream closes (disconnect), every subscription is
// finished: the server has forgotten them, so the user must issue new
// live queries.
func (db *DB) route(ch <-chan proto.Notification) {
	for n := range ch {
		if db.cache.Policy().InvalidateOnLiveQuery {
			db.mu.Lock()
			table := db.liveTables[n.ID]
			db.mu.Unlock()
			if table != "" {
				db.cache.Invalidate(context.Background(), table)
			}
		}
		if n.Action == proto.ActionClose {
			db.dropLiveTable(n.ID)
		}
		db.mux.Dispatch(n)
	}
	db.mux.CloseAll()
	db.mu.Lock()
	db.liveTables = map[string]string{}
	db.mu.Unlock()
}

func (db *DB) dropLiveTable(id string) {
	db.mu.Lock()
	delete(db.liveTables, id)
	db.mu.Unlock()
}

// restore is the session-restore hook the reconnect controller invokes
// after a successful dial: restart the notification router, then replay
// authentication and namespace selection. Live subscriptions
// are not re-issued; their streams already finished when the previous
// connection's notification stream closed.
func (db *DB) restore(ctx context.Context) error {
	db.mu.Lock()
	db.ids = proto.NewIDGenerator()
	token := db.token
	ns, dbname := db.namespace, db.database
	db.mu.Unlock()

	go db.route(db.transport.Notifications())

	if token != "" {
		if err := db.Authenticate(ctx, token); err != nil {
			return fmt.Errorf("restore authenticate: %w", err)
		}
	}
	if ns != "" && dbname != "" {
		if err := db.Use(ctx, ns, dbname); err != nil {
			return fmt.Errorf("restore use: %w", err)
		}
	}
	return nil
}

// send is the single dispatch path every operation funnels through.
func (db *DB) send(ctx context.Context, method string, params []codec.Value) (codec.Value, error) {
	db.mu.Lock()
	gen := db.ids
	db.mu.Unlock()

	req := &proto.Request{ID: gen.Next(), Method: method, Params: params}
	start := time.Now()
	resp, err := db.transport.Send(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		db.recorder.Record(method, elapsed, true)
		db.cfg.Logger("surgo: %s failed after %v: %v", method, elapsed, err)
		return codec.Value{}, err
	}
	if resp.Err != nil {
		db.recorder.Record(method, elapsed, true)
		rpcErr := &errs.RPCError{Code: resp.Err.Code, Message: resp.Err.Message}
		if resp.Err.Data != nil {
			rpcErr.Data = *resp.Err.Data
		}
		db.cfg.Logger("surgo: %s rejected: %v", method, rpcErr)
		return codec.Value{}, rpcErr
	}
	db.recorder.Record(method, elapsed, false)
	if resp.Result == nil {
		return codec.Null(), nil
	}
	return *resp.Result, nil
}
