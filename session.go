package surgo

import (
	"context"
	"time"
)

// Session is the capability set of the engine: connection lifecycle,
// auth, namespace selection, data operations, and subscriptions. *DB
// is the in-process implementation; a remote-proxy implementation can
// wrap one and conform to the same interface. Composition, not
// inheritance: embed a Session to intercept a subset of operations.
type Session interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	State() State
	ConnectionEvents() <-chan ConnectionEvent

	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
	Use(ctx context.Context, namespace, database string) error

	Signin(ctx context.Context, creds Credentials) (string, error)
	Signup(ctx context.Context, creds Credentials) (string, error)
	Authenticate(ctx context.Context, token string) error
	Invalidate(ctx context.Context) error
	Info(ctx context.Context, out any) error

	Let(ctx context.Context, name string, value any) error
	Unset(ctx context.Context, name string) error

	Query(ctx context.Context, sql string, vars map[string]any) (QueryResults, error)
	QueryCached(ctx context.Context, sql string, vars map[string]any, tables []string, ttl time.Duration) (QueryResults, error)
	Select(ctx context.Context, target string, out any) error
	Create(ctx context.Context, target string, data, out any) error
	Update(ctx context.Context, target string, data, out any) error
	Upsert(ctx context.Context, target string, data, out any) error
	Merge(ctx context.Context, target string, data, out any) error
	Patch(ctx context.Context, target string, patches, out any) error
	Insert(ctx context.Context, table string, data, out any) error
	Delete(ctx context.Context, target string) error
	Relate(ctx context.Context, from, edge, to string, data, out any) error
	InsertRelation(ctx context.Context, table string, data, out any) error

	Live(ctx context.Context, table string, diff bool) (*LiveQuery, error)
	SubscribeLive(id string) (*LiveQuery, error)
	Kill(ctx context.Context, id string) error
}

var _ Session = (*DB)(nil)
