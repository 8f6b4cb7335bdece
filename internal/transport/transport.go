// Package transport implements the two interchangeable wire transports:
// a persistent bidirectional websocket (frames in and out, notifications
// possible) and a stateless HTTP request/response exchange. Both satisfy
// the Transport contract consumed by the session engine.
package transport

import (
	"context"
	"time"

	"github.com/steveyegge/surgo/internal/proto"
)

// EventKind tags a connection lifecycle event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
)

func (k EventKind) String() string {
	if k == EventConnected {
		return "connected"
	}
	return "disconnected"
}

// Event is emitted on the Events stream when the connection state
// changes. Err carries the cause of a disconnect when known.
type Event struct {
	Kind EventKind
	Err  error
}

// Features describes what the concrete transport can do. The session
// engine refuses operations the transport cannot carry.
type Features struct {
	// Notifications is true when the transport can receive
	// server-initiated messages (live queries).
	Notifications bool
	// Variables is true when the transport holds per-connection state,
	// making let/unset meaningful.
	Variables bool
}

// Options configures a transport at construction.
type Options struct {
	Encoding       proto.Encoding
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// PoolSize bounds the stateless transport's connection pool.
	PoolSize int
}

// DefaultRequestTimeout applies when Options.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

// DefaultConnectTimeout applies when Options.ConnectTimeout is zero.
const DefaultConnectTimeout = 10 * time.Second

// DefaultPoolSize applies when Options.PoolSize is zero.
const DefaultPoolSize = 8

func (o Options) requestTimeout() time.Duration {
	if o.RequestTimeout > 0 {
		return o.RequestTimeout
	}
	return DefaultRequestTimeout
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (o Options) poolSize() int {
	if o.PoolSize > 0 {
		return o.PoolSize
	}
	return DefaultPoolSize
}

// Transport is the contract between the session engine and the wire.
type Transport interface {
	// Connect establishes the transport. Idempotent when already
	// connected.
	Connect(ctx context.Context) error

	// Disconnect releases resources and wakes all waiters with
	// ErrTransportClosed. Idempotent.
	Disconnect() error

	// Send transmits one request envelope and awaits its response. It
	// honors the configured request timeout.
	Send(ctx context.Context, req *proto.Request) (*proto.Response, error)

	// IsConnected reports the current connection state.
	IsConnected() bool

	// Notifications returns the server-initiated message stream for the
	// current connection lifecycle. Transports without a notification
	// path return a terminated stream.
	Notifications() <-chan proto.Notification

	// Events returns the connection lifecycle event stream.
	Events() <-chan Event

	// Features reports what this transport supports.
	Features() Features
}

// SessionHeaders is implemented by transports that attach session state
// to each exchange rather than holding it server-side. The session
// engine mirrors its auth token and namespace selection into it.
type SessionHeaders interface {
	SetToken(token string)
	SetNamespace(ns, db string)
}
