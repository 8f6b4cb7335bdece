// Package surgo is a client for multi-model database servers speaking
// the JSON-RPC protocol over either a persistent websocket or stateless
// HTTP. It maintains an authenticated session across reconnects,
// multiplexes live-query notifications, and caches read results
// client-side with table-granular invalidation.
//
// Basic use:
//
//	db, err := surgo.New("ws://localhost:8000", nil)
//	if err != nil { ... }
//	if err := db.Connect(ctx); err != nil { ... }
//	defer db.Close()
//
//	_, err = db.Signin(ctx, surgo.RootAuth{Username: "root", Password: "root"})
//	err = db.Use(ctx, "test", "test")
//
//	var users []User
//	err = db.Select(ctx, "users", &users)
//
// This file re-exports the pieces of internal packages that belong to
// the public surface: the error taxonomy, the reconnection policy
// constructors, live notification types, and cache statistics.
package surgo

import (
	"github.com/steveyegge/surgo/internal/cache"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/proto"
	"github.com/steveyegge/surgo/internal/reconnect"
	"github.com/steveyegge/surgo/internal/transport"
)

// Error taxonomy. Match sentinels with errors.Is and typed errors with
// errors.As.
var (
	ErrNotConnected    = errs.ErrNotConnected
	ErrTransportClosed = errs.ErrTransportClosed
	ErrTimeout         = errs.ErrTimeout
)

type (
	ConnectionError           = errs.ConnectionError
	RPCError                  = errs.RPCError
	AuthenticationError       = errs.AuthenticationError
	InvalidResponseError      = errs.InvalidResponseError
	EncodingError             = errs.EncodingError
	ValidationError           = errs.ValidationError
	InvalidRecordIDError      = errs.InvalidRecordIDError
	InvalidQueryError         = errs.InvalidQueryError
	UnsupportedOperationError = errs.UnsupportedOperationError
)

// ReconnectPolicy selects how the client behaves when the persistent
// transport drops.
type ReconnectPolicy = reconnect.Policy

// Reconnection policy constructors.
var (
	NeverReconnect     = reconnect.Never
	ConstantReconnect  = reconnect.Constant
	ExponentialBackoff = reconnect.ExponentialBackoff
	AlwaysReconnect    = reconnect.AlwaysReconnect
)

// Notification is one live-query change event.
type Notification = proto.Notification

// Action is the change kind carried by a notification.
type Action = proto.Action

// Notification actions.
const (
	ActionCreate = proto.ActionCreate
	ActionUpdate = proto.ActionUpdate
	ActionDelete = proto.ActionDelete
	ActionClose  = proto.ActionClose
)

// ConnectionEvent reports a transport state change on the events
// stream.
type ConnectionEvent = transport.Event

// Connection event kinds.
const (
	EventConnected    = transport.EventConnected
	EventDisconnected = transport.EventDisconnected
)

// CacheStats summarizes the client cache: counts plus extremes.
type CacheStats = cache.Stats
