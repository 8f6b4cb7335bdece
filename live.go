package surgo

import (
	"context"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/ident"
	"github.com/steveyegge/surgo/internal/live"
	"github.com/steveyegge/surgo/internal/proto"
)

// LiveQuery is one consumer stream of a live subscription. Multiple
// LiveQueries can share a subscription id (see SubscribeLive); each
// receives every notification in server order. The stream ends when
// Kill is called, when the server closes the subscription, or when the
// connection drops — in the last case without a final close
// notification, and the subscription must be re-issued after
// reconnect.
type LiveQuery struct {
	id     string
	stream *live.Stream
}

// ID returns the server-assigned subscription id.
func (lq *LiveQuery) ID() string { return lq.id }

// Ch returns the notification channel. It is closed when the
// subscription dies.
func (lq *LiveQuery) Ch() <-chan Notification { return lq.stream.Ch() }

// Missed reports notifications dropped because this consumer fell
// behind its buffer.
func (lq *LiveQuery) Missed() int64 { return lq.stream.Missed() }

// Live starts a live query on table. With diff set, notifications
// carry JSON-patch diffs instead of full records. Requires the
// persistent transport.
func (db *DB) Live(ctx context.Context, table string, diff bool) (*LiveQuery, error) {
	if !db.transport.Features().Notifications {
		return nil, &errs.UnsupportedOperationError{Msg: "live queries require the persistent transport"}
	}
	if err := ident.Validate(table); err != nil {
		return nil, &errs.ValidationError{Msg: "table: " + err.Error()}
	}
	v, err := db.send(ctx, proto.MethodLive, []codec.Value{codec.String(table), codec.Bool(diff)})
	if err != nil {
		return nil, err
	}
	id, ok := v.Str()
	if !ok {
		return nil, &errs.InvalidResponseError{Msg: "live result is " + v.Kind().String() + ", want subscription id string"}
	}

	db.mu.Lock()
	db.liveTables[id] = table
	db.mu.Unlock()

	return &LiveQuery{id: id, stream: db.mux.Register(id)}, nil
}

// SubscribeLive attaches an additional consumer stream to an existing
// subscription id.
func (db *DB) SubscribeLive(id string) (*LiveQuery, error) {
	if !db.transport.Features().Notifications {
		return nil, &errs.UnsupportedOperationError{Msg: "live queries require the persistent transport"}
	}
	if !db.mux.Has(id) {
		return nil, &errs.ValidationError{Msg: "unknown subscription id " + id}
	}
	return &LiveQuery{id: id, stream: db.mux.Register(id)}, nil
}

// Kill stops a live subscription and finishes every consumer stream
// attached to it.
func (db *DB) Kill(ctx context.Context, id string) error {
	if _, err := db.send(ctx, proto.MethodKill, []codec.Value{codec.String(id)}); err != nil {
		return err
	}
	db.dropLiveTable(id)
	db.mux.CloseID(id)
	return nil
}
