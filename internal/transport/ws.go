package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steveyegge/surgo/internal/debug"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/proto"
)

// WebSocket is the persistent bidirectional transport. One frame channel
// carries both responses (matched to pending requests by id) and
// server-initiated notifications (yielded to the Notifications stream).
type WebSocket struct {
	endpoint string
	opts     Options

	mu        sync.Mutex // guards conn, pending, notifCh, notifOpen, gen
	conn      *websocket.Conn
	pending   map[string]chan *proto.Response
	notifCh   chan proto.Notification
	notifOpen bool
	gen       uint64 // connection generation; stale read loops no-op on teardown

	writeMu sync.Mutex // serializes frame writes

	events chan Event
}

// notifBuffer bounds the inbound notification channel. The session
// engine's router drains it continuously; frames arriving while the
// buffer is full are dropped with a debug log rather than stalling the
// read loop.
const notifBuffer = 256

// NewWebSocket builds the persistent transport for endpoint, which uses
// the ws, wss, http, or https scheme. An empty or "/" path is rewritten
// to "/rpc".
func NewWebSocket(endpoint string, opts Options) (*WebSocket, error) {
	u, err := normalizeWSURL(endpoint)
	if err != nil {
		return nil, err
	}
	closed := make(chan proto.Notification)
	close(closed)
	return &WebSocket{
		endpoint: u,
		opts:     opts,
		notifCh:  closed,
		events:   make(chan Event, 16),
	}, nil
}

func normalizeWSURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &errs.ConnectionError{Msg: fmt.Sprintf("malformed endpoint %q", endpoint), Err: err}
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", &errs.ConnectionError{Msg: fmt.Sprintf("endpoint scheme %q is not a websocket scheme", u.Scheme)}
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/rpc"
	}
	return u.String(), nil
}

// Features reports full bidirectional capability.
func (t *WebSocket) Features() Features {
	return Features{Notifications: true, Variables: true}
}

// Connect dials the frame channel and starts the read loop. Idempotent
// when already connected.
func (t *WebSocket) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.connectTimeout())
	defer cancel()

	dialer := websocket.Dialer{
		Subprotocols:     []string{t.opts.Encoding.String()},
		HandshakeTimeout: t.opts.connectTimeout(),
	}
	conn, _, err := dialer.DialContext(dialCtx, t.endpoint, nil)
	if err != nil {
		return &errs.ConnectionError{Msg: fmt.Sprintf("dial %s", t.endpoint), Err: err}
	}

	t.conn = conn
	t.pending = make(map[string]chan *proto.Response)
	t.notifCh = make(chan proto.Notification, notifBuffer)
	t.notifOpen = true
	t.gen++
	gen := t.gen

	go t.readLoop(conn, gen)

	t.emit(Event{Kind: EventConnected})
	debug.Logf("ws: connected to %s (%s)", t.endpoint, t.opts.Encoding)
	return nil
}

// Disconnect closes the frame channel. Pending waiters wake with
// ErrTransportClosed via the read loop's teardown. Idempotent.
func (t *WebSocket) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	gen := t.gen
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	// Best-effort close frame, then drop the socket. The read loop
	// observes the close and runs teardown for this generation.
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	_ = conn.Close()
	// Teardown synchronously as well: Disconnect must leave the
	// transport disconnected even if the read loop is slow to notice.
	t.teardown(gen, nil)
	return nil
}

// IsConnected reports whether a frame channel is open.
func (t *WebSocket) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Notifications returns the notification stream for the current
// connection lifecycle. After a disconnect the stream is closed; a new
// stream exists once Connect succeeds again.
func (t *WebSocket) Notifications() <-chan proto.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notifCh
}

// Events returns the connection lifecycle event stream.
func (t *WebSocket) Events() <-chan Event {
	return t.events
}

// Send writes one request frame and awaits the matching response.
func (t *WebSocket) Send(ctx context.Context, req *proto.Request) (*proto.Response, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, errs.ErrNotConnected
	}
	ch := make(chan *proto.Response, 1)
	t.pending[req.ID] = ch
	t.mu.Unlock()

	payload, err := t.opts.Encoding.Marshal(req.Value())
	if err != nil {
		t.removePending(req.ID)
		return nil, err
	}

	msgType := websocket.TextMessage
	if t.opts.Encoding == proto.EncodingBinary {
		msgType = websocket.BinaryMessage
	}
	t.writeMu.Lock()
	werr := conn.WriteMessage(msgType, payload)
	t.writeMu.Unlock()
	if werr != nil {
		t.removePending(req.ID)
		return nil, &errs.ConnectionError{Msg: "write frame", Err: werr}
	}

	timer := time.NewTimer(t.opts.requestTimeout())
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errs.ErrTransportClosed
		}
		return resp, nil
	case <-ctx.Done():
		t.removePending(req.ID)
		return nil, ctx.Err()
	case <-timer.C:
		// A late response for this id is dropped by the read loop.
		t.removePending(req.ID)
		return nil, errs.ErrTimeout
	}
}

func (t *WebSocket) removePending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// readLoop consumes inbound frames until the socket dies, then runs
// teardown for its generation.
func (t *WebSocket) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.teardown(gen, err)
			return
		}
		t.dispatchFrame(data)
	}
}

// dispatchFrame decodes one inbound frame. Responses resolve a pending
// completion; notifications feed the stream; anything else is dropped
// with a debug log.
func (t *WebSocket) dispatchFrame(data []byte) {
	v, err := t.opts.Encoding.Unmarshal(data)
	if err != nil {
		debug.Logf("ws: dropping undecodable frame: %v", err)
		return
	}

	if resp, ok, perr := proto.ParseResponse(v); perr != nil {
		debug.Logf("ws: malformed response frame: %v", perr)
		return
	} else if ok {
		t.mu.Lock()
		ch, found := t.pending[resp.ID]
		if found {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if found {
			ch <- resp
			return
		}
		// No pending completion: either a timed-out request's late
		// response, or a notification whose subscription id collided
		// with the response shape. Try the notification parse before
		// dropping.
		if n, isNotif := proto.ParseNotification(v); isNotif {
			t.yieldNotification(n)
			return
		}
		debug.Logf("ws: dropping response for unknown id %s", resp.ID)
		return
	}

	if n, ok := proto.ParseNotification(v); ok {
		t.yieldNotification(n)
		return
	}

	debug.Logf("ws: dropping unrecognized frame")
}

// yieldNotification enqueues under the mutex so a concurrent teardown
// cannot close the channel out from under the send.
func (t *WebSocket) yieldNotification(n proto.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.notifOpen {
		return
	}
	select {
	case t.notifCh <- n:
	default:
		debug.Logf("ws: notification buffer full, dropping %s for %s", n.Action, n.ID)
	}
}

// teardown drains pending completions, finishes the notification
// stream, and emits the disconnected event. Only the read loop (or
// Disconnect) for the current generation performs it; stale generations
// no-op.
func (t *WebSocket) teardown(gen uint64, cause error) {
	t.mu.Lock()
	if t.gen != gen || t.conn == nil {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	t.conn = nil
	pending := t.pending
	t.pending = nil
	notifCh := t.notifCh
	t.notifOpen = false
	t.mu.Unlock()

	_ = conn.Close()
	for id, ch := range pending {
		close(ch)
		debug.Logf("ws: drained pending request %s on disconnect", id)
	}
	close(notifCh)
	t.emit(Event{Kind: EventDisconnected, Err: cause})
	debug.Logf("ws: disconnected (cause: %v)", cause)
}

func (t *WebSocket) emit(e Event) {
	select {
	case t.events <- e:
	default:
		debug.Logf("ws: event buffer full, dropping %s", e.Kind)
	}
}
