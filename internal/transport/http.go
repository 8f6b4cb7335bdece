package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/steveyegge/surgo/internal/debug"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/proto"
)

// HTTP is the stateless request/response transport. Each Send is one
// POST to /rpc over a bounded connection pool. There is no notification
// path and no per-connection variable state.
type HTTP struct {
	baseURL string
	opts    Options
	client  *http.Client

	mu        sync.Mutex // guards session headers and connected flag
	token     string
	ns        string
	db        string
	connected bool

	notifCh chan proto.Notification // closed at construction; never carries anything
	events  chan Event
}

// NewHTTP builds the stateless transport for endpoint, which uses the
// http or https scheme.
func NewHTTP(endpoint string, opts Options) (*HTTP, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, &errs.ConnectionError{Msg: fmt.Sprintf("malformed endpoint %q", endpoint), Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &errs.ConnectionError{Msg: fmt.Sprintf("endpoint scheme %q is not an http scheme", u.Scheme)}
	}
	closed := make(chan proto.Notification)
	close(closed)
	return &HTTP{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		opts:    opts,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        opts.poolSize(),
				MaxIdleConnsPerHost: opts.poolSize(),
				MaxConnsPerHost:     opts.poolSize(),
			},
		},
		notifCh: closed,
		events:  make(chan Event, 16),
	}, nil
}

// Features: no notifications, no connection-scoped variables.
func (t *HTTP) Features() Features {
	return Features{}
}

// Connect marks the transport usable. The stateless transport holds no
// long-lived channel, so there is nothing to establish eagerly.
func (t *HTTP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	t.connected = true
	t.emit(Event{Kind: EventConnected})
	debug.Logf("http: ready at %s (%s)", t.baseURL, t.opts.Encoding)
	return nil
}

// Disconnect releases idle pooled connections. Idempotent.
func (t *HTTP) Disconnect() error {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()
	t.client.CloseIdleConnections()
	if wasConnected {
		t.emit(Event{Kind: EventDisconnected})
	}
	return nil
}

// IsConnected reports whether Connect has been called without a
// subsequent Disconnect.
func (t *HTTP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Notifications returns a terminated stream: the stateless transport
// cannot receive server-initiated messages.
func (t *HTTP) Notifications() <-chan proto.Notification {
	return t.notifCh
}

// Events returns the connection lifecycle event stream.
func (t *HTTP) Events() <-chan Event {
	return t.events
}

// SetToken records the bearer token attached to each exchange.
func (t *HTTP) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
}

// SetNamespace records the namespace/database headers attached to each
// exchange.
func (t *HTTP) SetNamespace(ns, db string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ns, t.db = ns, db
}

// Send performs one POST /rpc exchange.
func (t *HTTP) Send(ctx context.Context, req *proto.Request) (*proto.Response, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, errs.ErrNotConnected
	}
	token, ns, db := t.token, t.ns, t.db
	t.mu.Unlock()

	payload, err := t.opts.Encoding.Marshal(req.Value())
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.opts.requestTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.baseURL+"/rpc", bytes.NewReader(payload))
	if err != nil {
		return nil, &errs.ConnectionError{Msg: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", t.opts.Encoding.ContentType())
	httpReq.Header.Set("Accept", t.opts.Encoding.ContentType())
	if ns != "" {
		httpReq.Header.Set("surreal-ns", ns)
	}
	if db != "" {
		httpReq.Header.Set("surreal-db", db)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errs.ErrTimeout
		}
		return nil, &errs.ConnectionError{Msg: "post /rpc", Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &errs.ConnectionError{Msg: "read response body", Err: err}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &errs.ConnectionError{
			Msg:    fmt.Sprintf("server returned %s", httpResp.Status),
			Status: httpResp.StatusCode,
		}
	}

	v, err := t.opts.Encoding.Unmarshal(body)
	if err != nil {
		return nil, err
	}
	resp, ok, perr := proto.ParseResponse(v)
	if perr != nil {
		return nil, perr
	}
	if !ok {
		return nil, &errs.InvalidResponseError{Msg: "body is not a response envelope"}
	}
	if resp.ID != req.ID {
		return nil, &errs.InvalidResponseError{Msg: fmt.Sprintf("response id %q does not match request id %q", resp.ID, req.ID)}
	}
	return resp, nil
}

func (t *HTTP) emit(e Event) {
	select {
	case t.events <- e:
	default:
		debug.Logf("http: event buffer full, dropping %s", e.Kind)
	}
}
