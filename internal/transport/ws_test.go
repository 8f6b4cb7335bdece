package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/errs"
	"github.com/steveyegge/surgo/internal/proto"
)

// wsTestServer is a minimal in-process RPC server over websocket. It
// answers every request via handle and can push raw frames
// (notifications) to the connected client.
type wsTestServer struct {
	t       *testing.T
	srv     *httptest.Server
	handle  func(req codec.Value) (codec.Value, bool) // respond?
	mu      sync.Mutex
	conns   []*websocket.Conn
	writeMu sync.Mutex
}

func newWSTestServer(t *testing.T, handle func(req codec.Value) (codec.Value, bool)) *wsTestServer {
	t.Helper()
	s := &wsTestServer{t: t, handle: handle}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsTestServer) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := codec.ParseText(data)
		if err != nil {
			continue
		}
		go func(req codec.Value) {
			resp, ok := s.handle(req)
			if !ok {
				return
			}
			out, err := codec.SerializeText(resp)
			if err != nil {
				return
			}
			s.writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, out)
			s.writeMu.Unlock()
		}(req)
	}
}

func (s *wsTestServer) push(v codec.Value) {
	out, err := codec.SerializeText(v)
	if err != nil {
		s.t.Fatalf("push serialize: %v", err)
	}
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, c := range conns {
		_ = c.WriteMessage(websocket.TextMessage, out)
	}
}

func (s *wsTestServer) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// url converts the httptest server's http:// base to ws://.
func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// echoHandler answers every request with {id, result: params}.
func echoHandler(req codec.Value) (codec.Value, bool) {
	id := req.Get("id")
	return codec.Object(map[string]codec.Value{
		"id":     id,
		"result": req.Get("params"),
	}), true
}

func newTestWS(t *testing.T, s *wsTestServer, opts Options) *WebSocket {
	t.Helper()
	ws, err := NewWebSocket(s.url(), opts)
	if err != nil {
		t.Fatalf("NewWebSocket: %v", err)
	}
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = ws.Disconnect() })
	return ws
}

func TestWebSocketURLNormalization(t *testing.T) {
	cases := map[string]string{
		"ws://h":          "ws://h/rpc",
		"ws://h/":         "ws://h/rpc",
		"wss://h:8000":    "wss://h:8000/rpc",
		"http://h":        "ws://h/rpc",
		"https://h/other": "wss://h/other",
	}
	for in, want := range cases {
		u, err := normalizeWSURL(in)
		if err != nil {
			t.Errorf("normalize(%q): %v", in, err)
			continue
		}
		if u != want {
			t.Errorf("normalize(%q) = %q, want %q", in, u, want)
		}
	}
	if _, err := normalizeWSURL("ftp://h"); err == nil {
		t.Error("ftp scheme must be rejected")
	}
}

func TestWebSocketSendReceivesMatchingResponse(t *testing.T) {
	s := newWSTestServer(t, echoHandler)
	ws := newTestWS(t, s, Options{})

	req := &proto.Request{ID: "a-1", Method: proto.MethodPing, Params: []codec.Value{codec.Int(7)}}
	resp, err := ws.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != "a-1" {
		t.Errorf("response id = %q", resp.ID)
	}
	if resp.Result == nil || !resp.Result.Equal(codec.Array(codec.Int(7))) {
		t.Errorf("result = %v", resp.Result)
	}
}

func TestWebSocketSlowResponseDoesNotBlockOthers(t *testing.T) {
	var mu sync.Mutex
	blocked := map[string]chan struct{}{}
	s := newWSTestServer(t, func(req codec.Value) (codec.Value, bool) {
		params, _ := req.Get("params").Array()
		if len(params) > 0 {
			if tag, _ := params[0].Str(); tag == "slow" {
				mu.Lock()
				ch := make(chan struct{})
				blocked[tag] = ch
				mu.Unlock()
				<-ch
			}
		}
		return echoHandler(req)
	})
	ws := newTestWS(t, s, Options{})

	slowDone := make(chan error, 1)
	go func() {
		_, err := ws.Send(context.Background(), &proto.Request{
			ID: "slow-1", Method: proto.MethodQuery, Params: []codec.Value{codec.String("slow")},
		})
		slowDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// The fast request completes while the slow one is parked.
	if _, err := ws.Send(context.Background(), &proto.Request{ID: "fast-1", Method: proto.MethodPing}); err != nil {
		t.Fatalf("fast send blocked: %v", err)
	}

	mu.Lock()
	for _, ch := range blocked {
		close(ch)
	}
	mu.Unlock()
	if err := <-slowDone; err != nil {
		t.Fatalf("slow send: %v", err)
	}
}

func TestWebSocketTimeout(t *testing.T) {
	s := newWSTestServer(t, func(req codec.Value) (codec.Value, bool) {
		return codec.Value{}, false // never answer
	})
	ws := newTestWS(t, s, Options{RequestTimeout: 80 * time.Millisecond})

	start := time.Now()
	_, err := ws.Send(context.Background(), &proto.Request{ID: "t-1", Method: proto.MethodPing})
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestWebSocketDisconnectDrainsPending(t *testing.T) {
	s := newWSTestServer(t, func(req codec.Value) (codec.Value, bool) {
		return codec.Value{}, false
	})
	ws := newTestWS(t, s, Options{RequestTimeout: 10 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := ws.Send(context.Background(), &proto.Request{ID: "p-1", Method: proto.MethodPing})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)

	s.dropConnections()

	select {
	case err := <-done:
		if !errors.Is(err, errs.ErrTransportClosed) {
			t.Fatalf("err = %v, want ErrTransportClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not drained on disconnect")
	}
	if ws.IsConnected() {
		t.Error("still connected after server drop")
	}
}

func TestWebSocketDisconnectIsIdempotent(t *testing.T) {
	s := newWSTestServer(t, echoHandler)
	ws := newTestWS(t, s, Options{})
	if err := ws.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := ws.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if ws.IsConnected() {
		t.Error("connected after Disconnect")
	}
}

func TestWebSocketNotificationsStream(t *testing.T) {
	s := newWSTestServer(t, echoHandler)
	ws := newTestWS(t, s, Options{})
	notifs := ws.Notifications()

	s.push(codec.Object(map[string]codec.Value{
		"action": codec.String("CREATE"),
		"id":     codec.String("sub-1"),
		"result": codec.Object(map[string]codec.Value{"name": codec.String("P")}),
	}))

	select {
	case n := <-notifs:
		if n.Action != proto.ActionCreate || n.ID != "sub-1" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}

	// The stream finishes when the connection drops.
	s.dropConnections()
	select {
	case _, ok := <-notifs:
		if ok {
			t.Error("expected closed notification stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification stream not closed on disconnect")
	}
}

func TestWebSocketEmitsLifecycleEvents(t *testing.T) {
	s := newWSTestServer(t, echoHandler)
	ws, err := NewWebSocket(s.url(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	events := ws.Events()
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, events, EventConnected)
	s.dropConnections()
	expectEvent(t, events, EventDisconnected)
}

func expectEvent(t *testing.T, events <-chan Event, want EventKind) {
	t.Helper()
	select {
	case ev := <-events:
		if ev.Kind != want {
			t.Fatalf("event = %s, want %s", ev.Kind, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s event", want)
	}
}

func TestWebSocketBinaryEncoding(t *testing.T) {
	// The fake server speaks text; this test round-trips CBOR frames
	// through a binary-aware handler instead.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := codec.ParseBinary(data)
			if err != nil {
				continue
			}
			out, _ := codec.SerializeBinary(codec.Object(map[string]codec.Value{
				"id":     req.Get("id"),
				"result": codec.String("cbor-ok"),
			}))
			_ = conn.WriteMessage(websocket.BinaryMessage, out)
		}
	}))
	defer srv.Close()

	ws, err := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), Options{Encoding: proto.EncodingBinary})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ws.Disconnect()

	resp, err := ws.Send(context.Background(), &proto.Request{ID: "b-1", Method: proto.MethodPing})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s, _ := resp.Result.Str(); s != "cbor-ok" {
		t.Errorf("result = %v", resp.Result)
	}
}

func TestWebSocketConcurrentPingsNoCrosstalk(t *testing.T) {
	s := newWSTestServer(t, echoHandler)
	ws := newTestWS(t, s, Options{})

	const n = 10000
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &proto.Request{
				ID:     "conn-" + strconv.Itoa(i),
				Method: proto.MethodPing,
				Params: []codec.Value{codec.Int(int64(i))},
			}
			resp, err := ws.Send(context.Background(), req)
			if err != nil {
				errCh <- err
				return
			}
			if !resp.Result.Equal(codec.Array(codec.Int(int64(i)))) {
				errCh <- errors.New("response payload crossed between requests")
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
