package surgo_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/steveyegge/surgo/codec"
)

// fakeServer is a stateful in-process server speaking the text wire
// protocol over websocket. It implements just enough of the method
// surface for the session-engine tests: auth, namespace selection,
// data methods over an in-memory table map, and live subscriptions.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	conns       map[*websocket.Conn]*connState
	tables      map[string][]codec.Value
	methodCalls map[string]int
	nextLiveID  int
	blockSelect chan struct{} // non-nil parks select handlers until closed
}

type connState struct {
	authed bool
	ns     string
	db     string
	subs   map[string]bool
	write  sync.Mutex
}

const fakeToken = "header.payload.signature"

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{
		t:           t,
		conns:       map[*websocket.Conn]*connState{},
		tables:      map[string][]codec.Value{},
		methodCalls: map[string]int{},
	}
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
		st := &connState{subs: map[string]bool{}}
		s.mu.Lock()
		s.conns[conn] = st
		s.mu.Unlock()
		go s.serve(conn, st)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakeServer) calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.methodCalls[method]
}

func (s *fakeServer) seed(table string, rows ...codec.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = rows
}

// setBlockingSelect parks subsequent select handlers until
// unblockSelect runs. Used to prove cache hits bypass the server.
func (s *fakeServer) setBlockingSelect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockSelect = make(chan struct{})
}

func (s *fakeServer) unblockSelect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockSelect != nil {
		close(s.blockSelect)
		s.blockSelect = nil
	}
}

func (s *fakeServer) dropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = map[*websocket.Conn]*connState{}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// pushNotification sends a raw live notification to every connection
// subscribed to id.
func (s *fakeServer) pushNotification(action, id string, result codec.Value) {
	frame := codec.Object(map[string]codec.Value{
		"result": codec.Object(map[string]codec.Value{
			"action": codec.String(action),
			"id":     codec.String(id),
			"result": result,
		}),
	})
	out, err := codec.SerializeText(frame)
	if err != nil {
		s.t.Errorf("push serialize: %v", err)
		return
	}
	s.mu.Lock()
	type target struct {
		conn *websocket.Conn
		st   *connState
	}
	var targets []target
	for c, st := range s.conns {
		if st.subs[id] {
			targets = append(targets, target{c, st})
		}
	}
	s.mu.Unlock()
	for _, tg := range targets {
		tg.st.write.Lock()
		_ = tg.conn.WriteMessage(websocket.TextMessage, out)
		tg.st.write.Unlock()
	}
}

func (s *fakeServer) serve(conn *websocket.Conn, st *connState) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := codec.ParseText(data)
		if err != nil {
			continue
		}
		go s.handle(conn, st, req)
	}
}

func (s *fakeServer) handle(conn *websocket.Conn, st *connState, req codec.Value) {
	id := req.Get("id")
	method, _ := req.Get("method").Str()
	params, _ := req.Get("params").Array()

	s.mu.Lock()
	s.methodCalls[method]++
	block := s.blockSelect
	s.mu.Unlock()

	reply := func(result codec.Value) {
		out, err := codec.SerializeText(codec.Object(map[string]codec.Value{
			"id": id, "result": result,
		}))
		if err != nil {
			s.t.Errorf("reply serialize: %v", err)
			return
		}
		st.write.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, out)
		st.write.Unlock()
	}
	replyErr := func(code int64, msg string) {
		out, _ := codec.SerializeText(codec.Object(map[string]codec.Value{
			"id": id,
			"error": codec.Object(map[string]codec.Value{
				"code": codec.Int(code), "message": codec.String(msg),
			}),
		}))
		st.write.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, out)
		st.write.Unlock()
	}

	switch method {
	case "ping":
		reply(codec.Null())
	case "version":
		reply(codec.String("fake-2.0.0"))
	case "signin":
		if len(params) != 1 {
			replyErr(-32602, "signin expects credentials")
			return
		}
		user, _ := params[0].Get("user").Str()
		pass, _ := params[0].Get("pass").Str()
		if user != "root" || pass != "root" {
			replyErr(-32000, "invalid credentials")
			return
		}
		st.authed = true
		reply(codec.String(fakeToken))
	case "authenticate":
		if len(params) != 1 {
			replyErr(-32602, "authenticate expects a token")
			return
		}
		if tok, _ := params[0].Str(); tok != fakeToken {
			replyErr(-32000, "invalid token")
			return
		}
		st.authed = true
		reply(codec.Null())
	case "invalidate":
		st.authed = false
		reply(codec.Null())
	case "use":
		if len(params) != 2 {
			replyErr(-32602, "use expects ns and db")
			return
		}
		st.ns, _ = params[0].Str()
		st.db, _ = params[1].Str()
		reply(codec.Null())
	case "query":
		if st.ns == "" {
			replyErr(-32000, "no namespace selected")
			return
		}
		reply(codec.Array(codec.Object(map[string]codec.Value{
			"status": codec.String("OK"),
			"time":   codec.String("12.3µs"),
			"result": codec.Array(),
		})))
	case "select":
		if block != nil {
			<-block
		}
		table := paramTable(params)
		s.mu.Lock()
		rows := append([]codec.Value(nil), s.tables[table]...)
		s.mu.Unlock()
		reply(codec.Array(rows...))
	case "create":
		table := paramTable(params)
		var row codec.Value
		if len(params) > 1 {
			row = params[1]
		} else {
			row = codec.Object(nil)
		}
		s.mu.Lock()
		s.tables[table] = append(s.tables[table], row)
		s.mu.Unlock()
		reply(row)
	case "delete":
		table := paramTable(params)
		s.mu.Lock()
		delete(s.tables, table)
		s.mu.Unlock()
		reply(codec.Null())
	case "live":
		s.mu.Lock()
		s.nextLiveID++
		sid := fmt.Sprintf("live-%04d", s.nextLiveID)
		st.subs[sid] = true
		s.mu.Unlock()
		reply(codec.String(sid))
	case "kill":
		if len(params) == 1 {
			if sid, ok := params[0].Str(); ok {
				s.mu.Lock()
				delete(st.subs, sid)
				s.mu.Unlock()
			}
		}
		reply(codec.Null())
	default:
		replyErr(-32601, "method not found: "+method)
	}
}

func paramTable(params []codec.Value) string {
	if len(params) == 0 {
		return ""
	}
	if s, ok := params[0].Str(); ok {
		return s
	}
	if rid, ok := params[0].Record(); ok {
		return rid.Table
	}
	return ""
}
