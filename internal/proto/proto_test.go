package proto

import (
	"sync"
	"testing"

	"github.com/steveyegge/surgo/codec"
)

func TestRequestValue(t *testing.T) {
	req := &Request{ID: "abc-1", Method: MethodQuery, Params: []codec.Value{codec.String("INFO FOR DB")}}
	v := req.Value()
	if got := v.Get("id"); !got.Equal(codec.String("abc-1")) {
		t.Errorf("id = %v", got)
	}
	if got := v.Get("method"); !got.Equal(codec.String("query")) {
		t.Errorf("method = %v", got)
	}
	params, ok := v.Get("params").Array()
	if !ok || len(params) != 1 {
		t.Fatalf("params missing or wrong length")
	}

	// Absent params means no params member at all.
	bare := (&Request{ID: "abc-2", Method: MethodPing}).Value()
	obj, _ := bare.Object()
	if _, has := obj["params"]; has {
		t.Error("nil params must omit the params member")
	}
}

func TestParseResponse(t *testing.T) {
	res := codec.Object(map[string]codec.Value{
		"id":     codec.String("x-1"),
		"result": codec.Int(7),
	})
	resp, ok, err := ParseResponse(res)
	if err != nil || !ok {
		t.Fatalf("ParseResponse = %v, %v, %v", resp, ok, err)
	}
	if resp.ID != "x-1" || resp.Err != nil || resp.Result == nil {
		t.Errorf("unexpected response %+v", resp)
	}

	errRes := codec.Object(map[string]codec.Value{
		"id": codec.String("x-2"),
		"error": codec.Object(map[string]codec.Value{
			"code":    codec.Int(-32000),
			"message": codec.String("boom"),
		}),
	})
	resp, ok, err = ParseResponse(errRes)
	if err != nil || !ok {
		t.Fatalf("ParseResponse error-shape failed: %v %v", ok, err)
	}
	if resp.Err == nil || resp.Err.Code != -32000 || resp.Err.Message != "boom" {
		t.Errorf("unexpected error %+v", resp.Err)
	}
}

func TestParseResponseRejectsBothMembers(t *testing.T) {
	both := codec.Object(map[string]codec.Value{
		"id":     codec.String("x"),
		"result": codec.Int(1),
		"error":  codec.Object(map[string]codec.Value{"code": codec.Int(1), "message": codec.String("m")}),
	})
	if _, _, err := ParseResponse(both); err == nil {
		t.Error("a response with both result and error must be rejected")
	}
}

func TestParseResponseNotAResponse(t *testing.T) {
	notif := codec.Object(map[string]codec.Value{
		"action": codec.String("CREATE"),
		"id":     codec.String("sub"),
		"result": codec.Object(nil),
	})
	// Carries id+result, so it parses as a response shape; the
	// transport resolves the ambiguity via its pending table. A frame
	// with neither member is simply not a response.
	plain := codec.Object(map[string]codec.Value{"id": codec.String("x")})
	if _, ok, _ := ParseResponse(plain); ok {
		t.Error("id with neither result nor error is not a response")
	}
	if _, ok, _ := ParseResponse(notif); !ok {
		t.Error("notification with id+result matches the response shape by design")
	}
}

func TestParseNotificationShapes(t *testing.T) {
	flat := codec.Object(map[string]codec.Value{
		"action": codec.String("CREATE"),
		"id":     codec.String("sub-1"),
		"result": codec.Object(map[string]codec.Value{"name": codec.String("P")}),
	})
	n, ok := ParseNotification(flat)
	if !ok || n.Action != ActionCreate || n.ID != "sub-1" {
		t.Fatalf("flat shape: %+v ok=%v", n, ok)
	}

	wrapped := codec.Object(map[string]codec.Value{
		"result": flat,
	})
	n, ok = ParseNotification(wrapped)
	if !ok || n.Action != ActionCreate || n.ID != "sub-1" {
		t.Fatalf("wrapped shape: %+v ok=%v", n, ok)
	}

	// Action case is normalized on ingest.
	lower := codec.Object(map[string]codec.Value{
		"action": codec.String("delete"),
		"id":     codec.String("sub-2"),
		"result": codec.Null(),
	})
	n, ok = ParseNotification(lower)
	if !ok || n.Action != ActionDelete {
		t.Fatalf("lowercase action: %+v ok=%v", n, ok)
	}

	// Unknown actions and shapes are not notifications.
	if _, ok := ParseNotification(codec.Object(map[string]codec.Value{
		"action": codec.String("EXPLODE"),
		"id":     codec.String("s"),
	})); ok {
		t.Error("unknown action must not parse")
	}
	if _, ok := ParseNotification(codec.String("nope")); ok {
		t.Error("non-object must not parse")
	}
}

func TestIDGeneratorUniqueness(t *testing.T) {
	gen := NewIDGenerator()
	const n = 10000
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, n/100)
			for j := 0; j < n/100; j++ {
				local = append(local, gen.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("duplicate request id %s", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Errorf("generated %d unique ids, want %d", len(seen), n)
	}
}

func TestIDGeneratorSaltDiffersPerConnection(t *testing.T) {
	a, b := NewIDGenerator(), NewIDGenerator()
	if a.Next() == b.Next() {
		t.Error("two generators produced the same first id; salts must differ")
	}
}
