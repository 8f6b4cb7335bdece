package surgo

import (
	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/errs"
)

// QueryResult is one statement's outcome within a query batch.
type QueryResult struct {
	Status string
	Time   string
	Result codec.Value
}

// OK reports whether the statement succeeded.
func (r QueryResult) OK() bool { return r.Status == "" || r.Status == "OK" }

// DecodeInto decodes the statement result into out.
func (r QueryResult) DecodeInto(out any) error {
	return codec.Decode(r.Result, out)
}

// QueryResults is the per-statement outcome list of one query call.
type QueryResults []QueryResult

// First returns the first statement result, the common case for
// single-statement queries.
func (rs QueryResults) First() (QueryResult, bool) {
	if len(rs) == 0 {
		return QueryResult{}, false
	}
	return rs[0], true
}

// parseQueryResults interprets the wire result of a query call: an
// array of per-statement objects carrying status, time, and result.
// Servers in raw mode may return bare results; those pass through with
// an implied OK status.
func parseQueryResults(v codec.Value) (QueryResults, error) {
	arr, ok := v.Array()
	if !ok {
		return nil, &errs.InvalidResponseError{Msg: "query result is " + v.Kind().String() + ", want array"}
	}
	out := make(QueryResults, 0, len(arr))
	for _, e := range arr {
		obj, isObj := e.Object()
		if !isObj {
			out = append(out, QueryResult{Status: "OK", Result: e})
			continue
		}
		status, hasStatus := obj["status"].Str()
		if !hasStatus {
			out = append(out, QueryResult{Status: "OK", Result: e})
			continue
		}
		r := QueryResult{Status: status, Result: obj["result"]}
		if t, ok := obj["time"].Str(); ok {
			r.Time = t
		}
		out = append(out, r)
	}
	return out, nil
}
