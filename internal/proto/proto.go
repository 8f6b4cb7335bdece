// Package proto defines the JSON-RPC envelopes exchanged with the
// server, the method-name constants, and the per-connection request-id
// generator. Envelopes serialize through the codec package so that the
// same structures travel over either wire encoding.
package proto

import (
	"fmt"
	"strings"

	"github.com/steveyegge/surgo/codec"
	"github.com/steveyegge/surgo/internal/errs"
)

// Method names the core invokes. These must match the server bit-exact.
const (
	MethodPing         = "ping"
	MethodVersion      = "version"
	MethodUse          = "use"
	MethodSignin       = "signin"
	MethodSignup       = "signup"
	MethodAuthenticate = "authenticate"
	MethodInvalidate   = "invalidate"
	MethodInfo         = "info"
	MethodLet          = "let"
	MethodUnset        = "unset"
	MethodQuery        = "query"
	MethodSelect       = "select"
	MethodCreate       = "create"
	MethodInsert       = "insert"
	MethodUpdate       = "update"
	MethodUpsert       = "upsert"
	MethodMerge        = "merge"
	MethodPatch        = "patch"
	MethodDelete       = "delete"
	MethodRelate       = "relate"
	MethodLive         = "live"
	MethodKill         = "kill"
)

// Request is a client-to-server call. ID is unique within the
// connection lifetime. Params is an ordered list; a nil slice means the
// params member is absent from the envelope.
type Request struct {
	ID     string
	Method string
	Params []codec.Value
}

// Value renders the request as a wire value object.
func (r *Request) Value() codec.Value {
	obj := map[string]codec.Value{
		"id":     codec.String(r.ID),
		"method": codec.String(r.Method),
	}
	if r.Params != nil {
		obj["params"] = codec.Array(r.Params...)
	}
	return codec.Object(obj)
}

// Error is a server-returned error object.
type Error struct {
	Code    int64
	Message string
	Data    *codec.Value
}

// Response is a server-to-client reply. Exactly one of Result and Err
// is populated on a valid response.
type Response struct {
	ID     string
	Result *codec.Value
	Err    *Error
}

// ParseResponse interprets a decoded frame as a response. ok is false
// when the frame does not carry a response shape (no id, or neither
// result nor error); the caller then tries the notification shape.
// A frame with both result and error, or an id of the wrong type, is a
// contract breach.
func ParseResponse(v codec.Value) (*Response, bool, error) {
	obj, isObj := v.Object()
	if !isObj {
		return nil, false, nil
	}
	idv, hasID := obj["id"]
	_, hasResult := obj["result"]
	errv, hasErr := obj["error"]
	if !hasID || (!hasResult && !hasErr) {
		return nil, false, nil
	}
	id, isStr := idv.Str()
	if !isStr {
		return nil, false, &errs.InvalidResponseError{Msg: fmt.Sprintf("response id is %s, want string", idv.Kind())}
	}
	if hasResult && hasErr {
		return nil, false, &errs.InvalidResponseError{Msg: "response carries both result and error"}
	}
	resp := &Response{ID: id}
	if hasErr {
		e, err := parseError(errv)
		if err != nil {
			return nil, false, err
		}
		resp.Err = e
		return resp, true, nil
	}
	res := obj["result"]
	resp.Result = &res
	return resp, true, nil
}

func parseError(v codec.Value) (*Error, error) {
	obj, ok := v.Object()
	if !ok {
		return nil, &errs.InvalidResponseError{Msg: fmt.Sprintf("error member is %s, want object", v.Kind())}
	}
	e := &Error{}
	if c, ok := obj["code"].Int(); ok {
		e.Code = c
	}
	if m, ok := obj["message"].Str(); ok {
		e.Message = m
	}
	if d, ok := obj["data"]; ok && !d.IsNull() {
		e.Data = &d
	}
	return e, nil
}

// Action is a live-query change kind, normalized to lower case on ingest.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionClose  Action = "close"
)

// Notification is a server-initiated live-query event. ID is the
// subscription id the event belongs to.
type Notification struct {
	Action Action
	ID     string
	Result codec.Value
}

// ParseNotification interprets a decoded frame as a notification.
// Server versions differ on the envelope: both {action,id,result} at top
// level and the {"result": {action,id,result}} wrapper are accepted.
// ok is false on any other shape; the caller logs and drops the frame
// rather than erroring (the shape varies across server versions).
func ParseNotification(v codec.Value) (Notification, bool) {
	obj, isObj := v.Object()
	if !isObj {
		return Notification{}, false
	}
	// Wrapper shape: a result object carrying the action, with no
	// request id at the top level distinguishing it from a response.
	if inner, ok := obj["result"].Object(); ok {
		if _, hasAction := inner["action"]; hasAction {
			return parseNotificationBody(inner)
		}
	}
	if _, hasAction := obj["action"]; hasAction {
		return parseNotificationBody(obj)
	}
	return Notification{}, false
}

func parseNotificationBody(obj map[string]codec.Value) (Notification, bool) {
	action, ok := obj["action"].Str()
	if !ok {
		return Notification{}, false
	}
	n := Notification{Action: Action(strings.ToLower(action))}
	switch n.Action {
	case ActionCreate, ActionUpdate, ActionDelete, ActionClose:
	default:
		return Notification{}, false
	}
	id, ok := obj["id"].Str()
	if !ok {
		return Notification{}, false
	}
	n.ID = id
	n.Result = obj["result"]
	return n, true
}
