// Package codec implements the wire value type that mediates between user
// records and the on-wire encodings. A Value is a tagged union of null,
// bool, int64, float64, string, bytes, array, object, and record id. It
// round-trips through both the text (JSON) and binary (CBOR) wire formats,
// and converts to and from user structs via Encode and Decode.
package codec

import (
	"bytes"
	"math"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindObject
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindRecord:
		return "record"
	}
	return "invalid"
}

// Value is the tagged-union boundary type between user records and the
// network. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	bs   []byte
	arr  []Value
	obj  map[string]Value
	rec  *RecordID
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a signed 64-bit integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a double value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes returns a byte-sequence value. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bs: b} }

// Array returns an ordered array value. The slice is not copied.
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }

// Object returns a mapping value. The map is not copied; insertion order
// is irrelevant.
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

// Record returns a record-identifier value.
func Record(rid RecordID) Value { return Value{kind: KindRecord, rec: &rid} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload. ok is false on a kind mismatch.
func (v Value) Bool() (val bool, ok bool) { return v.b, v.kind == KindBool }

// Int returns the integer payload.
func (v Value) Int() (val int64, ok bool) { return v.i, v.kind == KindInt }

// Float returns the float payload.
func (v Value) Float() (val float64, ok bool) { return v.f, v.kind == KindFloat }

// Str returns the string payload.
func (v Value) Str() (val string, ok bool) { return v.s, v.kind == KindString }

// Bytes returns the byte payload.
func (v Value) Bytes() (val []byte, ok bool) { return v.bs, v.kind == KindBytes }

// Array returns the array payload.
func (v Value) Array() (val []Value, ok bool) { return v.arr, v.kind == KindArray }

// Object returns the object payload.
func (v Value) Object() (val map[string]Value, ok bool) { return v.obj, v.kind == KindObject }

// Record returns the record-id payload.
func (v Value) Record() (val RecordID, ok bool) {
	if v.kind != KindRecord {
		return RecordID{}, false
	}
	return *v.rec, true
}

// Get returns the member of an object value, or null when v is not an
// object or the key is absent.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Value{}
	}
	return v.obj[key]
}

// Equal reports deep equality. NaN floats compare equal to each other so
// that round-trip laws hold for non-finite values; object member order is
// irrelevant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.bs, o.bs)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, mv := range v.obj {
			ov, ok := o.obj[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	case KindRecord:
		return v.rec.Table == o.rec.Table && v.rec.ID.Equal(o.rec.ID)
	}
	return false
}

// sortedKeys returns the object keys in lexical order. Used by the
// canonical encoding and the text serializer for stable output.
func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatFloat renders f so that the text form always reads back as a
// float: a bare integer rendering gains a trailing ".0".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == 'e' || s[i] == 'E' {
			return s
		}
	}
	return s + ".0"
}
