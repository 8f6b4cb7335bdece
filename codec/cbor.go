package codec

import (
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/steveyegge/surgo/internal/errs"
)

// The binary wire format is CBOR. Record identifiers travel as tag 8
// wrapping a two-element [table, id] array; byte sequences are native
// CBOR byte strings, so no distinguished wrapper is needed. Non-finite
// floats pass through unchanged.

const cborRecordTag = 8

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic("codec: cbor encoder init: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSignedOrFail,
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder init: " + err.Error())
	}
}

// SerializeBinary encodes a wire value to the binary format.
func SerializeBinary(v Value) ([]byte, error) {
	raw, err := toCBORAny(v)
	if err != nil {
		return nil, err
	}
	b, err := cborEnc.Marshal(raw)
	if err != nil {
		return nil, &errs.EncodingError{Msg: "serialize binary: " + err.Error()}
	}
	return b, nil
}

func toCBORAny(v Value) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindInt:
		return v.i, nil
	case KindFloat:
		return v.f, nil
	case KindString:
		return v.s, nil
	case KindBytes:
		if v.bs == nil {
			return []byte{}, nil
		}
		return v.bs, nil
	case KindArray:
		arr := make([]any, len(v.arr))
		for i, e := range v.arr {
			raw, err := toCBORAny(e)
			if err != nil {
				return nil, err
			}
			arr[i] = raw
		}
		return arr, nil
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			raw, err := toCBORAny(e)
			if err != nil {
				return nil, err
			}
			m[k] = raw
		}
		return m, nil
	case KindRecord:
		id, err := toCBORAny(v.rec.ID)
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: cborRecordTag, Content: []any{v.rec.Table, id}}, nil
	default:
		return nil, &errs.EncodingError{Msg: fmt.Sprintf("unknown value kind %d", v.kind)}
	}
}

// ParseBinary decodes a wire value from the binary format. Unsigned
// integers beyond the signed 64-bit range fail rather than truncate.
func ParseBinary(data []byte) (Value, error) {
	var raw any
	if err := cborDec.Unmarshal(data, &raw); err != nil {
		return Value{}, &errs.EncodingError{Msg: "parse binary: " + err.Error()}
	}
	return fromCBORAny(raw)
}

func fromCBORAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int64:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, &errs.EncodingError{Msg: fmt.Sprintf("integer %d overflows signed 64-bit range", t)}
		}
		return Int(int64(t)), nil
	case float64:
		return Float(t), nil
	case float32:
		return Float(float64(t)), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := fromCBORAny(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr...), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := fromCBORAny(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	case cbor.Tag:
		return fromCBORTag(t)
	default:
		return Value{}, &errs.EncodingError{Msg: fmt.Sprintf("parse binary: unsupported element %T", raw)}
	}
}

func fromCBORTag(t cbor.Tag) (Value, error) {
	if t.Number != cborRecordTag {
		return Value{}, &errs.EncodingError{Msg: fmt.Sprintf("parse binary: unsupported tag %d", t.Number)}
	}
	pair, ok := t.Content.([]any)
	if !ok || len(pair) != 2 {
		return Value{}, &errs.EncodingError{Msg: "parse binary: record tag content is not a [table, id] pair"}
	}
	table, ok := pair[0].(string)
	if !ok || table == "" {
		return Value{}, &errs.EncodingError{Msg: "parse binary: record tag table is not a non-empty string"}
	}
	id, err := fromCBORAny(pair[1])
	if err != nil {
		return Value{}, err
	}
	return Record(RecordID{Table: table, ID: id}), nil
}
