package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/steveyegge/surgo/internal/errs"
)

// The text wire format is JSON with two distinguished single-key object
// forms: {"$bytes": "<base64>"} for byte sequences and
// {"$record": "table:id"} for record identifiers. An ordinary object
// arriving with exactly one of those keys is ambiguous and is rejected
// on decode unless its payload parses.

const (
	textBytesKey  = "$bytes"
	textRecordKey = "$record"
)

// SerializeText encodes a wire value to the text format. Non-finite
// floats cannot be represented in JSON and fail with EncodingError.
func SerializeText(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeText(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeText(buf *bytes.Buffer, v Value) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return &errs.EncodingError{Msg: "the text format cannot represent NaN or infinity"}
		}
		buf.WriteString(formatFloat(v.f))
	case KindString:
		return writeJSONString(buf, v.s)
	case KindBytes:
		buf.WriteString(`{"` + textBytesKey + `":"`)
		buf.WriteString(base64.StdEncoding.EncodeToString(v.bs))
		buf.WriteString(`"}`)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeText(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.sortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeText(buf, v.obj[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindRecord:
		buf.WriteString(`{"` + textRecordKey + `":`)
		if err := writeJSONString(buf, v.rec.String()); err != nil {
			return err
		}
		buf.WriteByte('}')
	default:
		return &errs.EncodingError{Msg: fmt.Sprintf("unknown value kind %d", v.kind)}
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return &errs.EncodingError{Msg: err.Error()}
	}
	buf.Write(b)
	return nil
}

// ParseText decodes a wire value from the text format. Numbers with a
// fraction or exponent become floats; bare integer literals become
// int64, overflowing to float only when they exceed the signed range.
func ParseText(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, &errs.EncodingError{Msg: "parse text: " + err.Error()}
	}
	// Trailing garbage after the first document is an error.
	if dec.More() {
		return Value{}, &errs.EncodingError{Msg: "parse text: trailing data after value"}
	}
	return fromTextAny(raw)
}

func fromTextAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		lit := t.String()
		if strings.ContainsAny(lit, ".eE") {
			f, err := t.Float64()
			if err != nil {
				return Value{}, &errs.EncodingError{Msg: "parse number " + lit + ": " + err.Error()}
			}
			return Float(f), nil
		}
		i, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return Value{}, &errs.EncodingError{Msg: "parse number " + lit + ": " + ferr.Error()}
			}
			return Float(f), nil
		}
		return Int(i), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			v, err := fromTextAny(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr...), nil
	case map[string]any:
		if v, ok, err := fromDistinguished(t); ok || err != nil {
			return v, err
		}
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := fromTextAny(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	default:
		return Value{}, &errs.EncodingError{Msg: fmt.Sprintf("parse text: unsupported token %T", raw)}
	}
}

// fromDistinguished recognizes the single-key $bytes / $record object
// forms. A matching key with a malformed payload is an error, never a
// silent fallback to an ordinary object.
func fromDistinguished(m map[string]any) (Value, bool, error) {
	if len(m) != 1 {
		return Value{}, false, nil
	}
	if raw, ok := m[textBytesKey]; ok {
		s, ok := raw.(string)
		if !ok {
			return Value{}, false, &errs.EncodingError{Msg: textBytesKey + " payload must be a base64 string"}
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, false, &errs.EncodingError{Msg: textBytesKey + " payload is not valid base64: " + err.Error()}
		}
		return Bytes(b), true, nil
	}
	if raw, ok := m[textRecordKey]; ok {
		s, ok := raw.(string)
		if !ok {
			return Value{}, false, &errs.EncodingError{Msg: textRecordKey + " payload must be a string"}
		}
		rid, err := ParseRecordID(s)
		if err != nil {
			return Value{}, false, &errs.EncodingError{Msg: textRecordKey + " payload: " + err.Error()}
		}
		return Record(rid), true, nil
	}
	return Value{}, false, nil
}
