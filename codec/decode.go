package codec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/steveyegge/surgo/internal/errs"
)

// Unmarshaler lets a type control its own decoding from a wire value.
type Unmarshaler interface {
	UnmarshalValue(Value) error
}

// Decode converts a wire value into dst, which must be a non-nil
// pointer. Shape mismatches fail with EncodingError naming the field
// path where the mismatch occurred.
func Decode(v Value, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &errs.EncodingError{Msg: fmt.Sprintf("decode target must be a non-nil pointer, got %T", dst)}
	}
	return decodeValue(v, rv.Elem(), "")
}

func decodeErrf(path, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = "field " + path + ": " + msg
	}
	return &errs.EncodingError{Msg: msg}
}

var unmarshalerType = reflect.TypeOf((*Unmarshaler)(nil)).Elem()

func decodeValue(v Value, rv reflect.Value, path string) error {
	if !rv.CanSet() {
		return decodeErrf(path, "cannot set target of type %s", rv.Type())
	}
	if rv.Type() == valueType {
		rv.Set(reflect.ValueOf(v))
		return nil
	}
	if rv.CanAddr() && reflect.PointerTo(rv.Type()).Implements(unmarshalerType) {
		return rv.Addr().Interface().(Unmarshaler).UnmarshalValue(v)
	}
	if v.IsNull() {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	if rv.Type() == recordIDType {
		return decodeRecordID(v, rv, path)
	}
	if rv.Type() == timeType {
		s, ok := v.Str()
		if !ok {
			return decodeErrf(path, "expected string timestamp, got %s", v.Kind())
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return decodeErrf(path, "parse timestamp %q: %v", s, err)
		}
		rv.Set(reflect.ValueOf(t))
		return nil
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return decodeValue(v, rv.Elem(), path)
	case reflect.Interface:
		if rv.NumMethod() != 0 {
			return decodeErrf(path, "cannot decode into non-empty interface %s", rv.Type())
		}
		native, err := toNative(v)
		if err != nil {
			return decodeErrf(path, "%v", err)
		}
		if native == nil {
			rv.Set(reflect.Zero(rv.Type()))
		} else {
			rv.Set(reflect.ValueOf(native))
		}
		return nil
	case reflect.Bool:
		b, ok := v.Bool()
		if !ok {
			return decodeErrf(path, "expected bool, got %s", v.Kind())
		}
		rv.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := v.Int()
		if !ok {
			return decodeErrf(path, "expected int, got %s", v.Kind())
		}
		if rv.OverflowInt(i) {
			return decodeErrf(path, "integer %d overflows %s", i, rv.Type())
		}
		rv.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		i, ok := v.Int()
		if !ok {
			return decodeErrf(path, "expected int, got %s", v.Kind())
		}
		if i < 0 || rv.OverflowUint(uint64(i)) {
			return decodeErrf(path, "integer %d overflows %s", i, rv.Type())
		}
		rv.SetUint(uint64(i))
		return nil
	case reflect.Float32, reflect.Float64:
		if f, ok := v.Float(); ok {
			rv.SetFloat(f)
			return nil
		}
		if i, ok := v.Int(); ok {
			rv.SetFloat(float64(i))
			return nil
		}
		return decodeErrf(path, "expected float, got %s", v.Kind())
	case reflect.String:
		if s, ok := v.Str(); ok {
			rv.SetString(s)
			return nil
		}
		if rid, ok := v.Record(); ok {
			rv.SetString(rid.String())
			return nil
		}
		return decodeErrf(path, "expected string, got %s", v.Kind())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b, ok := v.Bytes()
			if !ok {
				return decodeErrf(path, "expected bytes, got %s", v.Kind())
			}
			rv.SetBytes(append([]byte(nil), b...))
			return nil
		}
		arr, ok := v.Array()
		if !ok {
			return decodeErrf(path, "expected array, got %s", v.Kind())
		}
		out := reflect.MakeSlice(rv.Type(), len(arr), len(arr))
		for i, e := range arr {
			if err := decodeValue(e, out.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		rv.Set(out)
		return nil
	case reflect.Array:
		arr, ok := v.Array()
		if !ok {
			return decodeErrf(path, "expected array, got %s", v.Kind())
		}
		if len(arr) != rv.Len() {
			return decodeErrf(path, "expected array of length %d, got %d", rv.Len(), len(arr))
		}
		for i, e := range arr {
			if err := decodeValue(e, rv.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		return decodeMap(v, rv, path)
	case reflect.Struct:
		obj, ok := v.Object()
		if !ok {
			return decodeErrf(path, "expected object, got %s", v.Kind())
		}
		return decodeStructFields(obj, rv, path)
	default:
		return decodeErrf(path, "cannot decode into %s", rv.Type())
	}
}

func decodeRecordID(v Value, rv reflect.Value, path string) error {
	if rid, ok := v.Record(); ok {
		rv.Set(reflect.ValueOf(rid))
		return nil
	}
	if s, ok := v.Str(); ok {
		rid, err := ParseRecordID(s)
		if err != nil {
			return decodeErrf(path, "expected record id, got string %q: %v", s, err)
		}
		rv.Set(reflect.ValueOf(rid))
		return nil
	}
	return decodeErrf(path, "expected record id, got %s", v.Kind())
}

func decodeMap(v Value, rv reflect.Value, path string) error {
	obj, ok := v.Object()
	if !ok {
		return decodeErrf(path, "expected object, got %s", v.Kind())
	}
	if rv.Type().Key().Kind() != reflect.String {
		return decodeErrf(path, "map keys must be strings, got %s", rv.Type().Key())
	}
	out := reflect.MakeMapWithSize(rv.Type(), len(obj))
	for k, e := range obj {
		ev := reflect.New(rv.Type().Elem()).Elem()
		if err := decodeValue(e, ev, joinPath(path, k)); err != nil {
			return err
		}
		out.SetMapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()), ev)
	}
	rv.Set(out)
	return nil
}

func decodeStructFields(obj map[string]Value, rv reflect.Value, path string) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, skip := parseJSONTag(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if f.Anonymous && f.Tag.Get("json") == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					inner.Set(reflect.New(inner.Type().Elem()))
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct && inner.Type() != timeType && inner.Type() != recordIDType {
				if err := decodeStructFields(obj, inner, path); err != nil {
					return err
				}
				continue
			}
		}
		e, ok := obj[name]
		if !ok {
			continue
		}
		if err := decodeValue(e, fv, joinPath(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// toNative converts a wire value to plain Go types for decoding into
// empty interfaces: nil, bool, int64, float64, string, []byte, []any,
// map[string]any, and RecordID.
func toNative(v Value) (any, error) {
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
		return v.bs, nil
	case KindArray:
		arr := make([]any, len(v.arr))
		for i, e := range v.arr {
			n, err := toNative(e)
			if err != nil {
				return nil, err
			}
			arr[i] = n
		}
		return arr, nil
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			n, err := toNative(e)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return m, nil
	case KindRecord:
		return *v.rec, nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}
