package codec

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/steveyegge/surgo/internal/errs"
)

// Marshaler lets a type control its own wire representation.
type Marshaler interface {
	MarshalValue() (Value, error)
}

// Encode converts a user record into a wire value. Struct fields follow
// their `json` tags (name, "-", omitempty); unexported fields are
// skipped; anonymous embedded structs are flattened. Cyclic graphs,
// non-string map keys, and integers outside the signed 64-bit range fail
// with EncodingError.
func Encode(src any) (Value, error) {
	e := &encodeState{seen: map[uintptr]bool{}}
	return e.encode(reflect.ValueOf(src), "")
}

type encodeState struct {
	seen map[uintptr]bool
}

func (e *encodeState) errorf(path, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = "field " + path + ": " + msg
	}
	return &errs.EncodingError{Msg: msg}
}

var (
	valueType     = reflect.TypeOf(Value{})
	recordIDType  = reflect.TypeOf(RecordID{})
	timeType      = reflect.TypeOf(time.Time{})
	marshalerType = reflect.TypeOf((*Marshaler)(nil)).Elem()
)

func (e *encodeState) encode(rv reflect.Value, path string) (Value, error) {
	if !rv.IsValid() {
		return Null(), nil
	}
	if rv.Type() == valueType {
		return rv.Interface().(Value), nil
	}
	if rv.Type() == recordIDType {
		rid := rv.Interface().(RecordID)
		return Record(rid), nil
	}
	if rv.Type() == timeType {
		return String(rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano)), nil
	}
	if rv.Type().Implements(marshalerType) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Null(), nil
		}
		return rv.Interface().(Marshaler).MarshalValue()
	}
	if rv.CanAddr() && reflect.PointerTo(rv.Type()).Implements(marshalerType) {
		return rv.Addr().Interface().(Marshaler).MarshalValue()
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, e.errorf(path, "unsigned integer %d overflows signed 64-bit range", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Bytes(append([]byte(nil), rv.Bytes()...)), nil
		}
		if rv.IsNil() {
			return Null(), nil
		}
		return e.encodeSeq(rv, path)
	case reflect.Array:
		return e.encodeSeq(rv, path)
	case reflect.Map:
		return e.encodeMap(rv, path)
	case reflect.Struct:
		obj := map[string]Value{}
		if err := e.encodeStructFields(rv, path, obj); err != nil {
			return Value{}, err
		}
		return Object(obj), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		ptr := rv.Pointer()
		if e.seen[ptr] {
			return Value{}, e.errorf(path, "cyclic reference detected")
		}
		e.seen[ptr] = true
		v, err := e.encode(rv.Elem(), path)
		delete(e.seen, ptr)
		return v, err
	case reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return e.encode(rv.Elem(), path)
	default:
		return Value{}, e.errorf(path, "cannot encode %s", rv.Kind())
	}
}

func (e *encodeState) encodeSeq(rv reflect.Value, path string) (Value, error) {
	arr := make([]Value, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := e.encode(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return Value{}, err
		}
		arr[i] = v
	}
	return Array(arr...), nil
}

func (e *encodeState) encodeMap(rv reflect.Value, path string) (Value, error) {
	if rv.IsNil() {
		return Null(), nil
	}
	if rv.Type().Key().Kind() != reflect.String {
		return Value{}, e.errorf(path, "map keys must be strings, got %s", rv.Type().Key())
	}
	ptr := rv.Pointer()
	if e.seen[ptr] {
		return Value{}, e.errorf(path, "cyclic reference detected")
	}
	e.seen[ptr] = true
	defer delete(e.seen, ptr)

	obj := make(map[string]Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		v, err := e.encode(iter.Value(), joinPath(path, k))
		if err != nil {
			return Value{}, err
		}
		obj[k] = v
	}
	return Object(obj), nil
}

func (e *encodeState) encodeStructFields(rv reflect.Value, path string, obj map[string]Value) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseJSONTag(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if f.Anonymous && f.Tag.Get("json") == "" {
			inner := fv
			for inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					inner = reflect.Value{}
					break
				}
				inner = inner.Elem()
			}
			if inner.IsValid() && inner.Kind() == reflect.Struct &&
				inner.Type() != timeType && inner.Type() != recordIDType {
				if err := e.encodeStructFields(inner, path, obj); err != nil {
					return err
				}
				continue
			}
		}
		if omitEmpty && isEmptyValue(fv) {
			continue
		}
		// A nil omittable marshaler (like an unloaded Relation) asks to be
		// skipped entirely rather than serialized as null.
		if m, ok := fieldMarshaler(fv); ok {
			if om, isOmit := m.(omitter); isOmit && om.omitFromWire() {
				continue
			}
		}
		v, err := e.encode(fv, joinPath(path, name))
		if err != nil {
			return err
		}
		obj[name] = v
	}
	return nil
}

func fieldMarshaler(fv reflect.Value) (Marshaler, bool) {
	if fv.Type().Implements(marshalerType) {
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			return nil, false
		}
		return fv.Interface().(Marshaler), true
	}
	if fv.CanAddr() && reflect.PointerTo(fv.Type()).Implements(marshalerType) {
		return fv.Addr().Interface().(Marshaler), true
	}
	return nil, false
}

func parseJSONTag(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func isEmptyValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
