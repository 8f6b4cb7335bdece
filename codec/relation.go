package codec

import "github.com/steveyegge/surgo/internal/errs"

// Relation is a graph-relationship slot on an entity. A slot is either
// unloaded (the relationship was never fetched) or loaded with zero or
// more related values. Serialization omits an unloaded slot entirely so
// that writing an entity back never clobbers relationships the caller
// never read; decoding a present field populates the slot to loaded.
//
// The zero Relation is unloaded.
type Relation[T any] struct {
	loaded bool
	items  []T
}

// Loaded builds a loaded slot holding items.
func Loaded[T any](items ...T) Relation[T] {
	if items == nil {
		items = []T{}
	}
	return Relation[T]{loaded: true, items: items}
}

// IsLoaded reports whether the slot has been materialized.
func (r Relation[T]) IsLoaded() bool { return r.loaded }

// Items returns the related values and whether the slot is loaded.
func (r Relation[T]) Items() ([]T, bool) { return r.items, r.loaded }

// omitter is consulted by the struct encoder: a field whose marshaler
// reports omitFromWire is dropped from the output object, not encoded
// as null.
type omitter interface {
	omitFromWire() bool
}

func (r Relation[T]) omitFromWire() bool { return !r.loaded }

// MarshalValue encodes the loaded items as an array. Encoding an
// unloaded slot directly (outside a struct field) is an error because
// there is no wire form for "absent" at value position.
func (r Relation[T]) MarshalValue() (Value, error) {
	if !r.loaded {
		return Value{}, &errs.EncodingError{Msg: "cannot encode an unloaded relation outside a struct field"}
	}
	arr := make([]Value, len(r.items))
	for i := range r.items {
		v, err := Encode(r.items[i])
		if err != nil {
			return Value{}, err
		}
		arr[i] = v
	}
	return Array(arr...), nil
}

// UnmarshalValue populates the slot to loaded from an array value.
func (r *Relation[T]) UnmarshalValue(v Value) error {
	if v.IsNull() {
		*r = Relation[T]{}
		return nil
	}
	var items []T
	if err := Decode(v, &items); err != nil {
		return err
	}
	if items == nil {
		items = []T{}
	}
	*r = Relation[T]{loaded: true, items: items}
	return nil
}
