package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/surgo/internal/errs"
)

func TestValueKinds(t *testing.T) {
	assert.Equal(t, KindNull, Null().Kind())
	assert.Equal(t, KindBool, Bool(true).Kind())
	assert.Equal(t, KindInt, Int(42).Kind())
	assert.Equal(t, KindFloat, Float(3.5).Kind())
	assert.Equal(t, KindString, String("x").Kind())
	assert.Equal(t, KindBytes, Bytes([]byte{1}).Kind())
	assert.Equal(t, KindArray, Array(Int(1)).Kind())
	assert.Equal(t, KindObject, Object(nil).Kind())
	assert.Equal(t, KindRecord, Record(NewRecordID("users", "a")).Kind())

	i, ok := Int(42).Int()
	assert.True(t, ok)
	assert.Equal(t, int64(42), i)

	_, ok = Int(42).Str()
	assert.False(t, ok)
}

func TestValueEqual(t *testing.T) {
	a := Object(map[string]Value{
		"name": String("x"),
		"tags": Array(String("a"), String("b")),
	})
	b := Object(map[string]Value{
		"tags": Array(String("a"), String("b")),
		"name": String("x"),
	})
	assert.True(t, a.Equal(b), "object member order must not matter")

	assert.False(t, Int(1).Equal(Float(1)), "int and float are distinct variants")
	assert.True(t, Float(math.NaN()).Equal(Float(math.NaN())), "NaN equals NaN for round-trip laws")
}

func TestTextRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int(0),
		Int(-9007199254740993),
		Int(math.MaxInt64),
		Float(3.5),
		Float(5), // renders as 5.0, must come back a float
		Float(1e100),
		String(""),
		String("hello \"world\"\n"),
		String("users:a"), // a plain string that looks like a record id stays a string
		Bytes([]byte{0, 1, 2, 255}),
		Bytes([]byte{}),
		Record(NewRecordID("users", "a")),
		Record(RecordID{Table: "users", ID: Int(42)}),
		Record(RecordID{Table: "users", ID: String("weird id!")}),
		Array(Int(1), String("two"), Null()),
		Object(map[string]Value{
			"nested": Object(map[string]Value{"deep": Array(Bool(true))}),
			"n":      Int(7),
		}),
	}
	for _, v := range values {
		data, err := SerializeText(v)
		require.NoError(t, err, "serialize %v", v.Kind())
		back, err := ParseText(data)
		require.NoError(t, err, "parse %s", data)
		assert.True(t, v.Equal(back), "round trip mismatch: %s -> %s", data, back.Kind())
	}
}

func TestTextNonFiniteFloatsRejected(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := SerializeText(Float(f))
		var ee *errs.EncodingError
		require.ErrorAs(t, err, &ee)
	}
}

func TestTextDistinguishedForms(t *testing.T) {
	v, err := ParseText([]byte(`{"$bytes":"AAEC"}`))
	require.NoError(t, err)
	b, ok := v.Bytes()
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2}, b)

	v, err = ParseText([]byte(`{"$record":"users:a"}`))
	require.NoError(t, err)
	rid, ok := v.Record()
	require.True(t, ok)
	assert.Equal(t, "users", rid.Table)

	// Malformed payloads in the distinguished position are rejected,
	// never silently demoted to ordinary objects.
	_, err = ParseText([]byte(`{"$bytes":"!!not base64!!"}`))
	assert.Error(t, err)
	_, err = ParseText([]byte(`{"$bytes":7}`))
	assert.Error(t, err)
	_, err = ParseText([]byte(`{"$record":":"}`))
	assert.Error(t, err)

	// Two keys make an ordinary object; the sigil loses its meaning.
	v, err = ParseText([]byte(`{"$bytes":"AAEC","other":1}`))
	require.NoError(t, err)
	assert.Equal(t, KindObject, v.Kind())
}

func TestTextNumberParsing(t *testing.T) {
	v, err := ParseText([]byte(`5`))
	require.NoError(t, err)
	assert.Equal(t, KindInt, v.Kind())

	v, err = ParseText([]byte(`5.0`))
	require.NoError(t, err)
	assert.Equal(t, KindFloat, v.Kind())

	v, err = ParseText([]byte(`1e3`))
	require.NoError(t, err)
	assert.Equal(t, KindFloat, v.Kind())

	// Beyond int64: falls to float rather than corrupting.
	v, err = ParseText([]byte(`18446744073709551615`))
	require.NoError(t, err)
	assert.Equal(t, KindFloat, v.Kind())
}

func TestBinaryRoundTrip(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Int(-1),
		Int(math.MaxInt64),
		Int(math.MinInt64),
		Float(3.5),
		Float(math.NaN()),
		Float(math.Inf(1)),
		Float(math.Inf(-1)),
		String("héllo"),
		Bytes([]byte{0, 1, 2}),
		Record(NewRecordID("users", "a")),
		Record(RecordID{Table: "edges", ID: Array(Int(1), Int(2))}),
		Array(Int(1), Object(map[string]Value{"k": Bytes([]byte{9})})),
		Object(map[string]Value{"a": Null(), "b": Float(5)}),
	}
	for _, v := range values {
		data, err := SerializeBinary(v)
		require.NoError(t, err, "serialize %v", v.Kind())
		back, err := ParseBinary(data)
		require.NoError(t, err)
		assert.True(t, v.Equal(back), "binary round trip mismatch for %s", v.Kind())
	}
}

func TestBinaryRejectsUnsignedOverflow(t *testing.T) {
	// 0x1b prefix: unsigned 64-bit integer; max uint64 exceeds int64.
	raw := []byte{0x1b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	_, err := ParseBinary(raw)
	var ee *errs.EncodingError
	require.ErrorAs(t, err, &ee)
}
