package surgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/surgo/codec"
)

func TestParseQueryResults(t *testing.T) {
	v := codec.Array(
		codec.Object(map[string]codec.Value{
			"status": codec.String("OK"),
			"time":   codec.String("100µs"),
			"result": codec.Array(codec.Int(1)),
		}),
		codec.Object(map[string]codec.Value{
			"status": codec.String("ERR"),
			"result": codec.String("boom"),
		}),
	)
	rs, err := parseQueryResults(v)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.True(t, rs[0].OK())
	assert.Equal(t, "100µs", rs[0].Time)
	assert.False(t, rs[1].OK())

	var nums []int
	require.NoError(t, rs[0].DecodeInto(&nums))
	assert.Equal(t, []int{1}, nums)
}

func TestParseQueryResultsRawMode(t *testing.T) {
	// Bare statement results pass through with an implied OK.
	rs, err := parseQueryResults(codec.Array(codec.Array(codec.Int(7))))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].OK())
}

func TestParseQueryResultsRejectsNonArray(t *testing.T) {
	_, err := parseQueryResults(codec.String("nope"))
	assert.Error(t, err)
}

func TestQueryResultsFirst(t *testing.T) {
	var empty QueryResults
	_, ok := empty.First()
	assert.False(t, ok)
}

func TestQueryParamsOmitEmptyVars(t *testing.T) {
	params, err := queryParams("SELECT * FROM users", nil)
	require.NoError(t, err)
	require.Len(t, params, 1, "zero variables must produce [sql], not [sql, {}]")

	params, err = queryParams("SELECT * FROM users", map[string]any{})
	require.NoError(t, err)
	require.Len(t, params, 1)

	params, err = queryParams("SELECT * FROM users WHERE age > $min", map[string]any{"min": 21})
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, codec.KindObject, params[1].Kind())
}
