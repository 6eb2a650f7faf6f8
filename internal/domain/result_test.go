package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowPreservesKeyOrder(t *testing.T) {
	t.Parallel()

	var row Row
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":"a","mid":null,"n":2.50}`), &row))
	assert.Equal(t, []string{"zeta", "alpha", "mid", "n"}, row.Keys)

	v, ok := row.Get("n")
	require.True(t, ok)
	assert.Equal(t, json.Number("2.50"), v)

	out, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":null,"n":2.50}`, string(out))
}

func TestRowRejectsNonObject(t *testing.T) {
	t.Parallel()

	var row Row
	err := json.Unmarshal([]byte(`[1,2]`), &row)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRowSetKeepsFirstPosition(t *testing.T) {
	t.Parallel()

	row := NewRow([]string{"a", "b"}, []any{1, 2})
	row.Set("a", 3)
	row.Set("c", 4)
	assert.Equal(t, []string{"a", "b", "c"}, row.Keys)
	v, _ := row.Get("a")
	assert.Equal(t, 3, v)
}

func TestEncodeDecodeResult(t *testing.T) {
	t.Parallel()

	t.Run("tabular", func(t *testing.T) {
		t.Parallel()
		in := TabularResult{Rows: []Row{
			NewRow([]string{"id", "name"}, []any{json.Number("1"), "Ann"}),
			NewRow([]string{"id", "name"}, []any{json.Number("2"), "Bob"}),
		}}

		data, err := EncodeResult(in)
		require.NoError(t, err)

		out, err := DecodeResult(data)
		require.NoError(t, err)
		require.Equal(t, ResultKindTabular, out.Kind())

		tab := out.(TabularResult)
		assert.Equal(t, []string{"id", "name"}, tab.Columns())
		raw, err := tab.RawJSON()
		require.NoError(t, err)
		assert.JSONEq(t, `[{"id":1,"name":"Ann"},{"id":2,"name":"Bob"}]`, string(raw))
	})

	t.Run("empty tabular", func(t *testing.T) {
		t.Parallel()
		data, err := EncodeResult(TabularResult{})
		require.NoError(t, err)

		out, err := DecodeResult(data)
		require.NoError(t, err)
		raw, err := out.RawJSON()
		require.NoError(t, err)
		assert.Equal(t, "[]", string(raw))
	})

	t.Run("opaque", func(t *testing.T) {
		t.Parallel()
		in := OpaqueResult{Value: json.RawMessage(`{ "rows": 3, "cols": ["a", "b"] }`)}

		data, err := EncodeResult(in)
		require.NoError(t, err)

		out, err := DecodeResult(data)
		require.NoError(t, err)
		require.Equal(t, ResultKindOpaque, out.Kind())

		raw, err := out.RawJSON()
		require.NoError(t, err)
		assert.Equal(t, `{"rows":3,"cols":["a","b"]}`, string(raw))
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeResult([]byte(`{"kind":"matrix"}`))
		assert.ErrorIs(t, err, ErrUnknownResultKind)
	})
}

func TestTabularFromStrings(t *testing.T) {
	t.Parallel()

	res := TabularFromStrings([]string{"a", "b"}, [][]string{{"1", "2"}, {"3"}, {"4", "5", "6"}})
	require.Len(t, res.Rows, 3)

	raw, err := res.RawJSON()
	require.NoError(t, err)
	assert.Equal(t, `[{"a":"1","b":"2"},{"a":"3","b":""},{"a":"4","b":"5"}]`, string(raw))
}

func TestOpaqueRawJSONEmpty(t *testing.T) {
	t.Parallel()

	raw, err := OpaqueResult{}.RawJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}
