package databases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter_Comparison(t *testing.T) {
	filter, err := ParseFilter(map[string]interface{}{
		"type": "eq", "key": "author", "value": "melville",
	})
	require.NoError(t, err)
	assert.Equal(t, Comparison{Field: "author", Op: OpEq, Value: "melville"}, filter)
}

func TestParseFilter_RangeAliases(t *testing.T) {
	for alias, canonical := range map[string]FilterOp{"ge": OpGte, "le": OpLte} {
		filter, err := ParseFilter(map[string]interface{}{
			"type": alias, "key": "year", "value": 1851,
		})
		require.NoError(t, err, alias)
		assert.Equal(t, canonical, filter.(Comparison).Op)
	}
}

func TestParseFilter_Compound(t *testing.T) {
	filter, err := ParseFilter(map[string]interface{}{
		"type": "and",
		"filters": []interface{}{
			map[string]interface{}{"type": "eq", "key": "lang", "value": "en"},
			map[string]interface{}{
				"type": "or",
				"filters": []interface{}{
					map[string]interface{}{"type": "gt", "key": "year", "value": 1800},
					map[string]interface{}{"type": "lt", "key": "year", "value": 1700},
				},
			},
		},
	})
	require.NoError(t, err)

	compound, ok := filter.(Compound)
	require.True(t, ok)
	assert.Equal(t, OpAnd, compound.Op)
	require.Len(t, compound.Filters, 2)

	nested, ok := compound.Filters[1].(Compound)
	require.True(t, ok)
	assert.Equal(t, OpOr, nested.Op)
}

func TestParseFilter_Errors(t *testing.T) {
	cases := []map[string]interface{}{
		{"type": "between", "key": "year", "value": 1800},
		{"type": "eq", "value": "missing key"},
		{"type": "eq", "key": "author"},
		{"type": "and"},
		{"type": "and", "filters": []interface{}{"not an object"}},
	}
	for _, raw := range cases {
		_, err := ParseFilter(raw)
		assert.Error(t, err)
	}
}

func TestParseFilter_Empty(t *testing.T) {
	filter, err := ParseFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, filter)
}

func TestAndOrCombine(t *testing.T) {
	eq := Comparison{Field: "a", Op: OpEq, Value: 1}
	ne := Comparison{Field: "b", Op: OpNe, Value: 2}

	assert.Nil(t, And())
	assert.Nil(t, And(nil, nil))
	assert.Equal(t, eq, And(nil, eq))
	assert.Equal(t, Compound{Op: OpAnd, Filters: []Filter{eq, ne}}, And(eq, nil, ne))
	assert.Equal(t, Compound{Op: OpOr, Filters: []Filter{eq, ne}}, Or(eq, ne))
}

func TestHasField(t *testing.T) {
	filter := And(
		Comparison{Field: "filename", Op: OpEq, Value: "moby.txt"},
		Or(
			Comparison{Field: "chunk_index", Op: OpGte, Value: 3},
			Comparison{Field: "year", Op: OpLt, Value: 1900},
		),
	)

	assert.True(t, HasField(filter, "chunk_index"))
	assert.True(t, HasField(filter, "filename"))
	assert.False(t, HasField(filter, "author"))
	assert.False(t, HasField(nil, "anything"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(Comparison{Field: "a", Op: OpEq, Value: 1}))
	assert.Error(t, Validate(Comparison{Field: "a", Op: "between", Value: 1}))
	assert.Error(t, Validate(Compound{Op: "xor", Filters: []Filter{
		Comparison{Field: "a", Op: OpEq, Value: 1},
	}}))
}

func TestDedupResults(t *testing.T) {
	results := []SearchResult{
		{FileID: "f1", Content: "alpha", Score: 0.5},
		{FileID: "f1", Content: "  alpha  ", Score: 0.9}, // same chunk, higher score
		{FileID: "f1", Content: "beta", Score: 0.4},
		{FileID: "f2", Content: "alpha", Score: 0.3}, // different file, kept
	}

	deduped := DedupResults(results)
	require.Len(t, deduped, 3)

	// Survivor keeps the max score and the original position.
	assert.Equal(t, float32(0.9), deduped[0].Score)
	assert.Equal(t, "f1", deduped[0].FileID)
	assert.Equal(t, "beta", deduped[1].Content)
	assert.Equal(t, "f2", deduped[2].FileID)
}
