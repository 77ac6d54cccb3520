package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndMatch(t *testing.T) {
	doc := Document{
		"lang":    "go",
		"stars":   150,
		"score":   0.75,
		"tags":    []any{"db", "ann"},
		"private": false,
		"created": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name  string
		expr  map[string]any
		match bool
	}{
		{"Empty", nil, true},
		{"Equality", map[string]any{"lang": "go"}, true},
		{"EqualityMiss", map[string]any{"lang": "rust"}, false},
		{"NumericKinds", map[string]any{"stars": float64(150)}, true},
		{"ArrayContainsScalar", map[string]any{"tags": "ann"}, true},
		{"ArrayEquality", map[string]any{"tags": []any{"db", "ann"}}, true},
		{"Bool", map[string]any{"private": false}, true},
		{"Gt", map[string]any{"stars": map[string]any{"$gt": 100}}, true},
		{"GtEqualBoundary", map[string]any{"stars": map[string]any{"$gt": 150}}, false},
		{"Gte", map[string]any{"stars": map[string]any{"$gte": 150}}, true},
		{"Lt", map[string]any{"score": map[string]any{"$lt": 1}}, true},
		{"Lte", map[string]any{"score": map[string]any{"$lte": 0.5}}, false},
		{"Range", map[string]any{"stars": map[string]any{"$gt": 100, "$lt": 200}}, true},
		{"RangeMiss", map[string]any{"stars": map[string]any{"$gt": 100, "$lt": 120}}, false},
		{"StringOrder", map[string]any{"lang": map[string]any{"$gt": "c"}}, true},
		{"TimeOrder", map[string]any{"created": map[string]any{"$lt": time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}, true},
		{"MixedKinds", map[string]any{"lang": map[string]any{"$gt": 1}}, false},
		{"In", map[string]any{"lang": map[string]any{"$in": []any{"go", "rust"}}}, true},
		{"InStrings", map[string]any{"lang": map[string]any{"$in": []string{"c", "zig"}}}, false},
		{"Nin", map[string]any{"lang": map[string]any{"$nin": []any{"c"}}}, true},
		{"NinMissingField", map[string]any{"owner": map[string]any{"$nin": []any{"x"}}}, true},
		{"Ne", map[string]any{"lang": map[string]any{"$ne": "go"}}, false},
		{"NeMissingField", map[string]any{"owner": map[string]any{"$ne": "x"}}, true},
		{"Exists", map[string]any{"lang": map[string]any{"$exists": true}}, true},
		{"NotExists", map[string]any{"owner": map[string]any{"$exists": false}}, true},
		{"ExistsMiss", map[string]any{"owner": map[string]any{"$exists": true}}, false},
		{"MissingFieldEquality", map[string]any{"owner": "x"}, false},
		{"AndAcrossFields", map[string]any{"lang": "go", "stars": map[string]any{"$lt": 10}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.match, fs.Matches(doc))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]map[string]any{
		"UnknownOperator": {"a": map[string]any{"$regex": "x"}},
		"InNotArray":      {"a": map[string]any{"$in": "x"}},
		"ExistsNotBool":   {"a": map[string]any{"$exists": 1}},
		"TopLevelOp":      {"$or": []any{}},
		"EmptyField":      {"": 1},
	}

	for name, expr := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(expr)
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestNestedMapIsLiteral(t *testing.T) {
	fs, err := Parse(map[string]any{"owner": map[string]any{"name": "ada"}})
	require.NoError(t, err)
	require.Equal(t, 1, fs.Len())
	assert.Equal(t, OpEqual, fs.Filters[0].Operator)
	assert.True(t, fs.Matches(Document{"owner": map[string]any{"name": "ada"}}))
}

func TestBuilders(t *testing.T) {
	fs := And(Eq("a", 1), In("b", "x", "y"), Exists("c", false), Gte("d", 2))

	assert.True(t, fs.Matches(Document{"a": 1, "b": "y", "d": 3}))
	assert.False(t, fs.Matches(Document{"a": 1, "b": "z", "d": 3}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, fs.Keys())

	var nilSet *FilterSet
	assert.True(t, nilSet.Matches(Document{}))
	assert.Equal(t, 0, nilSet.Len())
}

func TestDocumentMerge(t *testing.T) {
	base := Document{"a": 1, "b": map[string]any{"x": 1}}
	merged := base.Merge(Document{"b": map[string]any{"y": 2}, "c": 3})

	assert.Equal(t, Document{"a": 1, "b": map[string]any{"y": 2}, "c": 3}, merged)
	assert.Equal(t, Document{"a": 1, "b": map[string]any{"x": 1}}, base)

	clone := base.Clone()
	clone["a"] = 2
	assert.Equal(t, 1, base["a"])
	assert.Nil(t, Document(nil).Clone())
}
