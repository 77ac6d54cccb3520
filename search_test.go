package localvec

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/distance"
	"github.com/hupe1980/localvec/metadata"
	"github.com/hupe1980/localvec/storage/memory"
)

func TestSearchNearest(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"a", "b", "e"}, resultIDs(res))

	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	assert.InDelta(t, 0.0, res[0].Distance, 1e-5)

	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}

	assert.Equal(t, "x", res[0].Metadata["kind"])
	assert.Nil(t, res[0].Vector)
}

func TestSearchEmptyCollection(t *testing.T) {
	_, c := newCollection3(t)

	res, err := c.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	_, err := c.Search(ctx, []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = c.Search(ctx, []float32{1, 0}, 1)

	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)

	_, err = c.Search(ctx, []float32{1, 0, 0}, 1, WithFilter(map[string]any{"n": map[string]any{"$in": 3}}))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestSearchKLargerThanCollection(t *testing.T) {
	_, c := newCollection3(t)
	addFive(t, c)

	res, err := c.Search(context.Background(), []float32{1, 0, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, res, 5)
}

func TestSearchFilter(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 2, WithFilter(map[string]any{"kind": "x"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "e"}, resultIDs(res))

	fs, err := metadata.Parse(map[string]any{"n": map[string]any{"$gt": 3}})
	require.NoError(t, err)

	res, err = c.Search(ctx, []float32{1, 0, 0}, 5, WithFilterSet(fs))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d", "e"}, resultIDs(res))

	res, err = c.Search(ctx, []float32{1, 0, 0}, 5, WithFilter(map[string]any{"kind": "none"}))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearchFilterWidensCandidates(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, memory.New())

	c, err := db.Collection("mixed", WithDimension(2))
	require.NoError(t, err)

	docs := make([]Document, 0, 200)

	for i := range 195 {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("noise-%03d", i),
			Vector:   []float32{1, float32(i) * 0.001},
			Metadata: map[string]any{"kind": "noise"},
		})
	}

	for i := range 5 {
		docs = append(docs, Document{
			ID:       fmt.Sprintf("signal-%d", i),
			Vector:   []float32{float32(i) * 0.01, 1},
			Metadata: map[string]any{"kind": "signal"},
		})
	}

	_, err = c.AddMany(ctx, docs)
	require.NoError(t, err)

	res, err := c.Search(ctx, []float32{1, 0}, 5,
		WithFilter(map[string]any{"kind": "signal"}),
		WithMaxCandidates(20),
	)
	require.NoError(t, err)
	require.Len(t, res, 5)

	for _, r := range res {
		assert.Equal(t, "signal", r.Metadata["kind"])
	}

	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
	}
}

func TestSearchThreshold(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 5, WithThreshold(0.9))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, resultIDs(res))

	for _, r := range res {
		assert.GreaterOrEqual(t, r.Score, float32(0.9))
	}

	res, err = c.Search(ctx, []float32{1, 0, 0}, 5, WithThreshold(0.9), WithFilter(map[string]any{"kind": "y"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, resultIDs(res))
}

func TestSearchWithVectors(t *testing.T) {
	_, c := newCollection3(t)
	addFive(t, c)

	res, err := c.Search(context.Background(), []float32{0, 0, 1}, 1, WithVectors(), WithEf(64))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d", res[0].ID)
	assert.Equal(t, []float32{0, 0, 1}, res[0].Vector)
}

func TestSearchEuclidean(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, memory.New())

	c, err := db.Collection("l2", WithDimension(2), WithMetric(distance.Euclidean))
	require.NoError(t, err)

	require.NoError(t, c.Add(ctx, "origin", []float32{0, 0}, nil))
	require.NoError(t, c.Add(ctx, "near", []float32{1, 0}, nil))
	require.NoError(t, c.Add(ctx, "far", []float32{10, 10}, nil))

	res, err := c.Search(ctx, []float32{0.9, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "origin", "far"}, resultIDs(res))
	assert.Equal(t, distance.Euclidean, c.Metric())
}
