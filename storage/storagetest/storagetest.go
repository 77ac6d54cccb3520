// Package storagetest holds the conformance suite every storage.Backend
// adapter runs from its own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// Factory returns a fresh, unopened backend. The suite opens and closes it.
type Factory func(t *testing.T) storage.Backend

var created = time.Date(2024, 3, 4, 5, 6, 7, 8_000_000, time.UTC)

func openBackend(t *testing.T, factory Factory) storage.Backend {
	t.Helper()

	b := factory(t)
	require.NoError(t, b.Open(context.Background()))

	t.Cleanup(func() { _ = b.Close() })

	return b
}

func doc(id string, meta map[string]any) storage.DocumentRecord {
	return storage.DocumentRecord{ID: id, Metadata: meta, CreatedAt: created, UpdatedAt: created}
}

// Run executes the suite against backends produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("SchemaVersion", func(t *testing.T) { testSchemaVersion(t, factory) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, factory) })
	t.Run("Vectors", func(t *testing.T) { testVectors(t, factory) })
	t.Run("Collections", func(t *testing.T) { testCollections(t, factory) })
	t.Run("Index", func(t *testing.T) { testIndex(t, factory) })
	t.Run("ClearCollection", func(t *testing.T) { testClearCollection(t, factory) })
	t.Run("Clear", func(t *testing.T) { testClear(t, factory) })
	t.Run("WAL", func(t *testing.T) { testWAL(t, factory) })
	t.Run("Reopen", func(t *testing.T) { testReopen(t, factory) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, factory) })
}

func testSchemaVersion(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	v, err := b.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 1)

	// Opening twice is a no-op.
	require.NoError(t, b.Open(ctx))

	v2, err := b.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func testDocuments(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	_, err := b.GetDocument(ctx, "docs", "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	meta := map[string]any{"lang": "go", "stars": float64(3), "tags": []any{"db"}, "ok": true}

	require.NoError(t, b.PutDocument(ctx, "docs", doc("b", meta)))
	require.NoError(t, b.PutDocument(ctx, "docs", doc("a", nil)))
	require.NoError(t, b.PutDocument(ctx, "other", doc("a", map[string]any{"lang": "c"})))

	got, err := b.GetDocument(ctx, "docs", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)
	assert.Equal(t, meta, got.Metadata)
	assert.True(t, got.CreatedAt.Equal(created), "created %v", got.CreatedAt)

	// Stored copies are independent of the caller.
	got.Metadata["lang"] = "rust"
	again, err := b.GetDocument(ctx, "docs", "b")
	require.NoError(t, err)
	assert.Equal(t, "go", again.Metadata["lang"])

	list, err := b.ListDocuments(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	n, err := b.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Put replaces.
	require.NoError(t, b.PutDocument(ctx, "docs", doc("b", map[string]any{"lang": "zig"})))
	got, err = b.GetDocument(ctx, "docs", "b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "zig"}, got.Metadata)

	require.NoError(t, b.DeleteDocument(ctx, "docs", "b"))
	require.NoError(t, b.DeleteDocument(ctx, "docs", "b"))

	_, err = b.GetDocument(ctx, "docs", "b")
	require.ErrorIs(t, err, storage.ErrNotFound)

	other, err := b.GetDocument(ctx, "other", "a")
	require.NoError(t, err)
	assert.Equal(t, "c", other.Metadata["lang"])

	size, err := b.EstimateSize(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)
}

func testVectors(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	_, err := b.GetVector(ctx, "docs", "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.PutVector(ctx, "docs", storage.VectorRecord{ID: "y", Vector: []float32{0.5, -1, 2}}))
	require.NoError(t, b.PutVector(ctx, "docs", storage.VectorRecord{ID: "x", Vector: []float32{1, 0, 0}}))

	got, err := b.GetVector(ctx, "docs", "y")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, got.Vector)

	list, err := b.ListVectors(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "x", list[0].ID)

	require.NoError(t, b.DeleteVector(ctx, "docs", "x"))

	list, err = b.ListVectors(ctx, "docs")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	empty, err := b.ListVectors(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testCollections(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	_, err := b.GetCollection(ctx, "docs")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.PutCollection(ctx, storage.CollectionRecord{ID: "docs", Name: "docs", Dimension: 3, Metric: "cosine", CreatedAt: created}))
	require.NoError(t, b.PutCollection(ctx, storage.CollectionRecord{ID: "a", Name: "a", Dimension: 8, Metric: "dot", CreatedAt: created}))

	c, err := b.GetCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Dimension)
	assert.Equal(t, "cosine", c.Metric)
	assert.True(t, c.CreatedAt.Equal(created))

	list, err := b.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "docs", list[1].ID)
}

func testIndex(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	_, err := b.LoadIndex(ctx, "docs")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.SaveIndex(ctx, "docs", []byte(`{"version":1}`)))
	require.NoError(t, b.SaveIndex(ctx, "docs", []byte(`{"version":2}`)))

	blob, err := b.LoadIndex(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, string(blob))

	require.NoError(t, b.DeleteIndex(ctx, "docs"))

	_, err = b.LoadIndex(ctx, "docs")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testClearCollection(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	for _, coll := range []string{"docs", "docs2"} {
		require.NoError(t, b.PutCollection(ctx, storage.CollectionRecord{ID: coll, Name: coll, Dimension: 2, Metric: "cosine", CreatedAt: created}))
		require.NoError(t, b.PutDocument(ctx, coll, doc("a", nil)))
		require.NoError(t, b.PutVector(ctx, coll, storage.VectorRecord{ID: "a", Vector: []float32{1, 2}}))
		require.NoError(t, b.SaveIndex(ctx, coll, []byte("{}")))
	}

	require.NoError(t, b.ClearCollection(ctx, "docs"))

	n, err := b.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, n)

	vecs, err := b.ListVectors(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, vecs)

	_, err = b.LoadIndex(ctx, "docs")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = b.GetCollection(ctx, "docs")
	require.NoError(t, err)

	// "docs2" shares a prefix with "docs" and must be untouched.
	n, err = b.Count(ctx, "docs2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.LoadIndex(ctx, "docs2")
	require.NoError(t, err)
}

func testClear(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	require.NoError(t, b.PutCollection(ctx, storage.CollectionRecord{ID: "docs", Name: "docs", Dimension: 2, Metric: "cosine", CreatedAt: created}))
	require.NoError(t, b.PutDocument(ctx, "docs", doc("a", nil)))
	require.NoError(t, b.PutVector(ctx, "docs", storage.VectorRecord{ID: "a", Vector: []float32{1, 2}}))

	require.NoError(t, b.Clear(ctx))

	list, err := b.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := b.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, n)

	v, err := b.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 1)
}

func testWAL(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := openBackend(t, factory)

	w, err := b.WAL(ctx, "docs")
	require.NoError(t, err)

	w2, err := b.WAL(ctx, "docs")
	require.NoError(t, err)
	assert.Same(t, w, w2)

	seq, err := w.Begin(ctx, wal.Entry{Op: wal.OpAdd, Collection: "docs", DocumentID: "a", Vector: []float32{1, 2}})
	require.NoError(t, err)

	other, err := b.WAL(ctx, "other")
	require.NoError(t, err)

	records, err := other.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = w.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, seq, records[0].Seq)
	assert.False(t, records[0].Committed)

	require.NoError(t, w.Commit(ctx, seq))
	require.NoError(t, w.Checkpoint(ctx))

	records, err = w.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testReopen(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := factory(t)

	require.NoError(t, b.Open(ctx))
	require.NoError(t, b.PutDocument(ctx, "docs", doc("a", map[string]any{"lang": "go"})))

	w, err := b.WAL(ctx, "docs")
	require.NoError(t, err)

	_, err = w.Begin(ctx, wal.Entry{Op: wal.OpDelete, Collection: "docs", DocumentID: "a"})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.NoError(t, b.Open(ctx))

	t.Cleanup(func() { _ = b.Close() })

	got, err := b.GetDocument(ctx, "docs", "a")
	require.NoError(t, err)
	assert.Equal(t, "go", got.Metadata["lang"])

	w, err = b.WAL(ctx, "docs")
	require.NoError(t, err)

	records, err := w.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, wal.OpDelete, records[0].Op)
	assert.False(t, records[0].Committed)
}

func testClosed(t *testing.T, factory Factory) {
	ctx := context.Background()
	b := factory(t)

	_, err := b.GetDocument(ctx, "docs", "a")
	require.ErrorIs(t, err, storage.ErrClosed)

	require.NoError(t, b.Open(ctx))
	require.NoError(t, b.Close())

	require.ErrorIs(t, b.PutDocument(ctx, "docs", doc("a", nil)), storage.ErrClosed)

	_, err = b.ListCollections(ctx)
	require.ErrorIs(t, err, storage.ErrClosed)

	_, err = b.WAL(ctx, "docs")
	require.ErrorIs(t, err, storage.ErrClosed)
}
