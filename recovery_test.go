package localvec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/storage/memory"
	"github.com/hupe1980/localvec/wal"
)

// seedAndClose writes the fixture documents and closes the handle, leaving
// the backend with a persisted index.
func seedAndClose(t *testing.T, backend *memory.Backend, optFns ...Option) {
	t.Helper()

	ctx := context.Background()
	db := openDB(t, backend, optFns...)

	c, err := db.Collection("docs", WithDimension(3))
	require.NoError(t, err)
	addFive(t, c)
	require.NoError(t, db.Close(ctx))
	require.NoError(t, backend.Open(ctx))
}

func TestRecoverInterruptedAdd(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	log, err := backend.WAL(ctx, "docs")
	require.NoError(t, err)

	// The process died after logging intent and before any store write.
	_, err = log.Begin(ctx, wal.Entry{
		Op:         wal.OpAdd,
		Collection: "docs",
		DocumentID: "f",
		Vector:     []float32{0, 0.1, 0.9},
		Metadata:   map[string]any{"kind": "z"},
		Timestamp:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	db := openDB(t, backend)
	c, err := db.Collection("docs")
	require.NoError(t, err)

	doc, err := c.Get(ctx, "f", WithVectors())
	require.NoError(t, err)
	assert.Equal(t, "z", doc.Metadata["kind"])
	assert.Equal(t, []float32{0, 0.1, 0.9}, doc.Vector)

	res, err := c.Search(ctx, []float32{0, 0.1, 0.9}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "f", res[0].ID)

	pending, err := log.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecoverHalfWrittenUpdate(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	log, err := backend.WAL(ctx, "docs")
	require.NoError(t, err)

	_, err = log.Begin(ctx, wal.Entry{
		Op:         wal.OpUpdate,
		Collection: "docs",
		DocumentID: "a",
		Vector:     []float32{0, 0, 1},
		Metadata:   map[string]any{"kind": "moved"},
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)

	// Only the vector store saw the new value.
	require.NoError(t, backend.PutVector(ctx, "docs", storage.VectorRecord{ID: "a", Vector: []float32{0, 0, 1}}))

	db := openDB(t, backend)
	c, err := db.Collection("docs")
	require.NoError(t, err)

	doc, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "moved", doc.Metadata["kind"])

	res, err := c.Search(ctx, []float32{0, 0, 1}, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "d"}, resultIDs(res))
}

func TestRecoverInterruptedDelete(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	log, err := backend.WAL(ctx, "docs")
	require.NoError(t, err)

	_, err = log.Begin(ctx, wal.Entry{Op: wal.OpDelete, Collection: "docs", DocumentID: "a", Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	// The document row went away, the vector and index entry did not.
	require.NoError(t, backend.DeleteDocument(ctx, "docs", "a"))

	db := openDB(t, backend)
	c, err := db.Collection("docs")
	require.NoError(t, err)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, l)

	_, err = backend.GetVector(ctx, "docs", "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(res), "a")
}

func TestRecoverInterruptedClear(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	log, err := backend.WAL(ctx, "docs")
	require.NoError(t, err)

	_, err = log.Begin(ctx, wal.Entry{Op: wal.OpClear, Collection: "docs", Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	db := openDB(t, backend)
	c, err := db.Collection("docs")
	require.NoError(t, err)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, l)
}

func TestRebuildFromCorruptIndex(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	require.NoError(t, backend.SaveIndex(ctx, "docs", []byte("not an index")))

	db := openDB(t, backend)
	c, err := db.Collection("docs")
	require.NoError(t, err)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, l)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)

	// The rebuilt index was persisted.
	blob, err := backend.LoadIndex(ctx, "docs")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("not an index"), blob)
}

func TestRebuildOnShapeChange(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	db := openDB(t, backend, WithHNSW(func(o *hnsw.Options) { o.M = 8 }))
	c, err := db.Collection("docs")
	require.NoError(t, err)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, st.Index.M)
	assert.Equal(t, 5, st.Index.Nodes)
}

func TestMissingVectorsAreIndexed(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	seedAndClose(t, backend)

	// A vector written without an index update, as by an older process.
	require.NoError(t, backend.PutDocument(ctx, "docs", storage.DocumentRecord{ID: "g"}))
	require.NoError(t, backend.PutVector(ctx, "docs", storage.VectorRecord{ID: "g", Vector: []float32{0.5, 0.5, 0.5}}))

	db := openDB(t, backend)
	c, err := db.Collection("docs")
	require.NoError(t, err)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, l)
}

func TestIndexCompression(t *testing.T) {
	ctx := context.Background()

	for _, comp := range []codec.Compression{codec.CompressionNone, codec.CompressionLZ4, codec.CompressionZstd} {
		t.Run(comp.String(), func(t *testing.T) {
			backend := memory.New()
			seedAndClose(t, backend, WithIndexCompression(comp))

			blob, err := backend.LoadIndex(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, comp != codec.CompressionNone, codec.IsCompressed(blob))

			db := openDB(t, backend)
			c, err := db.Collection("docs")
			require.NoError(t, err)

			res, err := c.Search(ctx, []float32{0, 1, 0}, 1)
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, "c", res[0].ID)
		})
	}
}
