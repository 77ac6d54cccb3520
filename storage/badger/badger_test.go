package badger

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/storage/storagetest"
	"github.com/hupe1980/localvec/wal"
)

func TestConformance(t *testing.T) {
	t.Run("Msgpack", func(t *testing.T) {
		storagetest.Run(t, func(t *testing.T) storage.Backend {
			return New(func(o *Options) { o.Dir = t.TempDir() })
		})
	})

	t.Run("JSON", func(t *testing.T) {
		storagetest.Run(t, func(t *testing.T) storage.Backend {
			return New(func(o *Options) {
				o.Dir = t.TempDir()
				o.Codec = codec.JSON{}
			})
		})
	})
}

func TestPersistsAcrossHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, b.Open(ctx))

	require.NoError(t, b.PutCollection(ctx, storage.CollectionRecord{ID: "docs", Name: "docs", Dimension: 2, Metric: "euclidean", CreatedAt: time.Now()}))
	require.NoError(t, b.PutVector(ctx, "docs", storage.VectorRecord{ID: "a", Vector: []float32{3, 4}}))

	w, err := b.WAL(ctx, "docs")
	require.NoError(t, err)

	_, err = w.Begin(ctx, wal.Entry{Op: wal.OpAdd, Collection: "docs", DocumentID: "a"})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b2 := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, b2.Open(ctx))

	defer b2.Close()

	assert.True(t, b2.Persistent())
	assert.Equal(t, dir, b2.Name())

	c, err := b2.GetCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "euclidean", c.Metric)

	v, err := b2.GetVector(ctx, "docs", "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, v.Vector)

	w2, err := b2.WAL(ctx, "docs")
	require.NoError(t, err)

	records, err := w2.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	version, err := b2.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations(codec.Msgpack{}).Current(), version)
}

func TestInMemory(t *testing.T) {
	ctx := context.Background()

	b := New(func(o *Options) { o.InMemory = true })
	require.NoError(t, b.Open(ctx))

	defer b.Close()

	assert.False(t, b.Persistent())
	assert.Equal(t, "badger:memory", b.Name())

	require.NoError(t, b.PutDocument(ctx, "docs", storage.DocumentRecord{ID: "a", Metadata: map[string]any{"k": "v"}}))

	n, err := b.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := b.WAL(ctx, "docs")
	require.NoError(t, err)
	assert.IsType(t, &wal.Memory{}, w)
}

func TestMissingDir(t *testing.T) {
	assert.Error(t, New().Open(context.Background()))
}

func TestBackfillMetric(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := New(func(o *Options) { o.Dir = dir })
	require.NoError(t, b.Open(ctx))
	require.NoError(t, b.PutCollection(ctx, storage.CollectionRecord{ID: "legacy", Name: "legacy", Dimension: 4}))

	// Pretend the store predates the metric column.
	require.NoError(t, b.db.Update(func(txn *badgerdb.Txn) error {
		return writeVersion(ctx, txn, 1)
	}))
	require.NoError(t, b.Close())

	require.NoError(t, b.Open(ctx))

	defer b.Close()

	c, err := b.GetCollection(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "cosine", c.Metric)
}
