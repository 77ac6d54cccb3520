package localvec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/blobstore"
	"github.com/hupe1980/localvec/bundle"
	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/quota"
	"github.com/hupe1980/localvec/storage/memory"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, c := newCollection3(t)
	addFive(t, c)

	other, err := src.Collection("other", WithDimension(2))
	require.NoError(t, err)
	require.NoError(t, other.Add(ctx, "o", []float32{1, 1}, map[string]any{"x": "y"}))

	b, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, b.Collections, 2)
	assert.Equal(t, 6, b.Len())

	docs := b.Collection("docs")
	require.NotNil(t, docs)
	assert.Equal(t, 3, docs.Dimensions)

	dst := openDB(t, memory.New())

	var last int

	res, err := dst.Import(ctx, b, WithImportProgress(func(done, total int) {
		assert.Equal(t, 6, total)
		last = done
	}))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Collections: 2, Documents: 6}, res)
	assert.Equal(t, 6, last)

	dc, err := dst.Collection("docs")
	require.NoError(t, err)

	got, err := dc.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "e"}, resultIDs(got))

	doc, err := dc.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "y", doc.Metadata["kind"])
}

func TestCollectionExport(t *testing.T) {
	ctx := context.Background()
	db, c := newCollection3(t)
	addFive(t, c)

	other, err := db.Collection("other", WithDimension(2))
	require.NoError(t, err)
	require.NoError(t, other.Add(ctx, "o", []float32{1, 1}, nil))

	b, err := c.Export(ctx)
	require.NoError(t, err)
	require.Len(t, b.Collections, 1)
	assert.Equal(t, "docs", b.Collections[0].Name)
}

func TestImportModes(t *testing.T) {
	ctx := context.Background()

	b := bundle.New()
	b.Collections = []bundle.Collection{{
		Name:       "docs",
		Dimensions: 3,
		Documents: []bundle.Document{
			{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"from": "bundle"}},
		},
	}}

	setup := func(t *testing.T) (*DB, *Collection) {
		db, c := newCollection3(t)
		require.NoError(t, c.Add(ctx, "a", []float32{0, 1, 0}, map[string]any{"from": "local"}))
		require.NoError(t, c.Add(ctx, "z", []float32{0, 0, 1}, nil))

		return db, c
	}

	t.Run("merge", func(t *testing.T) {
		db, c := setup(t)

		_, err := db.Import(ctx, b)
		require.NoError(t, err)

		n, err := c.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		doc, err := c.Get(ctx, "a", WithVectors())
		require.NoError(t, err)
		assert.Equal(t, "bundle", doc.Metadata["from"])
		assert.Equal(t, []float32{1, 0, 0}, doc.Vector)
	})

	t.Run("replace", func(t *testing.T) {
		db, c := setup(t)

		_, err := db.Import(ctx, b, WithImportMode(ImportReplace))
		require.NoError(t, err)

		n, err := c.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = c.Get(ctx, "z")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("dimension conflict", func(t *testing.T) {
		db, _ := setup(t)

		bad := bundle.New()
		bad.Collections = []bundle.Collection{{Name: "docs", Dimensions: 4}}

		_, err := db.Import(ctx, bad)

		var dm *ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)
	})

	t.Run("invalid bundle", func(t *testing.T) {
		db, _ := setup(t)

		_, err := db.Import(ctx, &bundle.Bundle{Version: 99})
		assert.ErrorIs(t, err, bundle.ErrUnsupportedVersion)
	})
}

func TestImportMetadataOnly(t *testing.T) {
	ctx := context.Background()
	src, c := newCollection3(t)
	addFive(t, c)

	b, err := src.Export(ctx, WithoutVectors())
	require.NoError(t, err)

	for _, d := range b.Collections[0].Documents {
		assert.Nil(t, d.Vector)
	}

	t.Run("fresh", func(t *testing.T) {
		dst := openDB(t, memory.New())

		res, err := dst.Import(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Documents)
		assert.Equal(t, 5, res.MetadataOnly)

		dc, err := dst.Collection("docs")
		require.NoError(t, err)

		n, err := dc.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		l, err := dc.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, l)
	})

	t.Run("keeps existing vectors", func(t *testing.T) {
		require.NoError(t, c.Update(ctx, "a", Patch{Metadata: map[string]any{"kind": "changed"}}))

		_, err := src.Import(ctx, b)
		require.NoError(t, err)

		doc, err := c.Get(ctx, "a", WithVectors())
		require.NoError(t, err)
		assert.Equal(t, "x", doc.Metadata["kind"])
		assert.Equal(t, []float32{1, 0, 0}, doc.Vector)

		l, err := c.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, l)
	})
}

func TestExportToImportFrom(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	src, c := newCollection3(t)
	addFive(t, c)

	require.NoError(t, src.ExportTo(ctx, store, "backups/docs.bundle", WithExportCompression(codec.CompressionLZ4)))

	names, err := store.List(ctx, "backups/")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/docs.bundle"}, names)

	raw, err := store.Get(ctx, "backups/docs.bundle")
	require.NoError(t, err)
	assert.True(t, codec.IsCompressed(raw))

	dst := openDB(t, memory.New())

	res, err := dst.ImportFrom(ctx, store, "backups/docs.bundle")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Documents)

	_, err = dst.ImportFrom(ctx, store, "backups/missing.bundle")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestQuota(t *testing.T) {
	ctx := context.Background()

	var warned quota.Usage

	db, c := newCollection3(t, WithQuota(func(o *quota.Options) {
		o.QuotaBytes = 64
		o.OnCritical = func(u quota.Usage) { warned = u }
	}))
	addFive(t, c)

	u, err := db.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(64), u.Quota)
	assert.Positive(t, u.Used)

	_, level, err := db.CheckQuota(ctx)
	require.NoError(t, err)
	assert.Equal(t, quota.LevelCritical, level)
	assert.Equal(t, u.Used, warned.Used)

	durable, err := db.RequestPersistence(ctx)
	require.NoError(t, err)
	assert.False(t, durable)
}
