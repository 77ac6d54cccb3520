package localvec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localvec/broadcast"
	"github.com/hupe1980/localvec/cleanup"
	"github.com/hupe1980/localvec/lock"
	"github.com/hupe1980/localvec/storage/memory"
)

func TestAddGet(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)

	require.NoError(t, c.Add(ctx, "a", []float32{1, 2, 3}, map[string]any{"title": "first"}))

	doc, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc.ID)
	assert.Equal(t, "first", doc.Metadata["title"])
	assert.Nil(t, doc.Vector)
	assert.False(t, doc.CreatedAt.IsZero())

	doc, err = c.Get(ctx, "a", WithVectors())
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, doc.Vector)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddReplacesExisting(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	_, c := newCollection3(t, withClock(clock.Now))

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, map[string]any{"v": 1}))

	first, err := c.Get(ctx, "a")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, c.Add(ctx, "a", []float32{0, 1, 0}, map[string]any{"v": 2}))

	doc, err := c.Get(ctx, "a", WithVectors())
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, doc.Vector)
	assert.Equal(t, 2, doc.Metadata["v"])
	assert.Equal(t, first.CreatedAt, doc.CreatedAt)
	assert.Equal(t, clock.Now(), doc.UpdatedAt)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, l)
}

func TestAddValidation(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, nil))

	t.Run("empty id", func(t *testing.T) {
		assert.ErrorIs(t, c.Add(ctx, "", []float32{1, 0, 0}, nil), ErrInvalidID)
	})

	t.Run("non finite", func(t *testing.T) {
		nan := float32(math.NaN())
		assert.ErrorIs(t, c.Add(ctx, "b", []float32{nan, 0, 0}, nil), ErrInvalidVector)
		assert.ErrorIs(t, c.Add(ctx, "b", []float32{float32(math.Inf(1)), 0, 0}, nil), ErrInvalidVector)
	})

	t.Run("dimension mismatch leaves state untouched", func(t *testing.T) {
		err := c.Add(ctx, "a", []float32{1, 0}, map[string]any{"changed": true})

		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 3, dm.Expected)
		assert.Equal(t, 2, dm.Actual)

		doc, err := c.Get(ctx, "a", WithVectors())
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0}, doc.Vector)
		assert.Nil(t, doc.Metadata)
	})
}

func TestCollectionRequiresDimension(t *testing.T) {
	ctx := context.Background()
	db := openDB(t, memory.New())

	c, err := db.Collection("nodim")
	require.NoError(t, err)

	err = c.Add(ctx, "a", []float32{1}, nil)

	var id *ErrInvalidDimension
	assert.ErrorAs(t, err, &id)
}

func TestCollectionHandleCached(t *testing.T) {
	db := openDB(t, memory.New())

	c1, err := db.Collection("docs", WithDimension(3))
	require.NoError(t, err)
	require.NoError(t, c1.Add(context.Background(), "a", []float32{1, 0, 0}, nil))

	c2, err := db.Collection("docs")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	_, err = db.Collection("docs", WithDimension(4))

	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)

	_, err = db.Collection("")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestStoredDimensionWins(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	db := openDB(t, backend)
	c, err := db.Collection("docs", WithDimension(3))
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, nil))
	require.NoError(t, db.Close(ctx))

	db2 := openDB(t, backend)

	c2, err := db2.Collection("docs")
	require.NoError(t, err)

	n, err := c2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, c2.Dimension())

	c3, err := db2.Collection("other", WithDimension(4))
	require.NoError(t, err)
	require.NoError(t, c3.Add(ctx, "x", []float32{1, 0, 0, 0}, nil))
	require.NoError(t, db2.Close(ctx))

	db3 := openDB(t, backend)
	c4, err := db3.Collection("other", WithDimension(5))
	require.NoError(t, err)

	_, err = c4.Count(ctx)

	var dm *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dm)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, map[string]any{"keep": "yes", "n": 1}))

	t.Run("merge metadata", func(t *testing.T) {
		require.NoError(t, c.Update(ctx, "a", Patch{Metadata: map[string]any{"n": 2}}))

		doc, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"keep": "yes", "n": 2}, doc.Metadata)
	})

	t.Run("replace metadata", func(t *testing.T) {
		require.NoError(t, c.Update(ctx, "a", Patch{Metadata: map[string]any{"only": true}, ReplaceMetadata: true}))

		doc, err := c.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"only": true}, doc.Metadata)
	})

	t.Run("vector", func(t *testing.T) {
		require.NoError(t, c.Update(ctx, "a", Patch{Vector: []float32{0, 0, 1}}))

		res, err := c.Search(ctx, []float32{0, 0, 1}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, "a", res[0].ID)
		assert.InDelta(t, 1.0, res[0].Score, 1e-5)
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, c.Update(ctx, "nope", Patch{Metadata: map[string]any{"x": 1}}), ErrNotFound)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		var dm *ErrDimensionMismatch
		assert.ErrorAs(t, c.Update(ctx, "a", Patch{Vector: []float32{1}}), &dm)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	ok, err := c.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(res), "a")
	assert.Len(t, res, 4)

	n, err := c.DeleteMany(ctx, []string{"b", "b", "c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = c.DeleteMany(ctx, []string{""})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	n, err := c.DeleteWhere(ctx, map[string]any{"kind": "x", "n": map[string]any{"$gte": 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = c.DeleteWhere(ctx, map[string]any{"$bad": 1})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)
	addFive(t, c)

	require.NoError(t, c.Clear(ctx))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, l)

	res, err := c.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, c.Add(ctx, "again", []float32{1, 0, 0}, nil))

	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddManyBatches(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	_, c := newCollection3(t, WithBatchSize(4), WithMetricsCollector(metrics))

	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprintf("doc-%02d", i), Vector: []float32{1, float32(i), 0}}
	}

	var progress []int

	n, err := c.AddMany(ctx, docs, WithProgress(func(done, total int) {
		assert.Equal(t, 10, total)
		progress = append(progress, done)
	}))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []int{4, 8, 10}, progress)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.BatchAddCount)
	assert.Equal(t, int64(10), stats.BatchAddItems)
	assert.GreaterOrEqual(t, stats.PersistCount, int64(3))

	t.Run("invalid document writes nothing", func(t *testing.T) {
		bad := []Document{
			{ID: "ok", Vector: []float32{1, 0, 0}},
			{ID: "short", Vector: []float32{1}},
		}

		n, err := c.AddMany(ctx, bad)
		assert.Zero(t, n)

		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)

		_, err = c.Get(ctx, "ok")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	_, c := newCollection3(t)

	var g errgroup.Group

	for i := range 50 {
		g.Go(func() error {
			return c.Add(ctx, fmt.Sprintf("id-%d", i), []float32{float32(i), 1, 0}, nil)
		})
	}

	require.NoError(t, g.Wait())

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	l, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, l)
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	denied := errors.New("denied")

	var (
		mu    sync.Mutex
		after []Op
	)

	_, c := newCollection3(t, WithHooks(Hooks{
		Before: func(_ context.Context, info HookInfo) error {
			if info.Op == OpDelete {
				return denied
			}

			return nil
		},
		After: func(_ context.Context, info HookInfo, _ error) {
			mu.Lock()
			defer mu.Unlock()

			after = append(after, info.Op)
		},
	}))

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, nil))

	_, err := c.Delete(ctx, "a")
	assert.ErrorIs(t, err, denied)

	_, err = c.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)

	_, err = c.Get(ctx, "a")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []Op{OpAdd, OpSearch, OpGet}, after)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	_, c := newCollection3(t, WithMetricsCollector(metrics))

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, nil))
	require.Error(t, c.Add(ctx, "b", []float32{1}, nil))

	_, err := c.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)

	_, err = c.Delete(ctx, "a")
	require.NoError(t, err)

	require.ErrorIs(t, c.Update(ctx, "gone", Patch{}), ErrNotFound)

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.AddCount)
	assert.Equal(t, int64(1), stats.AddErrors)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Zero(t, stats.SearchErrors)
	assert.Equal(t, int64(1), stats.DeleteCount)
	assert.Equal(t, int64(1), stats.DeletedDocuments)
	assert.Equal(t, int64(1), stats.UpdateCount)
	assert.Equal(t, int64(1), stats.UpdateErrors)
	assert.Positive(t, stats.PersistBytes)
}

func TestStaleReloadAcrossHandles(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	bus := broadcast.NewLocal()
	locker := lock.NewLocal()

	t.Cleanup(func() { _ = bus.Close() })

	db1 := openDB(t, backend, WithBroadcaster(bus), WithLocker(locker))
	db2 := openDB(t, backend, WithBroadcaster(bus), WithLocker(locker))
	require.NotEqual(t, db1.Origin(), db2.Origin())

	c1, err := db1.Collection("docs", WithDimension(3))
	require.NoError(t, err)
	require.NoError(t, c1.Add(ctx, "a", []float32{1, 0, 0}, nil))

	c2, err := db2.Collection("docs")
	require.NoError(t, err)

	l, err := c2.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, l)

	require.NoError(t, c1.Add(ctx, "b", []float32{0, 1, 0}, nil))

	require.Eventually(t, c2.stale.Load, time.Second, 5*time.Millisecond)
	assert.False(t, c1.stale.Load())

	res, err := c2.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].ID)
	assert.False(t, c2.stale.Load())
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocal()
	db, c := newCollection3(t, WithLocker(locker), WithLockTimeout(20*time.Millisecond))

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, nil))

	unlock, err := locker.Lock(ctx, db.lockKey("docs"))
	require.NoError(t, err)

	err = c.Add(ctx, "b", []float32{0, 1, 0}, nil)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// Reads never take the lock.
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)

	unlock()

	require.NoError(t, c.Add(ctx, "b", []float32{0, 1, 0}, nil))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	db, c := newCollection3(t)

	require.NoError(t, c.Add(ctx, "a", []float32{1, 0, 0}, nil))
	require.NoError(t, db.Close(ctx))
	require.NoError(t, db.Close(ctx))

	assert.ErrorIs(t, c.Add(ctx, "b", []float32{1, 0, 0}, nil), ErrClosed)

	_, err := c.Search(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = db.Collection("docs")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = db.Collections(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	_, c := newCollection3(t, withClock(clock.Now))

	require.NoError(t, c.Add(ctx, "oldest", []float32{1, 0, 0}, nil))
	clock.Advance(time.Hour)
	require.NoError(t, c.Add(ctx, "older", []float32{0, 1, 0}, nil))
	clock.Advance(time.Hour)
	require.NoError(t, c.Add(ctx, "new", []float32{0, 0, 1}, nil))
	clock.Advance(time.Hour)

	est, err := c.EstimateCleanup(ctx, func(o *cleanup.Options) { o.MaxAge = 90 * time.Minute })
	require.NoError(t, err)
	assert.True(t, est.DryRun)
	assert.Equal(t, []string{"oldest", "older"}, est.Selected)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := c.Cleanup(ctx, func(o *cleanup.Options) {
		o.MaxAge = 90 * time.Minute
		o.KeepMinCount = 2
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest"}, res.Selected)
	assert.Equal(t, 1, res.Deleted)

	_, err = c.Get(ctx, "oldest")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Get(ctx, "older")
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	db, c := newCollection3(t)
	addFive(t, c)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "docs", st.Collection)
	assert.Equal(t, 5, st.Documents)
	assert.Equal(t, 3, st.Dimension)
	assert.Equal(t, "cosine", st.Metric)
	assert.Equal(t, 5, st.Index.Nodes)

	dbs, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", dbs.Backend)
	assert.False(t, dbs.Persistent)
	assert.Positive(t, dbs.SchemaVersion)
	require.Len(t, dbs.Collections, 1)
	assert.Equal(t, 5, dbs.Collections[0].Documents)

	names, err := db.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, names)
}
