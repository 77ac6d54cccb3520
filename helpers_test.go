package localvec

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/storage/memory"
)

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// fakeClock is a settable clock for timestamp-sensitive tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
}

func seeded(o *hnsw.Options) { o.Seed = 42 }

// openDB opens a DB on backend and closes it when the test ends.
func openDB(t *testing.T, backend *memory.Backend, optFns ...Option) *DB {
	t.Helper()

	db, err := Open(context.Background(), backend, append([]Option{WithHNSW(seeded)}, optFns...)...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close(context.Background()) })

	return db
}

func newCollection3(t *testing.T, optFns ...Option) (*DB, *Collection) {
	t.Helper()

	db := openDB(t, memory.New(), optFns...)

	c, err := db.Collection("docs", WithDimension(3))
	require.NoError(t, err)

	return db, c
}

// addFive stores the five fixture documents used by the search tests.
func addFive(t *testing.T, c *Collection) {
	t.Helper()

	ctx := context.Background()
	docs := []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]any{"kind": "x", "n": 1}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"kind": "y", "n": 2}},
		{ID: "c", Vector: []float32{0, 1, 0}, Metadata: map[string]any{"kind": "x", "n": 3}},
		{ID: "d", Vector: []float32{0, 0, 1}, Metadata: map[string]any{"kind": "y", "n": 4}},
		{ID: "e", Vector: []float32{0.7, 0.7, 0}, Metadata: map[string]any{"kind": "x", "n": 5}},
	}

	n, err := c.AddMany(ctx, docs)
	require.NoError(t, err)
	require.Equal(t, len(docs), n)
}

func resultIDs(rs []SearchResult) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}

	return ids
}
