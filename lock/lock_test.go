package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]Locker {
	return map[string]Locker{
		"Local":    NewLocal(),
		"File":     NewFile(t.TempDir(), func(o *FileOptions) { o.PollInterval = time.Millisecond }),
		"DynamoDB": newTestDynamoDB(newMockDDBClient()),
	}
}

func TestMutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var (
				wg      sync.WaitGroup
				inside  atomic.Int32
				maxSeen atomic.Int32
				total   int
			)

			for range 8 {
				wg.Add(1)

				go func() {
					defer wg.Done()

					for range 10 {
						unlock, err := l.Lock(ctx, "db/docs")
						if !assert.NoError(t, err) {
							return
						}

						n := inside.Add(1)
						if n > maxSeen.Load() {
							maxSeen.Store(n)
						}

						total++

						inside.Add(-1)
						unlock()
					}
				}()
			}

			wg.Wait()

			assert.Equal(t, int32(1), maxSeen.Load())
			assert.Equal(t, 80, total)
		})
	}
}

func TestTimeout(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			unlock, err := l.Lock(context.Background(), "db/docs")
			require.NoError(t, err)

			defer unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			_, err = l.Lock(ctx, "db/docs")
			require.ErrorIs(t, err, ErrTimeout)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			// Other keys are independent.
			unlockOther, err := l.Lock(context.Background(), "db/other")
			require.NoError(t, err)
			unlockOther()
		})
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			unlock, err := l.Lock(ctx, "k")
			require.NoError(t, err)

			unlock()
			unlock()

			unlock, err = l.Lock(ctx, "k")
			require.NoError(t, err)
			unlock()
		})
	}
}

func TestLocalReleasesSlots(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Held())

	unlock()
	assert.Equal(t, 0, l.Held())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	unlock, err = l.Lock(context.Background(), "a")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "a")
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, l.Held())

	unlock()
	assert.Equal(t, 0, l.Held())
}

func TestFileSharedDirectory(t *testing.T) {
	dir := t.TempDir()
	a := NewFile(dir)
	b := NewFile(dir)

	assert.Equal(t, dir, a.Dir())
	assert.FileExists(t, func() string {
		unlock, err := a.Lock(context.Background(), "store/docs")
		require.NoError(t, err)
		unlock()

		return a.Path("store/docs")
	}())

	unlock, err := a.Lock(context.Background(), "store/docs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// A second locker on the same directory stands in for another process.
	_, err = b.Lock(ctx, "store/docs")
	require.ErrorIs(t, err, ErrTimeout)

	unlock()

	unlock, err = b.Lock(context.Background(), "store/docs")
	require.NoError(t, err)
	unlock()
}
