package cleanup

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeTarget struct {
	mu      sync.Mutex
	entries map[string]time.Time
	batches [][]string
}

// newFakeTarget holds n documents, doc-000 being n days old and the last
// one zero days old.
func newFakeTarget(n int) *fakeTarget {
	f := &fakeTarget{entries: make(map[string]time.Time)}
	for i := range n {
		f.entries[fmt.Sprintf("doc-%03d", i)] = now.Add(-time.Duration(n-i) * day)
	}

	return f
}

func (f *fakeTarget) Entries(context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Entry, 0, len(f.entries))
	for id, ts := range f.entries {
		out = append(out, Entry{ID: id, Timestamp: ts})
	}

	return out, nil
}

func (f *fakeTarget) DeleteMany(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches = append(f.batches, slices.Clone(ids))

	n := 0

	for _, id := range ids {
		if _, ok := f.entries[id]; ok {
			delete(f.entries, id)
			n++
		}
	}

	return n, nil
}

func fixedNow(o *Options) { o.Now = func() time.Time { return now } }

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30d", 30 * day},
		{"24h", 24 * time.Hour},
		{"1w", 7 * day},
		{"90m", 90 * time.Minute},
		{"45s", 45 * time.Second},
		{"1y", 365 * day},
		{"500ms", 500 * time.Millisecond},
		{"1.5h", 90 * time.Minute},
		{" 2D ", 2 * day},
		{"0s", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAge(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "d", "10", "abc", "-1d", "1e3s", "3 weeks", "1x"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParseAge(bad)
			assert.ErrorIs(t, err, ErrInvalidAge)
		})
	}

	ms, err := AgeMillis("2s")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), ms)
}

func TestRunByAge(t *testing.T) {
	ctx := context.Background()
	target := newFakeTarget(10)

	res, err := Run(ctx, target, fixedNow, func(o *Options) {
		o.MaxAge = 5 * day
		o.BatchSize = 2
	})
	require.NoError(t, err)

	// Ages 10..6 days are strictly older than 5 days; the 5 day old one stays.
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, []string{"doc-000", "doc-001", "doc-002", "doc-003", "doc-004"}, res.Selected)
	assert.Equal(t, 5, res.Deleted)
	assert.Len(t, target.batches, 3)
	assert.Contains(t, target.entries, "doc-005")
}

func TestKeepMinCount(t *testing.T) {
	ctx := context.Background()
	target := newFakeTarget(10)

	res, err := Run(ctx, target, fixedNow, func(o *Options) {
		o.MaxAge = time.Hour
		o.KeepMinCount = 4
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Deleted)
	assert.Len(t, target.entries, 4)

	// Already at the floor.
	res, err = Run(ctx, target, fixedNow, func(o *Options) {
		o.MaxAge = time.Hour
		o.KeepMinCount = 5
	})
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Len(t, target.entries, 4)
}

func TestProportionalToTarget(t *testing.T) {
	ctx := context.Background()
	target := newFakeTarget(10)

	res, err := Run(ctx, target, fixedNow, func(o *Options) {
		o.TargetUsagePercent = 60
		o.Usage = func(context.Context) (float64, error) { return 90, nil }
	})
	require.NoError(t, err)

	// ceil(10 * (90-60)/90) = 4
	assert.Equal(t, 4, res.Deleted)
	assert.Equal(t, "doc-000", res.Selected[0])

	res, err = Run(ctx, target, fixedNow, func(o *Options) {
		o.TargetUsagePercent = 60
		o.Usage = func(context.Context) (float64, error) { return 50, nil }
	})
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
}

func TestDryRunAndEstimate(t *testing.T) {
	ctx := context.Background()
	target := newFakeTarget(8)

	res, err := Run(ctx, target, fixedNow, func(o *Options) {
		o.MaxAge = 4 * day
		o.DryRun = true
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, res.Selected, 4)
	assert.Zero(t, res.Deleted)
	assert.Len(t, target.entries, 8)

	est, err := Estimate(ctx, target, fixedNow, func(o *Options) { o.MaxAge = 4 * day })
	require.NoError(t, err)
	assert.Equal(t, res.Selected, est.Selected)
	assert.InDelta(t, 50.0, est.Percent, 1e-9)
}

func TestProgressAndLimiter(t *testing.T) {
	ctx := context.Background()
	target := newFakeTarget(7)

	var progress []Progress

	res, err := Run(ctx, target, fixedNow, func(o *Options) {
		o.MaxAge = time.Hour
		o.BatchSize = 3
		o.Limiter = rate.NewLimiter(rate.Inf, 3)
		o.OnProgress = func(p Progress) { progress = append(progress, p) }
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Deleted)
	assert.Equal(t, []Progress{{3, 7}, {6, 7}, {7, 7}}, progress)
}

func TestOptionValidation(t *testing.T) {
	ctx := context.Background()
	target := newFakeTarget(1)

	_, err := Run(ctx, target)
	assert.Error(t, err)

	_, err = Run(ctx, target, func(o *Options) { o.TargetUsagePercent = 10 })
	assert.Error(t, err)
}

func TestScheduler(t *testing.T) {
	target := newFakeTarget(5)

	_, err := NewScheduler(target, "not a schedule", nil)
	require.Error(t, err)

	s, err := NewScheduler(target, "@every 1h", nil, fixedNow, func(o *Options) { o.MaxAge = 2 * day })
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)

	last, lastErr := s.Last()
	require.NoError(t, lastErr)
	assert.Equal(t, res, last)

	s.Stop(time.Second)
	s.Stop(time.Second)
}
