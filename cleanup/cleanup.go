// Package cleanup evicts the oldest documents of a collection by age or
// to bring storage usage down to a target.
package cleanup

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"golang.org/x/time/rate"
)

// Entry is a document as seen by cleanup.
type Entry struct {
	ID        string
	Timestamp time.Time
}

// Target is a collection that can be cleaned up.
type Target interface {
	// Entries lists every document with its timestamp.
	Entries(ctx context.Context) ([]Entry, error)

	// DeleteMany removes documents and returns how many existed.
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

// Progress is reported after every batch.
type Progress struct {
	Deleted int
	Total   int
}

// Options configures a cleanup run.
type Options struct {
	// MaxAge selects documents strictly older than now minus MaxAge.
	MaxAge time.Duration

	// KeepMinCount is the number of documents that always remain.
	KeepMinCount int

	// TargetUsagePercent selects the oldest documents in proportion to how
	// far Usage is above the target.
	TargetUsagePercent float64

	// Usage returns the current usage percent. Required with
	// TargetUsagePercent.
	Usage func(ctx context.Context) (float64, error)

	// DryRun reports the selection without deleting.
	DryRun bool

	// BatchSize bounds each DeleteMany call.
	BatchSize int

	// OnProgress runs after every batch.
	OnProgress func(Progress)

	// Limiter paces batches: each batch waits for as many tokens as ids.
	Limiter *rate.Limiter

	// Now returns the current time.
	Now func() time.Time
}

// DefaultOptions are the default cleanup options.
var DefaultOptions = Options{BatchSize: 100}

// Result describes a run.
type Result struct {
	// Total is the number of documents before the run.
	Total int `json:"total"`

	// Selected lists the chosen ids, oldest first.
	Selected []string `json:"selected"`

	// Deleted is the number of documents removed. Zero on dry runs.
	Deleted int `json:"deleted"`

	// Percent is the share of the corpus selected.
	Percent float64 `json:"percent"`

	DryRun bool `json:"dryRun"`
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return opts
}

// Plan selects the documents a run would delete.
func Plan(ctx context.Context, target Target, optFns ...func(o *Options)) (Result, error) {
	return plan(ctx, target, buildOptions(optFns))
}

func plan(ctx context.Context, target Target, opts Options) (Result, error) {
	if opts.MaxAge <= 0 && opts.TargetUsagePercent <= 0 {
		return Result{}, errors.New("cleanup: MaxAge or TargetUsagePercent is required")
	}

	if opts.TargetUsagePercent > 0 && opts.Usage == nil {
		return Result{}, errors.New("cleanup: TargetUsagePercent requires Usage")
	}

	entries, err := target.Entries(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("cleanup: list documents: %w", err)
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	total := len(entries)
	n := 0

	if opts.MaxAge > 0 {
		cutoff := opts.Now().Add(-opts.MaxAge)

		// Entries are sorted, so the old ones form a prefix.
		old := 0
		for old < total && entries[old].Timestamp.Before(cutoff) {
			old++
		}

		n = old
	}

	if opts.TargetUsagePercent > 0 && total > 0 {
		used, err := opts.Usage(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("cleanup: usage: %w", err)
		}

		if used > opts.TargetUsagePercent {
			share := (used - opts.TargetUsagePercent) / used
			n = max(n, int(math.Ceil(float64(total)*share)))
		}
	}

	n = min(n, max(total-opts.KeepMinCount, 0))

	res := Result{Total: total, DryRun: opts.DryRun}

	for _, e := range entries[:n] {
		res.Selected = append(res.Selected, e.ID)
	}

	if total > 0 {
		res.Percent = float64(n) / float64(total) * 100
	}

	return res, nil
}

// Run deletes the selected documents in batches.
func Run(ctx context.Context, target Target, optFns ...func(o *Options)) (Result, error) {
	opts := buildOptions(optFns)

	res, err := plan(ctx, target, opts)
	if err != nil || opts.DryRun {
		return res, err
	}

	for batch := range slices.Chunk(res.Selected, opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if opts.Limiter != nil {
			if err := opts.Limiter.WaitN(ctx, min(len(batch), opts.Limiter.Burst())); err != nil {
				return res, err
			}
		}

		n, err := target.DeleteMany(ctx, batch)
		res.Deleted += n

		if err != nil {
			return res, fmt.Errorf("cleanup: delete batch: %w", err)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Deleted: res.Deleted, Total: len(res.Selected)})
		}
	}

	return res, nil
}

// Estimate is Plan as a dry run.
func Estimate(ctx context.Context, target Target, optFns ...func(o *Options)) (Result, error) {
	return Plan(ctx, target, append(optFns, func(o *Options) { o.DryRun = true })...)
}
