package localvec

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/metadata"
	"github.com/hupe1980/localvec/storage"
)

// fetchParallelism bounds concurrent metadata reads per search.
const fetchParallelism = 8

// SearchResult is a single hit. Results are ordered by descending score.
type SearchResult struct {
	ID       string
	Score    float32
	Distance float32
	Metadata map[string]any
	Vector   []float32
}

// Search returns up to k documents nearest to query.
//
// With a filter the index is over-fetched by k×10 candidates (first round
// capped by WithMaxCandidates) and the candidate pool doubles until k
// documents pass the filter or the index is exhausted. Scores below the
// WithThreshold minimum are dropped after filtering.
func (c *Collection) Search(ctx context.Context, query []float32, k int, optFns ...QueryOption) (results []SearchResult, err error) {
	start := time.Now()
	info := HookInfo{Op: OpSearch, Collection: c.name, K: k}

	defer func() {
		c.opts.metricsCollector.RecordSearch(k, time.Since(start), err)
		c.logger.LogSearch(ctx, c.name, k, len(results), err)
	}()

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return nil, err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	if k <= 0 {
		return nil, ErrInvalidK
	}

	if err := checkFinite(query); err != nil {
		return nil, err
	}

	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	if err := c.checkDimension(query); err != nil {
		return nil, err
	}

	qo := applyQueryOptions(optFns)

	fs := qo.filterSet
	if qo.filter != nil {
		if fs, err = metadata.Parse(qo.filter); err != nil {
			return nil, err
		}
	}

	if fs == nil || fs.Len() == 0 {
		hits, err := c.indexSearch(query, k, qo.ef)
		if err != nil {
			return nil, err
		}

		return c.hydrate(ctx, hits, qo, nil)
	}

	return c.searchFiltered(ctx, query, k, qo, fs)
}

func (c *Collection) searchFiltered(ctx context.Context, query []float32, k int, qo queryOptions, fs *metadata.FilterSet) ([]SearchResult, error) {
	seen := make(map[string]struct{})
	n := max(min(k*overFetch, qo.maxCandidates), k)

	var out []SearchResult

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.RLock()
		total := c.idx.Len()
		c.mu.RUnlock()

		hits, err := c.indexSearch(query, n, max(qo.ef, n))
		if err != nil {
			return nil, err
		}

		fresh := hits[:0:0]

		for _, h := range hits {
			if _, ok := seen[h.ID]; !ok {
				seen[h.ID] = struct{}{}
				fresh = append(fresh, h)
			}
		}

		accepted, err := c.hydrate(ctx, fresh, qo, fs)
		if err != nil {
			return nil, err
		}

		out = append(out, accepted...)

		if len(out) >= k || len(hits) < n || n >= total {
			break
		}

		n *= 2
	}

	slices.SortStableFunc(out, func(a, b SearchResult) int {
		return cmp.Compare(a.Distance, b.Distance)
	})

	if len(out) > k {
		out = out[:k]
	}

	return out, nil
}

func (c *Collection) indexSearch(query []float32, k, ef int) ([]hnsw.Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		hits []hnsw.Result
		err  error
	)

	if ef > 0 {
		hits, err = c.idx.SearchWithEf(query, k, ef)
	} else {
		hits, err = c.idx.Search(query, k)
	}

	return hits, translateError(err)
}

// hydrate fetches metadata for hits, keeps index order and drops hits
// whose document vanished, fails fs or scores below the threshold.
func (c *Collection) hydrate(ctx context.Context, hits []hnsw.Result, qo queryOptions, fs *metadata.FilterSet) ([]SearchResult, error) {
	docs := make([]*storage.DocumentRecord, len(hits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)

	for i, h := range hits {
		if qo.hasThreshold && h.Score < qo.threshold {
			continue
		}

		g.Go(func() error {
			rec, err := c.db.backend.GetDocument(gctx, c.name, h.ID)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}

			if err != nil {
				return err
			}

			docs[i] = &rec

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, translateError(err)
	}

	results := make([]SearchResult, 0, len(hits))

	for i, h := range hits {
		doc := docs[i]
		if doc == nil || (fs != nil && !fs.Matches(doc.Metadata)) {
			continue
		}

		r := SearchResult{
			ID:       h.ID,
			Score:    h.Score,
			Distance: h.Distance,
			Metadata: doc.Metadata,
		}

		if qo.withVectors {
			c.mu.RLock()
			r.Vector, _ = c.idx.Vector(h.ID)
			c.mu.RUnlock()
		}

		results = append(results, r)
	}

	return results, nil
}
