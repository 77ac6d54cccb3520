package localvec

import (
	"log/slog"
	"time"

	"github.com/hupe1980/localvec/broadcast"
	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/distance"
	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/lock"
	"github.com/hupe1980/localvec/metadata"
	"github.com/hupe1980/localvec/quota"
)

// DefaultCollection is the collection returned by DB.Default unless
// WithDefaultCollection names another.
const DefaultCollection = "default"

// DefaultBatchSize is the number of documents written per index persist.
const DefaultBatchSize = 100

type options struct {
	dimension         int
	metric            distance.Metric
	hnswFns           []func(*hnsw.Options)
	batchSize         int
	locker            lock.Locker
	broadcaster       broadcast.Broadcaster
	logger            *Logger
	metricsCollector  MetricsCollector
	hooks             Hooks
	lockTimeout       time.Duration
	indexCompression  codec.Compression
	defaultCollection string
	quotaFns          []func(*quota.Options)
	clock             func() time.Time
}

// Option configures Open and DB.Collection.
//
// Options passed to DB.Collection override the database defaults for that
// collection only; locker, broadcaster, logger and metrics are fixed at Open.
type Option func(*options)

// WithDimension sets the vector length of new collections. Opening an
// existing collection with a different dimension fails.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithMetric sets the distance metric of new collections. Existing
// collections keep the metric they were created with.
func WithMetric(m distance.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithHNSW tunes the in-memory index.
//
// Example:
//
//	localvec.WithHNSW(func(o *hnsw.Options) {
//	    o.M = 32
//	    o.EfSearch = 100
//	})
func WithHNSW(optFns ...func(*hnsw.Options)) Option {
	return func(o *options) {
		o.hnswFns = append(o.hnswFns, optFns...)
	}
}

// WithBatchSize sets how many documents AddMany writes per index persist.
// Larger batches write the index blob less often at the cost of a longer
// window in which only the WAL holds the newest documents.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithLocker sets the cross-context write lock. Defaults to an in-process
// lock.Local owned by the DB.
func WithLocker(l lock.Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithBroadcaster sets the change notification channel. Defaults to an
// in-process broadcast.Local owned by the DB.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(o *options) {
		o.broadcaster = b
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &localvec.BasicMetricsCollector{}
//	db, _ := localvec.Open(ctx, backend, localvec.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Adds: %d, Avg latency: %dns\n", stats.AddCount, stats.AddAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := localvec.NewJSONLogger(slog.LevelInfo)
//	db, _ := localvec.Open(ctx, backend, localvec.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithHooks installs callbacks around add, get, update, delete, search and
// clear.
func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

// WithLockTimeout bounds how long a mutation waits for the write lock.
// Zero waits until the context ends.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithIndexCompression wraps persisted index blobs in a compression
// envelope. Blobs are readable regardless of this setting.
func WithIndexCompression(c codec.Compression) Option {
	return func(o *options) {
		o.indexCompression = c
	}
}

// WithDefaultCollection names the collection returned by DB.Default.
func WithDefaultCollection(name string) Option {
	return func(o *options) {
		o.defaultCollection = name
	}
}

// WithQuota configures storage usage reporting.
func WithQuota(optFns ...func(*quota.Options)) Option {
	return func(o *options) {
		o.quotaFns = append(o.quotaFns, optFns...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metric:            distance.Cosine,
		batchSize:         DefaultBatchSize,
		metricsCollector:  NoopMetricsCollector{},
		logger:            NoopLogger(),
		defaultCollection: DefaultCollection,
	}

	o.apply(optFns)

	return o
}

func (o *options) apply(optFns []Option) {
	for _, fn := range optFns {
		if fn != nil {
			fn(o)
		}
	}

	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}

	if o.logger == nil {
		o.logger = NoopLogger()
	}

	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
}

// QueryOption configures Get and Search.
type QueryOption func(*queryOptions)

type queryOptions struct {
	filter        map[string]any
	filterSet     *metadata.FilterSet
	threshold     float32
	hasThreshold  bool
	withVectors   bool
	maxCandidates int
	ef            int
}

// DefaultMaxCandidates caps the first over-fetch round of a filtered search.
const DefaultMaxCandidates = 1000

// overFetch is the multiplier applied to k when a filter is present.
const overFetch = 10

// WithFilter restricts results to documents whose metadata matches filter.
// Fields are ANDed; values are literals or operator objects such as
// {"$gte": 3} or {"$in": ["a", "b"]}.
func WithFilter(filter map[string]any) QueryOption {
	return func(o *queryOptions) {
		o.filter = filter
	}
}

// WithFilterSet is WithFilter for a pre-built metadata.FilterSet.
func WithFilterSet(fs *metadata.FilterSet) QueryOption {
	return func(o *queryOptions) {
		o.filterSet = fs
	}
}

// WithThreshold drops results whose score is below min.
func WithThreshold(min float32) QueryOption {
	return func(o *queryOptions) {
		o.threshold = min
		o.hasThreshold = true
	}
}

// WithVectors includes stored vectors in results.
func WithVectors() QueryOption {
	return func(o *queryOptions) {
		o.withVectors = true
	}
}

// WithMaxCandidates caps the first round of a filtered search.
func WithMaxCandidates(n int) QueryOption {
	return func(o *queryOptions) {
		o.maxCandidates = n
	}
}

// WithEf overrides the search beam width for one query.
func WithEf(ef int) QueryOption {
	return func(o *queryOptions) {
		o.ef = ef
	}
}

func applyQueryOptions(optFns []QueryOption) queryOptions {
	o := queryOptions{maxCandidates: DefaultMaxCandidates}

	for _, fn := range optFns {
		fn(&o)
	}

	if o.maxCandidates <= 0 {
		o.maxCandidates = DefaultMaxCandidates
	}

	return o
}

// BatchOption configures AddMany.
type BatchOption func(*batchOptions)

type batchOptions struct {
	progress func(done, total int)
}

// WithProgress reports the number of documents written after every
// sub-batch.
func WithProgress(fn func(done, total int)) BatchOption {
	return func(o *batchOptions) {
		o.progress = fn
	}
}
