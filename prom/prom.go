// Package prom exports database metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	db, err := localvec.Open(ctx, backend, localvec.WithMetricsCollector(prom.New(reg)))
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/localvec"
)

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name.
	Namespace string

	// Buckets are the latency histogram buckets in seconds.
	Buckets []float64

	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels
}

// DefaultOptions are the default collector options.
var DefaultOptions = Options{
	Namespace: "localvec",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}

// Collector implements localvec.MetricsCollector on Prometheus metrics.
type Collector struct {
	latency    *prometheus.HistogramVec
	operations *prometheus.CounterVec
	documents  *prometheus.CounterVec
	searchK    prometheus.Histogram
	persisted  prometheus.Counter
	blobBytes  prometheus.Gauge
}

// Compile time check to ensure Collector satisfies the MetricsCollector interface.
var _ localvec.MetricsCollector = (*Collector)(nil)

// New registers the collector metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer, optFns ...func(o *Options)) *Collector {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	f := promauto.With(reg)

	return &Collector{
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "operation_duration_seconds",
			Help:        "Latency of database operations.",
			Buckets:     opts.Buckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"op", "status"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "operations_total",
			Help:        "Database operations by outcome.",
			ConstLabels: opts.ConstLabels,
		}, []string{"op", "status"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "documents_total",
			Help:        "Documents written, failed or deleted.",
			ConstLabels: opts.ConstLabels,
		}, []string{"result"}),
		searchK: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "search_k",
			Help:        "Requested result counts.",
			Buckets:     prometheus.ExponentialBuckets(1, 4, 6),
			ConstLabels: opts.ConstLabels,
		}),
		persisted: f.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "index_persisted_bytes_total",
			Help:        "Bytes of index blobs written.",
			ConstLabels: opts.ConstLabels,
		}),
		blobBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "index_blob_bytes",
			Help:        "Size of the last index blob written.",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.observeStatus(op, d, status(err))
}

func (c *Collector) observeStatus(op string, d time.Duration, s string) {
	c.latency.WithLabelValues(op, s).Observe(d.Seconds())
	c.operations.WithLabelValues(op, s).Inc()
}

// RecordAdd implements localvec.MetricsCollector.
func (c *Collector) RecordAdd(d time.Duration, err error) {
	c.observe("add", d, err)

	if err == nil {
		c.documents.WithLabelValues("written").Inc()
	}
}

// RecordBatchAdd implements localvec.MetricsCollector.
func (c *Collector) RecordBatchAdd(count, failed int, d time.Duration) {
	s := "success"
	if failed > 0 {
		s = "error"
	}

	c.observeStatus("add_many", d, s)
	c.documents.WithLabelValues("written").Add(float64(count - failed))
	c.documents.WithLabelValues("failed").Add(float64(failed))
}

// RecordSearch implements localvec.MetricsCollector.
func (c *Collector) RecordSearch(k int, d time.Duration, err error) {
	c.observe("search", d, err)
	c.searchK.Observe(float64(k))
}

// RecordDelete implements localvec.MetricsCollector.
func (c *Collector) RecordDelete(deleted int, d time.Duration, err error) {
	c.observe("delete", d, err)
	c.documents.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordUpdate implements localvec.MetricsCollector.
func (c *Collector) RecordUpdate(d time.Duration, err error) {
	c.observe("update", d, err)
}

// RecordIndexPersist implements localvec.MetricsCollector.
func (c *Collector) RecordIndexPersist(bytes int, d time.Duration, err error) {
	c.observe("persist", d, err)

	if err == nil {
		c.persisted.Add(float64(bytes))
		c.blobBytes.Set(float64(bytes))
	}
}
