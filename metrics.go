package localvec

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// The prom package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordAdd is called after each single add.
	RecordAdd(duration time.Duration, err error)

	// RecordBatchAdd is called after each AddMany. count is the number of
	// documents attempted, failed the number not written.
	RecordBatchAdd(count, failed int, duration time.Duration)

	// RecordSearch is called after each search.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordDelete is called after each delete call with the number of
	// documents removed.
	RecordDelete(deleted int, duration time.Duration, err error)

	// RecordUpdate is called after each update.
	RecordUpdate(duration time.Duration, err error)

	// RecordIndexPersist is called after each write of an index blob.
	RecordIndexPersist(bytes int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(time.Duration, error)                {}
func (NoopMetricsCollector) RecordBatchAdd(int, int, time.Duration)        {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordDelete(int, time.Duration, error)        {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)             {}
func (NoopMetricsCollector) RecordIndexPersist(int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount          atomic.Int64
	AddErrors         atomic.Int64
	AddTotalNanos     atomic.Int64
	BatchAddCount     atomic.Int64
	BatchAddItems     atomic.Int64
	BatchAddFailed    atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchTotalNanos  atomic.Int64
	DeleteCount       atomic.Int64
	DeletedDocuments  atomic.Int64
	DeleteErrors      atomic.Int64
	UpdateCount       atomic.Int64
	UpdateErrors      atomic.Int64
	PersistCount      atomic.Int64
	PersistBytes      atomic.Int64
	PersistErrors     atomic.Int64
	PersistTotalNanos atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordBatchAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchAdd(count, failed int, _ time.Duration) {
	b.BatchAddCount.Add(1)
	b.BatchAddItems.Add(int64(count))
	b.BatchAddFailed.Add(int64(failed))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(deleted int, _ time.Duration, err error) {
	b.DeleteCount.Add(1)
	b.DeletedDocuments.Add(int64(deleted))

	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(_ time.Duration, err error) {
	b.UpdateCount.Add(1)

	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordIndexPersist implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndexPersist(bytes int, duration time.Duration, err error) {
	b.PersistCount.Add(1)
	b.PersistTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		b.PersistErrors.Add(1)
		return
	}

	b.PersistBytes.Add(int64(bytes))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:         b.AddCount.Load(),
		AddErrors:        b.AddErrors.Load(),
		AddAvgNanos:      avg(b.AddTotalNanos.Load(), b.AddCount.Load()),
		BatchAddCount:    b.BatchAddCount.Load(),
		BatchAddItems:    b.BatchAddItems.Load(),
		BatchAddFailed:   b.BatchAddFailed.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchAvgNanos:   avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		DeleteCount:      b.DeleteCount.Load(),
		DeletedDocuments: b.DeletedDocuments.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		UpdateCount:      b.UpdateCount.Load(),
		UpdateErrors:     b.UpdateErrors.Load(),
		PersistCount:     b.PersistCount.Load(),
		PersistBytes:     b.PersistBytes.Load(),
		PersistErrors:    b.PersistErrors.Load(),
		PersistAvgNanos:  avg(b.PersistTotalNanos.Load(), b.PersistCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}

	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount         int64
	AddErrors        int64
	AddAvgNanos      int64
	BatchAddCount    int64
	BatchAddItems    int64
	BatchAddFailed   int64
	SearchCount      int64
	SearchErrors     int64
	SearchAvgNanos   int64
	DeleteCount      int64
	DeletedDocuments int64
	DeleteErrors     int64
	UpdateCount      int64
	UpdateErrors     int64
	PersistCount     int64
	PersistBytes     int64
	PersistErrors    int64
	PersistAvgNanos  int64
}
