package prom

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec"
	"github.com/hupe1980/localvec/storage/memory"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordAdd(time.Millisecond, nil)
	c.RecordAdd(time.Millisecond, errors.New("boom"))
	c.RecordBatchAdd(10, 2, time.Millisecond)
	c.RecordSearch(5, time.Millisecond, nil)
	c.RecordDelete(3, time.Millisecond, nil)
	c.RecordIndexPersist(128, time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add_many", "error")))
	assert.Equal(t, 9.0, testutil.ToFloat64(c.documents.WithLabelValues("written")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.documents.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.documents.WithLabelValues("deleted")))
	assert.Equal(t, 128.0, testutil.ToFloat64(c.persisted))
	assert.Equal(t, 128.0, testutil.ToFloat64(c.blobBytes))

	expected := `
# HELP localvec_index_persisted_bytes_total Bytes of index blobs written.
# TYPE localvec_index_persisted_bytes_total counter
localvec_index_persisted_bytes_total 128
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "localvec_index_persisted_bytes_total"))
}

func TestNamespaceAndLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, func(o *Options) {
		o.Namespace = "app"
		o.ConstLabels = prometheus.Labels{"db": "main"}
	})

	c.RecordUpdate(time.Millisecond, nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}

	assert.Contains(t, names, "app_operations_total")
	assert.Contains(t, names, "app_operation_duration_seconds")
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) })
}

func TestWiredIntoDB(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := New(reg)

	db, err := localvec.Open(ctx, memory.New(), localvec.WithMetricsCollector(c))
	require.NoError(t, err)

	defer db.Close(ctx)

	col, err := db.Collection("docs", localvec.WithDimension(2))
	require.NoError(t, err)

	require.NoError(t, col.Add(ctx, "a", []float32{1, 0}, nil))

	_, err = col.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("add", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("search", "success")))
	assert.Positive(t, testutil.ToFloat64(c.persisted))
}
