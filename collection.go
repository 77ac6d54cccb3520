package localvec

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/localvec/broadcast"
	"github.com/hupe1980/localvec/cleanup"
	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/distance"
	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/metadata"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// Document is a stored document.
type Document struct {
	ID        string
	Vector    []float32
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Vector   []float32
	Metadata map[string]any

	// ReplaceMetadata replaces the metadata instead of merging Metadata
	// into it key by key.
	ReplaceMetadata bool
}

// Stats describes one collection.
type Stats struct {
	Collection string     `json:"collection"`
	Documents  int        `json:"documents"`
	Dimension  int        `json:"dimension"`
	Metric     string     `json:"metric"`
	Index      hnsw.Stats `json:"index"`
}

// Collection is a namespaced handle. Mutations hold the collection write
// lock for their critical section; reads never take it.
type Collection struct {
	db     *DB
	name   string
	opts   options
	logger *Logger
	now    func() time.Time

	state atomic.Int32
	stale atomic.Bool

	mu          sync.RWMutex // guards the fields below
	idx         *hnsw.HNSW
	dimension   int
	metric      distance.Metric
	dirty       bool
	log         wal.Log
	unsubscribe func()
}

var _ cleanup.Target = (*Collection)(nil)

func newCollection(db *DB, name string, opts options) *Collection {
	c := &Collection{
		db:     db,
		name:   name,
		opts:   opts,
		logger: opts.logger.WithCollection(name),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if opts.clock != nil {
		c.now = opts.clock
	}

	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Dimension returns the vector length, or zero before initialization.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.dimension
}

// Metric returns the distance metric of an initialized collection.
func (c *Collection) Metric() distance.Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.metric
}

// ensureReady initializes the collection on first use. Concurrent first
// callers share one initialization. A collection marked stale by another
// origin reloads its index under the write lock.
func (c *Collection) ensureReady(ctx context.Context) error {
	if err := c.db.checkReady(); err != nil {
		return err
	}

	switch state(c.state.Load()) {
	case stateReady:
		if c.stale.Load() {
			return c.write(ctx, func(context.Context) error { return nil })
		}

		return nil
	case stateClosed:
		return ErrClosed
	}

	_, err, _ := c.db.group.Do(c.name, func() (any, error) {
		if state(c.state.Load()) == stateReady {
			return nil, nil
		}

		c.state.Store(int32(stateInitializing))

		if err := c.initialize(ctx); err != nil {
			c.state.CompareAndSwap(int32(stateInitializing), int32(stateUninitialized))
			return nil, err
		}

		if !c.state.CompareAndSwap(int32(stateInitializing), int32(stateReady)) {
			return nil, ErrClosed
		}

		return nil, nil
	})

	return translateError(err)
}

func (c *Collection) initialize(ctx context.Context) error {
	dim, metric, err := c.loadRecord(ctx)
	if err != nil {
		return err
	}

	log, err := c.db.backend.WAL(ctx, c.name)
	if err != nil {
		return fmt.Errorf("open wal of %q: %w", c.name, err)
	}

	c.mu.Lock()
	c.dimension, c.metric, c.log = dim, metric, log
	c.mu.Unlock()

	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := c.load(ctx); err != nil {
		return err
	}

	events, cancel := c.db.opts.broadcaster.Subscribe(c.name)
	c.mu.Lock()
	c.unsubscribe = cancel
	c.mu.Unlock()

	c.db.watchers.Add(1)

	go func() {
		defer c.db.watchers.Done()

		for e := range events {
			if e.Origin != c.db.origin {
				c.stale.Store(true)
			}
		}
	}()

	return nil
}

// loadRecord loads or creates the collection record.
func (c *Collection) loadRecord(ctx context.Context) (int, distance.Metric, error) {
	rec, err := c.db.backend.GetCollection(ctx, c.name)

	switch {
	case err == nil:
		if c.opts.dimension != 0 && c.opts.dimension != rec.Dimension {
			return 0, 0, &ErrDimensionMismatch{Expected: rec.Dimension, Actual: c.opts.dimension}
		}

		metric, err := distance.ParseMetric(rec.Metric)
		if err != nil {
			return 0, 0, fmt.Errorf("collection %q: %w", c.name, err)
		}

		return rec.Dimension, metric, nil
	case errors.Is(err, storage.ErrNotFound):
		if c.opts.dimension <= 0 {
			return 0, 0, &ErrInvalidDimension{Dimension: c.opts.dimension}
		}

		rec = storage.CollectionRecord{
			ID:        c.name,
			Name:      c.name,
			Dimension: c.opts.dimension,
			Metric:    c.opts.metric.String(),
			CreatedAt: c.now(),
		}

		if err := c.db.backend.PutCollection(ctx, rec); err != nil {
			return 0, 0, fmt.Errorf("create collection %q: %w", c.name, err)
		}

		return rec.Dimension, c.opts.metric, nil
	default:
		return 0, 0, fmt.Errorf("load collection %q: %w", c.name, err)
	}
}

func (c *Collection) lock(ctx context.Context) (func(), error) {
	cancel := func() {}
	if c.opts.lockTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.lockTimeout)
	}

	unlock, err := c.opts.locker.Lock(ctx, c.db.lockKey(c.name))
	if err != nil {
		cancel()
		return nil, translateError(err)
	}

	return func() {
		unlock()
		cancel()
	}, nil
}

// write runs fn under the collection write lock, reloading the index
// first when another origin changed the collection.
func (c *Collection) write(ctx context.Context, fn func(context.Context) error) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if c.stale.Swap(false) {
		if err := c.load(ctx); err != nil {
			c.stale.Store(true)
			return err
		}
	}

	return fn(ctx)
}

func (c *Collection) hnswOptions() []func(*hnsw.Options) {
	c.mu.RLock()
	metric := c.metric
	c.mu.RUnlock()

	return append(slices.Clone(c.opts.hnswFns), func(o *hnsw.Options) {
		o.Metric = metric
	})
}

func (c *Collection) newIndex() (*hnsw.HNSW, error) {
	return hnsw.New(c.Dimension(), c.hnswOptions()...)
}

// load restores the index from its blob, falling back to a rebuild from
// the stored vectors, then reconciles it with storage and the WAL. The
// caller holds the write lock.
func (c *Collection) load(ctx context.Context) error {
	records, err := c.db.backend.ListVectors(ctx, c.name)
	if err != nil {
		return fmt.Errorf("list vectors of %q: %w", c.name, err)
	}

	vectors := make(map[string][]float32, len(records))
	for _, r := range records {
		vectors[r.ID] = r.Vector
	}

	idx, dirty, err := c.restore(ctx, vectors)
	if err != nil {
		return err
	}

	for _, r := range records {
		if idx.Contains(r.ID) {
			continue
		}

		if err := idx.Add(r.ID, r.Vector); err != nil {
			c.logger.WarnContext(ctx, "skipping unindexable vector", "id", r.ID, "error", err)
			continue
		}

		dirty = true
	}

	reconciled, err := c.reconcile(ctx, &idx)
	c.logger.LogRecovery(ctx, c.name, reconciled, err)

	if err != nil {
		return err
	}

	c.mu.Lock()
	c.idx = idx
	c.dirty = dirty || reconciled > 0
	c.mu.Unlock()

	if dirty || reconciled > 0 {
		return c.flush(ctx)
	}

	return nil
}

// restore decodes the persisted index. A missing, corrupt or differently
// shaped blob yields an empty index and dirty set, so the caller rebuilds.
func (c *Collection) restore(ctx context.Context, vectors map[string][]float32) (*hnsw.HNSW, bool, error) {
	blob, err := c.db.backend.LoadIndex(ctx, c.name)

	switch {
	case err == nil:
		idx, derr := c.decodeIndex(blob, vectors)
		if derr == nil {
			return idx, false, nil
		}

		c.logger.WarnContext(ctx, "rebuilding index", "reason", derr)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("load index of %q: %w", c.name, err)
	}

	idx, err := c.newIndex()
	if err != nil {
		return nil, false, err
	}

	return idx, len(vectors) > 0, nil
}

func (c *Collection) decodeIndex(blob []byte, vectors map[string][]float32) (*hnsw.HNSW, error) {
	raw, err := codec.Decompress(blob)
	if err != nil {
		return nil, err
	}

	snap, err := hnsw.ParseSnapshot(raw)
	if err != nil {
		return nil, err
	}

	cfg := hnsw.DefaultOptions
	for _, fn := range c.hnswOptions() {
		fn(&cfg)
	}

	// hnsw.New raises M below 2 to 2.
	cfg.M = max(cfg.M, 2)

	if snap.Dimensions != c.Dimension() || snap.M != cfg.M || snap.Metric != cfg.Metric {
		return nil, fmt.Errorf("index shape changed: dimension %d, m %d, metric %s",
			snap.Dimensions, snap.M, snap.Metric)
	}

	return hnsw.FromSnapshot(snap, vectors, c.hnswOptions()...)
}

// persistIndex writes the index blob. The caller holds the write lock.
func (c *Collection) persistIndex(ctx context.Context) error {
	start := time.Now()

	c.mu.RLock()
	nodes := c.idx.Len()
	blob, err := c.idx.Serialize()
	c.mu.RUnlock()

	if err == nil {
		blob, err = codec.Compress(c.opts.indexCompression, blob)
	}

	if err == nil {
		err = c.db.backend.SaveIndex(ctx, c.name, blob)
	}

	c.opts.metricsCollector.RecordIndexPersist(len(blob), time.Since(start), err)
	c.logger.LogIndexPersist(ctx, c.name, nodes, len(blob), err)

	if err != nil {
		return fmt.Errorf("persist index of %q: %w", c.name, err)
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	return nil
}

// flush persists the index and truncates the WAL.
func (c *Collection) flush(ctx context.Context) error {
	if err := c.persistIndex(ctx); err != nil {
		return err
	}

	if err := c.log.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint wal of %q: %w", c.name, err)
	}

	return nil
}

func (c *Collection) indexAdd(id string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty = true

	return c.idx.Add(id, vector)
}

func (c *Collection) indexDelete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx.Delete(id) {
		c.dirty = true
	}
}

func (c *Collection) publish(ctx context.Context, typ broadcast.Type, id string) {
	err := c.opts.broadcaster.Publish(ctx, broadcast.Event{
		Type:         typ,
		CollectionID: c.name,
		DocumentID:   id,
		Origin:       c.db.origin,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "publish change failed", "type", typ, "id", id, "error", err)
	}
}

func checkFinite(v []float32) error {
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidVector, i, x)
		}
	}

	return nil
}

func (c *Collection) checkDimension(v []float32) error {
	if dim := c.Dimension(); len(v) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
	}

	return nil
}

// Add stores a document and indexes its vector. Adding an existing id
// replaces its vector and metadata.
func (c *Collection) Add(ctx context.Context, id string, vector []float32, md map[string]any) (err error) {
	start := time.Now()
	info := HookInfo{Op: OpAdd, Collection: c.name, IDs: []string{id}}

	defer func() {
		c.opts.metricsCollector.RecordAdd(time.Since(start), err)
		c.logger.LogAdd(ctx, c.name, id, err)
	}()

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	if id == "" {
		return ErrInvalidID
	}

	if err := checkFinite(vector); err != nil {
		return err
	}

	if err := c.ensureReady(ctx); err != nil {
		return err
	}

	if err := c.checkDimension(vector); err != nil {
		return err
	}

	var typ broadcast.Type

	werr := c.write(ctx, func(ctx context.Context) error {
		t, err := c.addOne(ctx, Document{ID: id, Vector: vector, Metadata: md}, c.now())
		if err != nil {
			return err
		}

		typ = t

		return c.flush(ctx)
	})
	if werr != nil {
		return translateError(werr)
	}

	c.publish(ctx, typ, id)

	return nil
}

// addOne runs the WAL-guarded write of one document.
func (c *Collection) addOne(ctx context.Context, doc Document, now time.Time) (broadcast.Type, error) {
	op, typ, created := wal.OpAdd, broadcast.DocumentAdded, now

	prev, err := c.db.backend.GetDocument(ctx, c.name, doc.ID)

	switch {
	case err == nil:
		op, typ, created = wal.OpUpdate, broadcast.DocumentUpdated, prev.CreatedAt
	case !errors.Is(err, storage.ErrNotFound):
		return "", err
	}

	seq, err := c.log.Begin(ctx, wal.Entry{
		Op:         op,
		Collection: c.name,
		DocumentID: doc.ID,
		Vector:     doc.Vector,
		Metadata:   doc.Metadata,
		Timestamp:  now,
	})
	if err != nil {
		return "", fmt.Errorf("wal begin: %w", err)
	}

	if err := c.db.backend.PutDocument(ctx, c.name, storage.DocumentRecord{
		ID:        doc.ID,
		Metadata:  doc.Metadata,
		CreatedAt: created,
		UpdatedAt: now,
	}); err != nil {
		return "", err
	}

	if err := c.db.backend.PutVector(ctx, c.name, storage.VectorRecord{ID: doc.ID, Vector: doc.Vector}); err != nil {
		return "", err
	}

	if err := c.indexAdd(doc.ID, doc.Vector); err != nil {
		return "", err
	}

	if err := c.log.Commit(ctx, seq); err != nil {
		return "", fmt.Errorf("wal commit: %w", err)
	}

	return typ, nil
}

// AddMany adds documents in sub-batches of the configured batch size. Every
// document is validated before anything is written. The index blob is
// persisted once per sub-batch; when a later sub-batch fails, earlier ones
// stay written. It returns the number of documents in completed
// sub-batches.
func (c *Collection) AddMany(ctx context.Context, docs []Document, optFns ...BatchOption) (written int, err error) {
	var bo batchOptions
	for _, fn := range optFns {
		fn(&bo)
	}

	start := time.Now()
	ids := make([]string, len(docs))

	for i, d := range docs {
		ids[i] = d.ID
	}

	info := HookInfo{Op: OpAdd, Collection: c.name, IDs: ids}

	defer func() {
		c.opts.metricsCollector.RecordBatchAdd(len(docs), len(docs)-written, time.Since(start))
		c.logger.LogBatchAdd(ctx, c.name, len(docs), len(docs)-written)
	}()

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return 0, err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	for i, d := range docs {
		if d.ID == "" {
			return 0, fmt.Errorf("document %d: %w", i, ErrInvalidID)
		}

		if err := checkFinite(d.Vector); err != nil {
			return 0, fmt.Errorf("document %q: %w", d.ID, err)
		}
	}

	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}

	for _, d := range docs {
		if err := c.checkDimension(d.Vector); err != nil {
			return 0, fmt.Errorf("document %q: %w", d.ID, err)
		}
	}

	for chunk := range slices.Chunk(docs, c.opts.batchSize) {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		events := make([]broadcast.Event, 0, len(chunk))

		werr := c.write(ctx, func(ctx context.Context) error {
			now := c.now()

			for _, d := range chunk {
				typ, err := c.addOne(ctx, d, now)
				if err != nil {
					return fmt.Errorf("document %q: %w", d.ID, err)
				}

				events = append(events, broadcast.Event{Type: typ, DocumentID: d.ID})
			}

			return c.flush(ctx)
		})
		if werr != nil {
			return written, translateError(werr)
		}

		written += len(chunk)

		for _, e := range events {
			c.publish(ctx, e.Type, e.DocumentID)
		}

		if bo.progress != nil {
			bo.progress(written, len(docs))
		}
	}

	return written, nil
}

// Get returns a stored document. WithVectors includes its vector.
func (c *Collection) Get(ctx context.Context, id string, optFns ...QueryOption) (doc *Document, err error) {
	info := HookInfo{Op: OpGet, Collection: c.name, IDs: []string{id}}

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return nil, err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	if id == "" {
		return nil, ErrInvalidID
	}

	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	qo := applyQueryOptions(optFns)

	rec, err := c.db.backend.GetDocument(ctx, c.name, id)
	if err != nil {
		return nil, translateError(err)
	}

	doc = &Document{
		ID:        rec.ID,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}

	if qo.withVectors {
		v, err := c.db.backend.GetVector(ctx, c.name, id)

		switch {
		case err == nil:
			doc.Vector = v.Vector
		case !errors.Is(err, storage.ErrNotFound):
			return nil, translateError(err)
		}
	}

	return doc, nil
}

// Update applies a partial update. A new vector is re-indexed. Updating a
// missing id returns ErrNotFound.
func (c *Collection) Update(ctx context.Context, id string, p Patch) (err error) {
	start := time.Now()
	info := HookInfo{Op: OpUpdate, Collection: c.name, IDs: []string{id}}

	defer func() {
		c.opts.metricsCollector.RecordUpdate(time.Since(start), err)
		c.logger.LogUpdate(ctx, c.name, id, err)
	}()

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	if id == "" {
		return ErrInvalidID
	}

	if err := checkFinite(p.Vector); err != nil {
		return err
	}

	if err := c.ensureReady(ctx); err != nil {
		return err
	}

	if p.Vector != nil {
		if err := c.checkDimension(p.Vector); err != nil {
			return err
		}
	}

	werr := c.write(ctx, func(ctx context.Context) error {
		prev, err := c.db.backend.GetDocument(ctx, c.name, id)
		if err != nil {
			return err
		}

		md := prev.Metadata

		switch {
		case p.ReplaceMetadata:
			md = maps.Clone(p.Metadata)
		case p.Metadata != nil:
			md = metadata.Document(prev.Metadata).Merge(p.Metadata)
		}

		now := c.now()

		seq, err := c.log.Begin(ctx, wal.Entry{
			Op:         wal.OpUpdate,
			Collection: c.name,
			DocumentID: id,
			Vector:     p.Vector,
			Metadata:   md,
			Timestamp:  now,
		})
		if err != nil {
			return fmt.Errorf("wal begin: %w", err)
		}

		prev.Metadata, prev.UpdatedAt = md, now
		if err := c.db.backend.PutDocument(ctx, c.name, prev); err != nil {
			return err
		}

		if p.Vector != nil {
			if err := c.db.backend.PutVector(ctx, c.name, storage.VectorRecord{ID: id, Vector: p.Vector}); err != nil {
				return err
			}

			if err := c.indexAdd(id, p.Vector); err != nil {
				return err
			}
		}

		if err := c.log.Commit(ctx, seq); err != nil {
			return fmt.Errorf("wal commit: %w", err)
		}

		if p.Vector != nil {
			return c.flush(ctx)
		}

		return c.log.Checkpoint(ctx)
	})
	if werr != nil {
		return translateError(werr)
	}

	c.publish(ctx, broadcast.DocumentUpdated, id)

	return nil
}

// Delete removes a document from the document, vector and index stores.
// Deleting a missing id returns false and no error.
func (c *Collection) Delete(ctx context.Context, id string) (bool, error) {
	n, err := c.DeleteMany(ctx, []string{id})
	return n == 1, err
}

// DeleteMany removes documents within one lock scope and persists the
// index once. It returns how many documents existed.
func (c *Collection) DeleteMany(ctx context.Context, ids []string) (n int, err error) {
	start := time.Now()
	info := HookInfo{Op: OpDelete, Collection: c.name, IDs: ids}

	defer func() {
		c.opts.metricsCollector.RecordDelete(n, time.Since(start), err)
		c.logger.LogDelete(ctx, c.name, n, err)
	}()

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return 0, err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	for _, id := range ids {
		if id == "" {
			return 0, ErrInvalidID
		}
	}

	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}

	var deleted []string

	werr := c.write(ctx, func(ctx context.Context) error {
		var err error

		deleted, err = c.deleteIDs(ctx, ids)

		return err
	})

	for _, id := range deleted {
		c.publish(ctx, broadcast.DocumentDeleted, id)
	}

	return len(deleted), translateError(werr)
}

// DeleteWhere removes every document whose metadata matches filter. It
// scans the whole collection.
func (c *Collection) DeleteWhere(ctx context.Context, filter map[string]any) (n int, err error) {
	fs, err := metadata.Parse(filter)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	info := HookInfo{Op: OpDelete, Collection: c.name}

	defer func() {
		c.opts.metricsCollector.RecordDelete(n, time.Since(start), err)
		c.logger.LogDelete(ctx, c.name, n, err)
	}()

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return 0, err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}

	var deleted []string

	werr := c.write(ctx, func(ctx context.Context) error {
		docs, err := c.db.backend.ListDocuments(ctx, c.name)
		if err != nil {
			return err
		}

		var ids []string

		for _, d := range docs {
			if fs.Matches(d.Metadata) {
				ids = append(ids, d.ID)
			}
		}

		deleted, err = c.deleteIDs(ctx, ids)

		return err
	})

	for _, id := range deleted {
		c.publish(ctx, broadcast.DocumentDeleted, id)
	}

	return len(deleted), translateError(werr)
}

// deleteIDs removes the given ids and persists the index when anything
// changed. The caller holds the write lock.
func (c *Collection) deleteIDs(ctx context.Context, ids []string) ([]string, error) {
	var deleted []string

	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		exists, err := c.exists(ctx, id)
		if err != nil {
			return deleted, err
		}

		if !exists {
			continue
		}

		seq, err := c.log.Begin(ctx, wal.Entry{
			Op:         wal.OpDelete,
			Collection: c.name,
			DocumentID: id,
			Timestamp:  c.now(),
		})
		if err != nil {
			return deleted, fmt.Errorf("wal begin: %w", err)
		}

		if err := c.removeEverywhere(ctx, id); err != nil {
			return deleted, err
		}

		if err := c.log.Commit(ctx, seq); err != nil {
			return deleted, fmt.Errorf("wal commit: %w", err)
		}

		deleted = append(deleted, id)
	}

	if len(deleted) == 0 {
		return nil, nil
	}

	return deleted, c.flush(ctx)
}

func (c *Collection) exists(ctx context.Context, id string) (bool, error) {
	if _, err := c.db.backend.GetDocument(ctx, c.name, id); err == nil {
		return true, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	if _, err := c.db.backend.GetVector(ctx, c.name, id); err == nil {
		return true, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idx.Contains(id), nil
}

func (c *Collection) removeEverywhere(ctx context.Context, id string) error {
	if err := c.db.backend.DeleteDocument(ctx, c.name, id); err != nil {
		return err
	}

	if err := c.db.backend.DeleteVector(ctx, c.name, id); err != nil {
		return err
	}

	c.indexDelete(id)

	return nil
}

// Clear removes every document of the collection and resets its index.
func (c *Collection) Clear(ctx context.Context) (err error) {
	info := HookInfo{Op: OpClear, Collection: c.name}

	if err := c.opts.hooks.before(ctx, info); err != nil {
		return err
	}

	defer func() { c.opts.hooks.after(ctx, info, err) }()

	if err := c.ensureReady(ctx); err != nil {
		return err
	}

	werr := c.write(ctx, func(ctx context.Context) error {
		seq, err := c.log.Begin(ctx, wal.Entry{Op: wal.OpClear, Collection: c.name, Timestamp: c.now()})
		if err != nil {
			return fmt.Errorf("wal begin: %w", err)
		}

		if err := c.clearStores(ctx); err != nil {
			return err
		}

		if err := c.log.Commit(ctx, seq); err != nil {
			return fmt.Errorf("wal commit: %w", err)
		}

		return c.log.Checkpoint(ctx)
	})
	if werr != nil {
		return translateError(werr)
	}

	c.publish(ctx, broadcast.CollectionCleared, "")

	return nil
}

func (c *Collection) clearStores(ctx context.Context) error {
	if err := c.db.backend.ClearCollection(ctx, c.name); err != nil {
		return err
	}

	idx, err := c.newIndex()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.idx, c.dirty = idx, false
	c.mu.Unlock()

	return nil
}

// Count returns the number of stored documents.
func (c *Collection) Count(ctx context.Context) (int, error) {
	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}

	n, err := c.db.backend.Count(ctx, c.name)

	return n, translateError(err)
}

// Len returns the number of indexed vectors.
func (c *Collection) Len(ctx context.Context) (int, error) {
	if err := c.ensureReady(ctx); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.idx.Len(), nil
}

// Stats reports document count and index shape.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	n, err := c.Count(ctx)
	if err != nil {
		return Stats{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Collection: c.name,
		Documents:  n,
		Dimension:  c.dimension,
		Metric:     c.metric.String(),
		Index:      c.idx.Stats(),
	}, nil
}

// Entries lists every document with its last update time.
func (c *Collection) Entries(ctx context.Context) ([]cleanup.Entry, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}

	docs, err := c.db.backend.ListDocuments(ctx, c.name)
	if err != nil {
		return nil, translateError(err)
	}

	entries := make([]cleanup.Entry, len(docs))
	for i, d := range docs {
		entries[i] = cleanup.Entry{ID: d.ID, Timestamp: d.UpdatedAt}
	}

	return entries, nil
}

func (c *Collection) cleanupOptions(optFns []func(*cleanup.Options)) []func(*cleanup.Options) {
	usage := func(o *cleanup.Options) {
		o.Usage = func(ctx context.Context) (float64, error) {
			u, err := c.db.quota.Usage(ctx)
			return u.Percent, err
		}
		o.Now = c.now
	}

	return append([]func(*cleanup.Options){usage}, optFns...)
}

// Cleanup evicts documents by age or toward a usage target. Usage defaults
// to the database quota monitor.
func (c *Collection) Cleanup(ctx context.Context, optFns ...func(*cleanup.Options)) (cleanup.Result, error) {
	return cleanup.Run(ctx, c, c.cleanupOptions(optFns)...)
}

// EstimateCleanup reports what Cleanup would delete.
func (c *Collection) EstimateCleanup(ctx context.Context, optFns ...func(*cleanup.Options)) (cleanup.Result, error) {
	return cleanup.Estimate(ctx, c, c.cleanupOptions(optFns)...)
}

// CleanupScheduler returns a cron scheduler running Cleanup on schedule.
func (c *Collection) CleanupScheduler(schedule string, optFns ...func(*cleanup.Options)) (*cleanup.Scheduler, error) {
	return cleanup.NewScheduler(c, schedule, c.logger.Logger, c.cleanupOptions(optFns)...)
}

// close flushes a dirty index and cancels the change subscription.
func (c *Collection) close(ctx context.Context) error {
	if state(c.state.Swap(int32(stateClosed))) != stateReady {
		return nil
	}

	c.mu.RLock()
	cancel, dirty := c.unsubscribe, c.dirty
	c.mu.RUnlock()

	if cancel != nil {
		cancel()
	}

	if !dirty {
		return nil
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return c.flush(ctx)
}
