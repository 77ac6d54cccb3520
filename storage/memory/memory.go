// Package memory provides a volatile storage backend for tests and
// ephemeral databases.
//
// Records are kept in ordered B-trees keyed by collection and id. Data
// survives Close and a later Open of the same Backend value, which lets
// tests simulate a restart, but never the process.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/storage/migrate"
	"github.com/hupe1980/localvec/wal"
)

// Compile time check to ensure Backend satisfies the storage interface.
var _ storage.Backend = (*Backend)(nil)

const sep = "\x00"

type docItem struct {
	key string
	doc storage.DocumentRecord
}

type vecItem struct {
	key string
	vec storage.VectorRecord
}

func docLess(a, b docItem) bool { return a.key < b.key }
func vecLess(a, b vecItem) bool { return a.key < b.key }

// state is everything a migration may touch.
type state struct {
	version     int
	docs        *btree.BTreeG[docItem]
	vecs        *btree.BTreeG[vecItem]
	collections map[string]storage.CollectionRecord
	indexes     map[string][]byte
}

// Migrations is the logical layout history of the memory backend.
var Migrations = migrate.MustNew(
	migrate.Migration[*state]{
		Version: 1,
		Name:    "create_stores",
		Up: func(_ context.Context, s *state) error {
			s.docs = btree.NewBTreeG[docItem](docLess)
			s.vecs = btree.NewBTreeG[vecItem](vecLess)
			s.collections = make(map[string]storage.CollectionRecord)
			s.indexes = make(map[string][]byte)

			return nil
		},
	},
	migrate.Migration[*state]{
		Version: 2,
		Name:    "collection_metric",
		Up: func(_ context.Context, s *state) error {
			for id, c := range s.collections {
				if c.Metric == "" {
					c.Metric = "cosine"
					s.collections[id] = c
				}
			}

			return nil
		},
	},
)

// Options configures the memory backend.
type Options struct {
	// Name identifies the store in lock keys. Defaults to "memory".
	Name string
}

// Backend is an in-memory storage.Backend.
type Backend struct {
	name string

	mu   sync.RWMutex
	st   *state
	wals map[string]*wal.Memory
	open bool
}

// New returns an unopened memory backend.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{Name: "memory"}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Backend{name: opts.Name, wals: make(map[string]*wal.Memory)}
}

// Name returns the store name.
func (b *Backend) Name() string { return b.name }

// Persistent reports false: data never survives the process.
func (b *Backend) Persistent() bool { return false }

// Open applies pending migrations. Reopening a closed backend keeps data.
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		return nil
	}

	from := 0
	if b.st != nil {
		from = b.st.version
	}

	// Work on a copy so a failing migration leaves the old state intact.
	staged := b.cloneState()

	if _, err := Migrations.Apply(ctx, staged, from, Migrations.Current(), func(_ context.Context, s *state, v int) error {
		s.version = v
		return nil
	}); err != nil {
		return err
	}

	b.st = staged
	b.open = true

	for _, w := range b.wals {
		w.Reopen()
	}

	return nil
}

func (b *Backend) cloneState() *state {
	if b.st == nil {
		return &state{}
	}

	return &state{
		version:     b.st.version,
		docs:        b.st.docs.Copy(),
		vecs:        b.st.vecs.Copy(),
		collections: maps.Clone(b.st.collections),
		indexes:     maps.Clone(b.st.indexes),
	}
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}

	b.open = false

	for _, w := range b.wals {
		_ = w.Close()
	}

	return nil
}

// SchemaVersion returns the applied migration version.
func (b *Backend) SchemaVersion(_ context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.open {
		return 0, storage.ErrClosed
	}

	return b.st.version, nil
}

func key(collection, id string) string { return collection + sep + id }

func cloneDoc(d storage.DocumentRecord) storage.DocumentRecord {
	d.Metadata = maps.Clone(d.Metadata)
	return d
}

func (b *Backend) read() (*state, func(), error) {
	b.mu.RLock()

	if !b.open {
		b.mu.RUnlock()
		return nil, nil, storage.ErrClosed
	}

	return b.st, b.mu.RUnlock, nil
}

func (b *Backend) write() (*state, func(), error) {
	b.mu.Lock()

	if !b.open {
		b.mu.Unlock()
		return nil, nil, storage.ErrClosed
	}

	return b.st, b.mu.Unlock, nil
}

// PutDocument stores doc.
func (b *Backend) PutDocument(_ context.Context, collection string, doc storage.DocumentRecord) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	st.docs.Set(docItem{key: key(collection, doc.ID), doc: cloneDoc(doc)})

	return nil
}

// GetDocument returns a stored document.
func (b *Backend) GetDocument(_ context.Context, collection, id string) (storage.DocumentRecord, error) {
	st, unlock, err := b.read()
	if err != nil {
		return storage.DocumentRecord{}, err
	}
	defer unlock()

	it, ok := st.docs.Get(docItem{key: key(collection, id)})
	if !ok {
		return storage.DocumentRecord{}, fmt.Errorf("document %q: %w", id, storage.ErrNotFound)
	}

	return cloneDoc(it.doc), nil
}

// DeleteDocument removes a document. Missing documents are ignored.
func (b *Backend) DeleteDocument(_ context.Context, collection, id string) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	st.docs.Delete(docItem{key: key(collection, id)})

	return nil
}

// ListDocuments returns every document of a collection ordered by id.
func (b *Backend) ListDocuments(_ context.Context, collection string) ([]storage.DocumentRecord, error) {
	st, unlock, err := b.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	prefix := collection + sep

	var out []storage.DocumentRecord

	st.docs.Ascend(docItem{key: prefix}, func(it docItem) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}

		out = append(out, cloneDoc(it.doc))

		return true
	})

	return out, nil
}

// PutVector stores v.
func (b *Backend) PutVector(_ context.Context, collection string, v storage.VectorRecord) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	v.Vector = slices.Clone(v.Vector)
	st.vecs.Set(vecItem{key: key(collection, v.ID), vec: v})

	return nil
}

// GetVector returns a stored vector.
func (b *Backend) GetVector(_ context.Context, collection, id string) (storage.VectorRecord, error) {
	st, unlock, err := b.read()
	if err != nil {
		return storage.VectorRecord{}, err
	}
	defer unlock()

	it, ok := st.vecs.Get(vecItem{key: key(collection, id)})
	if !ok {
		return storage.VectorRecord{}, fmt.Errorf("vector %q: %w", id, storage.ErrNotFound)
	}

	v := it.vec
	v.Vector = slices.Clone(v.Vector)

	return v, nil
}

// DeleteVector removes a vector. Missing vectors are ignored.
func (b *Backend) DeleteVector(_ context.Context, collection, id string) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	st.vecs.Delete(vecItem{key: key(collection, id)})

	return nil
}

// ListVectors returns every vector of a collection ordered by id.
func (b *Backend) ListVectors(_ context.Context, collection string) ([]storage.VectorRecord, error) {
	st, unlock, err := b.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	prefix := collection + sep

	var out []storage.VectorRecord

	st.vecs.Ascend(vecItem{key: prefix}, func(it vecItem) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}

		v := it.vec
		v.Vector = slices.Clone(v.Vector)
		out = append(out, v)

		return true
	})

	return out, nil
}

// PutCollection stores a collection descriptor.
func (b *Backend) PutCollection(_ context.Context, c storage.CollectionRecord) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	st.collections[c.ID] = c

	return nil
}

// GetCollection returns a collection descriptor.
func (b *Backend) GetCollection(_ context.Context, id string) (storage.CollectionRecord, error) {
	st, unlock, err := b.read()
	if err != nil {
		return storage.CollectionRecord{}, err
	}
	defer unlock()

	c, ok := st.collections[id]
	if !ok {
		return storage.CollectionRecord{}, fmt.Errorf("collection %q: %w", id, storage.ErrNotFound)
	}

	return c, nil
}

// ListCollections returns every collection ordered by id.
func (b *Backend) ListCollections(_ context.Context) ([]storage.CollectionRecord, error) {
	st, unlock, err := b.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]storage.CollectionRecord, 0, len(st.collections))
	for _, id := range slices.Sorted(maps.Keys(st.collections)) {
		out = append(out, st.collections[id])
	}

	return out, nil
}

// SaveIndex stores the serialized index of a collection.
func (b *Backend) SaveIndex(_ context.Context, collection string, blob []byte) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	st.indexes[collection] = slices.Clone(blob)

	return nil
}

// LoadIndex returns the serialized index of a collection.
func (b *Backend) LoadIndex(_ context.Context, collection string) ([]byte, error) {
	st, unlock, err := b.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	blob, ok := st.indexes[collection]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", collection, storage.ErrNotFound)
	}

	return slices.Clone(blob), nil
}

// DeleteIndex removes the serialized index of a collection.
func (b *Backend) DeleteIndex(_ context.Context, collection string) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	delete(st.indexes, collection)

	return nil
}

// ClearCollection removes the data of one collection.
func (b *Backend) ClearCollection(_ context.Context, collection string) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	prefix := collection + sep

	var docKeys, vecKeys []string

	st.docs.Ascend(docItem{key: prefix}, func(it docItem) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}

		docKeys = append(docKeys, it.key)

		return true
	})

	st.vecs.Ascend(vecItem{key: prefix}, func(it vecItem) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}

		vecKeys = append(vecKeys, it.key)

		return true
	})

	for _, k := range docKeys {
		st.docs.Delete(docItem{key: k})
	}

	for _, k := range vecKeys {
		st.vecs.Delete(vecItem{key: k})
	}

	delete(st.indexes, collection)

	return nil
}

// Clear removes everything but keeps the schema version.
func (b *Backend) Clear(_ context.Context) error {
	st, unlock, err := b.write()
	if err != nil {
		return err
	}
	defer unlock()

	st.docs = btree.NewBTreeG[docItem](docLess)
	st.vecs = btree.NewBTreeG[vecItem](vecLess)
	st.collections = make(map[string]storage.CollectionRecord)
	st.indexes = make(map[string][]byte)

	return nil
}

// Count returns the number of documents in a collection.
func (b *Backend) Count(_ context.Context, collection string) (int, error) {
	st, unlock, err := b.read()
	if err != nil {
		return 0, err
	}
	defer unlock()

	prefix := collection + sep
	n := 0

	st.docs.Ascend(docItem{key: prefix}, func(it docItem) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}

		n++

		return true
	})

	return n, nil
}

// EstimateSize approximates the bytes held by the backend.
func (b *Backend) EstimateSize(_ context.Context) (int64, error) {
	st, unlock, err := b.read()
	if err != nil {
		return 0, err
	}
	defer unlock()

	var size int64

	st.docs.Scan(func(it docItem) bool {
		size += int64(len(it.key))
		if len(it.doc.Metadata) > 0 {
			if raw, err := codec.Default.Marshal(it.doc.Metadata); err == nil {
				size += int64(len(raw))
			}
		}

		return true
	})

	st.vecs.Scan(func(it vecItem) bool {
		size += int64(len(it.key) + 4*len(it.vec.Vector))
		return true
	})

	for _, blob := range st.indexes {
		size += int64(len(blob))
	}

	return size, nil
}

// WAL returns the in-memory log of a collection.
func (b *Backend) WAL(_ context.Context, collection string) (wal.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil, storage.ErrClosed
	}

	w, ok := b.wals[collection]
	if !ok {
		w = wal.NewMemory()
		b.wals[collection] = w
	}

	return w, nil
}
