// Package badger provides a persistent storage backend on BadgerDB.
//
// Keys are laid out by record kind:
//
//	m/schema              applied schema version
//	c/<collection>        collection descriptor
//	d/<collection>\x00<id> document metadata
//	v/<collection>\x00<id> raw little-endian vector
//	i/<collection>        serialized index
//
// Write-ahead logs live next to the data as <dir>/wal/<collection>.wal.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// Compile time check to ensure Backend satisfies the storage interface.
var _ storage.Backend = (*Backend)(nil)

var (
	schemaKey = []byte("m/schema")

	prefixCollection = []byte("c/")
	prefixDocument   = []byte("d/")
	prefixVector     = []byte("v/")
	prefixIndex      = []byte("i/")
)

// Options configures the badger backend.
type Options struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps data in memory only. Write-ahead logs are volatile too.
	InMemory bool

	// Codec encodes document and collection records. Defaults to msgpack.
	Codec codec.Codec

	// Logger receives badger's warnings and errors.
	Logger *slog.Logger

	// WAL configures the file logs.
	WAL func(o *wal.Options)
}

// Backend is a storage.Backend on BadgerDB.
type Backend struct {
	opts Options

	mu   sync.RWMutex
	db   *badgerdb.DB
	wals map[string]wal.Log
}

// New returns an unopened badger backend.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{Codec: codec.Msgpack{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Msgpack{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Backend{opts: opts, wals: make(map[string]wal.Log)}
}

// Name returns the data directory.
func (b *Backend) Name() string {
	if b.opts.InMemory {
		return "badger:memory"
	}

	return b.opts.Dir
}

// Persistent reports whether data is written to disk.
func (b *Backend) Persistent() bool { return !b.opts.InMemory }

// Open opens the database and applies pending migrations in one
// transaction.
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	if !b.opts.InMemory && b.opts.Dir == "" {
		return errors.New("badger: Dir is required for on-disk mode")
	}

	dbOpts := badgerdb.DefaultOptions(b.opts.Dir).WithLogger(logger{b.opts.Logger})
	if b.opts.InMemory {
		dbOpts = badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(logger{b.opts.Logger})
	}

	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return fmt.Errorf("badger: open: %w", err)
	}

	err = db.Update(func(txn *badgerdb.Txn) error {
		from, err := readVersion(txn)
		if err != nil {
			return err
		}

		set := migrations(b.opts.Codec)
		_, err = set.Apply(ctx, txn, from, set.Current(), writeVersion)

		return err
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	b.db = db

	return nil
}

func readVersion(txn *badgerdb.Txn) (int, error) {
	item, err := txn.Get(schemaKey)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}

	v, n := binary.Uvarint(raw)
	if n <= 0 {
		return 0, fmt.Errorf("badger: corrupt schema version")
	}

	return int(v), nil
}

func writeVersion(_ context.Context, txn *badgerdb.Txn, version int) error {
	return txn.Set(schemaKey, binary.AppendUvarint(nil, uint64(version)))
}

// Close closes the write-ahead logs and the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	var errs []error

	for name, w := range b.wals {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}

		if !b.opts.InMemory {
			delete(b.wals, name)
		}
	}

	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}

	b.db = nil

	return errors.Join(errs...)
}

func (b *Backend) handle() (*badgerdb.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, storage.ErrClosed
	}

	return b.db, nil
}

// SchemaVersion returns the applied migration version.
func (b *Backend) SchemaVersion(_ context.Context) (int, error) {
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	var v int

	err = db.View(func(txn *badgerdb.Txn) error {
		v, err = readVersion(txn)
		return err
	})

	return v, err
}

func collectionKey(prefix []byte, collection string) []byte {
	k := make([]byte, 0, len(prefix)+len(collection))
	k = append(k, prefix...)

	return append(k, collection...)
}

func recordPrefix(prefix []byte, collection string) []byte {
	return append(collectionKey(prefix, collection), 0)
}

func recordKey(prefix []byte, collection, id string) []byte {
	return append(recordPrefix(prefix, collection), id...)
}

func (b *Backend) put(key, value []byte) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *Backend) get(key []byte, what string) ([]byte, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var val []byte

	err = db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		val, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}

	return val, err
}

func (b *Backend) delete(key []byte) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	return db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	})
}

func (b *Backend) scan(prefix []byte, fn func(key, val []byte) error) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	return db.View(func(txn *badgerdb.Txn) error {
		iterOpts := badgerdb.DefaultIteratorOptions
		iterOpts.Prefix = prefix

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}

		return nil
	})
}

// dropPrefix deletes every key under the given prefixes.
func (b *Backend) dropPrefix(prefixes ...[]byte) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	return db.DropPrefix(prefixes...)
}

// PutDocument stores doc.
func (b *Backend) PutDocument(_ context.Context, collection string, doc storage.DocumentRecord) error {
	raw, err := b.opts.Codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("badger: encode document: %w", err)
	}

	return b.put(recordKey(prefixDocument, collection, doc.ID), raw)
}

// GetDocument returns a stored document.
func (b *Backend) GetDocument(_ context.Context, collection, id string) (storage.DocumentRecord, error) {
	raw, err := b.get(recordKey(prefixDocument, collection, id), fmt.Sprintf("document %q", id))
	if err != nil {
		return storage.DocumentRecord{}, err
	}

	var doc storage.DocumentRecord
	if err := b.opts.Codec.Unmarshal(raw, &doc); err != nil {
		return storage.DocumentRecord{}, fmt.Errorf("badger: decode document: %w", err)
	}

	return doc, nil
}

// DeleteDocument removes a document.
func (b *Backend) DeleteDocument(_ context.Context, collection, id string) error {
	return b.delete(recordKey(prefixDocument, collection, id))
}

// ListDocuments returns every document of a collection ordered by id.
func (b *Backend) ListDocuments(_ context.Context, collection string) ([]storage.DocumentRecord, error) {
	var out []storage.DocumentRecord

	err := b.scan(recordPrefix(prefixDocument, collection), func(_, val []byte) error {
		var doc storage.DocumentRecord
		if err := b.opts.Codec.Unmarshal(val, &doc); err != nil {
			return fmt.Errorf("badger: decode document: %w", err)
		}

		out = append(out, doc)

		return nil
	})

	return out, err
}

// PutVector stores v.
func (b *Backend) PutVector(_ context.Context, collection string, v storage.VectorRecord) error {
	return b.put(recordKey(prefixVector, collection, v.ID), storage.EncodeVector(v.Vector))
}

// GetVector returns a stored vector.
func (b *Backend) GetVector(_ context.Context, collection, id string) (storage.VectorRecord, error) {
	raw, err := b.get(recordKey(prefixVector, collection, id), fmt.Sprintf("vector %q", id))
	if err != nil {
		return storage.VectorRecord{}, err
	}

	vec, err := storage.DecodeVector(raw)
	if err != nil {
		return storage.VectorRecord{}, err
	}

	return storage.VectorRecord{ID: id, Vector: vec}, nil
}

// DeleteVector removes a vector.
func (b *Backend) DeleteVector(_ context.Context, collection, id string) error {
	return b.delete(recordKey(prefixVector, collection, id))
}

// ListVectors returns every vector of a collection ordered by id.
func (b *Backend) ListVectors(_ context.Context, collection string) ([]storage.VectorRecord, error) {
	prefix := recordPrefix(prefixVector, collection)

	var out []storage.VectorRecord

	err := b.scan(prefix, func(key, val []byte) error {
		vec, err := storage.DecodeVector(val)
		if err != nil {
			return err
		}

		out = append(out, storage.VectorRecord{ID: string(key[len(prefix):]), Vector: vec})

		return nil
	})

	return out, err
}

// PutCollection stores a collection descriptor.
func (b *Backend) PutCollection(_ context.Context, c storage.CollectionRecord) error {
	raw, err := b.opts.Codec.Marshal(c)
	if err != nil {
		return fmt.Errorf("badger: encode collection: %w", err)
	}

	return b.put(collectionKey(prefixCollection, c.ID), raw)
}

// GetCollection returns a collection descriptor.
func (b *Backend) GetCollection(_ context.Context, id string) (storage.CollectionRecord, error) {
	raw, err := b.get(collectionKey(prefixCollection, id), fmt.Sprintf("collection %q", id))
	if err != nil {
		return storage.CollectionRecord{}, err
	}

	var c storage.CollectionRecord
	if err := b.opts.Codec.Unmarshal(raw, &c); err != nil {
		return storage.CollectionRecord{}, fmt.Errorf("badger: decode collection: %w", err)
	}

	return c, nil
}

// ListCollections returns every collection ordered by id.
func (b *Backend) ListCollections(_ context.Context) ([]storage.CollectionRecord, error) {
	var out []storage.CollectionRecord

	err := b.scan(prefixCollection, func(_, val []byte) error {
		var c storage.CollectionRecord
		if err := b.opts.Codec.Unmarshal(val, &c); err != nil {
			return fmt.Errorf("badger: decode collection: %w", err)
		}

		out = append(out, c)

		return nil
	})

	return out, err
}

// SaveIndex stores the serialized index of a collection.
func (b *Backend) SaveIndex(_ context.Context, collection string, blob []byte) error {
	return b.put(collectionKey(prefixIndex, collection), blob)
}

// LoadIndex returns the serialized index of a collection.
func (b *Backend) LoadIndex(_ context.Context, collection string) ([]byte, error) {
	return b.get(collectionKey(prefixIndex, collection), fmt.Sprintf("index %q", collection))
}

// DeleteIndex removes the serialized index of a collection.
func (b *Backend) DeleteIndex(_ context.Context, collection string) error {
	return b.delete(collectionKey(prefixIndex, collection))
}

// ClearCollection removes documents, vectors and the index of a collection.
func (b *Backend) ClearCollection(_ context.Context, collection string) error {
	if err := b.dropPrefix(
		recordPrefix(prefixDocument, collection),
		recordPrefix(prefixVector, collection),
	); err != nil {
		return err
	}

	return b.delete(collectionKey(prefixIndex, collection))
}

// Clear removes every record but the schema version.
func (b *Backend) Clear(_ context.Context) error {
	return b.dropPrefix(prefixCollection, prefixDocument, prefixVector, prefixIndex)
}

// Count returns the number of documents in a collection.
func (b *Backend) Count(_ context.Context, collection string) (int, error) {
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	prefix := recordPrefix(prefixDocument, collection)
	n := 0

	err = db.View(func(txn *badgerdb.Txn) error {
		iterOpts := badgerdb.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = prefix

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}

		return nil
	})

	return n, err
}

// EstimateSize returns the LSM and value log sizes.
func (b *Backend) EstimateSize(_ context.Context) (int64, error) {
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	lsm, vlog := db.Size()
	if lsm+vlog > 0 {
		return lsm + vlog, nil
	}

	// Fresh or in-memory databases report zero until a flush.
	var size int64

	err = db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			size += int64(len(item.Key())) + item.ValueSize()
		}

		return nil
	})

	return size, err
}

// WAL returns the write-ahead log of a collection.
func (b *Backend) WAL(_ context.Context, collection string) (wal.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil, storage.ErrClosed
	}

	if w, ok := b.wals[collection]; ok {
		if m, ok := w.(*wal.Memory); ok {
			m.Reopen()
		}

		return w, nil
	}

	var w wal.Log

	if b.opts.InMemory {
		w = wal.NewMemory()
	} else {
		var fnOpts []func(o *wal.Options)
		if b.opts.WAL != nil {
			fnOpts = append(fnOpts, b.opts.WAL)
		}

		path := filepath.Join(b.opts.Dir, "wal", url.PathEscape(collection)+".wal")

		f, err := wal.Open(path, fnOpts...)
		if err != nil {
			return nil, err
		}

		w = f
	}

	b.wals[collection] = w

	return w, nil
}

// logger adapts slog to badger's logger interface.
type logger struct{ l *slog.Logger }

func (l logger) Errorf(f string, v ...any)   { l.l.Error(fmt.Sprintf(f, v...), "component", "badger") }
func (l logger) Warningf(f string, v ...any) { l.l.Warn(fmt.Sprintf(f, v...), "component", "badger") }
func (l logger) Infof(f string, v ...any)    { l.l.Debug(fmt.Sprintf(f, v...), "component", "badger") }
func (l logger) Debugf(string, ...any)       {}
