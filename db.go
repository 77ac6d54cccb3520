package localvec

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/localvec/broadcast"
	"github.com/hupe1980/localvec/lock"
	"github.com/hupe1980/localvec/quota"
	"github.com/hupe1980/localvec/storage"
)

type state int32

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DB is a database handle on one storage backend. Collections obtained
// from it share the backend but keep independent in-memory indexes.
//
// All caches (collection handles, indexes, initialization group) belong to
// the DB and are released by Close.
type DB struct {
	backend storage.Backend
	opts    options
	origin  string
	quota   *quota.Monitor

	ownBroadcaster bool

	mu          sync.Mutex
	state       state
	collections map[string]*Collection
	group       singleflight.Group
	watchers    sync.WaitGroup
}

// Open opens backend, applying pending schema migrations, and returns a
// ready handle.
func Open(ctx context.Context, backend storage.Backend, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	db := &DB{
		backend:     backend,
		opts:        opts,
		origin:      uuid.NewString(),
		state:       stateInitializing,
		collections: make(map[string]*Collection),
	}

	if err := backend.Open(ctx); err != nil {
		opts.logger.LogMigration(ctx, backend.Name(), 0, err)
		return nil, fmt.Errorf("open %s: %w", backend.Name(), err)
	}

	version, err := backend.SchemaVersion(ctx)
	opts.logger.LogMigration(ctx, backend.Name(), version, err)

	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open %s: %w", backend.Name(), err)
	}

	if db.opts.locker == nil {
		db.opts.locker = lock.NewLocal()
	}

	if db.opts.broadcaster == nil {
		db.opts.broadcaster = broadcast.NewLocal()
		db.ownBroadcaster = true
	}

	db.quota = quota.NewMonitor(backend, db.opts.quotaFns...)
	db.state = stateReady

	return db, nil
}

// Origin identifies this handle in change events.
func (db *DB) Origin() string { return db.origin }

// Backend returns the storage backend.
func (db *DB) Backend() storage.Backend { return db.backend }

func (db *DB) checkReady() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	switch db.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}
}

// Collection returns the handle of the named collection, creating it on
// first use. Handles are cached per DB: repeated calls return the same
// handle. The collection is initialized lazily on its first operation.
func (db *DB) Collection(name string, optFns ...Option) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name: %w", ErrInvalidID)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	switch db.state {
	case stateReady:
	case stateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotInitialized
	}

	if c, ok := db.collections[name]; ok {
		if len(optFns) > 0 {
			probe := db.collectionOptions(optFns)
			if dim := c.Dimension(); probe.dimension != 0 && dim != 0 && probe.dimension != dim {
				return nil, &ErrDimensionMismatch{Expected: dim, Actual: probe.dimension}
			}
		}

		return c, nil
	}

	c := newCollection(db, name, db.collectionOptions(optFns))
	db.collections[name] = c

	return c, nil
}

func (db *DB) collectionOptions(optFns []Option) options {
	o := db.opts
	o.hnswFns = slices.Clone(db.opts.hnswFns)
	o.apply(optFns)

	// Fixed at Open.
	o.locker = db.opts.locker
	o.broadcaster = db.opts.broadcaster

	return o
}

// Default returns the default collection.
func (db *DB) Default(optFns ...Option) (*Collection, error) {
	return db.Collection(db.opts.defaultCollection, optFns...)
}

// Collections lists the names of all stored collections.
func (db *DB) Collections(ctx context.Context) ([]string, error) {
	if err := db.checkReady(); err != nil {
		return nil, err
	}

	recs, err := db.backend.ListCollections(ctx)
	if err != nil {
		return nil, translateError(err)
	}

	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}

	return names, nil
}

// DBStats aggregates the state of every collection.
type DBStats struct {
	Backend       string      `json:"backend"`
	Persistent    bool        `json:"persistent"`
	SchemaVersion int         `json:"schemaVersion"`
	Usage         quota.Usage `json:"usage"`
	Collections   []Stats     `json:"collections"`
}

// Stats reports storage usage and the stats of every stored collection.
func (db *DB) Stats(ctx context.Context) (DBStats, error) {
	names, err := db.Collections(ctx)
	if err != nil {
		return DBStats{}, err
	}

	version, err := db.backend.SchemaVersion(ctx)
	if err != nil {
		return DBStats{}, translateError(err)
	}

	usage, err := db.quota.Usage(ctx)
	if err != nil {
		return DBStats{}, translateError(err)
	}

	st := DBStats{
		Backend:       db.backend.Name(),
		Persistent:    db.backend.Persistent(),
		SchemaVersion: version,
		Usage:         usage,
	}

	for _, name := range names {
		c, err := db.Collection(name)
		if err != nil {
			return DBStats{}, err
		}

		cs, err := c.Stats(ctx)
		if err != nil {
			return DBStats{}, fmt.Errorf("collection %q: %w", name, err)
		}

		st.Collections = append(st.Collections, cs)
	}

	return st, nil
}

// Usage reports bytes used against the configured quota.
func (db *DB) Usage(ctx context.Context) (quota.Usage, error) {
	if err := db.checkReady(); err != nil {
		return quota.Usage{}, err
	}

	return db.quota.Usage(ctx)
}

// CheckQuota measures usage and fires the configured threshold callbacks.
func (db *DB) CheckQuota(ctx context.Context) (quota.Usage, quota.Level, error) {
	if err := db.checkReady(); err != nil {
		return quota.Usage{}, quota.LevelOK, err
	}

	return db.quota.Check(ctx)
}

// RequestPersistence reports whether stored data is durable and not
// subject to eviction.
func (db *DB) RequestPersistence(ctx context.Context) (bool, error) {
	if err := db.checkReady(); err != nil {
		return false, err
	}

	return db.quota.RequestPersistence(ctx)
}

// Close flushes dirty indexes, cancels subscriptions and closes the
// backend. Calling Close more than once is a no-op.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()

	if db.state == stateClosed {
		db.mu.Unlock()
		return nil
	}

	db.state = stateClosed
	cols := make([]*Collection, 0, len(db.collections))

	for _, c := range db.collections {
		cols = append(cols, c)
	}

	db.collections = make(map[string]*Collection)
	db.mu.Unlock()

	var errs []error

	for _, c := range cols {
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("collection %q: %w", c.name, err))
		}
	}

	if db.ownBroadcaster {
		errs = append(errs, db.opts.broadcaster.Close())
	}

	db.watchers.Wait()

	if err := db.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", db.backend.Name(), err))
	}

	return errors.Join(errs...)
}

func (db *DB) lockKey(collection string) string {
	return db.backend.Name() + "/" + collection
}
