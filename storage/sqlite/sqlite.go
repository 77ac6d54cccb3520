// Package sqlite provides a persistent storage backend on SQLite, using the
// pure Go modernc.org/sqlite driver.
//
// The write-ahead log of each collection is a table in the same database,
// so a record and its log entry commit with the same durability.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// Compile time check to ensure Backend satisfies the storage interface.
var _ storage.Backend = (*Backend)(nil)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Options configures the SQLite backend.
type Options struct {
	// Path is the database file. Defaults to MemoryPath.
	Path string

	// BusyTimeout bounds how long a writer waits for the file lock.
	BusyTimeout time.Duration
}

// Backend is a storage.Backend on SQLite.
type Backend struct {
	opts  Options
	codec codec.Codec

	mu   sync.RWMutex
	db   *sql.DB
	wals map[string]*Log
}

// New returns an unopened SQLite backend.
func New(optFns ...func(o *Options)) *Backend {
	opts := Options{Path: MemoryPath, BusyTimeout: 5 * time.Second}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Backend{opts: opts, codec: codec.JSON{}, wals: make(map[string]*Log)}
}

// Name returns the database path.
func (b *Backend) Name() string { return b.opts.Path }

// Persistent reports whether the database lives in a file.
func (b *Backend) Persistent() bool { return b.opts.Path != MemoryPath }

// Open opens the database and applies pending migrations in one
// transaction.
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", b.opts.Path)
	if err != nil {
		return fmt.Errorf("sqlite: open database: %w", err)
	}

	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := b.init(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	b.db = db

	return nil
}

func (b *Backend) init(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", b.opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite: pragma failed: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations: %w", err)
	}

	from, err := currentVersion(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := Migrations.Apply(ctx, tx, from, Migrations.Current(), recordVersion); err != nil {
		return err
	}

	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryer) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: read schema version: %w", err)
	}

	return v, nil
}

// Close closes the logs and the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	for name, l := range b.wals {
		_ = l.Close()
		delete(b.wals, name)
	}

	err := b.db.Close()
	b.db = nil

	return err
}

func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, storage.ErrClosed
	}

	return b.db, nil
}

// SchemaVersion returns the applied migration version.
func (b *Backend) SchemaVersion(ctx context.Context) (int, error) {
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	return currentVersion(ctx, db)
}

func (b *Backend) exec(ctx context.Context, query string, args ...any) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, query, args...)

	return err
}

func (b *Backend) encodeMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}

	raw, err := b.codec.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlite: encode metadata: %w", err)
	}

	return sql.NullString{String: string(raw), Valid: true}, nil
}

func (b *Backend) decodeMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid {
		return nil, nil
	}

	var m map[string]any
	if err := b.codec.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("sqlite: decode metadata: %w", err)
	}

	return m, nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// PutDocument stores doc.
func (b *Backend) PutDocument(ctx context.Context, collection string, doc storage.DocumentRecord) error {
	meta, err := b.encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	return b.exec(ctx, `
		INSERT INTO documents (collection, id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		collection, doc.ID, meta, toNanos(doc.CreatedAt), toNanos(doc.UpdatedAt))
}

type scanner interface {
	Scan(dest ...any) error
}

func (b *Backend) scanDocument(s scanner) (storage.DocumentRecord, error) {
	var (
		doc              storage.DocumentRecord
		meta             sql.NullString
		created, updated int64
	)

	if err := s.Scan(&doc.ID, &meta, &created, &updated); err != nil {
		return storage.DocumentRecord{}, err
	}

	m, err := b.decodeMetadata(meta)
	if err != nil {
		return storage.DocumentRecord{}, err
	}

	doc.Metadata = m
	doc.CreatedAt = fromNanos(created)
	doc.UpdatedAt = fromNanos(updated)

	return doc, nil
}

// GetDocument returns a stored document.
func (b *Backend) GetDocument(ctx context.Context, collection, id string) (storage.DocumentRecord, error) {
	db, err := b.handle()
	if err != nil {
		return storage.DocumentRecord{}, err
	}

	row := db.QueryRowContext(ctx,
		"SELECT id, metadata, created_at, updated_at FROM documents WHERE collection = ? AND id = ?",
		collection, id)

	doc, err := b.scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DocumentRecord{}, fmt.Errorf("document %q: %w", id, storage.ErrNotFound)
	}

	return doc, err
}

// DeleteDocument removes a document.
func (b *Backend) DeleteDocument(ctx context.Context, collection, id string) error {
	return b.exec(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
}

// ListDocuments returns every document of a collection ordered by id.
func (b *Backend) ListDocuments(ctx context.Context, collection string) ([]storage.DocumentRecord, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, metadata, created_at, updated_at FROM documents WHERE collection = ? ORDER BY id",
		collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.DocumentRecord

	for rows.Next() {
		doc, err := b.scanDocument(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, doc)
	}

	return out, rows.Err()
}

// PutVector stores v.
func (b *Backend) PutVector(ctx context.Context, collection string, v storage.VectorRecord) error {
	return b.exec(ctx, `
		INSERT INTO vectors (collection, id, embedding) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET embedding = excluded.embedding`,
		collection, v.ID, storage.EncodeVector(v.Vector))
}

// GetVector returns a stored vector.
func (b *Backend) GetVector(ctx context.Context, collection, id string) (storage.VectorRecord, error) {
	db, err := b.handle()
	if err != nil {
		return storage.VectorRecord{}, err
	}

	var blob []byte

	err = db.QueryRowContext(ctx,
		"SELECT embedding FROM vectors WHERE collection = ? AND id = ?", collection, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.VectorRecord{}, fmt.Errorf("vector %q: %w", id, storage.ErrNotFound)
	}

	if err != nil {
		return storage.VectorRecord{}, err
	}

	vec, err := storage.DecodeVector(blob)
	if err != nil {
		return storage.VectorRecord{}, err
	}

	return storage.VectorRecord{ID: id, Vector: vec}, nil
}

// DeleteVector removes a vector.
func (b *Backend) DeleteVector(ctx context.Context, collection, id string) error {
	return b.exec(ctx, "DELETE FROM vectors WHERE collection = ? AND id = ?", collection, id)
}

// ListVectors returns every vector of a collection ordered by id.
func (b *Backend) ListVectors(ctx context.Context, collection string) ([]storage.VectorRecord, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, embedding FROM vectors WHERE collection = ? ORDER BY id", collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.VectorRecord

	for rows.Next() {
		var (
			id   string
			blob []byte
		)

		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}

		vec, err := storage.DecodeVector(blob)
		if err != nil {
			return nil, err
		}

		out = append(out, storage.VectorRecord{ID: id, Vector: vec})
	}

	return out, rows.Err()
}

// PutCollection stores a collection descriptor.
func (b *Backend) PutCollection(ctx context.Context, c storage.CollectionRecord) error {
	return b.exec(ctx, `
		INSERT INTO collections (id, name, dimension, metric, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			dimension = excluded.dimension,
			metric = excluded.metric,
			created_at = excluded.created_at`,
		c.ID, c.Name, c.Dimension, c.Metric, toNanos(c.CreatedAt))
}

func scanCollection(s scanner) (storage.CollectionRecord, error) {
	var (
		c       storage.CollectionRecord
		created int64
	)

	if err := s.Scan(&c.ID, &c.Name, &c.Dimension, &c.Metric, &created); err != nil {
		return storage.CollectionRecord{}, err
	}

	c.CreatedAt = fromNanos(created)

	return c, nil
}

// GetCollection returns a collection descriptor.
func (b *Backend) GetCollection(ctx context.Context, id string) (storage.CollectionRecord, error) {
	db, err := b.handle()
	if err != nil {
		return storage.CollectionRecord{}, err
	}

	c, err := scanCollection(db.QueryRowContext(ctx,
		"SELECT id, name, dimension, metric, created_at FROM collections WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CollectionRecord{}, fmt.Errorf("collection %q: %w", id, storage.ErrNotFound)
	}

	return c, err
}

// ListCollections returns every collection ordered by id.
func (b *Backend) ListCollections(ctx context.Context) ([]storage.CollectionRecord, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT id, name, dimension, metric, created_at FROM collections ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.CollectionRecord

	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// SaveIndex stores the serialized index of a collection.
func (b *Backend) SaveIndex(ctx context.Context, collection string, blob []byte) error {
	return b.exec(ctx, `
		INSERT INTO indexes (collection, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (collection) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, blob, time.Now().UnixNano())
}

// LoadIndex returns the serialized index of a collection.
func (b *Backend) LoadIndex(ctx context.Context, collection string) ([]byte, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var blob []byte

	err = db.QueryRowContext(ctx, "SELECT data FROM indexes WHERE collection = ?", collection).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index %q: %w", collection, storage.ErrNotFound)
	}

	return blob, err
}

// DeleteIndex removes the serialized index of a collection.
func (b *Backend) DeleteIndex(ctx context.Context, collection string) error {
	return b.exec(ctx, "DELETE FROM indexes WHERE collection = ?", collection)
}

func (b *Backend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := b.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// ClearCollection removes documents, vectors and the index of a collection.
func (b *Backend) ClearCollection(ctx context.Context, collection string) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"documents", "vectors", "indexes"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE collection = ?", collection); err != nil {
				return fmt.Errorf("sqlite: clear %s: %w", table, err)
			}
		}

		return nil
	})
}

// Clear removes every record but the schema history and the logs.
func (b *Backend) Clear(ctx context.Context) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"documents", "vectors", "indexes", "collections"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("sqlite: clear %s: %w", table, err)
			}
		}

		return nil
	})
}

// Count returns the number of documents in a collection.
func (b *Backend) Count(ctx context.Context, collection string) (int, error) {
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&n)

	return n, err
}

// EstimateSize returns the size of the database pages.
func (b *Backend) EstimateSize(ctx context.Context) (int64, error) {
	db, err := b.handle()
	if err != nil {
		return 0, err
	}

	var pages, pageSize int64

	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}

	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}

	return pages * pageSize, nil
}

// WAL returns the table backed log of a collection.
func (b *Backend) WAL(ctx context.Context, collection string) (wal.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil, storage.ErrClosed
	}

	if l, ok := b.wals[collection]; ok {
		return l, nil
	}

	l, err := openLog(ctx, b.db, collection, b.codec)
	if err != nil {
		return nil, err
	}

	b.wals[collection] = l

	return l, nil
}
