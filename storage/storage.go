// Package storage defines the persistence contract the database is built on.
//
// A Backend stores three kinds of records per collection (documents,
// vectors and the serialized index blob), collection descriptors and a
// write-ahead log per collection. Adapters live in sub-packages: memory,
// badger and sqlite. The storagetest package holds the conformance suite
// every adapter runs.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/localvec/wal"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrClosed is returned when the backend is not open.
	ErrClosed = errors.New("storage: closed")
)

// DocumentRecord is the metadata half of a stored document.
type DocumentRecord struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// VectorRecord is the vector half of a stored document.
type VectorRecord struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// CollectionRecord describes a collection. The id equals the name.
type CollectionRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	CreatedAt time.Time `json:"createdAt"`
}

// Backend is the storage contract. Implementations must be safe for
// concurrent use once opened.
type Backend interface {
	// Name identifies the physical store, for example a path. It scopes
	// lock keys so two handles on the same store contend.
	Name() string

	Open(ctx context.Context) error
	Close() error

	// Persistent reports whether data survives a process restart.
	Persistent() bool

	// SchemaVersion returns the applied migration version.
	SchemaVersion(ctx context.Context) (int, error)

	PutDocument(ctx context.Context, collection string, doc DocumentRecord) error
	GetDocument(ctx context.Context, collection, id string) (DocumentRecord, error)
	DeleteDocument(ctx context.Context, collection, id string) error
	ListDocuments(ctx context.Context, collection string) ([]DocumentRecord, error)

	PutVector(ctx context.Context, collection string, v VectorRecord) error
	GetVector(ctx context.Context, collection, id string) (VectorRecord, error)
	DeleteVector(ctx context.Context, collection, id string) error
	ListVectors(ctx context.Context, collection string) ([]VectorRecord, error)

	PutCollection(ctx context.Context, c CollectionRecord) error
	GetCollection(ctx context.Context, id string) (CollectionRecord, error)
	ListCollections(ctx context.Context) ([]CollectionRecord, error)

	SaveIndex(ctx context.Context, collection string, blob []byte) error
	LoadIndex(ctx context.Context, collection string) ([]byte, error)
	DeleteIndex(ctx context.Context, collection string) error

	// ClearCollection removes documents, vectors and the index blob of a
	// collection. The collection record is kept.
	ClearCollection(ctx context.Context, collection string) error

	// Clear removes everything.
	Clear(ctx context.Context) error

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// EstimateSize returns an approximation of the bytes in use.
	EstimateSize(ctx context.Context) (int64, error)

	// WAL returns the write-ahead log of a collection. Repeated calls
	// return the same log.
	WAL(ctx context.Context, collection string) (wal.Log, error)
}
