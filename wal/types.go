package wal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/localvec/internal/fs"
)

var (
	// ErrClosed is returned when the log has been closed.
	ErrClosed = errors.New("wal: closed")

	// ErrUnknownSequence is returned when committing a sequence number that
	// was never begun or has already been checkpointed.
	ErrUnknownSequence = errors.New("wal: unknown sequence number")
)

// Op is the kind of mutation an entry announces.
type Op uint8

const (
	// OpAdd announces an insert of a new document.
	OpAdd Op = iota + 1
	// OpUpdate announces a change of an existing document.
	OpUpdate
	// OpDelete announces removal of a document.
	OpDelete
	// OpClear announces removal of every document of a collection.
	OpClear
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpClear:
		return "clear"
	default:
		return fmt.Sprintf("op(%d)", o)
	}
}

// Entry is the intent recorded before a multi-step mutation runs. It carries
// the full payload so an interrupted mutation can be rolled forward.
type Entry struct {
	Seq        uint64         `msgpack:"seq"`
	Op         Op             `msgpack:"op"`
	Collection string         `msgpack:"collection"`
	DocumentID string         `msgpack:"id,omitempty"`
	Vector     []float32      `msgpack:"vector,omitempty"`
	Metadata   map[string]any `msgpack:"metadata,omitempty"`
	Timestamp  time.Time      `msgpack:"ts"`
}

// Record is an entry read back from the log together with its commit state.
type Record struct {
	Entry
	Committed bool
}

// Log is a write-ahead log scoped to one collection.
//
// Begin durably records intent and returns its sequence number; Commit
// marks the steps of that intent as done; Pending returns everything since
// the last Checkpoint in sequence order.
type Log interface {
	Begin(ctx context.Context, e Entry) (uint64, error)
	Commit(ctx context.Context, seq uint64) error
	Pending(ctx context.Context) ([]Record, error)
	Checkpoint(ctx context.Context) error
	Close() error
}

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilitySync fsyncs after every begin and commit.
	DurabilitySync DurabilityMode = iota

	// DurabilityAsync never fsyncs. Writes survive a process crash but not
	// a power loss.
	DurabilityAsync
)

// Options contains configuration for the file WAL.
type Options struct {
	// FS is the file system used to access the log. Defaults to the local
	// file system.
	FS fs.FileSystem

	// Compress enables per-record zstd compression of entry bodies.
	Compress bool

	// DurabilityMode controls fsync behavior.
	DurabilityMode DurabilityMode

	// Now supplies entry timestamps when the caller leaves them zero.
	Now func() time.Time
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	FS:             fs.Default,
	DurabilityMode: DurabilitySync,
	Now:            time.Now,
}
