package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// Compile time check to ensure Log satisfies the wal interface.
var _ wal.Log = (*Log)(nil)

// Log is a wal.Log stored in the wal_entries table.
type Log struct {
	db         *sql.DB
	collection string
	codec      codec.Codec

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func openLog(ctx context.Context, db *sql.DB, collection string, c codec.Codec) (*Log, error) {
	var seq int64
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM wal_entries WHERE collection = ?", collection).Scan(&seq); err != nil {
		return nil, fmt.Errorf("sqlite: read wal sequence: %w", err)
	}

	return &Log{db: db, collection: collection, codec: c, seq: uint64(seq)}, nil
}

// Begin records e and returns its sequence number.
func (l *Log) Begin(ctx context.Context, e wal.Entry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, wal.ErrClosed
	}

	e.Seq = l.seq + 1
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var meta sql.NullString

	if e.Metadata != nil {
		raw, err := l.codec.Marshal(e.Metadata)
		if err != nil {
			return 0, fmt.Errorf("sqlite: encode wal metadata: %w", err)
		}

		meta = sql.NullString{String: string(raw), Valid: true}
	}

	var vec []byte
	if e.Vector != nil {
		vec = storage.EncodeVector(e.Vector)
	}

	if _, err := l.db.ExecContext(ctx,
		"INSERT INTO wal_entries (collection, seq, op, document_id, vector, metadata, ts) VALUES (?, ?, ?, ?, ?, ?, ?)",
		l.collection, int64(e.Seq), int(e.Op), e.DocumentID, vec, meta, e.Timestamp.UnixNano()); err != nil {
		return 0, fmt.Errorf("sqlite: append wal entry: %w", err)
	}

	l.seq = e.Seq

	return e.Seq, nil
}

// Commit marks seq as completed.
func (l *Log) Commit(ctx context.Context, seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return wal.ErrClosed
	}

	res, err := l.db.ExecContext(ctx,
		"UPDATE wal_entries SET committed = 1 WHERE collection = ? AND seq = ? AND committed = 0",
		l.collection, int64(seq))
	if err != nil {
		return fmt.Errorf("sqlite: commit wal entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %d", wal.ErrUnknownSequence, seq)
	}

	return nil
}

// Pending returns every record since the last checkpoint.
func (l *Log) Pending(ctx context.Context) ([]wal.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, wal.ErrClosed
	}

	rows, err := l.db.QueryContext(ctx,
		"SELECT seq, op, document_id, vector, metadata, ts, committed FROM wal_entries WHERE collection = ? ORDER BY seq",
		l.collection)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read wal: %w", err)
	}
	defer rows.Close()

	var out []wal.Record

	for rows.Next() {
		var (
			seq       int64
			op        int
			vec       []byte
			meta      sql.NullString
			ts        int64
			committed bool
			r         wal.Record
		)

		if err := rows.Scan(&seq, &op, &r.DocumentID, &vec, &meta, &ts, &committed); err != nil {
			return nil, err
		}

		r.Seq = uint64(seq)
		r.Op = wal.Op(op)
		r.Collection = l.collection
		r.Timestamp = time.Unix(0, ts)
		r.Committed = committed

		if vec != nil {
			if r.Vector, err = storage.DecodeVector(vec); err != nil {
				return nil, err
			}
		}

		if meta.Valid {
			if err := l.codec.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: decode wal metadata: %w", err)
			}
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// Checkpoint deletes every entry of the collection.
func (l *Log) Checkpoint(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return wal.ErrClosed
	}

	if _, err := l.db.ExecContext(ctx, "DELETE FROM wal_entries WHERE collection = ?", l.collection); err != nil {
		return fmt.Errorf("sqlite: checkpoint wal: %w", err)
	}

	return nil
}

// Close detaches the log. The database stays open.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true

	return nil
}
