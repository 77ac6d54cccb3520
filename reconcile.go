package localvec

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/localvec/hnsw"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// reconcile replays the pending WAL records against storage and idx in
// sequence order and returns how many it handled. Interrupted writes are
// rolled forward from the intent payload; deletes and clears are
// completed. The caller holds the write lock and checkpoints afterwards.
func (c *Collection) reconcile(ctx context.Context, idx **hnsw.HNSW) (int, error) {
	pending, err := c.log.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read wal of %q: %w", c.name, err)
	}

	for i, rec := range pending {
		var err error

		switch rec.Op {
		case wal.OpAdd, wal.OpUpdate:
			err = c.replayWrite(ctx, *idx, rec)
		case wal.OpDelete:
			err = c.replayDelete(ctx, *idx, rec)
		case wal.OpClear:
			err = c.db.backend.ClearCollection(ctx, c.name)
			if err == nil {
				*idx, err = c.newIndex()
			}
		default:
			c.logger.WarnContext(ctx, "skipping unknown wal record", "seq", rec.Seq, "op", rec.Op)
		}

		if err != nil {
			return i, fmt.Errorf("reconcile %s of %q (seq %d): %w", rec.Op, rec.DocumentID, rec.Seq, err)
		}
	}

	return len(pending), nil
}

func (c *Collection) replayWrite(ctx context.Context, idx *hnsw.HNSW, rec wal.Record) error {
	if !rec.Committed {
		if err := c.rollForward(ctx, rec); err != nil {
			return err
		}
	}

	v, err := c.db.backend.GetVector(ctx, c.name, rec.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if cur, ok := idx.Vector(v.ID); ok && slices.Equal(cur, v.Vector) {
		return nil
	}

	if err := idx.Add(v.ID, v.Vector); err != nil {
		c.logger.WarnContext(ctx, "skipping unindexable vector", "id", v.ID, "error", err)
	}

	return nil
}

// rollForward completes the storage half of an uncommitted write.
func (c *Collection) rollForward(ctx context.Context, rec wal.Record) error {
	if rec.Vector != nil {
		stored, err := c.db.backend.GetVector(ctx, c.name, rec.DocumentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err != nil || !slices.Equal(stored.Vector, rec.Vector) {
			if err := c.db.backend.PutVector(ctx, c.name, storage.VectorRecord{
				ID:     rec.DocumentID,
				Vector: rec.Vector,
			}); err != nil {
				return err
			}
		}
	}

	doc, err := c.db.backend.GetDocument(ctx, c.name, rec.DocumentID)

	switch {
	case errors.Is(err, storage.ErrNotFound):
		doc = storage.DocumentRecord{ID: rec.DocumentID, CreatedAt: rec.Timestamp}
	case err != nil:
		return err
	}

	doc.Metadata, doc.UpdatedAt = rec.Metadata, rec.Timestamp

	return c.db.backend.PutDocument(ctx, c.name, doc)
}

func (c *Collection) replayDelete(ctx context.Context, idx *hnsw.HNSW, rec wal.Record) error {
	if err := c.db.backend.DeleteDocument(ctx, c.name, rec.DocumentID); err != nil {
		return err
	}

	if err := c.db.backend.DeleteVector(ctx, c.name, rec.DocumentID); err != nil {
		return err
	}

	idx.Delete(rec.DocumentID)

	return nil
}
