package localvec

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/hupe1980/localvec/blobstore"
	"github.com/hupe1980/localvec/bundle"
	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/wal"
)

// ImportMode selects how Import treats existing data.
type ImportMode int

const (
	// ImportMerge upserts bundle documents into existing collections.
	ImportMerge ImportMode = iota
	// ImportReplace clears every bundled collection before restoring it.
	ImportReplace
)

// ExportOption configures Export and ExportTo.
type ExportOption func(*exportOptions)

type exportOptions struct {
	collections    []string
	withoutVectors bool
	compression    codec.Compression
}

// WithCollections limits an export to the named collections.
func WithCollections(names ...string) ExportOption {
	return func(o *exportOptions) {
		o.collections = names
	}
}

// WithoutVectors exports metadata only.
func WithoutVectors() ExportOption {
	return func(o *exportOptions) {
		o.withoutVectors = true
	}
}

// WithExportCompression compresses bundles written by ExportTo. Defaults to
// zstd.
func WithExportCompression(c codec.Compression) ExportOption {
	return func(o *exportOptions) {
		o.compression = c
	}
}

// ImportOption configures Import and ImportFrom.
type ImportOption func(*importOptions)

type importOptions struct {
	mode     ImportMode
	progress func(done, total int)
}

// WithImportMode selects merge or replace.
func WithImportMode(m ImportMode) ImportOption {
	return func(o *importOptions) {
		o.mode = m
	}
}

// WithImportProgress reports imported documents across all collections.
func WithImportProgress(fn func(done, total int)) ImportOption {
	return func(o *importOptions) {
		o.progress = fn
	}
}

// ImportResult counts what Import restored.
type ImportResult struct {
	Collections  int `json:"collections"`
	Documents    int `json:"documents"`
	MetadataOnly int `json:"metadataOnly"`
}

// Export snapshots collections into a bundle. Without WithCollections every
// stored collection is exported.
func (db *DB) Export(ctx context.Context, optFns ...ExportOption) (*bundle.Bundle, error) {
	eo := exportOptions{compression: codec.CompressionZstd}
	for _, fn := range optFns {
		fn(&eo)
	}

	names := eo.collections
	if len(names) == 0 {
		var err error
		if names, err = db.Collections(ctx); err != nil {
			return nil, err
		}
	}

	b := bundle.New()

	for _, name := range names {
		c, err := db.Collection(name)
		if err != nil {
			return nil, err
		}

		bc, err := c.export(ctx, eo.withoutVectors)
		if err != nil {
			return nil, fmt.Errorf("export %q: %w", name, err)
		}

		b.Collections = append(b.Collections, bc)
	}

	return b, nil
}

// Export snapshots this collection into a bundle.
func (c *Collection) Export(ctx context.Context, optFns ...ExportOption) (*bundle.Bundle, error) {
	return c.db.Export(ctx, append(optFns, WithCollections(c.name))...)
}

func (c *Collection) export(ctx context.Context, withoutVectors bool) (bundle.Collection, error) {
	if err := c.ensureReady(ctx); err != nil {
		return bundle.Collection{}, err
	}

	docs, err := c.db.backend.ListDocuments(ctx, c.name)
	if err != nil {
		return bundle.Collection{}, translateError(err)
	}

	vectors := map[string][]float32{}

	if !withoutVectors {
		recs, err := c.db.backend.ListVectors(ctx, c.name)
		if err != nil {
			return bundle.Collection{}, translateError(err)
		}

		for _, r := range recs {
			vectors[r.ID] = r.Vector
		}
	}

	bc := bundle.Collection{
		Name:       c.name,
		Dimensions: c.Dimension(),
		Documents:  make([]bundle.Document, len(docs)),
	}

	for i, d := range docs {
		bc.Documents[i] = bundle.Document{ID: d.ID, Metadata: d.Metadata, Vector: vectors[d.ID]}
	}

	return bc, nil
}

// Import restores a bundle. Documents with vectors go through the regular
// add path and are re-indexed; metadata-only documents keep an existing
// vector or are stored unindexed.
func (db *DB) Import(ctx context.Context, b *bundle.Bundle, optFns ...ImportOption) (ImportResult, error) {
	var iopts importOptions
	for _, fn := range optFns {
		fn(&iopts)
	}

	if err := b.Validate(); err != nil {
		return ImportResult{}, err
	}

	var (
		res   ImportResult
		total = b.Len()
	)

	for _, bc := range b.Collections {
		c, err := db.Collection(bc.Name, WithDimension(bc.Dimensions))
		if err != nil {
			return res, err
		}

		if iopts.mode == ImportReplace {
			if err := c.Clear(ctx); err != nil {
				return res, fmt.Errorf("clear %q: %w", bc.Name, err)
			}
		}

		var withVector []Document

		var metaOnly []bundle.Document

		for _, d := range bc.Documents {
			if d.Vector == nil {
				metaOnly = append(metaOnly, d)
				continue
			}

			withVector = append(withVector, Document{ID: d.ID, Vector: d.Vector, Metadata: d.Metadata})
		}

		offset := res.Documents

		n, err := c.AddMany(ctx, withVector, WithProgress(func(done, _ int) {
			if iopts.progress != nil {
				iopts.progress(offset+done, total)
			}
		}))
		res.Documents += n

		if err != nil {
			return res, fmt.Errorf("import %q: %w", bc.Name, err)
		}

		if err := c.putMetadata(ctx, metaOnly); err != nil {
			return res, fmt.Errorf("import %q: %w", bc.Name, err)
		}

		res.Documents += len(metaOnly)
		res.MetadataOnly += len(metaOnly)
		res.Collections++

		if iopts.progress != nil && len(metaOnly) > 0 {
			iopts.progress(res.Documents, total)
		}
	}

	return res, nil
}

// putMetadata stores metadata-only documents, replacing their metadata and
// leaving any stored vector in place.
func (c *Collection) putMetadata(ctx context.Context, docs []bundle.Document) error {
	if len(docs) == 0 {
		return nil
	}

	return c.write(ctx, func(ctx context.Context) error {
		now := c.now()

		for _, d := range docs {
			prev, err := c.db.backend.GetDocument(ctx, c.name, d.ID)

			switch {
			case errors.Is(err, storage.ErrNotFound):
				prev = storage.DocumentRecord{ID: d.ID, CreatedAt: now}
			case err != nil:
				return err
			}

			seq, err := c.log.Begin(ctx, wal.Entry{
				Op:         wal.OpUpdate,
				Collection: c.name,
				DocumentID: d.ID,
				Metadata:   d.Metadata,
				Timestamp:  now,
			})
			if err != nil {
				return fmt.Errorf("wal begin: %w", err)
			}

			prev.Metadata, prev.UpdatedAt = maps.Clone(d.Metadata), now
			if err := c.db.backend.PutDocument(ctx, c.name, prev); err != nil {
				return err
			}

			if err := c.log.Commit(ctx, seq); err != nil {
				return fmt.Errorf("wal commit: %w", err)
			}
		}

		return c.log.Checkpoint(ctx)
	})
}

// ExportTo encodes an export and stores it in store under name.
func (db *DB) ExportTo(ctx context.Context, store blobstore.Store, name string, optFns ...ExportOption) error {
	eo := exportOptions{compression: codec.CompressionZstd}
	for _, fn := range optFns {
		fn(&eo)
	}

	b, err := db.Export(ctx, optFns...)
	if err != nil {
		return err
	}

	data, err := bundle.Encode(b, eo.compression)
	if err != nil {
		return err
	}

	if err := store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("store bundle %q: %w", name, err)
	}

	db.opts.logger.InfoContext(ctx, "bundle exported",
		"name", name,
		"collections", len(b.Collections),
		"documents", b.Len(),
		"bytes", len(data),
	)

	return nil
}

// ImportFrom loads the bundle stored under name and imports it.
func (db *DB) ImportFrom(ctx context.Context, store blobstore.Store, name string, optFns ...ImportOption) (ImportResult, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return ImportResult{}, fmt.Errorf("load bundle %q: %w", name, err)
	}

	b, err := bundle.Decode(data)
	if err != nil {
		return ImportResult{}, err
	}

	res, err := db.Import(ctx, b, optFns...)
	if err == nil {
		names := make([]string, len(b.Collections))
		for i, bc := range b.Collections {
			names[i] = bc.Name
		}

		db.opts.logger.InfoContext(ctx, "bundle imported",
			"name", name,
			"collections", names,
			"documents", res.Documents,
		)
	}

	return res, err
}

// ExportTo encodes this collection and stores it in store under name.
func (c *Collection) ExportTo(ctx context.Context, store blobstore.Store, name string, optFns ...ExportOption) error {
	return c.db.ExportTo(ctx, store, name, append(optFns, WithCollections(c.name))...)
}
