package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/localvec/codec"
	"github.com/hupe1980/localvec/storage"
	"github.com/hupe1980/localvec/storage/migrate"
)

var layoutKey = []byte("m/layout")

// migrations returns the schema history. Records are decoded with c, so a
// data directory must always be opened with the codec that wrote it.
func migrations(c codec.Codec) *migrate.Set[*badgerdb.Txn] {
	return migrate.MustNew(
		migrate.Migration[*badgerdb.Txn]{
			Version: 1,
			Name:    "key_layout",
			Up: func(_ context.Context, txn *badgerdb.Txn) error {
				return txn.Set(layoutKey, []byte(c.Name()))
			},
		},
		migrate.Migration[*badgerdb.Txn]{
			Version: 2,
			Name:    "collection_metric",
			Up: func(_ context.Context, txn *badgerdb.Txn) error {
				return backfillMetric(txn, c)
			},
		},
	)
}

func backfillMetric(txn *badgerdb.Txn, c codec.Codec) error {
	iterOpts := badgerdb.DefaultIteratorOptions
	iterOpts.Prefix = prefixCollection

	it := txn.NewIterator(iterOpts)

	type update struct {
		key []byte
		val []byte
	}

	var updates []update

	for it.Seek(prefixCollection); it.ValidForPrefix(prefixCollection); it.Next() {
		item := it.Item()

		raw, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}

		var rec storage.CollectionRecord
		if err := c.Unmarshal(raw, &rec); err != nil {
			it.Close()
			return fmt.Errorf("decode collection %q: %w", item.Key(), err)
		}

		if rec.Metric != "" {
			continue
		}

		rec.Metric = "cosine"

		val, err := c.Marshal(rec)
		if err != nil {
			it.Close()
			return err
		}

		updates = append(updates, update{key: item.KeyCopy(nil), val: val})
	}

	// Writes are not allowed while an iterator is open.
	it.Close()

	for _, u := range updates {
		if err := txn.Set(u.key, u.val); err != nil {
			return err
		}
	}

	return nil
}
