// Package localvec is an embedded vector database for semantic search in
// local-first applications.
//
// It stores fixed-dimension float32 vectors with metadata, finds
// approximate nearest neighbours through an HNSW graph and persists
// everything through a pluggable storage.Backend. Several handles, in this
// or other processes, may share one store: mutations of a collection are
// serialized by a lock.Locker and announced through a
// broadcast.Broadcaster so other handles reload their index.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := localvec.Open(ctx, badger.New(func(o *badger.Options) {
//	    o.Dir = "./data"
//	}), localvec.WithDimension(384))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close(ctx)
//
//	docs, _ := db.Collection("docs")
//	_ = docs.Add(ctx, "readme", embedding, map[string]any{"lang": "en"})
//
//	results, _ := docs.Search(ctx, query, 5,
//	    localvec.WithFilter(map[string]any{"lang": "en"}),
//	    localvec.WithThreshold(0.7),
//	)
//
// # Durability Model
//
// Every mutation records its intent in the collection write-ahead log,
// writes the document and vector records, updates the in-memory index and
// commits the intent. The serialized index is written once per batch
// (WithBatchSize), after which the log is checkpointed. When a process
// dies in between, the next open rolls interrupted writes forward from the
// log and completes interrupted deletes.
//
// # Storage Backends
//
//   - storage/memory: in-process, for tests
//   - storage/badger: BadgerDB v4 with a file WAL per collection
//   - storage/sqlite: SQLite with the WAL as a table
package localvec
