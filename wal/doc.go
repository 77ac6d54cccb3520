// Package wal provides write-ahead logging for multi-step mutations.
//
// Adding a document touches the document store, the vector store, the
// in-memory index and the persisted index blob. Begin records the intent
// with its full payload before those steps run; Commit marks them done;
// Checkpoint truncates the log once the index blob has been persisted. On
// reopen, Pending reports everything since the last checkpoint so the
// caller can reconcile interrupted mutations instead of assuming they were
// atomic.
//
// File is the durable implementation: a header followed by CRC framed
// records, one file per collection. A torn tail left by a crash is dropped
// on open. Memory is a volatile implementation for tests.
package wal
