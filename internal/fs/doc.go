// Package fs provides the file system abstraction used by the WAL and the
// on-disk helpers, plus fault injection for tests.
//
// Production code uses fs.Default (the local file system):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
//
// Tests wrap it in a FaultyFS to make writes, syncs or truncations fail:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".wal", fs.Fault{FailAfterBytes: 64})
package fs
