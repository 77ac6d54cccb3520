// Package blobstore provides named object storage for collection export
// bundles.
//
// A Store holds whole objects addressed by slash-separated names. Objects
// are written atomically: readers see either the previous content or the
// new content, never a partial write.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests
//   - LocalStore: a directory on the local file system
//   - s3.Store: Amazon S3 using the multipart upload manager
//   - minio.Store: MinIO and other S3-compatible object stores
package blobstore
