package minio

import (
	"context"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/blobstore/blobstoretest"
)

// TestMinioStore_Integration requires a running MinIO instance at
// LOCALVEC_MINIO_ENDPOINT (default localhost:9000).
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("LOCALVEC_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	bucket := "test-localvec"

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)

	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	prefix := "conformance-" + t.Name()
	store := NewStore(client, bucket, prefix)

	t.Cleanup(func() {
		names, _ := store.List(ctx, "")
		for _, n := range names {
			_ = store.Delete(ctx, n)
		}
	})

	blobstoretest.Run(t, store)
}
