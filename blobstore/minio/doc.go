// Package minio stores export bundles in MinIO or any other S3-compatible
// object store through the native MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "exports/")
//	err = coll.ExportTo(ctx, store, "docs.bundle")
package minio
