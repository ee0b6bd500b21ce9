// Package minio stores index snapshots in MinIO or any other S3-compatible
// service (Ceph, SeaweedFS, Garage) through the MinIO Go client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "indexes/")
//	err = idx.Save(ctx, store, "products.hbs")
package minio
