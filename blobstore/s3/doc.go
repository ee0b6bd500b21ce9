// Package s3 stores index snapshots in Amazon S3.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = idx.Save(ctx, store, "products.hbs")
//
// CommitStore adds a DynamoDB-backed CURRENT pointer so concurrent writers
// can publish snapshots without overwriting each other.
package s3
