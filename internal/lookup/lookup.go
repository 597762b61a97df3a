// Package lookup provides the key-value stores that rule lookups are served
// from, and wrappers around them.
package lookup

import "context"

// Fetcher resolves keys of a bucket to raw values, aligned by position.
type Fetcher interface {
	FetchMany(ctx context.Context, bucket string, keys []string) ([]*string, error)
}

// Store is a Fetcher that can also be administered.
type Store interface {
	Fetcher
	Put(ctx context.Context, bucket, key, value string) error
	Delete(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket string) (map[string]string, error)
}
