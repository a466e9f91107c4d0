// Package objectstore stores raw documents by bucket and key and hands out
// time-limited public URLs for them.
package objectstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	Put(ctx context.Context, bucket, key string, content []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// PublicURL returns a URL valid for ttl.
	PublicURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
