package storage

import (
	"context"
	"errors"
	"time"
)

// BucketInfo describes one bucket for listings.
type BucketInfo struct {
	Name         string
	CreationDate time.Time
}

// Errors returned by ObjectStore implementations.
var (
	ErrBucketNotFound = errors.New("storage: bucket not found")
	ErrBucketExists   = errors.New("storage: bucket already exists")
	ErrBucketNotEmpty = errors.New("storage: bucket not empty")
	ErrObjectNotFound = errors.New("storage: object not found")
)

// ObjectStore abstracts payload and bucket I/O for the S3 layer. Payloads
// are whole byte slices: request bodies arrive fully buffered by the
// authentication middleware, and encrypted blobs must be read in full to
// authenticate anyway.
//
// Implementations MUST be safe for concurrent use. Two concurrent Puts to
// the same key are last-writer-wins; each Put is individually atomic.
type ObjectStore interface {
	CreateBucket(ctx context.Context, name string) error
	BucketExists(ctx context.Context, name string) (bool, error)
	ListBuckets(ctx context.Context) ([]BucketInfo, error)
	// DeleteBucket fails with ErrBucketNotEmpty when the bucket still
	// holds user objects; sidecar records alone do not block deletion.
	DeleteBucket(ctx context.Context, name string) error

	Put(ctx context.Context, bucket, key string, blob []byte) error
	Get(ctx context.Context, bucket, key string) (blob []byte, modTime time.Time, err error)
	Delete(ctx context.Context, bucket, key string) error
}
