package metrics

import (
	"context"
	"time"

	"github.com/fritsstegmann/fily/pkg/storage"
)

// InstrumentedStore wraps an ObjectStore and records per-operation metrics.
type InstrumentedStore struct {
	inner storage.ObjectStore
	obs   StorageObserver
}

// NewInstrumentedStore decorates inner with the given observer.
func NewInstrumentedStore(inner storage.ObjectStore, obs StorageObserver) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, obs: obs}
}

func (s *InstrumentedStore) CreateBucket(ctx context.Context, bucket string) error {
	start := time.Now()
	err := s.inner.CreateBucket(ctx, bucket)
	s.obs.Observe("create_bucket", 0, err, time.Since(start))
	return err
}

func (s *InstrumentedStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.BucketExists(ctx, bucket)
	s.obs.Observe("bucket_exists", 0, err, time.Since(start))
	return ok, err
}

func (s *InstrumentedStore) ListBuckets(ctx context.Context) ([]storage.BucketInfo, error) {
	start := time.Now()
	out, err := s.inner.ListBuckets(ctx)
	s.obs.Observe("list_buckets", 0, err, time.Since(start))
	return out, err
}

func (s *InstrumentedStore) DeleteBucket(ctx context.Context, bucket string) error {
	start := time.Now()
	err := s.inner.DeleteBucket(ctx, bucket)
	s.obs.Observe("delete_bucket", 0, err, time.Since(start))
	return err
}

func (s *InstrumentedStore) Put(ctx context.Context, bucket, key string, blob []byte) error {
	start := time.Now()
	err := s.inner.Put(ctx, bucket, key, blob)
	s.obs.Observe("put", int64(len(blob)), err, time.Since(start))
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, bucket, key string) ([]byte, time.Time, error) {
	start := time.Now()
	blob, mod, err := s.inner.Get(ctx, bucket, key)
	s.obs.Observe("get", int64(len(blob)), err, time.Since(start))
	return blob, mod, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, bucket, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, bucket, key)
	s.obs.Observe("delete", 0, err, time.Since(start))
	return err
}
