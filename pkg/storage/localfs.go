package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fritsstegmann/fily/pkg/pathsec"
)

// LocalFS implements ObjectStore on a single local directory. Buckets are
// directories directly under the root; object keys map to nested paths
// via pathsec.
type LocalFS struct {
	root string // absolute storage root
}

// NewLocalFS creates the root directory (0700) if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: no data directory configured")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, err
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the absolute storage root.
func (l *LocalFS) Root() string { return l.root }

func (l *LocalFS) CreateBucket(ctx context.Context, name string) error {
	if err := pathsec.ValidateBucketName(name); err != nil {
		return err
	}
	if err := os.Mkdir(filepath.Join(l.root, name), 0o700); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrBucketExists
		}
		return err
	}
	return SyncDir(l.root)
}

func (l *LocalFS) BucketExists(ctx context.Context, name string) (bool, error) {
	if err := pathsec.ValidateBucketName(name); err != nil {
		return false, err
	}
	st, err := os.Stat(filepath.Join(l.root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return st.IsDir(), nil
}

// ListBuckets returns all bucket directories sorted by name. Directory
// mtime stands in for the creation date.
func (l *LocalFS) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	out := make([]BucketInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if pathsec.ValidateBucketName(e.Name()) != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, BucketInfo{Name: e.Name(), CreationDate: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteBucket removes the bucket directory. Sidecar records under
// .fily-metadata do not count as user objects and are removed with the
// bucket; any other file blocks deletion.
func (l *LocalFS) DeleteBucket(ctx context.Context, name string) error {
	if err := pathsec.ValidateBucketName(name); err != nil {
		return err
	}
	bdir := filepath.Join(l.root, name)
	if _, err := os.Stat(bdir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBucketNotFound
		}
		return err
	}
	empty, err := l.bucketEmpty(bdir)
	if err != nil {
		return err
	}
	if !empty {
		return ErrBucketNotEmpty
	}
	if err := os.RemoveAll(bdir); err != nil {
		return err
	}
	return SyncDir(l.root)
}

// bucketEmpty walks the bucket looking for any regular file outside the
// metadata directory.
func (l *LocalFS) bucketEmpty(bdir string) (bool, error) {
	empty := true
	err := filepath.WalkDir(bdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == pathsec.MetadataDirName && path != bdir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			empty = false
			return filepath.SkipAll
		}
		return nil
	})
	return empty, err
}

// Put writes the blob atomically: temp file in the destination directory,
// fsync, rename, directory sync. The blob is whatever the caller hands
// over; encryption happens upstream.
func (l *LocalFS) Put(ctx context.Context, bucket, key string, blob []byte) error {
	ok, err := l.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBucketNotFound
	}
	path, err := pathsec.SafePath(l.root, bucket, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return SyncDir(dir)
}

func (l *LocalFS) Get(ctx context.Context, bucket, key string) ([]byte, time.Time, error) {
	ok, err := l.BucketExists(ctx, bucket)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return nil, time.Time{}, ErrBucketNotFound
	}
	path, err := pathsec.SafePath(l.root, bucket, key)
	if err != nil {
		return nil, time.Time{}, err
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, ErrObjectNotFound
		}
		return nil, time.Time{}, err
	}
	if !st.Mode().IsRegular() {
		return nil, time.Time{}, ErrObjectNotFound
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return blob, st.ModTime().UTC(), nil
}

func (l *LocalFS) Delete(ctx context.Context, bucket, key string) error {
	ok, err := l.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBucketNotFound
	}
	path, err := pathsec.SafePath(l.root, bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}
		return err
	}
	// Best effort: fold up now-empty key directories.
	_ = removeEmptyParents(filepath.Dir(path), filepath.Join(l.root, bucket))
	return nil
}

func removeEmptyParents(dir, stop string) error {
	for {
		if dir == stop || dir == "/" || dir == "." || dir == "" {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return nil
		}
		dir = filepath.Dir(dir)
	}
}
