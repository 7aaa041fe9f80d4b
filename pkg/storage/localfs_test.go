package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestFS(t *testing.T) *LocalFS {
	t.Helper()
	l, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}
	return l
}

func TestBucketLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newTestFS(t)

	if err := l.CreateBucket(ctx, "docs"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := l.CreateBucket(ctx, "docs"); !errors.Is(err, ErrBucketExists) {
		t.Errorf("duplicate CreateBucket: got %v, want ErrBucketExists", err)
	}
	ok, err := l.BucketExists(ctx, "docs")
	if err != nil || !ok {
		t.Errorf("BucketExists = (%v, %v), want (true, nil)", ok, err)
	}

	// Bucket directory is private.
	st, err := os.Stat(filepath.Join(l.Root(), "docs"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Mode().Perm() != 0o700 {
		t.Errorf("bucket perm = %o, want 0700", st.Mode().Perm())
	}

	if err := l.CreateBucket(ctx, "archive"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	buckets, err := l.ListBuckets(ctx)
	if err != nil {
		t.Fatalf("ListBuckets: %v", err)
	}
	if len(buckets) != 2 || buckets[0].Name != "archive" || buckets[1].Name != "docs" {
		t.Errorf("ListBuckets = %v, want [archive docs]", buckets)
	}

	if err := l.DeleteBucket(ctx, "docs"); err != nil {
		t.Errorf("DeleteBucket: %v", err)
	}
	if err := l.DeleteBucket(ctx, "docs"); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("DeleteBucket twice: got %v, want ErrBucketNotFound", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	l := newTestFS(t)
	if err := l.CreateBucket(ctx, "docs"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	blob := []byte("hello\n")
	if err := l.Put(ctx, "docs", "notes/a.txt", blob); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, mod, err := l.Get(ctx, "docs", "notes/a.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello\n" || mod.IsZero() {
		t.Errorf("Get = (%q, %v)", got, mod)
	}

	// Overwrite is last-writer-wins.
	if err := l.Put(ctx, "docs", "notes/a.txt", []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _, _ = l.Get(ctx, "docs", "notes/a.txt")
	if string(got) != "v2" {
		t.Errorf("after overwrite = %q, want v2", got)
	}

	if err := l.Delete(ctx, "docs", "notes/a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := l.Get(ctx, "docs", "notes/a.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Get deleted: got %v, want ErrObjectNotFound", err)
	}
	if err := l.Delete(ctx, "docs", "notes/a.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Delete twice: got %v, want ErrObjectNotFound", err)
	}

	// Empty key directories fold up after delete.
	if _, err := os.Stat(filepath.Join(l.Root(), "docs", "notes")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("empty key dir not removed: %v", err)
	}
}

func TestPutRequiresBucket(t *testing.T) {
	ctx := context.Background()
	l := newTestFS(t)
	if err := l.Put(ctx, "nosuch", "a.txt", []byte("x")); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("Put: got %v, want ErrBucketNotFound", err)
	}
	if _, _, err := l.Get(ctx, "nosuch", "a.txt"); !errors.Is(err, ErrBucketNotFound) {
		t.Errorf("Get: got %v, want ErrBucketNotFound", err)
	}
}

func TestPutLeavesNoTempOnSuccess(t *testing.T) {
	ctx := context.Background()
	l := newTestFS(t)
	if err := l.CreateBucket(ctx, "docs"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := l.Put(ctx, "docs", "a.txt", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(l.Root(), "docs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestDeleteBucketIgnoresSidecars(t *testing.T) {
	ctx := context.Background()
	l := newTestFS(t)
	if err := l.CreateBucket(ctx, "docs"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	if err := l.Put(ctx, "docs", "a.txt", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := l.DeleteBucket(ctx, "docs"); !errors.Is(err, ErrBucketNotEmpty) {
		t.Fatalf("DeleteBucket with object: got %v, want ErrBucketNotEmpty", err)
	}
	if err := l.Delete(ctx, "docs", "a.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// A leftover sidecar must not block deletion.
	mdir := filepath.Join(l.Root(), "docs", ".fily-metadata")
	if err := os.MkdirAll(mdir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(mdir, "a.txt.json"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := l.DeleteBucket(ctx, "docs"); err != nil {
		t.Fatalf("DeleteBucket with sidecar only: %v", err)
	}
}

func TestTraversalRejected(t *testing.T) {
	ctx := context.Background()
	l := newTestFS(t)
	if err := l.CreateBucket(ctx, "docs"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	if err := l.Put(ctx, "docs", "../escape", []byte("x")); err == nil {
		t.Fatal("traversal key accepted")
	}
	if _, err := l.BucketExists(ctx, ".."); err == nil {
		t.Fatal("traversal bucket accepted")
	}
}
