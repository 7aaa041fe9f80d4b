package metadata

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := NewFSStore(root)

	meta := &ObjectMetadata{
		ContentType:   "text/plain",
		ContentLength: 6,
		ETag:          "b1946ac92492d2347c6235b4d2611184",
		LastModified:  HTTPTimeNow(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		UserMetadata:  map[string]string{"owner": "alice"},
		Encrypted:     true,
	}
	if err := s.Save("docs", "notes/hello.txt", meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("docs", "notes/hello.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for existing sidecar")
	}
	if got.ContentType != meta.ContentType || got.ContentLength != meta.ContentLength ||
		got.ETag != meta.ETag || got.LastModified != meta.LastModified ||
		got.Encrypted != meta.Encrypted || got.UserMetadata["owner"] != "alice" {
		t.Errorf("Load = %+v, want %+v", got, meta)
	}

	// Sidecar lives flat under .fily-metadata.
	dir := filepath.Join(root, "docs", ".fily-metadata")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 sidecar, got %d", len(entries))
	}
}

func TestFSStoreLoadAbsent(t *testing.T) {
	s := NewFSStore(t.TempDir())
	got, err := s.Load("docs", "missing.txt")
	if err != nil || got != nil {
		t.Errorf("Load absent = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestFSStoreLoadCorrupt(t *testing.T) {
	root := t.TempDir()
	s := NewFSStore(root)
	if err := s.Save("docs", "a.txt", &ObjectMetadata{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dir := filepath.Join(root, "docs", ".fily-metadata")
	entries, _ := os.ReadDir(dir)
	if err := os.WriteFile(filepath.Join(dir, entries[0].Name()), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Load("docs", "a.txt"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load corrupt = %v, want ErrCorrupt", err)
	}
}

func TestFSStoreDeleteIdempotent(t *testing.T) {
	s := NewFSStore(t.TempDir())
	if err := s.Save("docs", "a.txt", &ObjectMetadata{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("docs", "a.txt"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := s.Delete("docs", "a.txt"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	got, err := s.Load("docs", "a.txt")
	if err != nil || got != nil {
		t.Errorf("Load after delete = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestExtractUserMetadata(t *testing.T) {
	h := http.Header{}
	h.Set("X-Amz-Meta-Owner", "alice")
	h.Set("x-amz-meta-Project", "Fily")
	h.Set("Content-Type", "text/plain")
	h.Set("X-Amz-Date", "20240301T120000Z")

	got := ExtractUserMetadata(h)
	want := map[string]string{"owner": "alice", "project": "Fily"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("got[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestResolveContentType(t *testing.T) {
	cases := []struct {
		header, key, want string
	}{
		{"text/markdown", "a.txt", "text/markdown"},
		{"", "a.txt", "text/plain"},
		{"", "photo.JPG", "image/jpeg"},
		{"", "archive.bin", "application/octet-stream"},
		{"", "noext", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := ResolveContentType(tc.header, tc.key); got != tc.want {
			t.Errorf("ResolveContentType(%q, %q) = %q, want %q", tc.header, tc.key, got, tc.want)
		}
	}
}
