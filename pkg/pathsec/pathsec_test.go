package pathsec

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateBucketName(t *testing.T) {
	valid := []string{"abc", "my-bucket", "my.bucket.01", "0-0-0", strings.Repeat("a", 63)}
	for _, name := range valid {
		if err := ValidateBucketName(name); err != nil {
			t.Errorf("ValidateBucketName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{
		"ab",
		strings.Repeat("a", 64),
		"MyBucket",
		"my_bucket",
		"-bucket",
		"bucket-",
		".bucket",
		"bucket.",
		"bu..cket",
		"192.168.1.1",
		"my bucket",
		"b√ºcket",
	}
	for _, name := range invalid {
		if err := ValidateBucketName(name); !errors.Is(err, ErrInvalidBucketName) {
			t.Errorf("ValidateBucketName(%q) = %v, want ErrInvalidBucketName", name, err)
		}
	}
}

func TestSanitizeObjectName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"file.txt", "file.txt"},
		{"a/b/c.txt", "a/b/c.txt"},
		{"a//b", "a/b"},
		{"trailing/", "trailing"},
		{"with space.txt", "with space.txt"},
	}
	for _, tc := range cases {
		got, err := SanitizeObjectName(tc.in)
		if err != nil {
			t.Errorf("SanitizeObjectName(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("SanitizeObjectName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	rejected := []string{
		"",
		"..",
		"../x",
		"x/../../y",
		"a/./b",
		"/abs",
		"\\abs",
		"a\\b",
		"a\x00b",
		"a\x1fb",
		"a\x7fb",
		"//",
		strings.Repeat("k", 1025),
	}
	for _, key := range rejected {
		if _, err := SanitizeObjectName(key); !errors.Is(err, ErrInvalidObjectName) {
			t.Errorf("SanitizeObjectName(%q) = %v, want ErrInvalidObjectName", key, err)
		}
	}

	// Exactly at the limit is allowed.
	if _, err := SanitizeObjectName(strings.Repeat("k", 1024)); err != nil {
		t.Errorf("1024-byte key rejected: %v", err)
	}
}

func TestSafePath(t *testing.T) {
	root := filepath.Join("/srv", "fily")
	p, err := SafePath(root, "photos", "2024/cat.jpg")
	if err != nil {
		t.Fatalf("SafePath error: %v", err)
	}
	want := filepath.Join(root, "photos", "2024", "cat.jpg")
	if p != want {
		t.Errorf("SafePath = %q, want %q", p, want)
	}

	if _, err := SafePath(root, "photos", "../other/secret"); !errors.Is(err, ErrInvalidObjectName) {
		t.Errorf("traversal key: got %v", err)
	}
	if _, err := SafePath(root, "..", "x"); !errors.Is(err, ErrInvalidBucketName) {
		t.Errorf("traversal bucket: got %v", err)
	}
}

func TestMetadataPathFlatAndDistinct(t *testing.T) {
	root := "/srv/fily"
	p1, err := MetadataPath(root, "docs", "a/b.txt")
	if err != nil {
		t.Fatalf("MetadataPath error: %v", err)
	}
	dir := filepath.Join(root, "docs", MetadataDirName)
	if filepath.Dir(p1) != dir {
		t.Errorf("sidecar not flat under %s: %s", dir, p1)
	}

	p2, err := MetadataPath(root, "docs", "a%2Fb.txt")
	if err != nil {
		t.Fatalf("MetadataPath error: %v", err)
	}
	if p1 == p2 {
		t.Errorf("distinct keys map to the same sidecar: %s", p1)
	}
}

func TestMetaNameRoundTrip(t *testing.T) {
	keys := []string{
		"file.txt",
		"a/b/c.txt",
		"with space and %percent",
		"uniçode/日本.bin",
		"pre%2Fencoded",
	}
	for _, key := range keys {
		enc := EncodeMetaName(key)
		if strings.ContainsAny(enc, "/\\") {
			t.Errorf("EncodeMetaName(%q) contains a separator: %q", key, enc)
		}
		dec, err := DecodeMetaName(enc)
		if err != nil {
			t.Errorf("DecodeMetaName(%q) error: %v", enc, err)
			continue
		}
		if dec != key {
			t.Errorf("round trip %q -> %q -> %q", key, enc, dec)
		}
	}

	if _, err := DecodeMetaName("bad%zz"); err == nil {
		t.Error("DecodeMetaName accepted a bad escape")
	}
	if _, err := DecodeMetaName("trunc%2"); err == nil {
		t.Error("DecodeMetaName accepted a truncated escape")
	}
}
