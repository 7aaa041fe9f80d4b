// Package metadata persists per-object sidecar records as JSON documents
// under each bucket's .fily-metadata directory.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fritsstegmann/fily/pkg/pathsec"
	"github.com/fritsstegmann/fily/pkg/storage"
)

// ObjectMetadata is the sidecar record for a stored object. ContentLength
// and ETag always describe the plaintext payload, even when the blob on
// disk is ciphertext.
type ObjectMetadata struct {
	ContentType   string            `json:"content_type"`
	ContentLength int64             `json:"content_length"`
	ETag          string            `json:"etag"`
	LastModified  string            `json:"last_modified"`
	UserMetadata  map[string]string `json:"user_metadata"`
	Encrypted     bool              `json:"encrypted"`
}

// ErrCorrupt marks a sidecar that exists but does not parse. Callers must
// fail the request; ETag and encryption state cannot be guessed.
var ErrCorrupt = errors.New("metadata: corrupt sidecar")

// Store is the sidecar persistence interface, keyed by (bucket, key).
type Store interface {
	Save(bucket, key string, meta *ObjectMetadata) error
	// Load returns (nil, nil) when no sidecar exists.
	Load(bucket, key string) (*ObjectMetadata, error)
	// Delete is idempotent; a missing sidecar is not an error.
	Delete(bucket, key string) error
}

// FSStore stores sidecars under root/<bucket>/.fily-metadata/.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Save writes the record atomically: temp file, fsync, rename.
func (s *FSStore) Save(bucket, key string, meta *ObjectMetadata) error {
	path, err := pathsec.MetadataPath(s.root, bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
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
	return storage.SyncDir(filepath.Dir(path))
}

func (s *FSStore) Load(bucket, key string) (*ObjectMetadata, error) {
	path, err := pathsec.MetadataPath(s.root, bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var meta ObjectMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrCorrupt, bucket, key, err)
	}
	return &meta, nil
}

func (s *FSStore) Delete(bucket, key string) error {
	path, err := pathsec.MetadataPath(s.root, bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// HTTPTimeNow formats t the way Last-Modified headers expect (RFC 7231).
func HTTPTimeNow(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ExtractUserMetadata collects x-amz-meta-* request headers. Keys are the
// lowercased header suffixes; values are taken verbatim.
func ExtractUserMetadata(h http.Header) map[string]string {
	out := map[string]string{}
	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-meta-") || len(values) == 0 {
			continue
		}
		out[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
	}
	return out
}

// Synthesize builds the default record used when a payload exists without
// a sidecar (crash between payload and metadata writes). The object is
// treated as plaintext.
func Synthesize(contentLength int64, etag string, modTime time.Time) *ObjectMetadata {
	return &ObjectMetadata{
		ContentType:   DefaultContentType,
		ContentLength: contentLength,
		ETag:          etag,
		LastModified:  HTTPTimeNow(modTime),
		UserMetadata:  map[string]string{},
		Encrypted:     false,
	}
}
