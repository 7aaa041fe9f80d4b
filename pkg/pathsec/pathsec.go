package pathsec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Package pathsec validates bucket and object names and maps them to
// filesystem paths that are provably contained under the storage root.
// It is purely lexical: no function in this package touches the filesystem.

// Errors returned by the validators. Callers map these to the S3 error
// codes InvalidBucketName, InvalidObjectName and the generic 400 family.
var (
	ErrInvalidBucketName = errors.New("pathsec: invalid bucket name")
	ErrInvalidObjectName = errors.New("pathsec: invalid object name")
	ErrPathEscape        = errors.New("pathsec: path escapes storage root")
)

const maxObjectNameBytes = 1024

// ValidateBucketName checks a bucket name against the S3 naming rules:
// 3-63 characters from [a-z0-9.-], first and last alphanumeric, no
// adjacent dots, and not shaped like an IPv4 address.
func ValidateBucketName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("%w: length %d not in [3,63]", ErrInvalidBucketName, len(name))
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '-' {
			continue
		}
		return fmt.Errorf("%w: invalid character %q", ErrInvalidBucketName, c)
	}
	if !isAlnum(name[0]) || !isAlnum(name[len(name)-1]) {
		return fmt.Errorf("%w: must start and end with a letter or digit", ErrInvalidBucketName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%w: adjacent dots", ErrInvalidBucketName)
	}
	if isIPv4(name) {
		return fmt.Errorf("%w: formatted as an IP address", ErrInvalidBucketName)
	}
	return nil
}

// SanitizeObjectName validates an object key and returns its normal form
// (empty path components collapsed). The key may contain "/" to denote
// synthetic directories. Rejected: empty keys, keys over 1024 bytes,
// "." or ".." segments, NUL and other ASCII control characters, a leading
// separator, and the Windows separator "\" anywhere.
func SanitizeObjectName(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidObjectName)
	}
	if len(key) > maxObjectNameBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidObjectName, len(key), maxObjectNameBytes)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c < 0x20 || c == 0x7f {
			return "", fmt.Errorf("%w: control character", ErrInvalidObjectName)
		}
	}
	if key[0] == '/' || key[0] == '\\' {
		return "", fmt.Errorf("%w: leading separator", ErrInvalidObjectName)
	}
	if strings.ContainsRune(key, '\\') {
		return "", fmt.Errorf("%w: backslash", ErrInvalidObjectName)
	}
	segs := strings.Split(key, "/")
	out := segs[:0]
	for _, s := range segs {
		if s == "" {
			continue
		}
		if s == "." || s == ".." {
			return "", fmt.Errorf("%w: traversal segment", ErrInvalidObjectName)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%w: empty after normalization", ErrInvalidObjectName)
	}
	return strings.Join(out, "/"), nil
}

// SafePath validates (bucket, key) and returns the payload path under
// root. The cleaned result must remain a descendant of root/bucket;
// anything else is ErrPathEscape. Symlinks are not resolved; the storage
// layer refuses to create them inside the tree.
func SafePath(root, bucket, key string) (string, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return "", err
	}
	safeKey, err := SanitizeObjectName(key)
	if err != nil {
		return "", err
	}
	base := filepath.Join(root, bucket)
	p := filepath.Clean(filepath.Join(base, filepath.FromSlash(safeKey)))
	if !strings.HasPrefix(p+string(filepath.Separator), filepath.Clean(base)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, key)
	}
	return p, nil
}

// MetadataDirName is the per-bucket directory holding sidecar records.
const MetadataDirName = ".fily-metadata"

// MetadataPath returns the sidecar path for (bucket, key):
// root/bucket/.fily-metadata/<encoded-key>.json. The encoding is flat and
// reversible, so distinct keys can never collide or nest.
func MetadataPath(root, bucket, key string) (string, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return "", err
	}
	safeKey, err := SanitizeObjectName(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, bucket, MetadataDirName, EncodeMetaName(safeKey)+".json"), nil
}

// EncodeMetaName percent-encodes every byte outside [A-Za-z0-9._-],
// including "/", yielding a single flat filename per object key.
func EncodeMetaName(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '.' || c == '_' || c == '-' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		const hexChars = "0123456789ABCDEF"
		b.WriteByte(hexChars[c>>4])
		b.WriteByte(hexChars[c&0x0f])
	}
	return b.String()
}

// DecodeMetaName reverses EncodeMetaName.
func DecodeMetaName(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(name) {
			return "", fmt.Errorf("pathsec: truncated escape in %q", name)
		}
		v, err := strconv.ParseUint(name[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("pathsec: bad escape in %q", name)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

// isIPv4 reports whether s is a dotted quad like 192.168.1.1.
func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n := 0
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
			n = n*10 + int(p[i]-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
