// Package sigv4 verifies AWS Signature Version 4 on incoming requests.
//
// Only header-based authentication is supported; query-string pre-signed
// URLs are rejected. Verification never logs access keys, signatures, or
// canonical strings; callers log a generic failure with a correlation ID.
package sigv4

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Errors returned by the verifier. The HTTP layer maps them to the S3
// error codes AccessDenied, AuthorizationHeaderMalformed,
// InvalidAccessKeyId, SignatureDoesNotMatch and RequestTimeTooSkewed.
var (
	ErrAuthMissing       = errors.New("sigv4: missing authorization")
	ErrAuthMalformed     = errors.New("sigv4: malformed authorization")
	ErrUnknownAccessKey  = errors.New("sigv4: unknown access key")
	ErrSignatureMismatch = errors.New("sigv4: signature mismatch")
	ErrRequestExpired    = errors.New("sigv4: request time too skewed")
)

const (
	algorithm     = "AWS4-HMAC-SHA256"
	amzDateFormat = "20060102T150405Z"
	scopeDate     = "20060102"
	maxClockSkew  = 15 * time.Minute

	unsignedPayload = "UNSIGNED-PAYLOAD"
)

// nowFunc is swapped out in tests for a fixed clock.
var nowFunc = time.Now

// Credential is a static access key with its secret and home region.
type Credential struct {
	AccessKey string
	SecretKey string
	Region    string
	User      string
}

// CredentialsStore looks up a credential by access key ID.
type CredentialsStore interface {
	Lookup(accessKey string) (Credential, bool)
}

// StaticCredentialsStore is an in-memory CredentialsStore.
type StaticCredentialsStore struct {
	creds map[string]Credential
}

// NewStaticStore builds a StaticCredentialsStore, skipping entries with an
// empty access key or secret.
func NewStaticStore(creds []Credential) *StaticCredentialsStore {
	m := make(map[string]Credential, len(creds))
	for _, c := range creds {
		c.AccessKey = strings.TrimSpace(c.AccessKey)
		c.SecretKey = strings.TrimSpace(c.SecretKey)
		if c.AccessKey == "" || c.SecretKey == "" {
			continue
		}
		m[c.AccessKey] = c
	}
	return &StaticCredentialsStore{creds: m}
}

// Lookup implements CredentialsStore.
func (s *StaticCredentialsStore) Lookup(accessKey string) (Credential, bool) {
	if s == nil || s.creds == nil {
		return Credential{}, false
	}
	c, ok := s.creds[accessKey]
	return c, ok
}

// authorization is the parsed Authorization header.
type authorization struct {
	accessKey     string
	date          string // scope date, YYYYMMDD
	region        string
	service       string
	signedHeaders []string
	signature     string
}

// VerifyRequest authenticates r against store and returns the credential
// that signed it. The request body must be rewindable (the middleware
// buffers it); when x-amz-content-sha256 is absent the hash is computed
// over the body.
func VerifyRequest(ctx context.Context, r *http.Request, store CredentialsStore) (Credential, error) {
	if r.URL.Query().Get("X-Amz-Algorithm") != "" {
		return Credential{}, fmt.Errorf("%w: query-string authentication not supported", ErrAuthMalformed)
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return Credential{}, ErrAuthMissing
	}
	auth, err := parseAuthorization(header)
	if err != nil {
		return Credential{}, err
	}

	amzDate := r.Header.Get("X-Amz-Date")
	if amzDate == "" {
		return Credential{}, fmt.Errorf("%w: missing x-amz-date", ErrAuthMalformed)
	}
	t, err := time.Parse(amzDateFormat, amzDate)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: bad x-amz-date", ErrAuthMalformed)
	}
	if skew := nowFunc().UTC().Sub(t); skew > maxClockSkew || skew < -maxClockSkew {
		return Credential{}, ErrRequestExpired
	}

	cred, ok := store.Lookup(auth.accessKey)
	if !ok {
		return Credential{}, ErrUnknownAccessKey
	}
	if cred.Region != "" && auth.region != cred.Region {
		return Credential{}, ErrSignatureMismatch
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	switch payloadHash {
	case unsignedPayload:
		// The literal participates in the canonical request as-is.
	case "":
		// An absent header is not an opt-out; hash the buffered body.
		payloadHash, err = hashBody(r)
		if err != nil {
			return Credential{}, err
		}
	}

	canonReq, err := buildCanonicalRequest(r, auth.signedHeaders, payloadHash)
	if err != nil {
		return Credential{}, err
	}
	stringToSign := buildStringToSign(amzDate, auth.date, auth.region, auth.service, sha256Hex([]byte(canonReq)))
	signingKey := deriveSigningKey(cred.SecretKey, auth.date, auth.region, auth.service)
	expected := hmacSHA256Hex(signingKey, []byte(stringToSign))

	got := []byte(strings.ToLower(auth.signature))
	if len(got) != len(expected) || subtle.ConstantTimeCompare(got, expected) != 1 {
		return Credential{}, ErrSignatureMismatch
	}
	return cred, nil
}

// parseAuthorization splits the header
//
//	AWS4-HMAC-SHA256 Credential=AK/date/region/s3/aws4_request,
//	  SignedHeaders=h1;h2, Signature=hex
func parseAuthorization(header string) (authorization, error) {
	var a authorization
	if !strings.HasPrefix(header, algorithm+" ") {
		return a, fmt.Errorf("%w: unsupported algorithm", ErrAuthMalformed)
	}
	for _, field := range strings.Split(strings.TrimPrefix(header, algorithm+" "), ",") {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "Credential="):
			scope := strings.Split(strings.TrimPrefix(field, "Credential="), "/")
			if len(scope) != 5 || scope[4] != "aws4_request" {
				return a, fmt.Errorf("%w: bad credential scope", ErrAuthMalformed)
			}
			a.accessKey, a.date, a.region, a.service = scope[0], scope[1], scope[2], scope[3]
		case strings.HasPrefix(field, "SignedHeaders="):
			a.signedHeaders = strings.Split(strings.TrimPrefix(field, "SignedHeaders="), ";")
		case strings.HasPrefix(field, "Signature="):
			a.signature = strings.TrimPrefix(field, "Signature=")
		}
	}
	if a.accessKey == "" || a.signature == "" || len(a.signedHeaders) == 0 {
		return a, fmt.Errorf("%w: missing component", ErrAuthMalformed)
	}
	if a.service != "s3" {
		return a, fmt.Errorf("%w: bad service", ErrAuthMalformed)
	}
	if _, err := time.Parse(scopeDate, a.date); err != nil {
		return a, fmt.Errorf("%w: bad scope date", ErrAuthMalformed)
	}
	hasHost := false
	for _, h := range a.signedHeaders {
		if h == "host" {
			hasHost = true
		}
	}
	if !hasHost {
		return a, fmt.Errorf("%w: host not signed", ErrAuthMalformed)
	}
	return a, nil
}

// buildCanonicalRequest assembles the canonical request string:
// method, URI, query, headers, signed-header list, payload hash.
func buildCanonicalRequest(r *http.Request, signedHeaders []string, payloadHash string) (string, error) {
	headers, list := canonicalHeadersAndList(r, signedHeaders)
	return strings.Join([]string{
		r.Method,
		canonicalURI(r.URL.Path),
		canonicalQueryString(r),
		headers,
		strings.Join(list, ";"),
		payloadHash,
	}, "\n"), nil
}

// canonicalURI percent-encodes the already-decoded path once, preserving
// "/" separators. An empty path canonicalizes to "/".
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return uriEncode(path, false)
}

// canonicalQueryString sorts parameters by key then value and encodes
// both per RFC 3986.
func canonicalQueryString(r *http.Request) string {
	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var pairs []string
	for _, k := range keys {
		values := append([]string(nil), q[k]...)
		sort.Strings(values)
		for _, v := range values {
			pairs = append(pairs, uriEncode(k, true)+"="+uriEncode(v, true))
		}
	}
	return strings.Join(pairs, "&")
}

// canonicalHeadersAndList returns the canonical header block and the
// sorted lowercase signed-header list. Values are trimmed and inner runs
// of whitespace fold to a single space.
func canonicalHeadersAndList(r *http.Request, signedHeaders []string) (string, []string) {
	list := make([]string, 0, len(signedHeaders))
	for _, h := range signedHeaders {
		list = append(list, strings.ToLower(strings.TrimSpace(h)))
	}
	sort.Strings(list)
	var b strings.Builder
	for _, name := range list {
		var value string
		if name == "host" {
			value = r.Host
		} else {
			value = strings.Join(r.Header.Values(name), ",")
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(foldWhitespace(value))
		b.WriteByte('\n')
	}
	return b.String(), list
}

func foldWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// uriEncode implements the AWS flavor of RFC 3986 percent-encoding:
// unreserved characters pass through, everything else becomes %XX with
// uppercase hex. Slashes pass through unless encodeSlash is set.
func uriEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9',
			c == '-' || c == '.' || c == '_' || c == '~':
			b.WriteByte(c)
		case c == '/' && !encodeSlash:
			b.WriteByte(c)
		default:
			const upperhex = "0123456789ABCDEF"
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0x0f])
		}
	}
	return b.String()
}

func buildStringToSign(amzDate, date, region, service, crHash string) string {
	scope := strings.Join([]string{date, region, service, "aws4_request"}, "/")
	return strings.Join([]string{algorithm, amzDate, scope, crHash}, "\n")
}

// deriveSigningKey walks the SigV4 HMAC chain:
// AWS4+secret -> date -> region -> service -> aws4_request.
func deriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hmacSHA256Hex(key, data []byte) []byte {
	sum := hmacSHA256(key, data)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashBody hashes the buffered body and rewinds it for the handler.
func hashBody(r *http.Request) (string, error) {
	if r.Body == nil {
		return sha256Hex(nil), nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("sigv4: read body: %w", err)
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return sha256Hex(data), nil
}
