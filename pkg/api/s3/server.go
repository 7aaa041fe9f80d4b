package s3

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fritsstegmann/fily/pkg/crypto"
	"github.com/fritsstegmann/fily/pkg/metadata"
	"github.com/fritsstegmann/fily/pkg/pathsec"
	"github.com/fritsstegmann/fily/pkg/storage"
)

// Server routes the S3 HTTP surface onto the storage, metadata, and
// encryption layers. Dependencies are injected for testability.
type Server struct {
	objs   storage.ObjectStore
	meta   metadata.Store
	engine *crypto.Engine // nil when encryption is disabled
	logger *slog.Logger

	nowFunc          func() time.Time
	onDecryptFailure func()
}

// OnDecryptFailure installs a hook invoked whenever a payload fails AEAD
// authentication on read. Used for metrics.
func (s *Server) OnDecryptFailure(fn func()) { s.onDecryptFailure = fn }

// New wires an S3 server. engine may be nil to store payloads in plain.
func New(objs storage.ObjectStore, meta metadata.Store, engine *crypto.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{objs: objs, meta: meta, engine: engine, logger: logger, nowFunc: time.Now}
}

// Handler returns an http.Handler for the S3 routes.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.route)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()
	w.Header().Set("X-Amz-Request-Id", requestID)

	if r.URL.Path == "/" {
		if r.Method == http.MethodGet {
			s.handleListBuckets(w, r, requestID)
			return
		}
		writeError(w, errMethodNotAllowed, "/", requestID)
		return
	}

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	var key string
	if len(parts) == 2 {
		key = parts[1]
	}

	if key == "" {
		switch r.Method {
		case http.MethodPut:
			s.handleCreateBucket(w, r, bucket, requestID)
		case http.MethodDelete:
			s.handleDeleteBucket(w, r, bucket, requestID)
		case http.MethodGet:
			s.handleListObjects(w, r, bucket, requestID)
		default:
			writeError(w, errMethodNotAllowed, "/"+bucket, requestID)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetObject(w, r, bucket, key, requestID, false)
	case http.MethodHead:
		s.handleGetObject(w, r, bucket, key, requestID, true)
	case http.MethodPut:
		s.handlePutObject(w, r, bucket, key, requestID)
	case http.MethodDelete:
		s.handleDeleteObject(w, r, bucket, key, requestID)
	default:
		writeError(w, errMethodNotAllowed, r.URL.Path, requestID)
	}
}

type listBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Xmlns   string   `xml:"xmlns,attr"`
	Owner   owner    `xml:"Owner"`
	Buckets buckets  `xml:"Buckets"`
}

type owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type buckets struct {
	Bucket []bucketEntry `xml:"Bucket"`
}

type bucketEntry struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request, requestID string) {
	bs, err := s.objs.ListBuckets(r.Context())
	if err != nil {
		s.fail(w, r, err, "/", requestID)
		return
	}
	res := listBucketsResult{
		Xmlns: "http://s3.amazonaws.com/doc/2006-03-01/",
		Owner: owner{ID: "fily", DisplayName: "fily"},
	}
	for _, b := range bs {
		res.Buckets.Bucket = append(res.Buckets.Bucket, bucketEntry{
			Name:         b.Name,
			CreationDate: b.CreationDate.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(res)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket, requestID string) {
	if err := s.objs.CreateBucket(r.Context(), bucket); err != nil {
		s.fail(w, r, err, "/"+bucket, requestID)
		return
	}
	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request, bucket, requestID string) {
	if err := s.objs.DeleteBucket(r.Context(), bucket); err != nil {
		s.fail(w, r, err, "/"+bucket, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listBucketResult is the (empty) ListObjects stub payload. Enumeration
// is future work; existing buckets answer with zero contents.
type listBucketResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Xmlns       string   `xml:"xmlns,attr"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	MaxKeys     int      `xml:"MaxKeys"`
	IsTruncated bool     `xml:"IsTruncated"`
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, bucket, requestID string) {
	ok, err := s.objs.BucketExists(r.Context(), bucket)
	if err != nil {
		s.fail(w, r, err, "/"+bucket, requestID)
		return
	}
	if !ok {
		writeError(w, errNoSuchBucket, "/"+bucket, requestID)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(listBucketResult{
		Xmlns:   "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:    bucket,
		Prefix:  r.URL.Query().Get("prefix"),
		MaxKeys: 1000,
	})
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, bucket, key, requestID string) {
	ctx := r.Context()
	ok, err := s.objs.BucketExists(ctx, bucket)
	if err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	if !ok {
		writeError(w, errNoSuchBucket, r.URL.Path, requestID)
		return
	}
	if _, err := pathsec.SanitizeObjectName(key); err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}

	// The auth middleware has already buffered and bounded the body.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}

	sum := md5.Sum(body)
	etag := hex.EncodeToString(sum[:])

	blob := body
	if s.engine != nil {
		blob, err = s.engine.Encrypt(body, crypto.AssociatedData(bucket, key))
		if err != nil {
			s.fail(w, r, err, r.URL.Path, requestID)
			return
		}
	}
	if err := s.objs.Put(ctx, bucket, key, blob); err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}

	// Sidecar goes in after the payload is linked into place, so the
	// observed ETag matches the observed content with high probability.
	meta := &metadata.ObjectMetadata{
		ContentType:   metadata.ResolveContentType(r.Header.Get("Content-Type"), key),
		ContentLength: int64(len(body)),
		ETag:          etag,
		LastModified:  metadata.HTTPTimeNow(s.nowFunc()),
		UserMetadata:  metadata.ExtractUserMetadata(r.Header),
		Encrypted:     s.engine != nil,
	}
	if err := s.meta.Save(bucket, key, meta); err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}

	w.Header().Set("ETag", quoteETag(etag))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, bucket, key, requestID string, headOnly bool) {
	ctx := r.Context()
	ok, err := s.objs.BucketExists(ctx, bucket)
	if err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	if !ok {
		writeError(w, errNoSuchBucket, r.URL.Path, requestID)
		return
	}

	blob, modTime, err := s.objs.Get(ctx, bucket, key)
	if err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}

	meta, err := s.meta.Load(bucket, key)
	if err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	if meta == nil {
		// Payload without sidecar: a crash landed between the two
		// writes. Serve it as plaintext with synthesized defaults.
		sum := md5.Sum(blob)
		meta = metadata.Synthesize(int64(len(blob)), hex.EncodeToString(sum[:]), modTime)
	}

	plaintext := blob
	if meta.Encrypted {
		if s.engine == nil {
			s.fail(w, r, errors.New("encrypted object but encryption is disabled"), r.URL.Path, requestID)
			return
		}
		plaintext, err = s.engine.Decrypt(blob, crypto.AssociatedData(bucket, key))
		if err != nil {
			// Tampering or key mismatch. Never NoSuchKey: the object
			// exists, it just cannot be authenticated.
			if s.onDecryptFailure != nil {
				s.onDecryptFailure()
			}
			s.fail(w, r, err, r.URL.Path, requestID)
			return
		}
	}

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(plaintext)))
	w.Header().Set("ETag", quoteETag(meta.ETag))
	w.Header().Set("Last-Modified", meta.LastModified)
	for k, v := range meta.UserMetadata {
		w.Header().Set("x-amz-meta-"+k, v)
	}
	w.WriteHeader(http.StatusOK)
	if !headOnly {
		_, _ = w.Write(plaintext)
	}
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, bucket, key, requestID string) {
	ctx := r.Context()
	ok, err := s.objs.BucketExists(ctx, bucket)
	if err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	if !ok {
		writeError(w, errNoSuchBucket, r.URL.Path, requestID)
		return
	}
	if _, err := pathsec.SanitizeObjectName(key); err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	if err := s.objs.Delete(ctx, bucket, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	if err := s.meta.Delete(bucket, key); err != nil {
		s.fail(w, r, err, r.URL.Path, requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps err to an S3 error response and logs server-side faults.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, resource, requestID string) {
	e := classify(err)
	if e.Status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"err", err)
	}
	writeError(w, e, resource, requestID)
}

func quoteETag(etag string) string { return `"` + etag + `"` }
