package s3

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"net/http"

	"github.com/fritsstegmann/fily/pkg/metadata"
	"github.com/fritsstegmann/fily/pkg/pathsec"
	"github.com/fritsstegmann/fily/pkg/storage"
)

// apiError pairs an S3 error code with its HTTP status and canonical
// message.
type apiError struct {
	Code    string
	Status  int
	Message string
}

var (
	errInvalidBucketName = apiError{"InvalidBucketName", http.StatusBadRequest, "The specified bucket is not valid."}
	errInvalidObjectName = apiError{"InvalidObjectName", http.StatusBadRequest, "The specified object name is not valid."}
	errNoSuchBucket      = apiError{"NoSuchBucket", http.StatusNotFound, "The specified bucket does not exist."}
	errNoSuchKey         = apiError{"NoSuchKey", http.StatusNotFound, "The specified key does not exist."}
	errBucketExists      = apiError{"BucketAlreadyExists", http.StatusConflict, "The requested bucket name is not available."}
	errBucketNotEmpty    = apiError{"BucketNotEmpty", http.StatusConflict, "The bucket you tried to delete is not empty."}
	errMethodNotAllowed  = apiError{"MethodNotAllowed", http.StatusMethodNotAllowed, "The specified method is not allowed against this resource."}
	errInternal          = apiError{"InternalError", http.StatusInternalServerError, "We encountered an internal error. Please try again."}
)

// classify maps sentinel errors from the lower layers onto S3 codes.
// Anything unrecognized is an InternalError.
func classify(err error) apiError {
	switch {
	case errors.Is(err, pathsec.ErrInvalidBucketName):
		return errInvalidBucketName
	case errors.Is(err, pathsec.ErrInvalidObjectName), errors.Is(err, pathsec.ErrPathEscape):
		return errInvalidObjectName
	case errors.Is(err, storage.ErrBucketNotFound):
		return errNoSuchBucket
	case errors.Is(err, storage.ErrBucketExists):
		return errBucketExists
	case errors.Is(err, storage.ErrBucketNotEmpty):
		return errBucketNotEmpty
	case errors.Is(err, storage.ErrObjectNotFound):
		return errNoSuchKey
	case errors.Is(err, metadata.ErrCorrupt):
		return errInternal
	default:
		return errInternal
	}
}

// s3Error is the standard S3 error envelope.
type s3Error struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

func writeError(w http.ResponseWriter, e apiError, resource, requestID string) {
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("X-Amz-Request-Id", requestID)
	w.WriteHeader(e.Status)
	_ = xml.NewEncoder(w).Encode(s3Error{
		Code:      e.Code,
		Message:   e.Message,
		Resource:  resource,
		RequestID: requestID,
	})
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b[:])
}
