package sigv4

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// DefaultMaxBodyBytes bounds request body buffering (5 GiB, the S3
// single-PUT limit).
const DefaultMaxBodyBytes int64 = 5 << 30

type contextKey int

const principalKey contextKey = iota

// WithPrincipal records the authenticated credential on the context.
func WithPrincipal(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, principalKey, cred)
}

// PrincipalFromContext returns the credential that signed the request.
func PrincipalFromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(principalKey).(Credential)
	return cred, ok
}

// MiddlewareConfig configures the authentication middleware.
type MiddlewareConfig struct {
	Store        CredentialsStore
	MaxBodyBytes int64 // 0 means DefaultMaxBodyBytes
	Logger       *slog.Logger
	// Exempt requests (health endpoints) skip authentication.
	Exempt func(*http.Request) bool
}

// Middleware buffers the request body, verifies the SigV4 signature, and
// passes the authenticated principal to the next handler via the context.
// Failures are answered with an S3 XML error envelope. The failure log
// line is deliberately generic: no access keys, signatures, or canonical
// strings, only a correlation ID that is also returned to the client.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Exempt != nil && cfg.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			requestID := newRequestID()

			if r.ContentLength > maxBody {
				writeAuthError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge",
					"Your proposed upload exceeds the maximum allowed size.", r.URL.Path, requestID)
				return
			}
			if r.Body != nil {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
				r.Body.Close()
				if err != nil {
					writeAuthError(w, http.StatusInternalServerError, "InternalError",
						"We encountered an internal error. Please try again.", r.URL.Path, requestID)
					return
				}
				if int64(len(body)) > maxBody {
					writeAuthError(w, http.StatusRequestEntityTooLarge, "EntityTooLarge",
						"Your proposed upload exceeds the maximum allowed size.", r.URL.Path, requestID)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				r.ContentLength = int64(len(body))
			}

			cred, err := VerifyRequest(r.Context(), r, cfg.Store)
			if err != nil {
				status, code, message := classify(err)
				logger.Warn("request authentication failed",
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr)
				writeAuthError(w, status, code, message, r.URL.Path, requestID)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), cred)))
		})
	}
}

func classify(err error) (status int, code, message string) {
	switch {
	case errors.Is(err, ErrAuthMissing):
		return http.StatusForbidden, "AccessDenied", "Access Denied."
	case errors.Is(err, ErrAuthMalformed):
		return http.StatusBadRequest, "AuthorizationHeaderMalformed", "The authorization header is malformed."
	case errors.Is(err, ErrUnknownAccessKey):
		return http.StatusForbidden, "InvalidAccessKeyId", "The AWS access key ID you provided does not exist in our records."
	case errors.Is(err, ErrRequestExpired):
		return http.StatusForbidden, "RequestTimeTooSkewed", "The difference between the request time and the server's time is too large."
	case errors.Is(err, ErrSignatureMismatch):
		return http.StatusForbidden, "SignatureDoesNotMatch", "The request signature we calculated does not match the signature you provided."
	default:
		return http.StatusForbidden, "AccessDenied", "Access Denied."
	}
}

// authError mirrors the S3 error envelope. It is duplicated here rather
// than imported from the API package to keep this package dependency-free.
type authError struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

func writeAuthError(w http.ResponseWriter, status int, code, message, resource, requestID string) {
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("X-Amz-Request-Id", requestID)
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(authError{
		Code:      code,
		Message:   message,
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
