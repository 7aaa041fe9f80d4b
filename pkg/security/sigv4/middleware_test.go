package sigv4

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMiddlewareExemptSkipsAuth(t *testing.T) {
	called := false
	h := Middleware(MiddlewareConfig{
		Store:  testStore(),
		Exempt: func(r *http.Request) bool { return r.URL.Path == "/livez" },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("exempt request blocked: called=%v code=%d", called, rec.Code)
	}
}

func TestMiddlewareRejectsUnsigned(t *testing.T) {
	h := Middleware(MiddlewareConfig{Store: testStore()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached without authentication")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bucket/key", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Code>AccessDenied</Code>") {
		t.Errorf("body missing AccessDenied: %s", body)
	}
	if rec.Header().Get("X-Amz-Request-Id") == "" {
		t.Error("missing X-Amz-Request-Id header")
	}
}

func TestMiddlewareBodyTooLarge(t *testing.T) {
	h := Middleware(MiddlewareConfig{Store: testStore(), MaxBodyBytes: 8})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached with oversized body")
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/bucket/big", strings.NewReader("123456789"))
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("code = %d, want 413", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Code>EntityTooLarge</Code>") {
		t.Errorf("body missing EntityTooLarge: %s", rec.Body.String())
	}
}

func TestMiddlewarePassesPrincipalAndBody(t *testing.T) {
	defer withFixedNow(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))()

	date := "20250101"
	amzDate := "20250101T120000Z"
	body := "payload"

	r := httptest.NewRequest(http.MethodPut, "http://example.com/bucket/obj", strings.NewReader(body))
	r.Header.Set("X-Amz-Date", amzDate)
	signed := []string{"host", "x-amz-date"}
	signRequest(t, r, testSecretKey, date, amzDate, testRegion, signed, sha256Hex([]byte(body)))

	var gotUser, gotBody string
	h := Middleware(MiddlewareConfig{Store: testStore()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cred, ok := PrincipalFromContext(r.Context()); ok {
			gotUser = cred.User
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	if gotUser != "tester" {
		t.Errorf("principal user = %q, want tester", gotUser)
	}
	if gotBody != body {
		t.Errorf("handler body = %q, want %q", gotBody, body)
	}
}
