package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type stubVerifier struct {
	token string
	subj  *Subject
	err   error
}

func (s stubVerifier) Verify(_ context.Context, raw string) (*Subject, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.token != "" && raw != s.token {
		return nil, errors.New("unknown token")
	}
	if s.subj != nil {
		return s.subj, nil
	}
	return &Subject{Subject: "svc"}, nil
}

func TestMiddlewareRejectsMissingOrBadToken(t *testing.T) {
	h := Middleware(stubVerifier{token: "good"}, nil)(okHandler())

	cases := []struct {
		name  string
		authz string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic Zm9vOmJhcg=="},
		{"empty bearer", "Bearer "},
		{"wrong token", "Bearer evil"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
			if tc.authz != "" {
				req.Header.Set("Authorization", tc.authz)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			if got := rr.Header().Get("X-Admin-Subject"); got != "" {
				t.Errorf("X-Admin-Subject leaked on failure: %q", got)
			}
		})
	}
}

func TestMiddlewarePassesVerifiedSubject(t *testing.T) {
	var seen *Subject
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(stubVerifier{token: "tok-1", subj: &Subject{Subject: "ops@example.com", Roles: []string{"admin.read"}}}, nil)(inner)

	req := httptest.NewRequest(http.MethodPost, "/admin/scrub/run", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Header().Get("X-Admin-Subject"); got != "ops@example.com" {
		t.Errorf("X-Admin-Subject = %q", got)
	}
	if seen == nil || seen.Subject != "ops@example.com" {
		t.Errorf("context subject = %+v", seen)
	}
}

func TestMiddlewareExemptSkipsAuth(t *testing.T) {
	exempt := func(r *http.Request) bool { return r.URL.Path == "/admin/health" }
	h := Middleware(stubVerifier{err: errors.New("must not be called")}, exempt)(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("exempt path status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/version", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("non-exempt path status = %d, want 401", rr.Code)
	}
}

func TestCollectRolesMergesClaimShapes(t *testing.T) {
	claims := adminClaims{Roles: []any{"admin.read", "admin.read", " "}}
	claims.RealmAccess.Roles = []string{"admin.scrub"}
	got := collectRoles(claims)
	want := []string{"admin.read", "admin.scrub"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("roles = %v, want %v", got, want)
	}

	// Single-string role claim, as some IdPs encode it.
	if got := collectRoles(adminClaims{Roles: "admin.gc"}); !reflect.DeepEqual(got, []string{"admin.gc"}) {
		t.Errorf("string role = %v", got)
	}
}

func TestCollectScopesAcceptsScopeAndScp(t *testing.T) {
	got := collectScopes(adminClaims{Scope: "admin.read admin.gc", Scp: []any{"admin.scrub"}})
	want := []string{"admin.read", "admin.gc", "admin.scrub"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("scopes = %v, want %v", got, want)
	}
}

func TestFirstAudience(t *testing.T) {
	if got := firstAudience("fily-admin"); got != "fily-admin" {
		t.Errorf("string aud = %q", got)
	}
	if got := firstAudience([]any{"fily-admin", "other"}); got != "fily-admin" {
		t.Errorf("array aud = %q", got)
	}
	if got := firstAudience(nil); got != "" {
		t.Errorf("missing aud = %q", got)
	}
}
