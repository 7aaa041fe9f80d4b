// Package oidc guards the admin API with OIDC bearer tokens. The S3 surface
// stays on SigV4; only /admin routes pass through here.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
)

// Config selects how admin tokens are verified. Either Issuer (discovery
// through .well-known metadata, e.g. https://auth.example.com/realms/fily)
// or JWKSURL (a direct key set endpoint) must be set.
type Config struct {
	Issuer   string
	ClientID string
	// Audience overrides ClientID as the expected aud claim. Set it when
	// the IdP issues access tokens for a resource audience such as
	// "fily-admin" rather than the client id itself.
	Audience string
	JWKSURL  string
}

// Verifier validates bearer tokens against the configured key source.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
}

// NewVerifier builds a Verifier from cfg. Discovery via Issuer is preferred;
// JWKSURL is the fallback for IdPs without well-known metadata.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	aud := cfg.Audience
	if aud == "" {
		aud = cfg.ClientID
	}
	switch {
	case cfg.Issuer != "":
		provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc: provider discovery failed: %w", err)
		}
		return &Verifier{verifier: provider.Verifier(&gooidc.Config{ClientID: aud})}, nil
	case cfg.JWKSURL != "":
		ks := gooidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		// An empty issuer skips the iss check here.
		return &Verifier{verifier: gooidc.NewVerifier(cfg.Issuer, ks, &gooidc.Config{ClientID: aud})}, nil
	default:
		return nil, errors.New("oidc: config needs an issuer or a JWKS URL")
	}
}

// Subject is the verified identity a token carries, flattened from the
// claim shapes the common IdPs emit.
type Subject struct {
	Subject   string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
	Roles     []string
	Scopes    []string
}

// adminClaims covers the claim layouts seen across Keycloak, Auth0 and
// Azure AD: roles as array or single string, realm_access.roles, and
// scopes as a space-separated "scope" or an "scp" array.
type adminClaims struct {
	Exp         int64  `json:"exp"`
	Sub         string `json:"sub"`
	Iss         string `json:"iss"`
	Aud         any    `json:"aud"` // string or []string
	Roles       any    `json:"roles"`
	Scope       string `json:"scope"`
	Scp         any    `json:"scp"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Verify validates rawToken and extracts the admin subject from its claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Subject, error) {
	if v == nil || v.verifier == nil {
		return nil, errors.New("oidc: verifier not initialized")
	}
	tok, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("oidc: token verification failed: %w", err)
	}
	var claims adminClaims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc: parse claims: %w", err)
	}
	return &Subject{
		Subject:   claims.Sub,
		Issuer:    claims.Iss,
		Audience:  firstAudience(claims.Aud),
		ExpiresAt: time.Unix(claims.Exp, 0).UTC(),
		Roles:     collectRoles(claims),
		Scopes:    collectScopes(claims),
	}, nil
}

func firstAudience(aud any) string {
	switch t := aud.(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return ""
}

func collectRoles(claims adminClaims) []string {
	set := map[string]struct{}{}
	add := func(r string) {
		if r = strings.TrimSpace(r); r != "" {
			set[r] = struct{}{}
		}
	}
	switch t := claims.Roles.(type) {
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range t {
			add(s)
		}
	case string:
		add(t)
	}
	for _, r := range claims.RealmAccess.Roles {
		add(r)
	}
	if len(set) == 0 {
		return nil
	}
	roles := make([]string, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func collectScopes(claims adminClaims) []string {
	var scopes []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	for _, s := range strings.Fields(claims.Scope) {
		add(s)
	}
	switch t := claims.Scp.(type) {
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range t {
			add(s)
		}
	case string:
		for _, s := range strings.Fields(t) {
			add(s)
		}
	}
	return scopes
}

// VerifierIface is what Middleware needs from a verifier; tests substitute
// their own.
type VerifierIface interface {
	Verify(ctx context.Context, rawToken string) (*Subject, error)
}

type contextKey string

const subjectContextKey contextKey = "oidcSubject"

// WithSubject attaches the verified subject to ctx for RBAC downstream.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey, s)
}

// SubjectFromContext returns the subject Middleware stored, if any.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	s, ok := ctx.Value(subjectContextKey).(*Subject)
	return s, ok && s != nil
}

// Middleware requires Authorization: Bearer <token> on every non-exempt
// request. Failures answer a bare 401; token contents never reach the
// response or the logs. On success the verified subject rides the request
// context and the X-Admin-Subject response header.
func Middleware(v VerifierIface, exempt func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt != nil && exempt(r) {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := bearerToken(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			subj, err := v.Verify(r.Context(), raw)
			if err != nil || subj == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("X-Admin-Subject", subj.Subject)
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subj)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return raw, raw != ""
}
