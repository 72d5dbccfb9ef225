package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

func newVerifier(t *testing.T, cfg config.AuthConfig) *Verifier {
	t.Helper()
	v, err := NewVerifier(&cfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t, config.AuthConfig{JWTSecret: "s3cret", Issuer: "techelo", Audience: "authenticated"})

	token, err := v.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	user, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if user != "alice" {
		t.Fatalf("expected alice, got %q", user)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t, config.AuthConfig{JWTSecret: "s3cret", Audience: "authenticated"})
	other := newVerifier(t, config.AuthConfig{JWTSecret: "different", Audience: "authenticated"})
	wrongAudience := newVerifier(t, config.AuthConfig{JWTSecret: "s3cret", Audience: "anon"})

	expired, _ := v.Issue("alice", -time.Hour)
	forged, _ := other.Issue("alice", time.Hour)
	anon, _ := wrongAudience.Issue("alice", time.Hour)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		Audience:  jwt.ClaimStrings{"authenticated"},
	}).SignedString([]byte("s3cret"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"expired":        expired,
		"wrong secret":   forged,
		"wrong audience": anon,
		"no subject":     noSubject,
		"alg none":       none,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, domain.ErrNotAuthenticated) {
				t.Fatalf("expected ErrNotAuthenticated, got %v", err)
			}
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(&config.AuthConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q", nil)
	if got := TokenFromRequest(r, true); got != "q" {
		t.Fatalf("expected query token, got %q", got)
	}
	if got := TokenFromRequest(r, false); got != "" {
		t.Fatalf("query token must be ignored, got %q", got)
	}

	r.Header.Set("Authorization", "Bearer abc")
	if got := TokenFromRequest(r, true); got != "abc" {
		t.Fatalf("expected header token, got %q", got)
	}
	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r, true); got != "" {
		t.Fatalf("non-bearer scheme must yield no token, got %q", got)
	}
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "bob")
	if UserIDFromContext(ctx) != "bob" {
		t.Fatalf("user id not carried")
	}
	if UserIDFromContext(context.Background()) != "" {
		t.Fatalf("expected empty user id")
	}
}
