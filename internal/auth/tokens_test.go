package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("  ", "HS256"); !errors.Is(err, ErrSigningKeyMissing) {
		t.Fatalf("expected ErrSigningKeyMissing, got %v", err)
	}
	if _, err := NewTokenIssuer("secret", "RS256"); err == nil {
		t.Fatalf("expected asymmetric algorithm to be rejected")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("roundtrip-secret", "HS256")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	user := User{ID: "0190a6b4-7c1e-7000-8000-000000000001", TokenVersion: 3}
	token, expiresAt, err := issuer.Issue(user, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 29*time.Minute {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.TokenVersion != 3 {
		t.Fatalf("token version = %d, want 3", claims.TokenVersion)
	}
}

func TestValidateStaleTokenIsExpiryKind(t *testing.T) {
	clock := newFakeClock()
	issuer, _ := NewTokenIssuer("stale-secret", "HS256")
	issuer.WithClock(clock.Now)

	token, _, err := issuer.Issue(User{ID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(2 * time.Minute)
	_, err = issuer.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("stale but well-signed token must not report a signature error")
	}
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	issuer, _ := NewTokenIssuer("right-secret", "HS256")
	other, _ := NewTokenIssuer("wrong-secret", "HS256")

	token, _, _ := other.Issue(User{ID: "u1"}, time.Minute)
	if _, err := issuer.Validate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateRejectsMalformedAndWrongType(t *testing.T) {
	issuer, _ := NewTokenIssuer("type-secret", "HS256")

	if _, err := issuer.Validate("not.a.jwt"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for malformed token, got %v", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"typ": "refresh",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := refresh.SignedString([]byte("type-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.Validate(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong typ, got %v", err)
	}
}

func TestValidateRejectsAlgorithmSwitch(t *testing.T) {
	issuer, _ := NewTokenIssuer("alg-secret", "HS256")
	hs512, _ := NewTokenIssuer("alg-secret", "HS512")

	token, _, _ := hs512.Issue(User{ID: "u1"}, time.Minute)
	if !strings.HasPrefix(token, "eyJ") {
		t.Fatalf("unexpected token encoding %q", token)
	}
	if _, err := issuer.Validate(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for HS512 token, got %v", err)
	}
}
