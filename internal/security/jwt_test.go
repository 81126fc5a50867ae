package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testManager(t *testing.T) *JWTManager {
	t.Helper()
	mgr, err := NewJWTManager("issuer", "audience", strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return mgr
}

func TestNewJWTManagerRejectsWeakKey(t *testing.T) {
	if _, err := NewJWTManager("issuer", "audience", "short"); !errors.Is(err, ErrWeakSigningKey) {
		t.Fatalf("expected ErrWeakSigningKey, got %v", err)
	}
	if _, err := NewJWTManager("issuer", "audience", ""); !errors.Is(err, ErrWeakSigningKey) {
		t.Fatalf("expected ErrWeakSigningKey for empty key, got %v", err)
	}
}

func TestSignAndParseRoundTrip(t *testing.T) {
	mgr := testManager(t)

	raw, exp, err := mgr.SignAccessToken(7, "jdoe@example.com", "Receptionist", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry in the past: %s", exp)
	}

	claims, err := mgr.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "7" || claims.Role != "Receptionist" || claims.Email != "jdoe@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	mgr := testManager(t)

	raw, _, err := mgr.SignAccessToken(7, "x@example.com", "Customer", -time.Minute)
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	if _, err := mgr.ParseAccessToken(raw); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseRejectsWrongAudience(t *testing.T) {
	mgr := testManager(t)
	other, err := NewJWTManager("issuer", "other-audience", strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	raw, _, err := other.SignAccessToken(7, "x@example.com", "Customer", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	if _, err := mgr.ParseAccessToken(raw); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestParseRejectsTampering(t *testing.T) {
	mgr := testManager(t)

	raw, _, err := mgr.SignAccessToken(7, "x@example.com", "Customer", time.Hour)
	if err != nil {
		t.Fatalf("SignAccessToken: %v", err)
	}
	tampered := raw[:len(raw)-4] + "AAAA"
	if _, err := mgr.ParseAccessToken(tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}
