package api

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://board",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerToken(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil || token != "header.payload.signature" {
		t.Fatalf("unexpected result: %q %v", token, err)
	}
	if _, err := bearerToken(""); !errors.Is(err, errMissingAuthorization) {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerToken("Basic abc.def.ghi"); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth error, got %v", err)
	}
	if _, err := bearerToken("Bearer " + strings.Repeat(".", 1000)); !errors.Is(err, errBadAuthorization) {
		t.Fatalf("expected bad auth error, got %v", err)
	}
}

func TestTenantFromTokenPrefersOrgClaim(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewSharedSecretAuth(secret, "api://board", "https://issuer/")

	claims := baseClaims()
	claims[TenantClaim] = "org-1"
	tenant, err := auth.TenantFromAuthHeader("Bearer " + signHS256(t, secret, claims))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if tenant != "org-1" {
		t.Fatalf("unexpected tenant: %s", tenant)
	}

	tenant, err = auth.TenantFromToken(signHS256(t, secret, baseClaims()))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if tenant != "user-123" {
		t.Fatalf("expected sub fallback, got %s", tenant)
	}
}

func TestTenantFromTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewSharedSecretAuth(secret, "api://board", "https://issuer/")

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongAud := baseClaims()
	wrongAud["aud"] = "api://other"

	wrongIss := baseClaims()
	wrongIss["iss"] = "https://elsewhere/"

	noTenant := baseClaims()
	delete(noTenant, "sub")

	cases := map[string]string{
		"expired":      signHS256(t, secret, expired),
		"audience":     signHS256(t, secret, wrongAud),
		"issuer":       signHS256(t, secret, wrongIss),
		"no tenant":    signHS256(t, secret, noTenant),
		"wrong secret": signHS256(t, []byte("other"), baseClaims()),
		"empty":        "",
	}
	for name, token := range cases {
		if _, err := auth.TenantFromToken(token); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := auth.TenantFromToken(signHS256(t, secret, noTenant)); !errors.Is(err, errMissingTenant) {
		t.Fatalf("expected missing tenant error, got %v", err)
	}
}

func TestTenantFromTokenRejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	auth := NewSharedSecretAuth(secret, "", "")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, baseClaims()).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := auth.TenantFromToken(signed); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestAuthWithoutJWKS(t *testing.T) {
	auth := NewAuth(nil, "", "", 0)
	token := signHS256(t, []byte("x"), baseClaims())
	if _, err := auth.TenantFromToken(token); err == nil {
		t.Fatal("expected error without jwks")
	}
}
