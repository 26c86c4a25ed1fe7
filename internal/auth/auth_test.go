package auth

import (
	"testing"

	"crudgate/internal/authz"
)

const testSecret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("user-1", []string{"Reader", "Writer"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims["sub"] != "user-1" {
		t.Fatalf("sub = %v", claims["sub"])
	}

	// Wrong secret must fail
	if _, err := ParseAccessToken(token, "other-secret"); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestAuthenticatedPrincipalMembership(t *testing.T) {
	token, err := GenerateAccessToken("user-1", []string{"Reader"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := NewAuthenticatedPrincipal(claims)
	if !p.Authenticated() {
		t.Fatal("principal should be authenticated")
	}

	// Token roles plus both system roles
	for _, role := range []string{"Reader", authz.RoleAuthenticated, authz.RoleAnonymous} {
		if !p.IsInRole(role) {
			t.Fatalf("expected membership in %q", role)
		}
	}
	if p.IsInRole("Writer") {
		t.Fatal("unexpected membership in Writer")
	}
	// Membership checks are case-sensitive
	if p.IsInRole("reader") {
		t.Fatal("role membership must be case-sensitive")
	}
}

func TestAnonymousPrincipal(t *testing.T) {
	p := NewAnonymousPrincipal()
	if p.Authenticated() {
		t.Fatal("anonymous principal must not be authenticated")
	}
	if p.IsInRole(authz.RoleAnonymous) {
		t.Fatal("anonymous principal has no claimed memberships at all")
	}
}

func TestPrincipalClaimsCarryTokenValues(t *testing.T) {
	token, err := GenerateAccessToken("user-1", []string{"Reader"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAccessToken(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := NewAuthenticatedPrincipal(claims)
	resolved, err := authz.ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved["sub"].Value != "user-1" {
		t.Fatalf("sub claim = %+v", resolved["sub"])
	}
	// exp/iat come through as numbers, usable in policies
	if resolved["exp"].ValueType != authz.TypeNumber {
		t.Fatalf("exp claim type = %v, want number", resolved["exp"].ValueType)
	}
	// The roles claim is the effective role, not the token list
	if resolved["roles"].Value != "reader" {
		t.Fatalf("roles claim = %+v", resolved["roles"])
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatal("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Fatal("wrong password accepted")
	}
}
