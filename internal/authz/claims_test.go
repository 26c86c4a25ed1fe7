package authz

import (
	"testing"
)

func authedPrincipal(claims ...Claim) *Principal {
	return &Principal{Identities: []Identity{{Authenticated: true, Claims: claims}}}
}

func TestResolveClaimsForcesSingleRole(t *testing.T) {
	p := authedPrincipal(
		Claim{Type: RoleClaimType, Value: `["Reader","Writer"]`, ValueType: TypeJSON},
		Claim{Type: RoleClaimType, Value: "authenticated", ValueType: TypeString},
	)

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("ResolveClaims: %v", err)
	}

	role, ok := resolved[RoleClaimType]
	if !ok {
		t.Fatal("roles claim missing")
	}
	// The effective role from the header, not the token's role list —
	// and never an error despite multiple role claims
	if role.Value != "reader" || role.ValueType != TypeString {
		t.Fatalf("roles claim = %+v, want single value reader", role)
	}
}

func TestResolveClaimsDuplicateDistinctValuesFail(t *testing.T) {
	p := authedPrincipal(
		Claim{Type: "guid", Value: "aaa", ValueType: TypeString},
		Claim{Type: "guid", Value: "bbb", ValueType: TypeString},
	)

	_, err := ResolveClaims(p, "reader")
	if err == nil {
		t.Fatal("expected duplicate claim error")
	}
	authErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *authz.Error, got %T", err)
	}
	if authErr.Code != CodeDuplicateClaim || authErr.Status != 403 {
		t.Fatalf("unexpected error %+v", authErr)
	}
}

func TestResolveClaimsIdenticalDuplicatesCollapse(t *testing.T) {
	p := authedPrincipal(
		Claim{Type: "guid", Value: "aaa", ValueType: TypeString},
		Claim{Type: "guid", Value: "aaa", ValueType: TypeString},
	)

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("identical duplicates must collapse, got %v", err)
	}
	if resolved["guid"].Value != "aaa" {
		t.Fatalf("guid = %+v", resolved["guid"])
	}
}

func TestResolveClaimsScopeCollapses(t *testing.T) {
	// scp presented as a JSON array claim collapses to the OAuth
	// space-joined convention instead of erroring
	p := authedPrincipal(
		Claim{Type: "scp", Value: `["openid","profile","email"]`, ValueType: TypeJSON},
	)

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("ResolveClaims: %v", err)
	}
	scp := resolved["scp"]
	if scp.Value != "openid profile email" || scp.ValueType != TypeString {
		t.Fatalf("scp = %+v, want space-joined string", scp)
	}
}

func TestResolveClaimsScopeScalarPassesThrough(t *testing.T) {
	p := authedPrincipal(
		Claim{Type: "scope", Value: "openid profile", ValueType: TypeString},
	)

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("ResolveClaims: %v", err)
	}
	if resolved["scp"].Value != "openid profile" {
		t.Fatalf("scp = %+v", resolved["scp"])
	}
}

func TestResolveClaimsIgnoresUnauthenticatedIdentity(t *testing.T) {
	p := &Principal{Identities: []Identity{
		{
			Authenticated: false,
			Claims:        []Claim{{Type: "user_email", Value: "spoofed@evil.test", ValueType: TypeString}},
		},
		{
			Authenticated: true,
			Claims:        []Claim{{Type: "guid", Value: "aaa", ValueType: TypeString}},
		},
	}}

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("ResolveClaims: %v", err)
	}
	if _, ok := resolved["user_email"]; ok {
		t.Fatal("claims from unauthenticated identity must be ignored")
	}
	if _, ok := resolved["guid"]; !ok {
		t.Fatal("claims from authenticated identity missing")
	}
}

func TestResolveClaimsArrayClaimKeepsJSONText(t *testing.T) {
	p := authedPrincipal(
		Claim{Type: "groups", Value: `["g1","g2"]`, ValueType: TypeJSON},
	)

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("ResolveClaims: %v", err)
	}
	groups := resolved["groups"]
	if groups.Value != `["g1","g2"]` || groups.ValueType != TypeJSON {
		t.Fatalf("groups = %+v, want JSON array text", groups)
	}
}

func TestResolveClaimsNullValue(t *testing.T) {
	p := authedPrincipal(NewClaim("middle_name", nil))

	resolved, err := ResolveClaims(p, "reader")
	if err != nil {
		t.Fatalf("ResolveClaims: %v", err)
	}
	c := resolved["middle_name"]
	if c.Value != "" || c.ValueType != TypeNull {
		t.Fatalf("null claim = %+v, want empty string", c)
	}
}

func TestResolveClaimsNilPrincipal(t *testing.T) {
	resolved, err := ResolveClaims(nil, "anonymous")
	if err != nil {
		t.Fatalf("ResolveClaims(nil): %v", err)
	}
	if resolved[RoleClaimType].Value != "anonymous" {
		t.Fatal("roles claim must still resolve to the effective role")
	}
}

func TestNewClaimTyping(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		want     string
		wantType ClaimValueType
	}{
		{"string", "hello", "hello", TypeString},
		{"bool", true, "true", TypeBool},
		{"float", 4.2, "4.2", TypeNumber},
		{"integral float", float64(7), "7", TypeNumber},
		{"nil", nil, "", TypeNull},
		{"array", []any{"a", "b"}, `["a","b"]`, TypeJSON},
		{"object", map[string]any{"k": "v"}, `{"k":"v"}`, TypeJSON},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClaim("x", tc.value)
			if c.Value != tc.want || c.ValueType != tc.wantType {
				t.Fatalf("NewClaim(%v) = %+v, want value %q type %v", tc.value, c, tc.want, tc.wantType)
			}
		})
	}
}
