package authz

import (
	"sort"
	"testing"

	"crudgate/internal/metadata"
)

func principalWithRoles(roles ...string) *Principal {
	id := Identity{Authenticated: true}
	for _, r := range roles {
		id.Claims = append(id.Claims, Claim{Type: RoleClaimType, Value: r, ValueType: TypeString})
	}
	return &Principal{Identities: []Identity{id}}
}

func TestIsValidRoleContext(t *testing.T) {
	r := mustResolver(t, bookEntity())
	p := principalWithRoles("Reader", "Writer")

	tests := []struct {
		name   string
		header []string
		want   bool
	}{
		{"exactly one matching value", []string{"Reader"}, true},
		{"no header value", nil, false},
		{"empty header value", []string{""}, false},
		{"multiple header values", []string{"Reader", "Writer"}, false},
		{"role the user is not a member of", []string{"Admin"}, false},
		// Membership is case-sensitive even though table lookups are not
		{"wrong case", []string{"reader"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.IsValidRoleContext(tc.header, p); got != tc.want {
				t.Fatalf("IsValidRoleContext(%v) = %v, want %v", tc.header, got, tc.want)
			}
		})
	}
}

func TestIsValidRoleContextUnauthenticated(t *testing.T) {
	r := mustResolver(t, bookEntity())
	p := &Principal{Identities: []Identity{{
		Authenticated: false,
		Claims:        []Claim{{Type: RoleClaimType, Value: "Reader", ValueType: TypeString}},
	}}}

	// Role claims on an unauthenticated identity never grant membership
	if r.IsValidRoleContext([]string{"Reader"}, p) {
		t.Fatal("unauthenticated identity must not satisfy role membership")
	}
}

func TestIsInRoleWithArrayClaim(t *testing.T) {
	p := &Principal{Identities: []Identity{{
		Authenticated: true,
		Claims:        []Claim{{Type: RoleClaimType, Value: `["Reader","Writer"]`, ValueType: TypeJSON}},
	}}}

	if !p.IsInRole("Writer") {
		t.Fatal("expected membership via JSON array roles claim")
	}
	if p.IsInRole("Admin") {
		t.Fatal("unexpected membership")
	}
}

func TestAllowedColumnsOrder(t *testing.T) {
	r := mustResolver(t, bookEntity(metadata.Permission{
		Role: "Reader",
		Actions: []metadata.Action{{
			Operation: "read",
			Fields:    &metadata.FieldScope{Include: []string{"title", "id"}},
		}},
	}))

	cols := r.AllowedColumns("Book", "Reader", OpRead)
	// Entity field order, not include-list order
	if len(cols) != 2 || cols[0] != "id" || cols[1] != "title" {
		t.Fatalf("AllowedColumns = %v, want [id title]", cols)
	}

	if cols := r.AllowedColumns("Book", "Reader", OpDelete); cols != nil {
		t.Fatalf("expected nil for undefined row, got %v", cols)
	}
}

func TestRolesForOperationAndField(t *testing.T) {
	r := mustResolver(t, bookEntity(
		metadata.Permission{
			Role: "Reader",
			Actions: []metadata.Action{{
				Operation: "read",
				Fields:    &metadata.FieldScope{Include: []string{"id", "title"}},
			}},
		},
		metadata.Permission{
			Role:    "Writer",
			Actions: []metadata.Action{{Operation: "*"}},
		},
	))

	roles := r.RolesForOperation("Book", OpRead)
	sort.Strings(roles)
	if len(roles) != 2 || roles[0] != "reader" || roles[1] != "writer" {
		t.Fatalf("RolesForOperation = %v, want [reader writer]", roles)
	}

	roles = r.RolesForOperation("Book", OpCreate)
	if len(roles) != 1 || roles[0] != "writer" {
		t.Fatalf("RolesForOperation(create) = %v, want [writer]", roles)
	}

	// price is visible to Writer (no field scope) but not Reader
	roles = r.RolesForField("Book", "price", OpRead)
	if len(roles) != 1 || roles[0] != "writer" {
		t.Fatalf("RolesForField(price) = %v, want [writer]", roles)
	}

	roles = r.RolesForField("Book", "title", OpRead)
	sort.Strings(roles)
	if len(roles) != 2 {
		t.Fatalf("RolesForField(title) = %v, want both roles", roles)
	}
}

func TestProcessDBPolicy(t *testing.T) {
	r := mustResolver(t, bookEntity(metadata.Permission{
		Role: "Reader",
		Actions: []metadata.Action{
			{
				Operation: "read",
				Policy:    &metadata.Policy{Database: "@claims.user_email eq @item.title"},
			},
			{Operation: "delete"},
		},
	}))

	p := &Principal{Identities: []Identity{{
		Authenticated: true,
		Claims: []Claim{
			{Type: "user_email", Value: "xyz@microsoft.com", ValueType: TypeString},
		},
	}}}

	got, err := r.ProcessDBPolicy("Book", "Reader", OpRead, p)
	if err != nil {
		t.Fatalf("ProcessDBPolicy: %v", err)
	}
	want := "'xyz@microsoft.com' eq @item.title"
	if got != want {
		t.Fatalf("predicate = %q, want %q", got, want)
	}

	// No policy configured for delete: empty predicate, no error
	got, err = r.ProcessDBPolicy("Book", "Reader", OpDelete, p)
	if err != nil || got != "" {
		t.Fatalf("expected empty predicate, got %q err %v", got, err)
	}

	// Undefined row: also empty, no error
	got, err = r.ProcessDBPolicy("Book", "Ghost", OpRead, p)
	if err != nil || got != "" {
		t.Fatalf("expected empty predicate for unknown role, got %q err %v", got, err)
	}
}

func TestReloadSwapsTable(t *testing.T) {
	r := mustResolver(t, bookEntity(metadata.Permission{
		Role:    "Reader",
		Actions: []metadata.Action{{Operation: "read"}},
	}))

	if !r.AreRoleAndOperationDefinedForEntity("Book", "Reader", OpRead) {
		t.Fatal("expected read defined before reload")
	}

	if err := r.Reload([]*metadata.Entity{bookEntity(metadata.Permission{
		Role:    "Reader",
		Actions: []metadata.Action{{Operation: "create"}},
	})}); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if r.AreRoleAndOperationDefinedForEntity("Book", "Reader", OpRead) {
		t.Fatal("old grant survived reload")
	}
	if !r.AreRoleAndOperationDefinedForEntity("Book", "Reader", OpCreate) {
		t.Fatal("new grant missing after reload")
	}
}

func TestReloadKeepsOldTableOnError(t *testing.T) {
	r := mustResolver(t, bookEntity(metadata.Permission{
		Role:    "Reader",
		Actions: []metadata.Action{{Operation: "read"}},
	}))

	err := r.Reload([]*metadata.Entity{bookEntity(metadata.Permission{
		Role:    "Reader",
		Actions: []metadata.Action{{Operation: "browse"}},
	})})
	if err == nil {
		t.Fatal("expected reload error for bad config")
	}

	if !r.AreRoleAndOperationDefinedForEntity("Book", "Reader", OpRead) {
		t.Fatal("previous table must stay active after failed reload")
	}
}

// End-to-end shape of a request evaluation: Reader may read id,title only.
func TestBookReaderScenario(t *testing.T) {
	r := mustResolver(t, bookEntity(metadata.Permission{
		Role: "Reader",
		Actions: []metadata.Action{{
			Operation: "read",
			Fields:    &metadata.FieldScope{Include: []string{"id", "title"}},
		}},
	}))

	if !r.AreRoleAndOperationDefinedForEntity("Book", "Reader", OpRead) {
		t.Fatal("Reader read should be defined")
	}
	if !r.AreColumnsAllowedForOperation("Book", "Reader", OpRead, []string{"id", "title"}) {
		t.Fatal("id,title should be allowed")
	}
	if r.AreColumnsAllowedForOperation("Book", "Reader", OpRead, []string{"id", "title", "price"}) {
		t.Fatal("price should deny the request")
	}

	// Unconfigured role fails the operation check before any column check
	if r.AreRoleAndOperationDefinedForEntity("Book", "Writer", OpRead) {
		t.Fatal("Writer is not configured and must not be defined")
	}
	if r.AreColumnsAllowedForOperation("Book", "Writer", OpRead, []string{"id"}) {
		t.Fatal("column check must fail for an undefined row")
	}
}
