package authz

import (
	"strings"
	"sync/atomic"

	"crudgate/internal/metadata"
)

// Resolver answers the per-request authorization questions: is the claimed
// role valid, is the operation granted, are the requested columns visible,
// and what row predicate applies. It is a stateless façade over the
// permission table; Reload builds a fresh table and swaps the reference,
// so readers in flight keep the table they started with.
type Resolver struct {
	table atomic.Pointer[PermissionTable]
}

// NewResolver builds the permission table for the given entities. Errors
// are configuration errors and should abort startup.
func NewResolver(entities []*metadata.Entity) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Reload(entities); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the permission table from scratch and atomically swaps
// it in. On error the previous table stays active.
func (r *Resolver) Reload(entities []*metadata.Entity) error {
	table, err := BuildPermissionTable(entities)
	if err != nil {
		return err
	}
	r.table.Store(table)
	return nil
}

// IsValidRoleContext reports whether the client's role header can be
// honored: exactly one non-empty value, and the principal's authenticated
// identity is a member of exactly that role. Membership is case-sensitive;
// everything downstream of this check treats the role case-insensitively.
func (r *Resolver) IsValidRoleContext(headerValues []string, p *Principal) bool {
	if len(headerValues) != 1 {
		return false
	}
	role := headerValues[0]
	if role == "" {
		return false
	}
	return p.IsInRole(role)
}

// AreRoleAndOperationDefinedForEntity reports whether the permission table
// has a row for (entity, operation, role). Querying the wildcard operation
// always reports false: wildcards are expanded away at build time.
func (r *Resolver) AreRoleAndOperationDefinedForEntity(entity, role string, op Operation) bool {
	return r.table.Load().rule(entity, role, op) != nil
}

// AreColumnsAllowedForOperation reports whether every requested column
// exists on the entity and sits inside the role's allow-set for the
// operation. A single unknown or excluded column fails the whole request;
// there are no partial grants.
func (r *Resolver) AreColumnsAllowedForOperation(entity, role string, op Operation, columns []string) bool {
	table := r.table.Load()
	rule := table.rule(entity, role, op)
	if rule == nil {
		return false
	}
	ep := table.entities[entity]
	for _, col := range columns {
		if !ep.columns[col] {
			return false
		}
		if !rule.allowed[col] {
			return false
		}
	}
	return true
}

// AllowedColumns returns the effective allow-set for (entity, role, op) in
// entity field order, or nil when the row is not defined.
func (r *Resolver) AllowedColumns(entity, role string, op Operation) []string {
	table := r.table.Load()
	rule := table.rule(entity, role, op)
	if rule == nil {
		return nil
	}
	var cols []string
	for _, name := range table.entities[entity].columnOrder {
		if rule.allowed[name] {
			cols = append(cols, name)
		}
	}
	return cols
}

// RolesForOperation enumerates the roles that have the operation defined
// on the entity. Used by discovery surfaces (route listing, schema
// filtering), not by the request path.
func (r *Resolver) RolesForOperation(entity string, op Operation) []string {
	ep := r.table.Load().entities[entity]
	if ep == nil {
		return nil
	}
	var roles []string
	for role := range ep.operations[op] {
		roles = append(roles, role)
	}
	return roles
}

// RolesForField enumerates the roles for which the column is visible under
// the operation.
func (r *Resolver) RolesForField(entity, column string, op Operation) []string {
	ep := r.table.Load().entities[entity]
	if ep == nil {
		return nil
	}
	var roles []string
	for role, rule := range ep.operations[op] {
		if rule.allowed[column] {
			roles = append(roles, role)
		}
	}
	return roles
}

// RequestPolicy returns the raw request-policy expression configured for
// (entity, role, op), or "" when absent.
func (r *Resolver) RequestPolicy(entity, role string, op Operation) string {
	rule := r.table.Load().rule(entity, role, op)
	if rule == nil {
		return ""
	}
	return rule.requestPolicy
}

// ProcessDBPolicy resolves the caller's claims and substitutes them into
// the database policy configured for (entity, role, op). It returns ""
// when no policy is configured. Missing claims, duplicate claims, and
// claims whose value cannot be embedded as a literal all surface as
// *Error with 403 semantics.
func (r *Resolver) ProcessDBPolicy(entity, role string, op Operation, p *Principal) (string, error) {
	rule := r.table.Load().rule(entity, role, op)
	if rule == nil || rule.dbPolicy == "" {
		return "", nil
	}
	claims, err := ResolveClaims(p, strings.ToLower(role))
	if err != nil {
		return "", err
	}
	return ParameterizePolicy(rule.dbPolicy, claims, op)
}
