package authz

import (
	"fmt"
	"regexp"
	"strings"

	"crudgate/internal/metadata"
)

// System roles. A request without credentials runs as RoleAnonymous; a
// request with a valid token and no explicit role header runs as
// RoleAuthenticated. When an entity configures anonymous but not
// authenticated, authenticated inherits a copy of the anonymous grants.
const (
	RoleAnonymous     = "anonymous"
	RoleAuthenticated = "authenticated"
)

// Wildcard is the reserved token meaning "all" in operation lists and
// Include/Exclude column lists.
const Wildcard = "*"

var itemTokenRe = regexp.MustCompile(`@item\.([A-Za-z_][A-Za-z0-9_]*)`)

// PermissionTable is the build-once lookup structure behind the resolver:
// entity -> operation -> role -> access rule. It is never mutated after
// Build returns, so concurrent lookups need no locking.
type PermissionTable struct {
	entities map[string]*entityPermissions
}

type entityPermissions struct {
	columns     map[string]bool
	columnOrder []string
	// operations[op][role] with role names lowercased at build time.
	operations map[Operation]map[string]*accessRule
	// roleOps tracks which operations each role has, for the zero-grant
	// short-circuit and for discovery lookups.
	roleOps map[string][]Operation
}

type accessRule struct {
	role          string
	allowed       map[string]bool
	excluded      map[string]bool
	dbPolicy      string
	requestPolicy string
}

// BuildPermissionTable expands wildcards, resolves column scopes, applies
// system-role inheritance, and validates the configuration. All returned
// errors are configuration errors: they abort startup and are never
// deferred to request time.
func BuildPermissionTable(entities []*metadata.Entity) (*PermissionTable, error) {
	table := &PermissionTable{entities: make(map[string]*entityPermissions, len(entities))}

	for _, entity := range entities {
		ep := &entityPermissions{
			columns:     make(map[string]bool, len(entity.Fields)),
			columnOrder: entity.FieldNames(),
			operations:  make(map[Operation]map[string]*accessRule),
			roleOps:     make(map[string][]Operation),
		}
		for _, name := range ep.columnOrder {
			ep.columns[name] = true
		}

		for _, perm := range entity.Permissions {
			role := strings.ToLower(perm.Role)
			if role == "" {
				return nil, fmt.Errorf("entity %s: permission with empty role", entity.Name)
			}
			if _, dup := ep.roleOps[role]; dup {
				return nil, fmt.Errorf("entity %s: role %s configured twice", entity.Name, perm.Role)
			}
			ep.roleOps[role] = nil

			for _, action := range perm.Actions {
				op, err := ParseOperation(action.Operation)
				if err != nil {
					return nil, fmt.Errorf("entity %s, role %s: %w", entity.Name, perm.Role, err)
				}

				ops := []Operation{op}
				if op == OpAll {
					ops = OperationsForSource(entity.Source.Type)
				} else if !op.validFor(entity.Source.Type) {
					return nil, fmt.Errorf("entity %s, role %s: operation %s not valid for %s source",
						entity.Name, perm.Role, op, entity.Source.Type)
				}

				rule, err := buildRule(entity, perm.Role, action, ep.columns, ep.columnOrder)
				if err != nil {
					return nil, err
				}

				for _, concrete := range ops {
					byRole := ep.operations[concrete]
					if byRole == nil {
						byRole = make(map[string]*accessRule)
						ep.operations[concrete] = byRole
					}
					if _, dup := byRole[role]; dup {
						return nil, fmt.Errorf("entity %s, role %s: operation %s granted twice",
							entity.Name, perm.Role, concrete)
					}
					byRole[role] = rule
					ep.roleOps[role] = append(ep.roleOps[role], concrete)
				}
			}
		}

		inheritAnonymous(ep)
		table.entities[entity.Name] = ep
	}

	return table, nil
}

func buildRule(entity *metadata.Entity, role string, action metadata.Action, columns map[string]bool, order []string) (*accessRule, error) {
	rule := &accessRule{
		role:     role,
		allowed:  make(map[string]bool),
		excluded: make(map[string]bool),
	}

	if action.Fields == nil {
		// No field scope: every entity column is allowed.
		for name := range columns {
			rule.allowed[name] = true
		}
	} else {
		include := action.Fields.Include
		if len(include) == 0 {
			include = []string{Wildcard}
		}
		for _, name := range include {
			if name == Wildcard {
				for col := range columns {
					rule.allowed[col] = true
				}
				continue
			}
			if !columns[name] {
				return nil, fmt.Errorf("entity %s, role %s: include references unknown column %s", entity.Name, role, name)
			}
			rule.allowed[name] = true
		}
		for _, name := range action.Fields.Exclude {
			if name == Wildcard {
				for col := range columns {
					rule.excluded[col] = true
				}
				continue
			}
			if !columns[name] {
				return nil, fmt.Errorf("entity %s, role %s: exclude references unknown column %s", entity.Name, role, name)
			}
			rule.excluded[name] = true
		}
		// Exclusion beats inclusion.
		for name := range rule.excluded {
			delete(rule.allowed, name)
		}
	}

	if action.Policy != nil {
		rule.dbPolicy = action.Policy.Database
		rule.requestPolicy = action.Policy.Request
		for _, m := range itemTokenRe.FindAllStringSubmatch(rule.dbPolicy, -1) {
			if !columns[m[1]] {
				return nil, fmt.Errorf("entity %s, role %s: policy references unknown column %s", entity.Name, role, m[1])
			}
		}
	}

	return rule, nil
}

// inheritAnonymous copies the anonymous grants to the authenticated role
// when the entity configures only anonymous. The copy is deep, so later
// lookups for the two roles are fully independent.
func inheritAnonymous(ep *entityPermissions) {
	if _, explicit := ep.roleOps[RoleAuthenticated]; explicit {
		return
	}
	anonOps, ok := ep.roleOps[RoleAnonymous]
	if !ok {
		return
	}

	for _, op := range anonOps {
		src := ep.operations[op][RoleAnonymous]
		copied := &accessRule{
			role:          RoleAuthenticated,
			allowed:       make(map[string]bool, len(src.allowed)),
			excluded:      make(map[string]bool, len(src.excluded)),
			dbPolicy:      src.dbPolicy,
			requestPolicy: src.requestPolicy,
		}
		for col := range src.allowed {
			copied.allowed[col] = true
		}
		for col := range src.excluded {
			copied.excluded[col] = true
		}
		ep.operations[op][RoleAuthenticated] = copied
	}
	ep.roleOps[RoleAuthenticated] = append([]Operation(nil), anonOps...)
}

func (t *PermissionTable) rule(entity, role string, op Operation) *accessRule {
	ep := t.entities[entity]
	if ep == nil {
		return nil
	}
	role = strings.ToLower(role)
	ops, ok := ep.roleOps[role]
	if !ok || len(ops) == 0 {
		// Role has no grants on this entity at all.
		return nil
	}
	byRole := ep.operations[op]
	if byRole == nil {
		return nil
	}
	return byRole[role]
}
