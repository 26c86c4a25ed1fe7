package authz

import (
	"encoding/json"
	"strings"
)

// Scope claim types collapse to a single space-joined value per the OAuth
// convention instead of triggering the duplicate-claim error. The role
// claim is likewise exempt because it is forced to the effective role.
// This exemption list is deliberate and fixed; do not widen it.
var scopeClaimTypes = map[string]bool{
	"scp":   true,
	"scope": true,
}

// ResolveClaims flattens the principal's claims into one value per claim
// type for policy parameterization:
//
//   - only authenticated identities contribute claims;
//   - the roles claim is forced to the single effective role of the
//     request, regardless of what the token carries;
//   - scp/scope values collapse to one space-joined string;
//   - repeated identical (type, value) pairs collapse to one;
//   - repeated distinct values for any other claim type reject the
//     request with a duplicate-claim error.
func ResolveClaims(p *Principal, effectiveRole string) (map[string]Claim, error) {
	resolved := make(map[string]Claim)
	var scopes []string

	if p != nil {
		for _, id := range p.Identities {
			if !id.Authenticated {
				continue
			}
			for _, c := range id.Claims {
				if c.Type == RoleClaimType {
					continue
				}
				if scopeClaimTypes[c.Type] {
					scopes = append(scopes, scopeValues(c)...)
					continue
				}
				existing, seen := resolved[c.Type]
				if !seen {
					resolved[c.Type] = c
					continue
				}
				if existing.Value != c.Value || existing.ValueType != c.ValueType {
					return nil, forbidden(CodeDuplicateClaim,
						"Duplicate claim %s with conflicting values", c.Type)
				}
			}
		}
	}

	if len(scopes) > 0 {
		resolved["scp"] = Claim{Type: "scp", Value: strings.Join(scopes, " "), ValueType: TypeString}
	}
	resolved[RoleClaimType] = Claim{Type: RoleClaimType, Value: effectiveRole, ValueType: TypeString}

	return resolved, nil
}

// scopeValues splits a scope claim into its individual scopes: array
// claims contribute each element, scalar claims contribute their
// space-separated parts.
func scopeValues(c Claim) []string {
	if c.ValueType == TypeJSON {
		var parts []string
		if err := json.Unmarshal([]byte(c.Value), &parts); err == nil {
			return parts
		}
	}
	if c.Value == "" {
		return nil
	}
	return strings.Fields(c.Value)
}
