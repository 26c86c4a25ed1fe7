package authz

import (
	"encoding/json"
	"strconv"
)

// ClaimValueType is the closed set of claim value shapes the engine knows
// how to handle. JSON covers arrays and objects; those claims survive
// extraction but can never be rendered as a predicate literal.
type ClaimValueType int

const (
	TypeString ClaimValueType = iota
	TypeBool
	TypeNumber
	TypeNull
	TypeJSON
)

func (t ClaimValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeNull:
		return "null"
	default:
		return "json"
	}
}

// RoleClaimType is the claim type carrying role membership. During claim
// resolution it is always forced to the single effective role of the
// request, never the token's full role list.
const RoleClaimType = "roles"

// Claim is one (type, value) pair from an identity. Value is the canonical
// textual form: JSON text for array/object claims, "true"/"false" for
// booleans, and the empty string for null.
type Claim struct {
	Type      string
	Value     string
	ValueType ClaimValueType
}

// NewClaim builds a Claim from a JSON-decoded token value, preserving
// enough type information for literal formatting later.
func NewClaim(claimType string, v any) Claim {
	switch val := v.(type) {
	case nil:
		return Claim{Type: claimType, Value: "", ValueType: TypeNull}
	case string:
		return Claim{Type: claimType, Value: val, ValueType: TypeString}
	case bool:
		return Claim{Type: claimType, Value: strconv.FormatBool(val), ValueType: TypeBool}
	case float64:
		return Claim{Type: claimType, Value: strconv.FormatFloat(val, 'f', -1, 64), ValueType: TypeNumber}
	case json.Number:
		return Claim{Type: claimType, Value: val.String(), ValueType: TypeNumber}
	default:
		// Arrays and objects keep their canonical JSON text.
		text, err := json.Marshal(v)
		if err != nil {
			return Claim{Type: claimType, Value: "", ValueType: TypeJSON}
		}
		return Claim{Type: claimType, Value: string(text), ValueType: TypeJSON}
	}
}

// Identity is one authentication result within a principal. Claims on an
// unauthenticated identity are ignored by claim resolution.
type Identity struct {
	Authenticated bool
	Claims        []Claim
}

// Principal is the request's caller as seen by the authorization engine:
// zero or more identities, each with its own authentication status.
type Principal struct {
	Identities []Identity
}

// Authenticated reports whether any identity is authenticated.
func (p *Principal) Authenticated() bool {
	if p == nil {
		return false
	}
	for _, id := range p.Identities {
		if id.Authenticated {
			return true
		}
	}
	return false
}

// IsInRole reports whether an authenticated identity carries role
// membership for the given role. The comparison is case-sensitive: the
// role header must name the membership exactly as the token spells it.
func (p *Principal) IsInRole(role string) bool {
	if p == nil {
		return false
	}
	for _, id := range p.Identities {
		if !id.Authenticated {
			continue
		}
		for _, c := range id.Claims {
			if c.Type != RoleClaimType {
				continue
			}
			if c.ValueType == TypeJSON {
				var roles []string
				if err := json.Unmarshal([]byte(c.Value), &roles); err != nil {
					continue
				}
				for _, r := range roles {
					if r == role {
						return true
					}
				}
				continue
			}
			if c.Value == role {
				return true
			}
		}
	}
	return false
}
