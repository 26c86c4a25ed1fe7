package authz

import (
	"regexp"
	"strings"
)

// claimTokenRe matches @claims.<type> references in a database policy.
// @item.<column> references are left for the query builder to bind.
var claimTokenRe = regexp.MustCompile(`@claims\.([A-Za-z_][A-Za-z0-9_\-]*)`)

// ParameterizePolicy substitutes the caller's resolved claims into a
// database policy template. Each @claims.<type> token becomes a literal
// formatted for the claim's value type; operators, parentheses, and
// @item.<column> tokens pass through verbatim. The result is safe to
// conjoin into a WHERE clause: string values are quoted with embedded
// quotes doubled, and claim values that cannot be rendered as a scalar
// literal reject the request instead of being embedded.
func ParameterizePolicy(template string, claims map[string]Claim, op Operation) (string, error) {
	var out strings.Builder
	last := 0

	for _, loc := range claimTokenRe.FindAllStringSubmatchIndex(template, -1) {
		out.WriteString(template[last:loc[0]])
		last = loc[1]

		name := template[loc[2]:loc[3]]
		claim, ok := claims[name]
		if !ok {
			return "", forbidden(CodeMissingClaim,
				"Missing claim %s required to perform %s", name, op)
		}
		literal, err := claim.literal()
		if err != nil {
			return "", err
		}
		out.WriteString(literal)
	}

	out.WriteString(template[last:])
	return out.String(), nil
}

// literal renders the claim value as a predicate literal. Booleans and
// numbers are emitted verbatim; strings and nulls are single-quoted; JSON
// arrays and objects have no safe scalar form and fail hard.
func (c Claim) literal() (string, error) {
	switch c.ValueType {
	case TypeBool, TypeNumber:
		return c.Value, nil
	case TypeString, TypeNull:
		return "'" + strings.ReplaceAll(c.Value, "'", "''") + "'", nil
	default:
		return "", forbidden(CodeClaimType,
			"Claim %s has a %s value and cannot be used in a database policy", c.Type, c.ValueType)
	}
}
