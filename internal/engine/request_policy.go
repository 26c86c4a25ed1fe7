package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"crudgate/internal/authz"
)

// PolicyEvaluator evaluates configured request-policy expressions with
// expr-lang. Compiled programs are cached by expression string; the cache
// is shared across requests, so access is mutex-guarded.
type PolicyEvaluator struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

func NewPolicyEvaluator() *PolicyEvaluator {
	return &PolicyEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// EvaluateRequestPolicy runs a request-policy expression against the
// caller's resolved claims. The env exposes "claims" (claim type to native
// value), "entity", and "method". Anything but a true result rejects the
// request.
func (e *PolicyEvaluator) EvaluateRequestPolicy(expression string, claims map[string]authz.Claim, entity, method string) error {
	prog, err := e.compile(expression)
	if err != nil {
		return fmt.Errorf("compile request policy: %w", err)
	}

	env := map[string]any{
		"claims": claimsEnv(claims),
		"entity": entity,
		"method": method,
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return fmt.Errorf("evaluate request policy: %w", err)
	}

	allowed, ok := result.(bool)
	if !ok {
		return fmt.Errorf("request policy did not return bool")
	}
	if !allowed {
		return &AppError{Code: "FORBIDDEN_POLICY", Status: 403, Message: "Request denied by policy"}
	}
	return nil
}

func (e *PolicyEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prog, ok := e.cache[expression]
	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.AsBool())
		if err != nil {
			return nil, err
		}
		e.cache[expression] = prog
	}
	return prog, nil
}

// claimsEnv converts resolved claims to native values so policy
// expressions can compare them without casts.
func claimsEnv(claims map[string]authz.Claim) map[string]any {
	env := make(map[string]any, len(claims))
	for name, c := range claims {
		switch c.ValueType {
		case authz.TypeBool:
			b, _ := strconv.ParseBool(c.Value)
			env[name] = b
		case authz.TypeNumber:
			f, _ := strconv.ParseFloat(c.Value, 64)
			env[name] = f
		case authz.TypeJSON:
			var v any
			if err := json.Unmarshal([]byte(c.Value), &v); err == nil {
				env[name] = v
			} else {
				env[name] = c.Value
			}
		default:
			env[name] = c.Value
		}
	}
	return env
}
