package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"crudgate/internal/authz"
	"crudgate/internal/engine"
)

// RoleHeader is the header a client uses to declare which single role this
// request runs under. Without it, token holders run as "authenticated" and
// everyone else as "anonymous".
const RoleHeader = "X-Api-Role"

// PrincipalMiddleware returns a Fiber middleware that builds the request
// principal from the bearer token (or the lack of one), validates the
// declared role against the principal's membership, and stores both on the
// request for the engine.
func PrincipalMiddleware(secret string, resolver *authz.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		roleValues := c.GetReqHeaders()[RoleHeader]

		if header == "" {
			// No credentials: the only role such a request may claim is
			// anonymous.
			if len(roleValues) > 1 {
				return engine.ForbiddenError("Multiple role header values")
			}
			if len(roleValues) == 1 && !strings.EqualFold(roleValues[0], authz.RoleAnonymous) {
				return engine.ForbiddenError("Anonymous requests can only assume the anonymous role")
			}
			c.Locals("principal", NewAnonymousPrincipal())
			c.Locals("role", authz.RoleAnonymous)
			return c.Next()
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		principal := NewAuthenticatedPrincipal(claims)

		role := authz.RoleAuthenticated
		if len(roleValues) > 0 {
			if !resolver.IsValidRoleContext(roleValues, principal) {
				return engine.ForbiddenError("Invalid role context")
			}
			role = roleValues[0]
		}

		c.Locals("principal", principal)
		c.Locals("role", role)
		return c.Next()
	}
}
