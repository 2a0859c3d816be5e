package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/campus-care/counseling-service/internal/domain"
	apperrors "github.com/campus-care/counseling-service/pkg/util/errorutil"
)

// RequireRole ensures the principal holds one of the allowed roles.
// Administrators always pass.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.User.Role == domain.RoleAdmin || len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.User.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireCounselor admits professional and peer counselors.
func RequireCounselor() fiber.Handler {
	return RequireRole(domain.CounselorRoles...)
}

// RequireAnyRole ensures caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}
