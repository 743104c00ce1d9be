package middleware

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type RoleAuthorizer interface {
	AuthorizeRole(ctx context.Context, identifier string, role domain.Role) error
}

// RequireRole lets the request through only when the authorizer says yes.
// Every other outcome ends the request.
func RequireRole(authz RoleAuthorizer, role domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		account := AccountID(c)
		if account == "" {
			return domain.ErrUnauthenticated
		}
		if err := authz.AuthorizeRole(c.UserContext(), account, role); err != nil {
			slog.Warn("⛔ Role check denied", "account", account, "role", role, "path", c.Path())
			return err
		}
		return c.Next()
	}
}
