package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

const accountKey = "account"

// Authenticator resolves a bearer token to an account identifier.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Protected rejects requests without a valid bearer token and stores the
// caller's mobile number in the request locals.
func Protected(auth Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization) // "Bearer eyJ..."
		if authHeader == "" {
			return domain.ErrUnauthenticated
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return domain.ErrUnauthenticated
		}

		account, err := auth.Authenticate(c.UserContext(), parts[1])
		if err != nil {
			return err
		}

		c.Locals(accountKey, account)
		return c.Next()
	}
}

// AccountID returns the caller stored by Protected, or "".
func AccountID(c *fiber.Ctx) string {
	account, _ := c.Locals(accountKey).(string)
	return account
}
