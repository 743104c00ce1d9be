package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

// ErrorHandler renders every error returned by a route as {"code","error"}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"code": "http_error", "error": fe.Message})
	}

	status := StatusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		slog.Error("❌ Request failed", "error", err, "method", c.Method(), "path", c.Path())
		message = "internal server error"
		var derr *domain.Error
		if errors.As(err, &derr) {
			message = derr.Message
		}
	}
	return c.Status(status).JSON(fiber.Map{"code": domain.CodeOf(err), "error": message})
}

// StatusFor maps an error's kind to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, domain.ErrInvalidPin) {
		return http.StatusUnauthorized
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindBusinessRule:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func badBody(err error) error {
	slog.Warn("Invalid request body", "error", err)
	return domain.ErrInvalidInput
}
