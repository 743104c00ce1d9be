package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/identity"
	"github.com/ibrahimkeyboad/gowallet/internal/core/lifecycle"
)

type AccountHandler struct {
	Identity  *identity.Service
	Lifecycle *lifecycle.Service
	Accounts  domain.AccountStore
}

type RegisterRequest struct {
	Name         string `json:"name"`
	MobileNumber string `json:"mobile_number"`
	Email        string `json:"email"`
	Pin          string `json:"pin"`
	Role         string `json:"role"`
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Pin        string `json:"pin"`
}

func (h *AccountHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	account, err := h.Identity.Register(c.UserContext(), identity.Registration{
		Name:         req.Name,
		MobileNumber: req.MobileNumber,
		Email:        req.Email,
		Pin:          req.Pin,
		Role:         domain.Role(strings.ToLower(strings.TrimSpace(req.Role))),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(account)
}

func (h *AccountHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	if req.Identifier == "" || req.Pin == "" {
		return domain.ErrInvalidCredentials
	}

	session, err := h.Identity.Login(c.UserContext(), req.Identifier, req.Pin)
	if err != nil {
		slog.Warn("Login refused", "identifier", req.Identifier, "error", err)
		return err
	}
	return c.JSON(session)
}

// Me returns the caller's own account.
func (h *AccountHandler) Me(c *fiber.Ctx) error {
	account, err := h.Identity.Account(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return err
	}
	return c.JSON(account)
}

func (h *AccountHandler) List(c *fiber.Ctx) error {
	accounts, err := h.Accounts.ListAccounts(c.UserContext(), strings.TrimSpace(c.Query("q")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

func (h *AccountHandler) Activate(c *fiber.Ctx) error {
	account, err := h.Lifecycle.Activate(c.UserContext(), strings.ToLower(c.Params("email")))
	if err != nil {
		return err
	}
	slog.Info("✅ Account activated", "by", middleware.AccountID(c), "mobile_number", account.MobileNumber)
	return c.JSON(account)
}

func (h *AccountHandler) Block(c *fiber.Ctx) error {
	account, err := h.Lifecycle.Block(c.UserContext(), strings.ToLower(c.Params("email")))
	if err != nil {
		return err
	}
	slog.Info("🔒 Account blocked", "by", middleware.AccountID(c), "mobile_number", account.MobileNumber)
	return c.JSON(account)
}
