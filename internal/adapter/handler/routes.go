package handler

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/gowallet/internal/core/approval"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/identity"
	"github.com/ibrahimkeyboad/gowallet/internal/core/ledger"
	"github.com/ibrahimkeyboad/gowallet/internal/core/lifecycle"
)

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Identity       *identity.Service
	Lifecycle      *lifecycle.Service
	Engine         *ledger.Engine
	Workflow       *approval.Workflow
	Accounts       domain.AccountStore
	Log            domain.TransactionLog
	Responses      middleware.ResponseCache
	HistoryLimit   int
	AllowedOrigins string
	// Ping reports whether the backing store is reachable.
	Ping           func(ctx context.Context) error
}

func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
		UnescapePath:          true,
	})
	app.Use(cors.New(cors.Config{AllowOrigins: d.AllowedOrigins}))

	accounts := &AccountHandler{Identity: d.Identity, Lifecycle: d.Lifecycle, Accounts: d.Accounts}
	transactions := &TransactionHandler{Engine: d.Engine, Identity: d.Identity, Log: d.Log, HistoryLimit: d.HistoryLimit}
	cash := &CashRequestHandler{Workflow: d.Workflow, Identity: d.Identity}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if d.Ping != nil {
			if err := d.Ping(c.UserContext()); err != nil {
				return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/v1")

	// Public
	api.Post("/register", accounts.Register)
	api.Post("/login", accounts.Login)

	// Protected
	auth := middleware.Protected(d.Identity)
	idempotent := middleware.Idempotency(d.Responses)
	customer := middleware.RequireRole(d.Identity, domain.RoleCustomer)
	agent := middleware.RequireRole(d.Identity, domain.RoleAgent)
	admin := middleware.RequireRole(d.Identity, domain.RoleAdmin)

	api.Get("/me", auth, accounts.Me)
	api.Get("/transactions", auth, transactions.History)
	api.Post("/transfer", auth, idempotent, transactions.Transfer)

	api.Post("/cash-requests", auth, customer, idempotent, cash.Create)
	api.Get("/cash-requests/pending", auth, agent, cash.Pending)
	api.Post("/cash-requests/:id/approve", auth, agent, idempotent, cash.Approve)
	api.Post("/cash-requests/:id/reject", auth, agent, idempotent, cash.Reject)

	adminGroup := api.Group("/admin", auth, admin)
	adminGroup.Get("/accounts", accounts.List)
	adminGroup.Patch("/accounts/:email/activate", accounts.Activate)
	adminGroup.Patch("/accounts/:email/block", accounts.Block)
	adminGroup.Get("/transactions", transactions.All)

	return app
}
