package handler

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/gowallet/internal/core/approval"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/identity"
)

// CashRequestHandler serves agent-mediated cash-in and cash-out.
type CashRequestHandler struct {
	Workflow *approval.Workflow
	Identity *identity.Service
}

type CashRequestBody struct {
	Agent  string `json:"agent"`
	Amount int64  `json:"amount"`
	Type   string `json:"type"`
	Pin    string `json:"pin"`
}

type DecisionBody struct {
	Pin string `json:"pin"`
}

func (h *CashRequestHandler) Create(c *fiber.Ctx) error {
	var req CashRequestBody
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	customer := middleware.AccountID(c)
	if err := h.Identity.VerifyPin(c.UserContext(), customer, req.Pin); err != nil {
		return err
	}

	pending, err := h.Workflow.CreateRequest(c.UserContext(), customer, req.Agent, req.Amount, domain.TransactionType(req.Type))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(pending)
}

func (h *CashRequestHandler) Pending(c *fiber.Ctx) error {
	seq, err := h.Workflow.ListPendingForAgent(c.UserContext(), middleware.AccountID(c))
	if err != nil {
		return err
	}
	requests, err := domain.Collect(seq)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"requests": requests})
}

// Approve settles the request. The agent confirms with their PIN because
// approving moves money.
func (h *CashRequestHandler) Approve(c *fiber.Ctx) error {
	var req DecisionBody
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}

	agent := middleware.AccountID(c)
	if err := h.Identity.VerifyPin(c.UserContext(), agent, req.Pin); err != nil {
		return err
	}
	return h.resolve(c, agent, domain.DecisionApprove)
}

func (h *CashRequestHandler) Reject(c *fiber.Ctx) error {
	return h.resolve(c, middleware.AccountID(c), domain.DecisionReject)
}

func (h *CashRequestHandler) resolve(c *fiber.Ctx, agent string, decision domain.Decision) error {
	outcome, err := h.Workflow.Resolve(c.UserContext(), c.Params("id"), agent, decision)
	if errors.Is(err, domain.ErrLoggingFailed) && outcome != nil {
		// Settled and approved; only the log entry is missing.
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"code":    domain.CodeOf(err),
			"error":   domain.ErrLoggingFailed.Message,
			"request": outcome.Request,
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(outcome)
}
