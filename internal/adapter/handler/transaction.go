package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/identity"
	"github.com/ibrahimkeyboad/gowallet/internal/core/ledger"
)

type TransactionHandler struct {
	Engine       *ledger.Engine
	Identity     *identity.Service
	Log          domain.TransactionLog
	HistoryLimit int
}

type TransferRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Pin       string `json:"pin"`
	// Type is send-money unless the caller pays an agent out directly.
	Type      string `json:"type"`
}

// Transfer moves money from the caller to the recipient.
func (h *TransactionHandler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(err)
	}
	txType := domain.TypeSendMoney
	if req.Type != "" {
		txType = domain.TransactionType(req.Type)
	}
	if txType == domain.TypeCashIn {
		return domain.ErrInvalidType
	}

	sender := middleware.AccountID(c)
	if err := h.Identity.VerifyPin(c.UserContext(), sender, req.Pin); err != nil {
		return err
	}

	settlement, err := h.Engine.SettleTransfer(c.UserContext(), sender, req.Recipient, req.Amount, txType)
	if err != nil {
		return err
	}
	return c.JSON(settlement)
}

// History returns the caller's most recent transactions. The limit query
// parameter may lower the configured cap but never raise it.
func (h *TransactionHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.HistoryLimit)
	if limit <= 0 || limit > h.HistoryLimit {
		limit = h.HistoryLimit
	}

	transactions, err := domain.Collect(h.Log.Query(c.UserContext(), domain.TransactionQuery{
		Account: middleware.AccountID(c),
		Limit:   limit,
	}))
	if err != nil {
		slog.Error("Could not fetch history", "error", err)
		return err
	}
	return c.JSON(fiber.Map{"transactions": transactions})
}

// All returns the full log for administrators.
func (h *TransactionHandler) All(c *fiber.Ctx) error {
	transactions, err := domain.Collect(h.Log.Query(c.UserContext(), domain.TransactionQuery{}))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": transactions})
}
