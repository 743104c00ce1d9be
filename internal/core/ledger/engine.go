// Package ledger moves money between two accounts.
//
// A settlement is always debit, then credit, then log. The debit is a
// conditional update in the account store, so concurrent debits against
// the same account can never overdraw it. If the credit fails, the debit
// is reversed before returning. If the log write fails, the balances stay
// moved and the caller gets ErrLoggingFailed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

const (
	defaultCompensationAttempts = 5
	defaultCompensationDelay    = 100 * time.Millisecond
)

type Engine struct {
	accounts domain.AccountStore
	log      domain.TransactionLog
	notifier domain.Notifier

	compensationAttempts int
	compensationDelay    time.Duration
}

type Option func(*Engine)

// WithNotifier registers a hook that is told about every logged transaction.
func WithNotifier(n domain.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithCompensationRetry bounds how hard the engine tries to reverse a debit.
func WithCompensationRetry(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.compensationAttempts = attempts
		}
		e.compensationDelay = delay
	}
}

func NewEngine(accounts domain.AccountStore, log domain.TransactionLog, opts ...Option) *Engine {
	e := &Engine{
		accounts:             accounts,
		log:                  log,
		compensationAttempts: defaultCompensationAttempts,
		compensationDelay:    defaultCompensationDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settlement describes a transfer that moved money. TransactionID is empty
// when the log write failed.
type Settlement struct {
	TransactionID string                 `json:"transaction_id,omitempty"`
	Sender        string                 `json:"sender"`
	Recipient     string                 `json:"recipient"`
	Amount        int64                  `json:"amount"`
	Type          domain.TransactionType `json:"type"`
}

type transfer struct {
	sender    string
	recipient string
	amount    int64
	txType    domain.TransactionType
	requestID string
}

// SettleTransfer moves amount from sender to recipient. Both may be given
// as mobile number or email; the log records mobile numbers.
func (e *Engine) SettleTransfer(ctx context.Context, sender, recipient string, amount int64, txType domain.TransactionType) (*Settlement, error) {
	return e.settle(ctx, transfer{sender: sender, recipient: recipient, amount: amount, txType: txType})
}

// SettleRequest settles an approved cash request in the direction its type implies.
func (e *Engine) SettleRequest(ctx context.Context, req *domain.PendingRequest) (*Settlement, error) {
	return e.settle(ctx, transfer{
		sender:    req.Payer(),
		recipient: req.Payee(),
		amount:    req.Amount,
		txType:    req.Type,
		requestID: req.ID,
	})
}

func (e *Engine) settle(ctx context.Context, t transfer) (*Settlement, error) {
	sender, recipient, err := e.checkPreconditions(ctx, t)
	if err != nil {
		return nil, err
	}

	if _, err := e.accounts.AdjustBalance(ctx, sender.MobileNumber, -t.amount, true); err != nil {
		switch {
		case errors.Is(err, domain.ErrPreconditionFailed):
			return nil, domain.ErrInsufficientBalance
		case errors.Is(err, domain.ErrAccountInactive):
			return nil, domain.ErrSenderInactive
		case errors.Is(err, domain.ErrAccountNotFound):
			return nil, domain.ErrSenderNotFound
		}
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}

	// The debit is committed; from here the settlement can only complete
	// or be compensated, so the caller's cancellation no longer applies.
	ctx = context.WithoutCancel(ctx)

	if _, err := e.accounts.AdjustBalance(ctx, recipient.MobileNumber, t.amount, true); err != nil {
		creditErr := classifyCredit(err)
		slog.Warn("Credit failed after debit, compensating",
			"error", err,
			"sender", sender.MobileNumber,
			"recipient", recipient.MobileNumber,
			"amount", t.amount,
		)
		if compErr := e.compensate(ctx, sender.MobileNumber, t.amount); compErr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %v", domain.ErrCompensationFailed, compErr), creditErr)
		}
		return nil, creditErr
	}

	settlement := &Settlement{
		Sender:    sender.MobileNumber,
		Recipient: recipient.MobileNumber,
		Amount:    t.amount,
		Type:      t.txType,
	}

	entry := &domain.Transaction{
		Sender:    sender.MobileNumber,
		Recipient: recipient.MobileNumber,
		Amount:    t.amount,
		Type:      t.txType,
		RequestID: t.requestID,
	}
	id, err := e.log.Append(ctx, entry)
	if err != nil {
		slog.Error("❌ Transaction log write failed after settlement",
			"error", err,
			"sender", sender.MobileNumber,
			"recipient", recipient.MobileNumber,
			"amount", t.amount,
			"type", t.txType,
			"request_id", t.requestID,
		)
		return settlement, fmt.Errorf("%w: %v", domain.ErrLoggingFailed, err)
	}
	settlement.TransactionID = id

	slog.Info("💸 Transfer settled",
		"transaction_id", id,
		"type", t.txType,
		"sender", sender.MobileNumber,
		"recipient", recipient.MobileNumber,
		"amount", t.amount,
	)

	if e.notifier != nil {
		if err := e.notifier.TransactionSettled(ctx, *entry); err != nil {
			slog.Warn("Settlement notification failed", "error", err, "transaction_id", id)
		}
	}

	return settlement, nil
}

// checkPreconditions validates the transfer in a fixed order so each
// failure is reported the same way every time.
func (e *Engine) checkPreconditions(ctx context.Context, t transfer) (*domain.Account, *domain.Account, error) {
	if err := domain.ValidateAmount(t.amount); err != nil {
		return nil, nil, err
	}
	if !t.txType.Valid() {
		return nil, nil, domain.ErrInvalidType
	}

	sender, err := e.accounts.GetAccount(ctx, t.sender)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, nil, domain.ErrSenderNotFound
		}
		return nil, nil, fmt.Errorf("failed to load sender: %w", err)
	}
	if sender.Status != domain.StatusActive {
		return nil, nil, domain.ErrSenderInactive
	}

	recipient, err := e.accounts.GetAccount(ctx, t.recipient)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, nil, domain.ErrRecipientNotFound
		}
		return nil, nil, fmt.Errorf("failed to load recipient: %w", err)
	}
	if recipient.MobileNumber == sender.MobileNumber {
		return nil, nil, domain.ErrSameAccount
	}
	if recipient.Status != domain.StatusActive {
		return nil, nil, domain.ErrRecipientInactive
	}
	if t.txType == domain.TypeCashOut && recipient.Role != domain.RoleAgent {
		return nil, nil, domain.ErrRecipientNotAgent
	}

	if sender.Balance < t.amount {
		return nil, nil, domain.ErrInsufficientBalance
	}
	return sender, recipient, nil
}

func classifyCredit(err error) error {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.ErrRecipientNotFound
	case errors.Is(err, domain.ErrAccountInactive):
		return domain.ErrRecipientInactive
	case errors.Is(err, domain.ErrBalanceOverflow):
		return domain.ErrBalanceOverflow
	}
	return fmt.Errorf("failed to credit recipient: %w", err)
}

// compensate returns a committed debit to the sender. It ignores the
// sender's status: a sender blocked mid-transfer still gets the money back.
func (e *Engine) compensate(ctx context.Context, sender string, amount int64) error {
	var err error
	for attempt := 1; attempt <= e.compensationAttempts; attempt++ {
		if _, err = e.accounts.AdjustBalance(ctx, sender, amount, false); err == nil {
			slog.Info("↩️ Debit reversed", "sender", sender, "amount", amount, "attempt", attempt)
			return nil
		}
		slog.Error("Compensation attempt failed", "error", err, "sender", sender, "amount", amount, "attempt", attempt)
		if attempt < e.compensationAttempts {
			time.Sleep(time.Duration(attempt) * e.compensationDelay)
		}
	}
	return err
}
