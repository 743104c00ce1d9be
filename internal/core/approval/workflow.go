// Package approval runs agent cash-in and cash-out as a two-phase protocol:
// the customer files a request, and only the target agent's approval moves
// money through the ledger engine.
package approval

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/ledger"
)

// Settler moves the money for an approved request.
type Settler interface {
	SettleRequest(ctx context.Context, req *domain.PendingRequest) (*ledger.Settlement, error)
}

type Config struct {
	// PendingLimit bounds ListPendingForAgent.
	PendingLimit int
	// ClaimTTL is how long a resolving agent holds a request before its
	// settlement begins.
	ClaimTTL time.Duration
}

type Workflow struct {
	accounts domain.AccountStore
	requests domain.RequestStore
	log      domain.TransactionLog
	settler  Settler
	cfg      Config
	now      func() time.Time
}

func NewWorkflow(accounts domain.AccountStore, requests domain.RequestStore, log domain.TransactionLog, settler Settler, cfg Config) *Workflow {
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = 20
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	return &Workflow{
		accounts: accounts,
		requests: requests,
		log:      log,
		settler:  settler,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Outcome is the result of resolving a request. Settlement is nil for rejections.
type Outcome struct {
	Request    *domain.PendingRequest `json:"request"`
	Settlement *ledger.Settlement     `json:"settlement,omitempty"`
}

// CreateRequest files a cash-in or cash-out from a customer to an agent.
// Nothing moves until the agent approves. For cash-out the customer's
// balance is checked now as an early rejection and again at approval.
func (w *Workflow) CreateRequest(ctx context.Context, customerID, agentID string, amount int64, txType domain.TransactionType) (*domain.PendingRequest, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if !txType.IsCash() {
		return nil, domain.ErrInvalidType
	}

	customer, err := w.accounts.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.Role != domain.RoleCustomer {
		return nil, domain.ErrNotCustomer
	}
	if customer.Status != domain.StatusActive {
		return nil, domain.ErrAccountInactive
	}

	agent, err := w.activeAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if txType == domain.TypeCashOut && customer.Balance < amount {
		return nil, domain.ErrInsufficientBalance
	}

	req := &domain.PendingRequest{
		Customer: customer.MobileNumber,
		Agent:    agent.MobileNumber,
		Amount:   amount,
		Type:     txType,
	}
	if err := w.requests.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create cash request: %w", err)
	}

	slog.Info("📲 Cash request created",
		"request_id", req.ID,
		"type", req.Type,
		"customer", req.Customer,
		"agent", req.Agent,
		"amount", req.Amount,
	)
	return req, nil
}

func (w *Workflow) activeAgent(ctx context.Context, agentID string) (*domain.Account, error) {
	agent, err := w.accounts.GetAccount(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrAgentNotFound
		}
		return nil, err
	}
	if agent.Role != domain.RoleAgent {
		return nil, domain.ErrNotAgent
	}
	if agent.Status != domain.StatusActive {
		return nil, domain.ErrAgentInactive
	}
	return agent, nil
}

// ListPendingForAgent returns the agent's pending requests, newest first.
func (w *Workflow) ListPendingForAgent(ctx context.Context, agentID string) (iter.Seq2[domain.PendingRequest, error], error) {
	agent, err := w.accounts.GetAccount(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Role != domain.RoleAgent {
		return nil, domain.ErrNotAgent
	}
	return w.requests.ListPending(ctx, agent.MobileNumber, w.cfg.PendingLimit), nil
}

// Resolve applies the target agent's decision to a pending request.
//
// The request is claimed before anything else happens so two decisions on
// the same request cannot interleave. The claim is pinned before the
// settler runs, so a slow settlement never lets a second approval in. A
// settlement that fails cleanly releases the claim and leaves the request
// pending.
func (w *Workflow) Resolve(ctx context.Context, requestID, agentID string, decision domain.Decision) (*Outcome, error) {
	if decision != domain.DecisionApprove && decision != domain.DecisionReject {
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidInput, decision)
	}

	req, err := w.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	agent, err := w.accounts.GetAccount(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if req.Agent != agent.MobileNumber {
		slog.Warn("Agent tried to resolve another agent's request",
			"request_id", req.ID,
			"agent", agent.MobileNumber,
			"owner", req.Agent,
		)
		return nil, domain.ErrNotRequestOwner
	}
	if req.Status != domain.RequestPending {
		return nil, domain.ErrAlreadyResolved
	}

	token, err := w.requests.Claim(ctx, req.ID, w.now().Add(w.cfg.ClaimTTL))
	if err != nil {
		return nil, err
	}

	if decision == domain.DecisionReject {
		resolved, err := w.requests.Resolve(ctx, req.ID, token, domain.RequestRejected, "")
		if err != nil {
			w.release(ctx, req.ID, token)
			return nil, err
		}
		slog.Info("🚫 Cash request rejected", "request_id", req.ID, "agent", req.Agent)
		return &Outcome{Request: resolved}, nil
	}

	return w.approve(ctx, req, token)
}

func (w *Workflow) approve(ctx context.Context, req *domain.PendingRequest, token string) (*Outcome, error) {
	payer, err := w.accounts.GetAccount(ctx, req.Payer())
	if err != nil {
		w.release(ctx, req.ID, token)
		return nil, err
	}
	if payer.Balance < req.Amount {
		w.release(ctx, req.ID, token)
		return nil, domain.ErrInsufficientBalance
	}

	if err := w.requests.BeginSettlement(ctx, req.ID, token); err != nil {
		slog.Warn("Cash request claim lost before settlement", "error", err, "request_id", req.ID)
		return nil, err
	}

	settlement, settleErr := w.settler.SettleRequest(ctx, req)
	switch {
	case settleErr == nil, errors.Is(settleErr, domain.ErrLoggingFailed):
	case errors.Is(settleErr, domain.ErrCompensationFailed):
		// The payer may be short the amount. The request stays pinned until
		// someone reconciles it by hand.
		slog.Error("❌ Cash request left settling after failed compensation",
			"error", settleErr,
			"request_id", req.ID,
		)
		return nil, settleErr
	default:
		w.release(ctx, req.ID, token)
		return nil, settleErr
	}

	// Money has moved; the request must be closed even if the caller left.
	ctx = context.WithoutCancel(ctx)
	resolved, err := w.requests.Resolve(ctx, req.ID, token, domain.RequestApproved, settlement.TransactionID)
	if err != nil {
		slog.Error("❌ Settled cash request could not be marked approved",
			"error", err,
			"request_id", req.ID,
			"transaction_id", settlement.TransactionID,
		)
		return nil, fmt.Errorf("request %s settled but not marked approved: %w", req.ID, err)
	}

	slog.Info("✅ Cash request approved",
		"request_id", req.ID,
		"transaction_id", settlement.TransactionID,
		"type", req.Type,
	)
	return &Outcome{Request: resolved, Settlement: settlement}, settleErr
}

func (w *Workflow) release(ctx context.Context, id, token string) {
	if err := w.requests.Release(context.WithoutCancel(ctx), id, token); err != nil {
		slog.Error("Failed to release cash request claim", "error", err, "request_id", id)
	}
}

// Reconcile closes requests left settling by a resolver that never came
// back. A request whose transaction reached the log is marked approved.
// One without a logged transaction may have moved money partway, so it is
// reported and left pinned. It returns how many requests were closed.
func (w *Workflow) Reconcile(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := domain.Collect(w.requests.ListSettling(ctx, w.now().Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("failed to list settling cash requests: %w", err)
	}

	closed := 0
	for _, req := range stale {
		logged, err := domain.Collect(w.log.Query(ctx, domain.TransactionQuery{RequestID: req.ID, Limit: 1}))
		if err != nil {
			return closed, fmt.Errorf("failed to look up settlement of %s: %w", req.ID, err)
		}
		if len(logged) == 0 {
			slog.Warn("Cash request stuck settling without a logged transaction",
				"request_id", req.ID,
				"settling_since", req.SettlingSince,
			)
			continue
		}

		_, err = w.requests.Resolve(ctx, req.ID, req.ClaimToken, domain.RequestApproved, logged[0].ID)
		if errors.Is(err, domain.ErrAlreadyResolved) || errors.Is(err, domain.ErrClaimLost) {
			continue
		}
		if err != nil {
			return closed, err
		}
		slog.Info("🔁 Reconciled settled cash request", "request_id", req.ID, "transaction_id", logged[0].ID)
		closed++
	}
	return closed, nil
}
