package domain

import (
	"time"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

type AccountStatus string

const (
	StatusPending AccountStatus = "pending"
	StatusActive  AccountStatus = "active"
	StatusBlocked AccountStatus = "blocked"
)

// Account represents a customer, agent or admin wallet.
// Balance is a single unitless integer and never goes below zero.
type Account struct {
	Name         string        `json:"name"`
	MobileNumber string        `json:"mobile_number"`
	Email        string        `json:"email"`
	Role         Role          `json:"role"`
	Balance      int64         `json:"balance"`
	Status       AccountStatus `json:"status"`
	PinHash      string        `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Matches reports whether identifier is this account's mobile number or email.
func (a *Account) Matches(identifier string) bool {
	return identifier != "" && (a.MobileNumber == identifier || a.Email == identifier)
}

type TransactionType string

const (
	TypeSendMoney TransactionType = "send-money"
	TypeCashIn    TransactionType = "cash-in"
	TypeCashOut   TransactionType = "cash-out"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeSendMoney, TypeCashIn, TypeCashOut:
		return true
	}
	return false
}

// IsCash reports whether the type goes through agent approval.
func (t TransactionType) IsCash() bool {
	return t == TypeCashIn || t == TypeCashOut
}

// SettlementApproved is the only status a logged transaction can have.
const SettlementApproved = "approved"

// Transaction represents a settled movement of money. It is never updated.
type Transaction struct {
	ID        string          `json:"transaction_id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Amount    int64           `json:"amount"`
	Type      TransactionType `json:"type"`
	Status    string          `json:"status"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"date"`
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// PendingRequest is an agent-mediated cash operation awaiting the agent's decision.
// Customer is always the customer side; the agent side is Agent, regardless of
// which way the money flows on settlement.
type PendingRequest struct {
	ID            string          `json:"request_id"`
	Customer      string          `json:"customer"`
	Agent         string          `json:"agent"`
	Amount        int64           `json:"amount"`
	Type          TransactionType `json:"type"`
	Status        RequestStatus   `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`

	// ClaimToken fences writes by the resolver currently holding the request.
	ClaimToken    string     `json:"-"`
	// SettlingSince is set once money may have started to move.
	SettlingSince *time.Time `json:"-"`
}

// Payer returns the account debited when the request settles.
func (r *PendingRequest) Payer() string {
	if r.Type == TypeCashIn {
		return r.Agent
	}
	return r.Customer
}

// Payee returns the account credited when the request settles.
func (r *PendingRequest) Payee() string {
	if r.Type == TypeCashIn {
		return r.Customer
	}
	return r.Agent
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)
