package domain

import (
	"errors"
)

// Kind classifies a failure so transports can decide how to surface it.
type Kind int

const (
	KindInfrastructure Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindBusinessRule
	KindPartialFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule"
	case KindPartialFailure:
		return "partial_failure"
	default:
		return "infrastructure"
	}
}

// Error is a classified failure with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidAmount    = newError(KindValidation, "invalid_amount", "amount must be greater than zero")
	ErrInvalidType      = newError(KindValidation, "invalid_type", "unsupported transaction type")
	ErrSameAccount      = newError(KindValidation, "same_account", "sender and recipient must differ")
	ErrInvalidInput     = newError(KindValidation, "invalid_input", "invalid request")
	ErrInvalidRole      = newError(KindValidation, "invalid_role", "role must be customer or agent")
	ErrInvalidPinFormat = newError(KindValidation, "invalid_pin_format", "pin must be 4 to 6 digits")

	ErrUnauthenticated    = newError(KindAuthentication, "unauthenticated", "please authenticate")
	ErrInvalidCredentials = newError(KindAuthentication, "invalid_credentials", "invalid identifier or pin")

	ErrForbidden       = newError(KindAuthorization, "forbidden", "access denied")
	ErrAccountBlocked  = newError(KindAuthorization, "account_blocked", "account is blocked")
	ErrNotRequestOwner = newError(KindAuthorization, "not_request_owner", "request belongs to another agent")

	ErrAccountNotFound   = newError(KindNotFound, "account_not_found", "account not found")
	ErrSenderNotFound    = newError(KindNotFound, "sender_not_found", "sender account not found")
	ErrRecipientNotFound = newError(KindNotFound, "recipient_not_found", "recipient account not found")
	ErrAgentNotFound     = newError(KindNotFound, "agent_not_found", "agent account not found")
	ErrRequestNotFound   = newError(KindNotFound, "request_not_found", "cash request not found")

	ErrAccountExists   = newError(KindConflict, "account_exists", "account already exists")
	ErrStatusConflict  = newError(KindConflict, "status_conflict", "account is already in the requested status")
	ErrAlreadyResolved = newError(KindConflict, "already_resolved", "cash request is already resolved")
	ErrRequestBusy     = newError(KindConflict, "request_in_progress", "cash request is being settled")
	ErrClaimLost       = newError(KindConflict, "claim_lost", "cash request claim expired before it was used")
	ErrAlreadySettled  = newError(KindConflict, "already_settled", "cash request already has a logged transaction")

	ErrSenderInactive      = newError(KindBusinessRule, "sender_inactive", "sender account is not active")
	ErrRecipientInactive   = newError(KindBusinessRule, "recipient_inactive", "recipient account is not active")
	ErrRecipientNotAgent   = newError(KindBusinessRule, "recipient_not_agent", "recipient is not an agent")
	ErrAgentInactive       = newError(KindBusinessRule, "agent_inactive", "agent account is not active")
	ErrNotAgent            = newError(KindBusinessRule, "not_agent", "account is not an agent")
	ErrNotCustomer         = newError(KindBusinessRule, "not_customer", "account is not a customer")
	ErrInsufficientBalance = newError(KindBusinessRule, "insufficient_balance", "insufficient balance")
	ErrInvalidPin          = newError(KindBusinessRule, "invalid_pin", "invalid pin")
	ErrBalanceOverflow     = newError(KindBusinessRule, "balance_overflow", "balance would overflow")

	ErrCompensationFailed = newError(KindPartialFailure, "compensation_failed", "transfer could not be reversed")

	// ErrLoggingFailed means balances moved but the transaction record was not written.
	// The transfer is settled and must not be retried.
	ErrLoggingFailed = newError(KindInfrastructure, "logging_failed", "transfer settled but the transaction log write failed")
)

// ErrPreconditionFailed is returned by account stores when a conditional
// balance update does not apply. It never leaves the core.
var ErrPreconditionFailed = errors.New("balance precondition failed")

// KindOf returns the classification of err. Unclassified errors are
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the stable code of err, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
