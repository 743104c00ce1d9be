package domain

import (
	"context"
	"iter"
	"time"
)

// AccountStore owns account balances and statuses.
//
// AdjustBalance is the only concurrency control point of the ledger: it
// must apply balance += delta as a single conditional update that fails
// with ErrPreconditionFailed when the result would be negative. With
// requireActive set, an account that is not active fails with
// ErrAccountInactive instead of being updated.
type AccountStore interface {
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, identifier string) (*Account, error)
	ListAccounts(ctx context.Context, filter string) ([]Account, error)
	AdjustBalance(ctx context.Context, identifier string, delta int64, requireActive bool) (*Account, error)
	// TransitionStatus moves the account from one status to another and
	// credits seed in the same write. It fails with ErrStatusConflict when
	// the stored status is no longer from.
	TransitionStatus(ctx context.Context, identifier string, from, to AccountStatus, seed int64) (*Account, error)
}

// ErrAccountInactive is returned by AccountStore.AdjustBalance when
// requireActive is set and the account is not active.
var ErrAccountInactive = newError(KindBusinessRule, "account_inactive", "account is not active")

// TransactionQuery selects entries from the transaction log. An empty
// Account selects every entry; a zero Limit means unbounded. RequestID
// narrows the query to the settlement of one cash request.
type TransactionQuery struct {
	Account   string
	RequestID string
	Limit     int
}

// TransactionLog is an append-only record of settled transfers.
type TransactionLog interface {
	// Append assigns the transaction ID and creation time and stores the
	// entry. It rejects entries that fail ValidateEntry, and a second entry
	// for the same cash request with ErrAlreadySettled.
	Append(ctx context.Context, tx *Transaction) (string, error)
	// Query returns entries newest first. Every range over the sequence
	// re-runs the query.
	Query(ctx context.Context, q TransactionQuery) iter.Seq2[Transaction, error]
}

// RequestStore owns pending cash requests.
//
// A resolver claims a request and gets back a fencing token. Every later
// write for the request presents that token, and a claim whose settlement
// has begun no longer expires.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *PendingRequest) error
	GetRequest(ctx context.Context, id string) (*PendingRequest, error)
	ListPending(ctx context.Context, agent string, limit int) iter.Seq2[PendingRequest, error]
	// Claim reserves a pending request until the given time and returns the
	// claim token. It fails with ErrAlreadyResolved or ErrRequestBusy.
	Claim(ctx context.Context, id string, until time.Time) (string, error)
	// BeginSettlement pins the claim held by token so it cannot expire. It
	// fails with ErrClaimLost when the claim has expired or changed hands.
	BeginSettlement(ctx context.Context, id, token string) error
	// Release drops the claim held by token. A stale token changes nothing.
	Release(ctx context.Context, id, token string) error
	// Resolve moves a pending request to approved or rejected exactly once,
	// for the holder of token only.
	Resolve(ctx context.Context, id, token string, status RequestStatus, transactionID string) (*PendingRequest, error)
	// ListSettling returns unresolved requests whose settlement began
	// before the cutoff.
	ListSettling(ctx context.Context, before time.Time) iter.Seq2[PendingRequest, error]
}

// Notifier is told about every transaction written to the log.
type Notifier interface {
	TransactionSettled(ctx context.Context, tx Transaction) error
}

// Collect drains a sequence into a slice.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
