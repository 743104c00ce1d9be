// Package memory keeps accounts, transactions and cash requests in process.
// Every mutation happens under one mutex, which gives AdjustBalance the
// same compare-and-swap behaviour as the database stores.
package memory

import (
	"context"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type Store struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account // by mobile number
	emails       map[string]string          // email -> mobile number
	transactions []domain.Transaction
	requests     map[string]*storedRequest
	requestOrder []string
	now          func() time.Time
}

type storedRequest struct {
	domain.PendingRequest
	claimedUntil time.Time
}

// settling reports whether the claim has been pinned for settlement.
func (r *storedRequest) settling() bool {
	return r.SettlingSince != nil
}

func New() *Store {
	return &Store{
		accounts: map[string]*domain.Account{},
		emails:   map[string]string{},
		requests: map[string]*storedRequest{},
		now:      time.Now,
	}
}

func (s *Store) lookup(identifier string) *domain.Account {
	if acc, ok := s.accounts[identifier]; ok {
		return acc
	}
	if mobile, ok := s.emails[identifier]; ok {
		return s.accounts[mobile]
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(acc.MobileNumber) != nil || s.lookup(acc.Email) != nil {
		return domain.ErrAccountExists
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = s.now().UTC()
	}
	stored := *acc
	s.accounts[acc.MobileNumber] = &stored
	s.emails[acc.Email] = acc.MobileNumber
	return nil
}

func (s *Store) GetAccount(ctx context.Context, identifier string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.lookup(identifier)
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	out := *acc
	return &out, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter string) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(filter)
	out := []domain.Account{}
	for _, acc := range s.accounts {
		if needle != "" &&
			!strings.Contains(strings.ToLower(acc.MobileNumber), needle) &&
			!strings.Contains(strings.ToLower(acc.Email), needle) {
			continue
		}
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AdjustBalance(ctx context.Context, identifier string, delta int64, requireActive bool) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.lookup(identifier)
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	if requireActive && acc.Status != domain.StatusActive {
		return nil, domain.ErrAccountInactive
	}
	next, err := domain.ApplyDelta(acc.Balance, delta)
	if err != nil {
		return nil, err
	}
	acc.Balance = next
	out := *acc
	return &out, nil
}

func (s *Store) TransitionStatus(ctx context.Context, identifier string, from, to domain.AccountStatus, seed int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.lookup(identifier)
	if acc == nil {
		return nil, domain.ErrAccountNotFound
	}
	if acc.Status != from {
		return nil, domain.ErrStatusConflict
	}
	next, err := domain.ApplyDelta(acc.Balance, seed)
	if err != nil {
		return nil, err
	}
	acc.Status = to
	acc.Balance = next
	out := *acc
	return &out, nil
}

// DeleteAccount removes an account outright. It exists for tests that
// simulate a recipient disappearing mid-transfer.
func (s *Store) DeleteAccount(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc := s.lookup(identifier); acc != nil {
		delete(s.emails, acc.Email)
		delete(s.accounts, acc.MobileNumber)
	}
}

// TotalBalance sums every account balance.
func (s *Store) TotalBalance() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, acc := range s.accounts {
		total += acc.Balance
	}
	return total
}

func (s *Store) Append(ctx context.Context, tx *domain.Transaction) (string, error) {
	if err := domain.ValidateEntry(tx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.RequestID != "" {
		for _, logged := range s.transactions {
			if logged.RequestID == tx.RequestID {
				return "", domain.ErrAlreadySettled
			}
		}
	}
	tx.ID = uuid.NewString()
	tx.CreatedAt = s.now().UTC()
	tx.Status = domain.SettlementApproved
	s.transactions = append(s.transactions, *tx)
	return tx.ID, nil
}

func (s *Store) Query(ctx context.Context, q domain.TransactionQuery) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		s.mu.Lock()
		var matched []domain.Transaction
		for i := len(s.transactions) - 1; i >= 0; i-- {
			tx := s.transactions[i]
			if q.Account != "" && tx.Sender != q.Account && tx.Recipient != q.Account {
				continue
			}
			if q.RequestID != "" && tx.RequestID != q.RequestID {
				continue
			}
			matched = append(matched, tx)
			if q.Limit > 0 && len(matched) == q.Limit {
				break
			}
		}
		s.mu.Unlock()

		for _, tx := range matched {
			if err := ctx.Err(); err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
	}
}

func (s *Store) CreateRequest(ctx context.Context, req *domain.PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.ID = uuid.NewString()
	req.Status = domain.RequestPending
	req.CreatedAt = s.now().UTC()
	s.requests[req.ID] = &storedRequest{PendingRequest: *req}
	s.requestOrder = append(s.requestOrder, req.ID)
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	out := req.PendingRequest
	return &out, nil
}

func (s *Store) ListPending(ctx context.Context, agent string, limit int) iter.Seq2[domain.PendingRequest, error] {
	return func(yield func(domain.PendingRequest, error) bool) {
		s.mu.Lock()
		var matched []domain.PendingRequest
		for i := len(s.requestOrder) - 1; i >= 0; i-- {
			req := s.requests[s.requestOrder[i]]
			if req.Agent != agent || req.Status != domain.RequestPending {
				continue
			}
			matched = append(matched, req.PendingRequest)
			if limit > 0 && len(matched) == limit {
				break
			}
		}
		s.mu.Unlock()

		for _, req := range matched {
			if !yield(req, nil) {
				return
			}
		}
	}
}

func (s *Store) Claim(ctx context.Context, id string, until time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return "", domain.ErrRequestNotFound
	}
	if req.Status != domain.RequestPending {
		return "", domain.ErrAlreadyResolved
	}
	if req.settling() || req.claimedUntil.After(s.now()) {
		return "", domain.ErrRequestBusy
	}
	req.claimedUntil = until
	req.ClaimToken = uuid.NewString()
	return req.ClaimToken, nil
}

func (s *Store) BeginSettlement(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if req.Status != domain.RequestPending {
		return domain.ErrAlreadyResolved
	}
	if token == "" || req.ClaimToken != token || req.settling() || !req.claimedUntil.After(s.now()) {
		return domain.ErrClaimLost
	}
	since := s.now().UTC()
	req.SettlingSince = &since
	return nil
}

func (s *Store) Release(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req, ok := s.requests[id]; ok && token != "" && req.ClaimToken == token {
		req.clearClaim()
	}
	return nil
}

func (r *storedRequest) clearClaim() {
	r.claimedUntil = time.Time{}
	r.ClaimToken = ""
	r.SettlingSince = nil
}

func (s *Store) Resolve(ctx context.Context, id, token string, status domain.RequestStatus, transactionID string) (*domain.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if req.Status != domain.RequestPending {
		return nil, domain.ErrAlreadyResolved
	}
	if token == "" || req.ClaimToken != token {
		return nil, domain.ErrClaimLost
	}
	resolvedAt := s.now().UTC()
	req.Status = status
	req.TransactionID = transactionID
	req.ResolvedAt = &resolvedAt
	req.clearClaim()
	out := req.PendingRequest
	return &out, nil
}

func (s *Store) ListSettling(ctx context.Context, before time.Time) iter.Seq2[domain.PendingRequest, error] {
	return func(yield func(domain.PendingRequest, error) bool) {
		s.mu.Lock()
		var matched []domain.PendingRequest
		for _, id := range s.requestOrder {
			req := s.requests[id]
			if req.Status == domain.RequestPending && req.settling() && req.SettlingSince.Before(before) {
				matched = append(matched, req.PendingRequest)
			}
		}
		s.mu.Unlock()

		for _, req := range matched {
			if !yield(req, nil) {
				return
			}
		}
	}
}
