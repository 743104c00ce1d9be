package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

const requestColumns = `id::text, customer, agent, amount, type, status,
	COALESCE(transaction_id::text, ''), created_at, resolved_at,
	COALESCE(claim_token::text, ''), settling_since`

// RequestRepository stores cash-in and cash-out requests awaiting an agent.
type RequestRepository struct {
	db *pgxpool.Pool
}

func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

func scanRequest(row pgx.Row) (*domain.PendingRequest, error) {
	var req domain.PendingRequest
	err := row.Scan(
		&req.ID, &req.Customer, &req.Agent, &req.Amount, &req.Type,
		&req.Status, &req.TransactionID, &req.CreatedAt, &req.ResolvedAt,
		&req.ClaimToken, &req.SettlingSince,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepository) CreateRequest(ctx context.Context, req *domain.PendingRequest) error {
	query := `
		INSERT INTO cash_requests (customer, agent, amount, type)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, status, created_at
	`
	err := r.db.QueryRow(ctx, query, req.Customer, req.Agent, req.Amount, req.Type).
		Scan(&req.ID, &req.Status, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create cash request: %w", err)
	}
	return nil
}

func (r *RequestRepository) GetRequest(ctx context.Context, id string) (*domain.PendingRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrRequestNotFound
	}
	query := `SELECT ` + requestColumns + ` FROM cash_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cash request: %w", err)
	}
	return req, nil
}

func (r *RequestRepository) ListPending(ctx context.Context, agent string, limit int) iter.Seq2[domain.PendingRequest, error] {
	return func(yield func(domain.PendingRequest, error) bool) {
		query := `
			SELECT ` + requestColumns + ` FROM cash_requests
			WHERE agent = $1 AND status = 'pending'
			ORDER BY created_at DESC
		`
		args := []any{agent}
		if limit > 0 {
			query += ` LIMIT $2`
			args = append(args, limit)
		}

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			yield(domain.PendingRequest{}, fmt.Errorf("failed to list cash requests: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			req, err := scanRequest(rows)
			if err != nil {
				yield(domain.PendingRequest{}, err)
				return
			}
			if !yield(*req, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.PendingRequest{}, err)
		}
	}
}

// Claim takes the request when it is pending, not settling and either
// unclaimed or past its claim. The new token fences every later write.
func (r *RequestRepository) Claim(ctx context.Context, id string, until time.Time) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", domain.ErrRequestNotFound
	}
	query := `
		UPDATE cash_requests SET claimed_until = $2, claim_token = $3
		WHERE id = $1 AND status = 'pending' AND settling_since IS NULL
		  AND (claimed_until IS NULL OR claimed_until <= NOW())
	`
	token := uuid.NewString()
	tag, err := r.db.Exec(ctx, query, id, until, token)
	if err != nil {
		return "", fmt.Errorf("failed to claim cash request: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return token, nil
	}

	req, err := r.GetRequest(ctx, id)
	if err != nil {
		return "", err
	}
	if req.Status != domain.RequestPending {
		return "", domain.ErrAlreadyResolved
	}
	return "", domain.ErrRequestBusy
}

func (r *RequestRepository) BeginSettlement(ctx context.Context, id, token string) error {
	if !validTokens(id, token) {
		return domain.ErrClaimLost
	}
	query := `
		UPDATE cash_requests SET settling_since = NOW()
		WHERE id = $1 AND status = 'pending' AND claim_token = $2
		  AND settling_since IS NULL AND claimed_until > NOW()
	`
	tag, err := r.db.Exec(ctx, query, id, token)
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.lostClaim(ctx, id)
}

func (r *RequestRepository) Release(ctx context.Context, id, token string) error {
	if !validTokens(id, token) {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE cash_requests
		SET claimed_until = NULL, claim_token = NULL, settling_since = NULL
		WHERE id = $1 AND claim_token = $2`, id, token)
	return err
}

func (r *RequestRepository) Resolve(ctx context.Context, id, token string, status domain.RequestStatus, transactionID string) (*domain.PendingRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrRequestNotFound
	}
	if _, err := uuid.Parse(token); err != nil {
		return nil, r.lostClaim(ctx, id)
	}
	query := `
		UPDATE cash_requests
		SET status = $2, transaction_id = NULLIF($3, '')::uuid, resolved_at = NOW(),
		    claimed_until = NULL, claim_token = NULL, settling_since = NULL
		WHERE id = $1 AND status = 'pending' AND claim_token = $4
		RETURNING ` + requestColumns
	req, err := scanRequest(r.db.QueryRow(ctx, query, id, status, transactionID, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.lostClaim(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cash request: %w", err)
	}
	return req, nil
}

// lostClaim explains why a fenced write matched no row.
func (r *RequestRepository) lostClaim(ctx context.Context, id string) error {
	req, err := r.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != domain.RequestPending {
		return domain.ErrAlreadyResolved
	}
	return domain.ErrClaimLost
}

func (r *RequestRepository) ListSettling(ctx context.Context, before time.Time) iter.Seq2[domain.PendingRequest, error] {
	return func(yield func(domain.PendingRequest, error) bool) {
		query := `
			SELECT ` + requestColumns + ` FROM cash_requests
			WHERE status = 'pending' AND settling_since < $1
			ORDER BY settling_since ASC
		`
		rows, err := r.db.Query(ctx, query, before)
		if err != nil {
			yield(domain.PendingRequest{}, fmt.Errorf("failed to list settling cash requests: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			req, err := scanRequest(rows)
			if err != nil {
				yield(domain.PendingRequest{}, err)
				return
			}
			if !yield(*req, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.PendingRequest{}, err)
		}
	}
}

func validTokens(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}
