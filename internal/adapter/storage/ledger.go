package storage

import (
	"context"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

// LedgerRepository is the append-only transaction log.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, tx *domain.Transaction) (string, error) {
	if err := domain.ValidateEntry(tx); err != nil {
		return "", err
	}
	query := `
		INSERT INTO transactions (sender, recipient, amount, type, status, request_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::uuid)
		RETURNING id::text, created_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.Sender, tx.Recipient, tx.Amount, tx.Type, domain.SettlementApproved, tx.RequestID,
	).Scan(&tx.ID, &tx.CreatedAt)
	if pgCode(err) == codeUniqueViolation {
		return "", domain.ErrAlreadySettled
	}
	if err != nil {
		return "", fmt.Errorf("failed to append transaction: %w", err)
	}
	tx.Status = domain.SettlementApproved
	return tx.ID, nil
}

func (r *LedgerRepository) Query(ctx context.Context, q domain.TransactionQuery) iter.Seq2[domain.Transaction, error] {
	return func(yield func(domain.Transaction, error) bool) {
		query := `
			SELECT id::text, sender, recipient, amount, type, status,
			       COALESCE(request_id::text, ''), created_at
			FROM transactions
			WHERE ($1 = '' OR sender = $1 OR recipient = $1)
			  AND ($2 = '' OR request_id::text = $2)
			ORDER BY created_at DESC, id DESC
		`
		args := []any{q.Account, q.RequestID}
		if q.Limit > 0 {
			query += ` LIMIT $3`
			args = append(args, q.Limit)
		}

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			yield(domain.Transaction{}, fmt.Errorf("failed to query transactions: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var tx domain.Transaction
			if err := rows.Scan(
				&tx.ID, &tx.Sender, &tx.Recipient, &tx.Amount,
				&tx.Type, &tx.Status, &tx.RequestID, &tx.CreatedAt,
			); err != nil {
				yield(domain.Transaction{}, err)
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Transaction{}, err)
		}
	}
}
