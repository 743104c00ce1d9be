package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

const accountColumns = `name, mobile_number, email, role, balance, status, pin_hash, created_at`

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(
		&acc.Name, &acc.MobileNumber, &acc.Email, &acc.Role,
		&acc.Balance, &acc.Status, &acc.PinHash, &acc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (r *AccountRepository) CreateAccount(ctx context.Context, acc *domain.Account) error {
	// A mobile number may not collide with another account's email either,
	// since both are accepted as identifiers. The advisory locks serialize
	// registrations sharing an identifier, so the NOT EXISTS check sees
	// whichever committed first.
	identifiers := []string{acc.MobileNumber, acc.Email}
	query := `
		INSERT INTO accounts (name, mobile_number, email, role, balance, status, pin_hash)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::bigint, $6::text, $7::text
		WHERE NOT EXISTS (SELECT 1 FROM accounts WHERE email = $2::text OR mobile_number = $3::text)
		RETURNING created_at
	`
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			SELECT pg_advisory_xact_lock(hashtext(id))
			FROM unnest($1::text[]) AS id ORDER BY id`, identifiers)
		if err != nil {
			return err
		}
		return tx.QueryRow(ctx, query,
			acc.Name, acc.MobileNumber, acc.Email, acc.Role, acc.Balance, acc.Status, acc.PinHash,
		).Scan(&acc.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == codeUniqueViolation {
		return domain.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetAccount(ctx context.Context, identifier string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE mobile_number = $1 OR email = $1`
	acc, err := scanAccount(r.db.QueryRow(ctx, query, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) ListAccounts(ctx context.Context, filter string) ([]domain.Account, error) {
	query := `
		SELECT ` + accountColumns + ` FROM accounts
		WHERE $1 = '' OR mobile_number ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, escapeLike(filter))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// AdjustBalance applies the delta in one conditional UPDATE so two
// concurrent debits can never both pass the balance check.
func (r *AccountRepository) AdjustBalance(ctx context.Context, identifier string, delta int64, requireActive bool) (*domain.Account, error) {
	query := `
		UPDATE accounts SET balance = balance + $2
		WHERE (mobile_number = $1 OR email = $1)
		  AND balance + $2 >= 0
		  AND (NOT $3::boolean OR status = 'active')
		RETURNING ` + accountColumns
	acc, err := scanAccount(r.db.QueryRow(ctx, query, identifier, delta, requireActive))
	switch {
	case err == nil:
		return acc, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, r.classifyRejected(ctx, identifier, requireActive)
	case pgCode(err) == codeOutOfRange:
		return nil, domain.ErrBalanceOverflow
	case pgCode(err) == codeCheckViolation:
		return nil, domain.ErrPreconditionFailed
	default:
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}
}

// classifyRejected works out why a conditional update matched no row.
func (r *AccountRepository) classifyRejected(ctx context.Context, identifier string, requireActive bool) error {
	acc, err := r.GetAccount(ctx, identifier)
	if err != nil {
		return err
	}
	if requireActive && acc.Status != domain.StatusActive {
		return domain.ErrAccountInactive
	}
	return domain.ErrPreconditionFailed
}

func (r *AccountRepository) TransitionStatus(ctx context.Context, identifier string, from, to domain.AccountStatus, seed int64) (*domain.Account, error) {
	query := `
		UPDATE accounts SET status = $3, balance = balance + $4
		WHERE (mobile_number = $1 OR email = $1) AND status = $2
		RETURNING ` + accountColumns
	acc, err := scanAccount(r.db.QueryRow(ctx, query, identifier, from, to, seed))
	switch {
	case err == nil:
		return acc, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := r.GetAccount(ctx, identifier); err != nil {
			return nil, err
		}
		return nil, domain.ErrStatusConflict
	case pgCode(err) == codeOutOfRange:
		return nil, domain.ErrBalanceOverflow
	default:
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}
}
