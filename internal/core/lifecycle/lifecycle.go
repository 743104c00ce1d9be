// Package lifecycle handles the administrative status transitions of an
// account: activation, which credits the role's one-time seed grant, and
// blocking.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

// Seeds returns the grant credited when a pending account of the given
// role is activated.
type Seeds interface {
	For(role domain.Role) int64
}

type Service struct {
	accounts domain.AccountStore
	seeds    Seeds
}

func NewService(accounts domain.AccountStore, seeds Seeds) *Service {
	return &Service{accounts: accounts, seeds: seeds}
}

// Activate makes the account active. A pending account also receives its
// seed grant; a blocked account is reinstated without one. Activating an
// active account is a conflict.
func (s *Service) Activate(ctx context.Context, identifier string) (*domain.Account, error) {
	return s.transition(ctx, identifier, domain.StatusActive)
}

// Block stops the account from taking part in transfers.
func (s *Service) Block(ctx context.Context, identifier string) (*domain.Account, error) {
	return s.transition(ctx, identifier, domain.StatusBlocked)
}

func (s *Service) transition(ctx context.Context, identifier string, to domain.AccountStatus) (*domain.Account, error) {
	acc, err := s.accounts.GetAccount(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if acc.Status == to {
		return nil, domain.ErrStatusConflict
	}

	var seed int64
	if acc.Status == domain.StatusPending && to == domain.StatusActive {
		seed = s.seeds.For(acc.Role)
	}

	// The store only applies the change if the status is still the one we
	// read, so a racing transition cannot double-seed.
	updated, err := s.accounts.TransitionStatus(ctx, acc.MobileNumber, acc.Status, to, seed)
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) || errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update account status: %w", err)
	}

	slog.Info("Account status changed",
		"mobile_number", updated.MobileNumber,
		"from", acc.Status,
		"to", updated.Status,
		"seed", seed,
	)
	return updated, nil
}
