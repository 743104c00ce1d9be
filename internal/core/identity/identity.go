// Package identity registers accounts, checks PINs and issues the bearer
// tokens the HTTP layer authenticates with. Every authorization check here
// has exactly two outcomes: nil, or an error that must stop the request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/security"
)

type Service struct {
	accounts domain.AccountStore
	tokens   *security.Tokens
}

func NewService(accounts domain.AccountStore, tokens *security.Tokens) *Service {
	return &Service{accounts: accounts, tokens: tokens}
}

type Registration struct {
	Name         string
	MobileNumber string
	Email        string
	Pin          string
	Role         domain.Role
}

func (r *Registration) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.MobileNumber = strings.TrimSpace(r.MobileNumber)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))

	if r.Name == "" || r.MobileNumber == "" || r.Email == "" {
		return fmt.Errorf("%w: name, mobile number and email are required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	if !security.ValidPinFormat(r.Pin) {
		return domain.ErrInvalidPinFormat
	}
	return nil
}

// Register creates a pending account with a zero balance. Only customers
// and agents can sign up; admins come from configuration.
func (s *Service) Register(ctx context.Context, reg Registration) (*domain.Account, error) {
	if reg.Role != domain.RoleCustomer && reg.Role != domain.RoleAgent {
		return nil, domain.ErrInvalidRole
	}
	return s.create(ctx, reg, domain.StatusPending)
}

func (s *Service) create(ctx context.Context, reg Registration, status domain.AccountStatus) (*domain.Account, error) {
	if err := reg.normalize(); err != nil {
		return nil, err
	}
	hash, err := security.HashPin(reg.Pin)
	if err != nil {
		return nil, err
	}

	acc := &domain.Account{
		Name:         reg.Name,
		MobileNumber: reg.MobileNumber,
		Email:        reg.Email,
		Role:         reg.Role,
		Balance:      0,
		Status:       status,
		PinHash:      hash,
	}
	if err := s.accounts.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	slog.Info("✅ Account registered", "mobile_number", acc.MobileNumber, "role", acc.Role, "status", acc.Status)
	return acc, nil
}

// EnsureAdmin creates an active admin account unless one with the same
// email or mobile number already exists.
func (s *Service) EnsureAdmin(ctx context.Context, reg Registration) error {
	reg.Role = domain.RoleAdmin
	_, err := s.create(ctx, reg, domain.StatusActive)
	if errors.Is(err, domain.ErrAccountExists) {
		return nil
	}
	return err
}

type Session struct {
	Token     string               `json:"token"`
	ExpiresAt time.Time            `json:"expires_at"`
	Status    domain.AccountStatus `json:"status"`
}

// Login exchanges an identifier and PIN for a token. Pending accounts may
// log in to see their status; blocked accounts may not.
func (s *Service) Login(ctx context.Context, identifier, pin string) (*Session, error) {
	acc, err := s.accounts.GetAccount(ctx, normalizeIdentifier(identifier))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := security.ComparePin(acc.PinHash, pin); err != nil {
		if errors.Is(err, security.ErrPinMismatch) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if acc.Status == domain.StatusBlocked {
		return nil, domain.ErrAccountBlocked
	}

	token, expiresAt, err := s.tokens.Issue(acc.MobileNumber, acc.Email, string(acc.Role))
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, Status: acc.Status}, nil
}

// Authenticate returns the account identifier carried by a valid token.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil || claims.MobileNumber == "" {
		return "", domain.ErrUnauthenticated
	}
	return claims.MobileNumber, nil
}

// AuthorizeRole returns nil only when the stored account holds role and is
// not blocked. Anything else, including lookup failures, is a denial.
func (s *Service) AuthorizeRole(ctx context.Context, identifier string, role domain.Role) error {
	acc, err := s.accounts.GetAccount(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.ErrForbidden
		}
		return err
	}
	if acc.Role != role || acc.Status == domain.StatusBlocked {
		return domain.ErrForbidden
	}
	return nil
}

// VerifyPin confirms the caller's PIN before money moves.
func (s *Service) VerifyPin(ctx context.Context, identifier, pin string) error {
	acc, err := s.accounts.GetAccount(ctx, identifier)
	if err != nil {
		return err
	}
	if err := security.ComparePin(acc.PinHash, pin); err != nil {
		if errors.Is(err, security.ErrPinMismatch) {
			return domain.ErrInvalidPin
		}
		return err
	}
	return nil
}

// Account returns the caller's own account.
func (s *Service) Account(ctx context.Context, identifier string) (*domain.Account, error) {
	return s.accounts.GetAccount(ctx, identifier)
}

func normalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}
	return identifier
}
