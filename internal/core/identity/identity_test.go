package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/storage/memory"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/security"
)

func newService() (*Service, *memory.Store) {
	store := memory.New()
	return NewService(store, security.NewTokens("test-secret", time.Hour)), store
}

func register(t *testing.T, svc *Service, mobile, email string, role domain.Role) *domain.Account {
	t.Helper()
	acc, err := svc.Register(context.Background(), Registration{
		Name:         "Test " + mobile,
		MobileNumber: mobile,
		Email:        email,
		Pin:          "12345",
		Role:         role,
	})
	require.NoError(t, err)
	return acc
}

func TestRegister(t *testing.T) {
	svc, store := newService()

	acc := register(t, svc, " 01700000001 ", "Customer@Example.com", domain.RoleCustomer)
	assert.Equal(t, "01700000001", acc.MobileNumber)
	assert.Equal(t, "customer@example.com", acc.Email)
	assert.Equal(t, domain.StatusPending, acc.Status)
	assert.Zero(t, acc.Balance)

	stored, err := store.GetAccount(context.Background(), "customer@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "12345", stored.PinHash)
	assert.NoError(t, security.ComparePin(stored.PinHash, "12345"))
}

func TestRegister_Rejects(t *testing.T) {
	svc, _ := newService()
	register(t, svc, "01700000001", "taken@example.com", domain.RoleCustomer)

	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{"admin self-registration", Registration{Name: "x", MobileNumber: "1", Email: "x@example.com", Pin: "1234", Role: domain.RoleAdmin}, domain.ErrInvalidRole},
		{"missing name", Registration{MobileNumber: "1", Email: "x@example.com", Pin: "1234", Role: domain.RoleCustomer}, domain.ErrInvalidInput},
		{"bad email", Registration{Name: "x", MobileNumber: "1", Email: "nope", Pin: "1234", Role: domain.RoleCustomer}, domain.ErrInvalidInput},
		{"bad pin", Registration{Name: "x", MobileNumber: "1", Email: "x@example.com", Pin: "12", Role: domain.RoleAgent}, domain.ErrInvalidPinFormat},
		{"mobile taken", Registration{Name: "x", MobileNumber: "01700000001", Email: "x@example.com", Pin: "1234", Role: domain.RoleCustomer}, domain.ErrAccountExists},
		{"email taken", Registration{Name: "x", MobileNumber: "2", Email: "TAKEN@example.com", Pin: "1234", Role: domain.RoleAgent}, domain.ErrAccountExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.reg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := newService()
	register(t, svc, "01700000001", "c@example.com", domain.RoleCustomer)

	for _, identifier := range []string{"01700000001", "C@example.com"} {
		session, err := svc.Login(context.Background(), identifier, "12345")
		require.NoError(t, err, identifier)
		assert.Equal(t, domain.StatusPending, session.Status)

		caller, err := svc.Authenticate(context.Background(), session.Token)
		require.NoError(t, err)
		assert.Equal(t, "01700000001", caller)
	}

	_, err := svc.Login(context.Background(), "01700000001", "99999")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "ghost", "12345")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestLogin_BlockedAccount(t *testing.T) {
	svc, store := newService()
	register(t, svc, "01700000001", "c@example.com", domain.RoleCustomer)
	_, err := store.TransitionStatus(context.Background(), "01700000001", domain.StatusPending, domain.StatusBlocked, 0)
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "01700000001", "12345")
	assert.ErrorIs(t, err, domain.ErrAccountBlocked)
}

func TestAuthorizeRole_NeverFallsThrough(t *testing.T) {
	svc, store := newService()
	require.NoError(t, svc.EnsureAdmin(context.Background(), Registration{
		Name: "Root", MobileNumber: "0100", Email: "root@example.com", Pin: "0000",
	}))
	register(t, svc, "01700000001", "c@example.com", domain.RoleCustomer)

	assert.NoError(t, svc.AuthorizeRole(context.Background(), "0100", domain.RoleAdmin))
	assert.ErrorIs(t, svc.AuthorizeRole(context.Background(), "01700000001", domain.RoleAdmin), domain.ErrForbidden)
	assert.ErrorIs(t, svc.AuthorizeRole(context.Background(), "ghost", domain.RoleAdmin), domain.ErrForbidden)

	_, err := store.TransitionStatus(context.Background(), "0100", domain.StatusActive, domain.StatusBlocked, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.AuthorizeRole(context.Background(), "0100", domain.RoleAdmin), domain.ErrForbidden)
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	svc, store := newService()
	reg := Registration{Name: "Root", MobileNumber: "0100", Email: "root@example.com", Pin: "0000"}

	require.NoError(t, svc.EnsureAdmin(context.Background(), reg))
	require.NoError(t, svc.EnsureAdmin(context.Background(), reg))

	acc, err := store.GetAccount(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, acc.Role)
	assert.Equal(t, domain.StatusActive, acc.Status)
}

func TestVerifyPin(t *testing.T) {
	svc, _ := newService()
	register(t, svc, "01700000001", "c@example.com", domain.RoleCustomer)

	assert.NoError(t, svc.VerifyPin(context.Background(), "01700000001", "12345"))
	assert.ErrorIs(t, svc.VerifyPin(context.Background(), "01700000001", "11111"), domain.ErrInvalidPin)
	assert.ErrorIs(t, svc.VerifyPin(context.Background(), "ghost", "12345"), domain.ErrAccountNotFound)
}
