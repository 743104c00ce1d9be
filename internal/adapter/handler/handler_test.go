package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/handler"
	"github.com/ibrahimkeyboad/gowallet/internal/adapter/storage/memory"
	"github.com/ibrahimkeyboad/gowallet/internal/core/approval"
	"github.com/ibrahimkeyboad/gowallet/internal/core/config"
	"github.com/ibrahimkeyboad/gowallet/internal/core/identity"
	"github.com/ibrahimkeyboad/gowallet/internal/core/ledger"
	"github.com/ibrahimkeyboad/gowallet/internal/core/lifecycle"
	"github.com/ibrahimkeyboad/gowallet/internal/core/security"
)

const (
	adminEmail = "admin@example.com"
	adminPin   = "0000"
	pin        = "12345"
)

type testServer struct {
	t     *testing.T
	app   *fiber.App
	store *memory.Store
	admin string
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	identitySvc := identity.NewService(store, security.NewTokens("test-secret", time.Hour))
	require.NoError(t, identitySvc.EnsureAdmin(context.Background(), identity.Registration{
		Name: "Root", MobileNumber: "01000000000", Email: adminEmail, Pin: adminPin,
	}))
	engine := ledger.NewEngine(store, store)

	s := &testServer{
		t:     t,
		store: store,
		app: handler.NewApp(handler.Deps{
			Identity:     identitySvc,
			Lifecycle:    lifecycle.NewService(store, config.SeedConfig{Customer: 40, Agent: 10000}),
			Engine:       engine,
			Workflow:     approval.NewWorkflow(store, store, store, engine, approval.Config{}),
			Accounts:     store,
			Log:          store,
			Responses:    memory.NewResponseCache(),
			HistoryLimit: 10,
		}),
	}
	s.admin = s.login(adminEmail, adminPin)
	return s
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (s *testServer) do(method, path, token string, body any, headers ...string) response {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	if len(raw) > 0 {
		require.NoError(s.t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (s *testServer) login(identifier, pin string) string {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/v1/login", "", fiber.Map{"identifier": identifier, "pin": pin})
	require.Equal(s.t, http.StatusOK, resp.status, resp.body)
	return resp.body["token"].(string)
}

// activeAccount registers an account, has the admin activate it and
// returns a token for it.
func (s *testServer) activeAccount(mobile, email, role string) string {
	s.t.Helper()
	resp := s.do(http.MethodPost, "/v1/register", "", fiber.Map{
		"name": "User " + mobile, "mobile_number": mobile, "email": email, "pin": pin, "role": role,
	})
	require.Equal(s.t, http.StatusCreated, resp.status, resp.body)

	resp = s.do(http.MethodPatch, "/v1/admin/accounts/"+email+"/activate", s.admin, nil)
	require.Equal(s.t, http.StatusOK, resp.status, resp.body)
	return s.login(mobile, pin)
}

func (s *testServer) balance(token string) float64 {
	s.t.Helper()
	resp := s.do(http.MethodGet, "/v1/me", token, nil)
	require.Equal(s.t, http.StatusOK, resp.status, resp.body)
	return resp.body["balance"].(float64)
}

func TestRegister(t *testing.T) {
	s := newServer(t)

	resp := s.do(http.MethodPost, "/v1/register", "", fiber.Map{
		"name": "Ada", "mobile_number": "01700000001", "email": "ada@example.com", "pin": pin, "role": "customer",
	})
	require.Equal(t, http.StatusCreated, resp.status)
	assert.Equal(t, "pending", resp.body["status"])
	assert.EqualValues(t, 0, resp.body["balance"])
	assert.NotContains(t, resp.body, "pin_hash")

	resp = s.do(http.MethodPost, "/v1/register", "", fiber.Map{
		"name": "Ada", "mobile_number": "01700000002", "email": "ADA@example.com", "pin": pin, "role": "customer",
	})
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "account_exists", resp.body["code"])

	resp = s.do(http.MethodPost, "/v1/register", "", fiber.Map{
		"name": "Eve", "mobile_number": "01700000003", "email": "eve@example.com", "pin": pin, "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "invalid_role", resp.body["code"])
}

func TestActivation_SeedsBalance(t *testing.T) {
	s := newServer(t)

	customer := s.activeAccount("01700000001", "c@example.com", "customer")
	agent := s.activeAccount("01800000001", "a@example.com", "agent")

	assert.EqualValues(t, 40, s.balance(customer))
	assert.EqualValues(t, 10000, s.balance(agent))

	resp := s.do(http.MethodPatch, "/v1/admin/accounts/c@example.com/activate", s.admin, nil)
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.EqualValues(t, 40, s.balance(customer))
}

func TestTransfer_SendMoney(t *testing.T) {
	s := newServer(t)
	alice := s.activeAccount("01700000001", "alice@example.com", "customer")
	bob := s.activeAccount("01700000002", "bob@example.com", "customer")

	resp := s.do(http.MethodPost, "/v1/transfer", alice, fiber.Map{"recipient": "01700000002", "amount": 15, "pin": pin})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.NotEmpty(t, resp.body["transaction_id"])
	assert.Equal(t, "send-money", resp.body["type"])

	assert.EqualValues(t, 25, s.balance(alice))
	assert.EqualValues(t, 55, s.balance(bob))

	for _, token := range []string{alice, bob} {
		history := s.do(http.MethodGet, "/v1/transactions", token, nil)
		require.Equal(t, http.StatusOK, history.status)
		assert.Len(t, history.body["transactions"], 1)
	}
	assert.EqualValues(t, 80, s.store.TotalBalance(), "the seeds are the only money in the system")
}

func TestTransfer_Rejections(t *testing.T) {
	s := newServer(t)
	alice := s.activeAccount("01700000001", "alice@example.com", "customer")
	s.activeAccount("01700000002", "bob@example.com", "customer")

	tests := []struct {
		name   string
		body   fiber.Map
		status int
		code   string
	}{
		{"wrong pin", fiber.Map{"recipient": "01700000002", "amount": 5, "pin": "99999"}, http.StatusUnauthorized, "invalid_pin"},
		{"insufficient balance", fiber.Map{"recipient": "01700000002", "amount": 41, "pin": pin}, http.StatusUnprocessableEntity, "insufficient_balance"},
		{"zero amount", fiber.Map{"recipient": "01700000002", "amount": 0, "pin": pin}, http.StatusBadRequest, "invalid_amount"},
		{"unknown recipient", fiber.Map{"recipient": "ghost", "amount": 5, "pin": pin}, http.StatusNotFound, "recipient_not_found"},
		{"to self", fiber.Map{"recipient": "alice@example.com", "amount": 5, "pin": pin}, http.StatusBadRequest, "same_account"},
		{"cash-in is agent mediated", fiber.Map{"recipient": "01700000002", "amount": 5, "pin": pin, "type": "cash-in"}, http.StatusBadRequest, "invalid_type"},
		{"cash-out needs an agent", fiber.Map{"recipient": "01700000002", "amount": 5, "pin": pin, "type": "cash-out"}, http.StatusUnprocessableEntity, "recipient_not_agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(http.MethodPost, "/v1/transfer", alice, tt.body)
			assert.Equal(t, tt.status, resp.status, resp.body)
			assert.Equal(t, tt.code, resp.body["code"])
		})
	}
	assert.EqualValues(t, 40, s.balance(alice))
}

func TestTransfer_IdempotentReplay(t *testing.T) {
	s := newServer(t)
	alice := s.activeAccount("01700000001", "alice@example.com", "customer")
	s.activeAccount("01700000002", "bob@example.com", "customer")

	body := fiber.Map{"recipient": "01700000002", "amount": 10, "pin": pin}
	first := s.do(http.MethodPost, "/v1/transfer", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.status)
	assert.Empty(t, first.header.Get("X-Idempotency-Hit"))

	second := s.do(http.MethodPost, "/v1/transfer", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.status)
	assert.Equal(t, "true", second.header.Get("X-Idempotency-Hit"))
	assert.Equal(t, first.body["transaction_id"], second.body["transaction_id"])

	assert.EqualValues(t, 30, s.balance(alice))

	third := s.do(http.MethodPost, "/v1/transfer", alice, body, "Idempotency-Key", "k-2")
	require.Equal(t, http.StatusOK, third.status)
	assert.EqualValues(t, 20, s.balance(alice))
}

func TestAuthGates(t *testing.T) {
	s := newServer(t)
	customer := s.activeAccount("01700000001", "c@example.com", "customer")

	resp := s.do(http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "unauthenticated", resp.body["code"])

	resp = s.do(http.MethodGet, "/v1/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = s.do(http.MethodGet, "/v1/admin/accounts", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "forbidden", resp.body["code"])

	resp = s.do(http.MethodGet, "/v1/cash-requests/pending", customer, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = s.do(http.MethodPost, "/v1/login", "", fiber.Map{"identifier": "c@example.com", "pin": "11111"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "invalid_credentials", resp.body["code"])
}

func TestAdmin_ListAndBlock(t *testing.T) {
	s := newServer(t)
	customer := s.activeAccount("01700000001", "carol@example.com", "customer")
	s.activeAccount("01800000001", "dave@example.com", "agent")

	resp := s.do(http.MethodGet, "/v1/admin/accounts?q=CAROL", s.admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	require.Len(t, resp.body["accounts"], 1)
	assert.Equal(t, "carol@example.com", resp.body["accounts"].([]any)[0].(map[string]any)["email"])

	resp = s.do(http.MethodGet, "/v1/admin/accounts", s.admin, nil)
	assert.Len(t, resp.body["accounts"], 3)

	resp = s.do(http.MethodPatch, "/v1/admin/accounts/carol@example.com/block", s.admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "blocked", resp.body["status"])

	resp = s.do(http.MethodPost, "/v1/login", "", fiber.Map{"identifier": "carol@example.com", "pin": pin})
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "account_blocked", resp.body["code"])

	// A token issued before the block no longer moves money.
	resp = s.do(http.MethodPost, "/v1/transfer", customer, fiber.Map{"recipient": "01800000001", "amount": 5, "pin": pin, "type": "cash-out"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "sender_inactive", resp.body["code"])

	resp = s.do(http.MethodGet, "/v1/admin/transactions", s.admin, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Len(t, resp.body["transactions"], 0)
}

func TestCashIn_ApprovedByAgent(t *testing.T) {
	s := newServer(t)
	customer := s.activeAccount("01700000001", "c@example.com", "customer")
	agent := s.activeAccount("01800000001", "a@example.com", "agent")

	resp := s.do(http.MethodPost, "/v1/cash-requests", customer, fiber.Map{
		"agent": "01800000001", "amount": 100, "type": "cash-in", "pin": pin,
	})
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	id := resp.body["request_id"].(string)
	assert.Equal(t, "pending", resp.body["status"])

	pending := s.do(http.MethodGet, "/v1/cash-requests/pending", agent, nil)
	require.Equal(t, http.StatusOK, pending.status)
	assert.Len(t, pending.body["requests"], 1)

	approved := s.do(http.MethodPost, "/v1/cash-requests/"+id+"/approve", agent, fiber.Map{"pin": pin})
	require.Equal(t, http.StatusOK, approved.status, approved.body)
	assert.Equal(t, "approved", approved.body["request"].(map[string]any)["status"])
	assert.NotEmpty(t, approved.body["settlement"].(map[string]any)["transaction_id"])

	assert.EqualValues(t, 140, s.balance(customer))
	assert.EqualValues(t, 9900, s.balance(agent))

	again := s.do(http.MethodPost, "/v1/cash-requests/"+id+"/reject", agent, nil)
	assert.Equal(t, http.StatusConflict, again.status)
	assert.Equal(t, "already_resolved", again.body["code"])

	pending = s.do(http.MethodGet, "/v1/cash-requests/pending", agent, nil)
	assert.Len(t, pending.body["requests"], 0)
}

func TestCashOut_Rejected(t *testing.T) {
	s := newServer(t)
	customer := s.activeAccount("01700000001", "c@example.com", "customer")
	agent := s.activeAccount("01800000001", "a@example.com", "agent")
	other := s.activeAccount("01800000002", "b@example.com", "agent")

	resp := s.do(http.MethodPost, "/v1/cash-requests", customer, fiber.Map{
		"agent": "a@example.com", "amount": 30, "type": "cash-out", "pin": pin,
	})
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	id := resp.body["request_id"].(string)

	resp = s.do(http.MethodPost, "/v1/cash-requests/"+id+"/reject", other, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, "not_request_owner", resp.body["code"])

	resp = s.do(http.MethodPost, "/v1/cash-requests/"+id+"/approve", agent, fiber.Map{"pin": "99999"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = s.do(http.MethodPost, "/v1/cash-requests/"+id+"/reject", agent, nil)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "rejected", resp.body["request"].(map[string]any)["status"])
	assert.NotContains(t, resp.body, "settlement")

	assert.EqualValues(t, 40, s.balance(customer))
	assert.EqualValues(t, 10000, s.balance(agent))

	resp = s.do(http.MethodPost, "/v1/cash-requests", customer, fiber.Map{
		"agent": "a@example.com", "amount": 41, "type": "cash-out", "pin": pin,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "insufficient_balance", resp.body["code"])
}

func TestUnknownRequest(t *testing.T) {
	s := newServer(t)
	agent := s.activeAccount("01800000001", "a@example.com", "agent")

	resp := s.do(http.MethodPost, "/v1/cash-requests/does-not-exist/reject", agent, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "request_not_found", resp.body["code"])
}

func TestHealthz(t *testing.T) {
	s := newServer(t)

	resp := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])
}
