package middleware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/handler"
	"github.com/ibrahimkeyboad/gowallet/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/gowallet/internal/adapter/storage/memory"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

type fakeAuth struct {
	tokens map[string]string
	roles  map[string]domain.Role
	err    error
}

func (f fakeAuth) Authenticate(ctx context.Context, token string) (string, error) {
	if id, ok := f.tokens[token]; ok {
		return id, nil
	}
	return "", domain.ErrUnauthenticated
}

func (f fakeAuth) AuthorizeRole(ctx context.Context, identifier string, role domain.Role) error {
	if f.err != nil {
		return f.err
	}
	if f.roles[identifier] != role {
		return domain.ErrForbidden
	}
	return nil
}

func newApp(auth fakeAuth, handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	chain := append([]fiber.Handler{middleware.Protected(auth)}, handlers...)
	chain = append(chain, func(c *fiber.Ctx) error {
		return c.SendString(middleware.AccountID(c))
	})
	app.Get("/", chain...)
	return app
}

func get(t *testing.T, app *fiber.App, header string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestProtected(t *testing.T) {
	app := newApp(fakeAuth{tokens: map[string]string{"good": "0170"}})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"extra parts", "Bearer good extra", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, app, tt.header)
			assert.Equal(t, tt.status, status)
			if tt.status == http.StatusOK {
				assert.Equal(t, "0170", body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	auth := fakeAuth{
		tokens: map[string]string{"admin": "A", "customer": "C"},
		roles:  map[string]domain.Role{"A": domain.RoleAdmin, "C": domain.RoleCustomer},
	}
	app := newApp(auth, middleware.RequireRole(auth, domain.RoleAdmin))

	status, _ := get(t, app, "Bearer admin")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, app, "Bearer customer")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, body, `"code":"forbidden"`)

	// A store failure must deny, not fall through.
	auth.err = errors.New("connection refused")
	app = newApp(auth, middleware.RequireRole(auth, domain.RoleAdmin))
	status, _ = get(t, app, "Bearer admin")
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestIdempotency(t *testing.T) {
	auth := fakeAuth{tokens: map[string]string{"a": "A", "b": "B"}}
	var calls atomic.Int32

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	app.Post("/pay", middleware.Protected(auth), middleware.Idempotency(memory.NewResponseCache()), func(c *fiber.Ctx) error {
		n := calls.Add(1)
		if c.Query("fail") != "" {
			return domain.ErrInsufficientBalance
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{"call": n})
	})

	post := func(token, key, query string) (*http.Response, string) {
		req := httptest.NewRequest(http.MethodPost, "/pay"+query, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if key != "" {
			req.Header.Set(middleware.IdempotencyHeader, key)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		return resp, string(body)
	}

	resp, body := post("a", "k1", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"call":1}`, body)

	resp, body = post("a", "k1", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Idempotency-Hit"))
	assert.JSONEq(t, `{"call":1}`, body)

	// Keys are per caller.
	_, body = post("b", "k1", "")
	assert.JSONEq(t, `{"call":2}`, body)

	// Without a key every request runs.
	_, body = post("a", "", "")
	assert.JSONEq(t, `{"call":3}`, body)

	// Error responses are stored too.
	resp, _ = post("a", "k2", "?fail=1")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp, body = post("a", "k2", "?fail=1")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Idempotency-Hit"))
	assert.Contains(t, body, "insufficient_balance")

	assert.Equal(t, int32(4), calls.Load())
}

func TestIdempotency_ServerErrors(t *testing.T) {
	auth := fakeAuth{tokens: map[string]string{"a": "A"}}
	var calls atomic.Int32
	failWith := map[string]error{
		"outage":  errors.New("connection refused"),
		"settled": domain.ErrLoggingFailed,
	}

	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	app.Post("/pay", middleware.Protected(auth), middleware.Idempotency(memory.NewResponseCache()), func(c *fiber.Ctx) error {
		calls.Add(1)
		if err, ok := failWith[c.Query("fail")]; ok {
			return err
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{"ok": true})
	})

	post := func(key, query string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/pay"+query, nil)
		req.Header.Set("Authorization", "Bearer a")
		req.Header.Set(middleware.IdempotencyHeader, key)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// An outage is not replayed; the retry runs the handler again.
	resp := post("k1", "?fail=outage")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp = post("k1", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Idempotency-Hit"))
	assert.Equal(t, int32(2), calls.Load())

	// Money moved, so the failure is the answer for this key.
	resp = post("k2", "?fail=settled")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp = post("k2", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Idempotency-Hit"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestIdempotency_ForgetsIdleKeys(t *testing.T) {
	auth := fakeAuth{tokens: map[string]string{"a": "A"}}
	idem, liveLocks := middleware.IdempotencyWithLockCount(memory.NewResponseCache())

	release := make(chan struct{})
	entered := make(chan struct{}, 8)
	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	app.Post("/pay", middleware.Protected(auth), idem, func(c *fiber.Ctx) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return c.SendStatus(http.StatusNoContent)
	})

	post := func(key string) {
		req := httptest.NewRequest(http.MethodPost, "/pay", nil)
		req.Header.Set("Authorization", "Bearer a")
		req.Header.Set(middleware.IdempotencyHeader, key)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		resp.Body.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		post("held")
	}()
	<-entered
	assert.Equal(t, 1, liveLocks())
	close(release)
	<-done

	for i := 0; i < 50; i++ {
		post("key-" + strconv.Itoa(i))
	}
	assert.Zero(t, liveLocks(), "no lock outlives its request")
}
