package middleware

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyHit    = "X-Idempotency-Hit"
)

// ResponseCache stores the first response produced for a key.
type ResponseCache interface {
	Lookup(ctx context.Context, key string) (status int, body []byte, found bool, err error)
	Save(ctx context.Context, key string, status int, body []byte) error
}

// Idempotency replays the stored response when a caller repeats a key.
// Keys are scoped to the authenticated caller. Requests sharing a key are
// serialized in this process so a fast retry cannot run the handler twice.
//
// Server errors are stored only when money may have moved. Any other 5xx
// is left out so the same key can be retried once the outage clears.
func Idempotency(cache ResponseCache) fiber.Handler {
	return idempotency(cache, newKeyLocks())
}

func idempotency(cache ResponseCache, locks *keyLocks) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(IdempotencyHeader)
		if key == "" {
			return c.Next()
		}
		key = AccountID(c) + ":" + c.Path() + ":" + key

		unlock := locks.lock(key)
		defer unlock()

		status, body, found, err := cache.Lookup(c.UserContext(), key)
		if err != nil {
			slog.Error("❌ Idempotency lookup failed", "error", err, "key", key)
			return err
		}
		if found {
			slog.Info("🛑 Idempotency Hit! Returning cached response", "key", key)
			c.Set(idempotencyHit, "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(status).Send(body)
		}

		handlerErr := c.Next()
		if handlerErr != nil {
			// Render the error now so the rendered response can be stored.
			if herr := c.App().Config().ErrorHandler(c, handlerErr); herr != nil {
				return herr
			}
		}

		resStatus := c.Response().StatusCode()
		if !replayable(resStatus, handlerErr) {
			slog.Warn("Idempotency Key not saved for server error", "key", key, "status", resStatus)
			return nil
		}
		resBody := append([]byte(nil), c.Response().Body()...)

		ctx := context.WithoutCancel(c.UserContext())
		if err := cache.Save(ctx, key, resStatus, resBody); err != nil {
			slog.Error("❌ Failed to save Idempotency Key", "error", err, "key", key)
		} else {
			slog.Info("💾 Idempotency Key Saved", "key", key)
		}
		return nil
	}
}

// replayable reports whether a response may be stored for replay. A 5xx
// is kept when it reports settled money or when the handler rendered it
// itself instead of failing.
func replayable(status int, err error) bool {
	if status < fiber.StatusInternalServerError || err == nil {
		return true
	}
	switch domain.CodeOf(err) {
	case domain.ErrLoggingFailed.Code, domain.ErrCompensationFailed.Code:
		return true
	}
	return false
}

// keyLocks hands out one mutex per key and forgets it once nobody holds
// or waits for it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: map[string]*keyLock{}}
}

func (l *keyLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
