package middleware

import "github.com/gofiber/fiber/v2"

// IdempotencyWithLockCount also reports how many per-key locks are live.
func IdempotencyWithLockCount(cache ResponseCache) (fiber.Handler, func() int) {
	locks := newKeyLocks()
	return idempotency(cache, locks), locks.size
}
