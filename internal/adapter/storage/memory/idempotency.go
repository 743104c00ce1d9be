package memory

import (
	"context"
	"sync"
)

type response struct {
	status int
	body   []byte
}

// ResponseCache keeps idempotent responses in process.
type ResponseCache struct {
	mu        sync.Mutex
	responses map[string]response
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{responses: map[string]response{}}
}

func (c *ResponseCache) Lookup(ctx context.Context, key string) (int, []byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.responses[key]
	if !ok {
		return 0, nil, false, nil
	}
	return r.status, r.body, true, nil
}

// Save keeps the first response stored under key.
func (c *ResponseCache) Save(ctx context.Context, key string, status int, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.responses[key]; ok {
		return nil
	}
	c.responses[key] = response{status: status, body: append([]byte(nil), body...)}
	return nil
}
