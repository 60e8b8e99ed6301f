package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiters keeps one token bucket per client, sized from the client's
// configured requests-per-second allowance.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newClientLimiters() *clientLimiters {
	return &clientLimiters{limiters: make(map[string]*rate.Limiter)}
}

// allow reports whether the client may proceed. perSecond <= 0 disables
// limiting for that client.
func (c *clientLimiters) allow(clientID string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}

	c.mu.Lock()
	limiter, ok := c.limiters[clientID]
	if !ok || limiter.Limit() != rate.Limit(perSecond) {
		limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		c.limiters[clientID] = limiter
	}
	c.mu.Unlock()

	return limiter.Allow()
}
