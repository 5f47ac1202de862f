package memory

import (
	"sync"

	"golang.org/x/time/rate"
)

// AlwaysAllow is a stub RateLimiter that permits every request.
type AlwaysAllow struct{}

func (AlwaysAllow) Allow(_, _ string) bool { return true }

// KeyedLimiter is a token bucket per client token, falling back to the IP
// when no token is sent.
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *KeyedLimiter) Allow(ip, token string) bool {
	key := "ip:" + ip
	if token != "" {
		key = "token:" + token
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}
