package ingest

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiters hands out one token bucket per client IP. The map is
// dropped wholesale once an hour so abandoned clients do not accumulate.
type rateLimiters struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

func newRateLimiters(limit rate.Limit, burst int) *rateLimiters {
	return &rateLimiters{
		limiters:    make(map[string]*rate.Limiter),
		limit:       limit,
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// allow reports whether the client identified by ip may proceed.
func (r *rateLimiters) allow(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastCleanup) > time.Hour {
		r.limiters = make(map[string]*rate.Limiter)
		r.lastCleanup = time.Now()
	}

	limiter, ok := r.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.limiters[ip] = limiter
	}
	return limiter.Allow()
}
