package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sets per-client token budgets. Commits anchor
// transactions and write durable state, so they get a tighter budget than
// the read routes (verify, health).
type RateLimitConfig struct {
	CommitRPS   int
	CommitBurst int
	ReadRPS     int
	ReadBurst   int
}

// DefaultRateLimitConfig returns the production budgets.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		CommitRPS:   10,
		CommitBurst: 20,
		ReadRPS:     50,
		ReadBurst:   100,
	}
}

// RateLimiter throttles requests per client IP with separate token
// buckets for the commit route and the read routes.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBuckets
	cfg     RateLimitConfig
}

type clientBuckets struct {
	commit   *rate.Limiter
	read     *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientBuckets),
		cfg:     cfg,
	}
	go rl.evictIdle()
	return rl
}

func (rl *RateLimiter) bucketsFor(ip string) *clientBuckets {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientBuckets{
			commit: rate.NewLimiter(rate.Limit(rl.cfg.CommitRPS), rl.cfg.CommitBurst),
			read:   rate.NewLimiter(rate.Limit(rl.cfg.ReadRPS), rl.cfg.ReadBurst),
		}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c
}

// evictIdle drops buckets for clients idle longer than three minutes.
func (rl *RateLimiter) evictIdle() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for ip, c := range rl.clients {
			if time.Since(c.lastSeen) > 3*time.Minute {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the budgets. Mutating methods draw from the commit
// bucket, everything else from the read bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buckets := rl.bucketsFor(clientIP(r))

		limiter := buckets.read
		rps := rl.cfg.ReadRPS
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			limiter = buckets.commit
			rps = rl.cfg.CommitRPS
		}

		if !limiter.Allow() {
			WriteTooManyRequests(w, retryAfterSeconds(rps))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(rps int) int {
	if rps >= 1 {
		return 1
	}
	return 60
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}
