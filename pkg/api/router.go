package api

import "net/http"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// RouterOptions configures the middleware stack around the trust routes.
type RouterOptions struct {
	// Idempotency caches commit responses per Idempotency-Key. Optional.
	Idempotency IdempotencyStorer
	// RateLimiter throttles all routes per client IP. Optional.
	RateLimiter *RateLimiter
	// Instrument wraps the whole router, e.g. for request metrics. Optional.
	Instrument Middleware
}

// NewRouter wires the trust endpoints with the configured middleware.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	var commit http.Handler = http.HandlerFunc(s.HandleCommit)
	if opts.Idempotency != nil {
		commit = IdempotencyMiddleware(opts.Idempotency)(commit)
	}
	mux.Handle("/trust/commit", commit)
	mux.HandleFunc("/trust/verify", s.HandleVerify)
	mux.HandleFunc("/trust/health", s.HandleHealth)

	var handler http.Handler = mux
	if opts.RateLimiter != nil {
		handler = opts.RateLimiter.Middleware(handler)
	}
	if opts.Instrument != nil {
		handler = opts.Instrument(handler)
	}
	return handler
}
