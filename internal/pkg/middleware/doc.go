// Package middleware provides HTTP middleware components for the TsRR server.
//
// Available middleware:
//   - RateLimiter: Per-client rate limiting using token bucket algorithm
//   - RequestID: Request ID propagation via X-Request-ID
//   - Recovery: Panic recovery with sanitized 500 responses
//   - CORS: Origin allow-listing
//   - Logging: Structured request logging
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), log)
//	defer rl.Stop()
//	handler = middleware.Chain(mux, middleware.RequestID, middleware.Recovery(log), rl.Middleware)
package middleware
