// Package ratelimit throttles API clients.
//
// Two limiters share the Limiter interface: MemoryLimiter keeps a token
// bucket per key in process, RedisLimiter counts requests per fixed window
// in Redis so several replicas share one budget. Middleware applies either
// to an http.Handler, keyed by client address and route class:
//
//	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Requests: 600, Window: time.Minute, Burst: 60})
//	handler = ratelimit.Middleware(limiter, logger)(handler)
//
// Redis errors fail open.
package ratelimit
