package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AgentHeader identifies the calling agent runtime. Requests without it are
// limited per client address.
const AgentHeader = "X-Agent-ID"

// RateLimiter enforces a token bucket per caller key.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	defaults RateLimitConfig
	logger   *log.Logger
	now      func() time.Time
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	IdleTTL           time.Duration // visitors unseen this long are dropped
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter with the given defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}

	return &RateLimiter{
		visitors: make(map[string]*visitor),
		defaults: cfg,
		logger:   log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		now:      time.Now,
	}
}

// Allow reports whether one more request from key fits its bucket.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.defaults.RequestsPerSecond), rl.defaults.BurstSize)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	rl.mu.Unlock()

	if !v.limiter.AllowN(now, 1) {
		rl.logger.Printf("🚫 Rate limit exceeded: key=%s rps=%.0f burst=%d",
			key, rl.defaults.RequestsPerSecond, rl.defaults.BurstSize)
		return false
	}
	return true
}

// Middleware returns an HTTP middleware that enforces rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":1}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if agent := r.Header.Get(AgentHeader); agent != "" {
		return "agent:" + agent
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return "ip:" + ip
}

// Sweep removes visitors idle for longer than the configured TTL and returns
// how many were dropped.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	dropped := 0
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.defaults.IdleTTL {
			delete(rl.visitors, key)
			dropped++
		}
	}
	return dropped
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"active_visitors": len(rl.visitors),
		"requests_per_s":  rl.defaults.RequestsPerSecond,
		"burst_size":      rl.defaults.BurstSize,
	}
}
