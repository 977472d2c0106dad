package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const retryAfterSeconds = 1

// RateLimitConfig bounds the request rate of each session user.
type RateLimitConfig struct {
	RPS     float64
	Burst   int
	IdleTTL time.Duration
	Clock   func() time.Time
}

// DefaultRateLimitConfig mirrors the hosted collection's free tier.
var DefaultRateLimitConfig = RateLimitConfig{
	RPS:     10,
	Burst:   20,
	IdleTTL: time.Hour,
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiter keeps one token bucket per user. Buckets idle for longer than
// IdleTTL are swept on access.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	config    RateLimitConfig
	lastSweep time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRateLimitConfig.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultRateLimitConfig.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig.IdleTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RateLimiter{
		limiters:  make(map[string]*limiterEntry),
		config:    cfg,
		lastSweep: cfg.Clock(),
	}
}

// Allow consumes one token for userID and reports the tokens left.
func (rl *RateLimiter) Allow(userID string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Clock()
	rl.sweepLocked(now)

	entry, ok := rl.limiters[userID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RPS), rl.config.Burst)}
		rl.limiters[userID] = entry
	}
	entry.lastUsed = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Len returns the number of tracked users.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.config.IdleTTL {
		return
	}
	cutoff := now.Add(-rl.config.IdleTTL)
	for userID, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, userID)
		}
	}
	rl.lastSweep = now
}

func (h *httpHandler) limitRequests(c *gin.Context) {
	if h.limiter == nil {
		c.Next()
		return
	}
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.Next()
		return
	}
	allowed, remaining := h.limiter.Allow(userID)
	if !allowed {
		h.logger.Info("rate limit exceeded", zap.String("user_id", userID))
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		c.Header("X-RateLimit-Remaining", "0")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Next()
}
