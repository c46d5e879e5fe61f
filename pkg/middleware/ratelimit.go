package middleware

import (
	"strconv"
	"sync"
	"time"

	"RouterGate/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	// RequestsPerSecond per key; <= 0 disables limiting
	RequestsPerSecond float64
	Burst             int
	// LimiterTTL drops limiters of keys that have been quiet for this long.
	LimiterTTL time.Duration
	// KeyFunc defaults to the authenticated user id, falling back to the client IP.
	KeyFunc func(*gin.Context) string
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	lastGC   time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.LimiterTTL <= 0 {
		cfg.LimiterTTL = 10 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = userKey
	}
	return &RateLimiter{cfg: cfg, limiters: make(map[string]*limiterEntry), lastGC: time.Now()}
}

func userKey(c *gin.Context) string {
	if v, ok := c.Get(CtxUserID); ok {
		if id, ok := v.(int64); ok {
			return "user:" + strconv.FormatInt(id, 10)
		}
	}
	return "ip:" + c.ClientIP()
}

// SetLimit changes the budget of every key, including buckets already handed out.
func (rl *RateLimiter) SetLimit(rps float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cfg.RequestsPerSecond = rps
	rl.cfg.Burst = burst
	for _, e := range rl.limiters {
		e.limiter.SetLimit(rate.Limit(rps))
		e.limiter.SetBurst(burst)
	}
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()
	rl.mu.Lock()
	if rl.cfg.RequestsPerSecond <= 0 {
		rl.mu.Unlock()
		return true
	}
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	if now.Sub(rl.lastGC) > rl.cfg.LimiterTTL {
		for k, v := range rl.limiters {
			if now.Sub(v.lastSeen) > rl.cfg.LimiterTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// RateLimit rejects requests over the per-key budget with 429.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.cfg.KeyFunc(c)
		if !rl.Allow(key) {
			zap.L().Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", "1")
			response.ReplyTooManyRequests(c, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
