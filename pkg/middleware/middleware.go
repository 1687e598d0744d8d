package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/klear-paper/internal/auth"
	"github.com/ksred/klear-paper/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limits configures requests per second by endpoint type
type Limits struct {
	Auth    rate.Limit
	Trading rate.Limit
	Reads   rate.Limit
	Burst   int
}

func DefaultLimits() Limits {
	return Limits{
		Auth:    rate.Limit(10.0 / 60.0),   // 10 requests per minute
		Trading: rate.Limit(100.0 / 60.0),  // 100 requests per minute
		Reads:   rate.Limit(1000.0 / 60.0), // 1000 requests per minute
		Burst:   5,
	}
}

// RateLimiter tracks one token bucket per client and route
type RateLimiter struct {
	limits   Limits
	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(limits Limits) *RateLimiter {
	if limits.Burst <= 0 {
		limits.Burst = 1
	}
	return &RateLimiter{
		limits:   limits,
		visitors: make(map[string]*visitor),
	}
}

// Start evicts idle visitors every minute until ctx is done
func (rl *RateLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup(3 * time.Minute)
		}
	}
}

func (rl *RateLimiter) cleanup(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > idle {
			delete(rl.visitors, key)
		}
	}
}

func (rl *RateLimiter) limitFor(method, path string) rate.Limit {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return rl.limits.Auth
	case strings.HasSuffix(path, "/trades") && method == "POST":
		return rl.limits.Trading
	case strings.HasPrefix(path, "/api/v1/accounts"):
		return rl.limits.Reads
	default:
		return rate.Inf
	}
}

func (rl *RateLimiter) getLimiter(method, path, client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := client + ":" + method + ":" + path
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{
			limiter: rate.NewLimiter(rl.limitFor(method, path), rl.limits.Burst),
		}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Handler limits by authenticated client when known, else by IP
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := auth.ClientID(c)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := rl.getLimiter(c.Request.Method, c.FullPath(), clientID)
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator checks a bearer token and returns its claims
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// JWTAuth requires a valid bearer token and stores the owner id in the context
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set(auth.ClientIDKey, claims.ClientID)

		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("client_id", auth.ClientID(c)).
			Msg("request")
	}
}
