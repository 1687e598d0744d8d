package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ksred/klear-paper/internal/auth"
)

func newRouter(authSvc *auth.Service, rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	protected := r.Group("/api/v1/accounts")
	protected.Use(JWTAuth(authSvc), rl.Handler())
	protected.GET("/:account_id", func(c *gin.Context) {
		c.String(http.StatusOK, auth.ClientID(c))
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	authSvc := auth.NewService("secret", time.Hour, nil)
	authSvc.RegisterAPICredentials("owner-1", "pw")
	tok, err := authSvc.GenerateToken(auth.Credentials{APIKey: "owner-1", APISecret: "pw"})
	require.NoError(t, err)

	r := newRouter(authSvc, NewRateLimiter(Limits{Reads: rate.Inf}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + tok.Token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok.Token, http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/acc-1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "owner-1", w.Body.String())
			}
		})
	}
}

func TestRateLimitPerClient(t *testing.T) {
	authSvc := auth.NewService("secret", time.Hour, nil)
	authSvc.RegisterAPICredentials("owner-1", "pw")
	authSvc.RegisterAPICredentials("owner-2", "pw")
	tok1, _ := authSvc.GenerateToken(auth.Credentials{APIKey: "owner-1", APISecret: "pw"})
	tok2, _ := authSvc.GenerateToken(auth.Credentials{APIKey: "owner-2", APISecret: "pw"})

	r := newRouter(authSvc, NewRateLimiter(Limits{Reads: rate.Every(time.Hour), Burst: 2}))

	call := func(token string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/acc-1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call(tok1.Token))
	assert.Equal(t, http.StatusOK, call(tok1.Token))
	assert.Equal(t, http.StatusTooManyRequests, call(tok1.Token))
	assert.Equal(t, http.StatusOK, call(tok2.Token))
}

func TestLimitFor(t *testing.T) {
	rl := NewRateLimiter(DefaultLimits())
	assert.Equal(t, rl.limits.Auth, rl.limitFor("POST", "/api/v1/auth/token"))
	assert.Equal(t, rl.limits.Trading, rl.limitFor("POST", "/api/v1/accounts/:account_id/trades"))
	assert.Equal(t, rl.limits.Reads, rl.limitFor("GET", "/api/v1/accounts/:account_id/trades"))
	assert.Equal(t, rate.Inf, rl.limitFor("GET", "/health"))
}
