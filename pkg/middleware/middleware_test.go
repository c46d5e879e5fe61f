package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"RouterGate/pkg/config"
	"RouterGate/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/who", append(mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user":   c.GetInt64(CtxUserID),
			"tenant": c.GetInt64(CtxTenantID),
			"role":   c.GetString(CtxRole),
		})
	})...)
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	utils.SetJWTConfig(&config.JWTConfig{Secret: "mw-secret", ExpireDuration: 60})
	tok, err := utils.GenerateToken("ops", 5, 9, "viewer")
	require.NoError(t, err)
	r := newEngine(JWTAuthMiddleware())

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + tok, "", http.StatusOK},
		{"query token", "", "?token=" + tok, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, "", http.StatusUnauthorized},
		{"garbage", "Bearer xyz", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user":5,"tenant":9,"role":"viewer"}`, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	utils.SetJWTConfig(&config.JWTConfig{Secret: "mw-secret", ExpireDuration: 60})
	r := newEngine(JWTAuthMiddleware(), RequireRole(utils.RoleAdmin))

	viewer, _ := utils.GenerateToken("v", 1, 1, "viewer")
	admin, _ := utils.GenerateToken("a", 2, 1, utils.RoleAdmin)

	for tok, want := range map[string]int{viewer: http.StatusForbidden, admin: http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	r := newEngine(RateLimit(rl))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// separate keys get separate buckets
	assert.True(t, rl.Allow("user:42"))
}

func TestRateLimit_Disabled(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("k"))
	}
}

func TestRateLimiter_SetLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	rl.SetLimit(0, 0)
	assert.True(t, rl.Allow("k"), "limiting switched off")

	rl.SetLimit(0.001, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("fresh"))
	}
	assert.False(t, rl.Allow("fresh"))
}
