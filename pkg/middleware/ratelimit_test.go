package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/commissionledger/pkg/config"
	"github.com/wyfcoding/commissionledger/pkg/ratelimit"
)

// budgetLimiter 每个 key 放行固定次数
type budgetLimiter struct {
	budget int
	used   map[string]int
	err    error
}

func (l *budgetLimiter) Allow(_ context.Context, key string, _ ratelimit.Limit) (*ratelimit.Decision, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.used[key]++
	if l.used[key] > l.budget {
		return &ratelimit.Decision{Allowed: false, RetryAfter: 30 * time.Second}, nil
	}
	return &ratelimit.Decision{Allowed: true, Remaining: l.budget - l.used[key]}, nil
}

func newLimitedRouter(limiter ratelimit.Limiter, enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.RateLimitConfig{Enabled: enabled, Rate: 2, Period: time.Minute, Burst: 2}
	r := gin.New()
	r.POST("/limited", RateLimitMiddleware(limiter, cfg, "test", func(c *gin.Context) string {
		return c.GetHeader("X-User-ID")
	}), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func post(r *gin.Engine, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/limited", nil)
	req.Header.Set("X-User-ID", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitPerKey(t *testing.T) {
	limiter := &budgetLimiter{budget: 2, used: map[string]int{}}
	r := newLimitedRouter(limiter, true)

	assert.Equal(t, http.StatusNoContent, post(r, "a").Code)
	w := post(r, "a")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = post(r, "a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "31", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, post(r, "b").Code)
	assert.Equal(t, 3, limiter.used["ratelimit:test:a"])
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := newLimitedRouter(&budgetLimiter{err: errors.New("redis down")}, true)
	assert.Equal(t, http.StatusNoContent, post(r, "a").Code)

	disabled := newLimitedRouter(&budgetLimiter{budget: 0, used: map[string]int{}}, false)
	assert.Equal(t, http.StatusNoContent, post(disabled, "a").Code)
}
