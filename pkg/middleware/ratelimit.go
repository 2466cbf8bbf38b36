package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/commissionledger/pkg/config"
	"github.com/wyfcoding/commissionledger/pkg/logger"
	"github.com/wyfcoding/commissionledger/pkg/ratelimit"
)

// KeyFunc 从请求中提取限流键
type KeyFunc func(c *gin.Context) string

// ClientIPKey 以客户端 IP 作为限流键
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimitMiddleware 限流中间件，限流器不可用时放行
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg config.RateLimitConfig, scope string, keyFn KeyFunc) gin.HandlerFunc {
	limit := ratelimit.LimitFromConfig(cfg)
	return func(c *gin.Context) {
		if !cfg.Enabled || limiter == nil {
			c.Next()
			return
		}

		key := ratelimit.Key(scope, keyFn(c))
		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", res.ResetHeader())

		if !res.Allowed {
			c.Header("Retry-After", res.RetryAfterHeader())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"code":        "RATE_LIMITED",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}

		c.Next()
	}
}
