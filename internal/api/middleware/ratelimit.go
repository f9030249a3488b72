package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	cfgpkg "github.com/thermline/hpfleet/internal/config"
)

// RateLimit 摄取入口的全局令牌桶限流（非阻塞，超限直接 429）
func RateLimit(cfg cfgpkg.APIRateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 200
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec * 2
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
