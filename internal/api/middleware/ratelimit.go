package middleware

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/ratelimit"
	"github.com/qs3c/aigc_server/internal/pkg/response"
)

// Limiter 限流器，*ratelimit.Limiter 满足该接口
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error)
}

// MaintenanceChecker 读取维护模式开关
type MaintenanceChecker interface {
	Bool(ctx context.Context, key string) bool
}

// RateLimit 按用户（未登录时按 IP）限流，Redis 出错时放行
func RateLimit(limiter Limiter, name string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		subject := "ip:" + c.ClientIP()
		if userID, ok := GetUserID(c); ok {
			subject = fmt.Sprintf("user:%d", userID)
		}

		res, err := limiter.Allow(c.Request.Context(), name+":"+subject, limit, window)
		if err != nil {
			zap.L().Warn("rate limit check failed", zap.String("name", name), zap.Error(err))
			c.Next()
			return
		}
		if res.Remaining >= 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			response.RateLimitError(c, "")
			c.Abort()
			return
		}

		c.Next()
	}
}

// Maintenance 维护模式下拒绝非管理员请求
func Maintenance(settings MaintenanceChecker, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != model.RoleAdmin && settings.Bool(c.Request.Context(), key) {
			response.MaintenanceError(c, "")
			c.Abort()
			return
		}
		c.Next()
	}
}
