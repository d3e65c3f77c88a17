package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/jwt"
	"github.com/qs3c/aigc_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
	RoleKey   = "role"
)

// UserLoader 按 ID 读取用户，*repository.UserRepository 满足该接口
type UserLoader interface {
	GetByID(id int64) (*model.User, error)
}

// Auth 校验 Bearer Token，把用户 ID 写入上下文
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			abort(c, response.CodeAuthFailed, "请提供认证信息")
			return
		}
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			abort(c, response.CodeAuthFailed, "认证格式错误")
			return
		}
		claims, err := jwt.ParseToken(token, jwtSecret)
		if err != nil {
			abort(c, response.CodeAuthFailed, "认证失败或已过期")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// ActiveUser 拒绝已删除或被封禁的账号，角色以数据库为准
func ActiveUser(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			abort(c, response.CodeAuthFailed, "")
			return
		}

		user, err := users.GetByID(userID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			abort(c, response.CodeAuthFailed, "用户不存在")
			return
		case err != nil:
			zap.L().Error("load user failed", zap.Int64("user_id", userID), zap.Error(err))
			abort(c, response.CodeServerError, "")
			return
		case user.Status == model.UserStatusBanned:
			abort(c, response.CodePermissionDenied, "账号已被封禁")
			return
		}

		c.Set(RoleKey, user.Role)
		c.Next()
	}
}

// AdminOnly 仅管理员可访问
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != model.RoleAdmin {
			abort(c, response.CodePermissionDenied, "需要管理员权限")
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func GetRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}

func abort(c *gin.Context, code int, message string) {
	response.Error(c, code, message)
	c.Abort()
}
