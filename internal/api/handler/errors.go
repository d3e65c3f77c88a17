package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/internal/api/middleware"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/oauth"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

// handleError 把 service 层错误映射为统一响应
func handleError(c *gin.Context, err error) {
	var verr *service.ValidationError
	var apiErr *llm.APIError

	switch {
	case errors.As(err, &verr):
		response.ErrorWithData(c, response.CodeParamError, verr.Error(), gin.H{"fields": verr.Fields})

	case errors.Is(err, service.ErrEmailExists),
		errors.Is(err, service.ErrUsernameExists):
		response.DuplicateError(c, err.Error())

	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrEmailNotVerified),
		errors.Is(err, oauth.ErrInvalidState):
		response.AuthError(c, err.Error())

	case errors.Is(err, service.ErrUserBanned),
		errors.Is(err, service.ErrContentPermission),
		errors.Is(err, service.ErrImagePermission),
		errors.Is(err, service.ErrModelDenied),
		errors.Is(err, service.ErrPlanRequired),
		errors.Is(err, service.ErrSelfModify):
		response.PermissionError(c, err.Error())

	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrTemplateNotFound),
		errors.Is(err, service.ErrContentNotFound),
		errors.Is(err, service.ErrImageNotFound),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrSubscriptionNotFound),
		errors.Is(err, service.ErrNoSubscription),
		errors.Is(err, llm.ErrModelNotFound):
		response.NotFoundError(c, err.Error())

	case errors.Is(err, service.ErrInsufficientCredits):
		response.QuotaError(c, err.Error())

	case errors.Is(err, service.ErrTooManyImageJobs):
		response.RateLimitError(c, err.Error())

	case errors.Is(err, service.ErrMaintenance):
		response.MaintenanceError(c, err.Error())

	case errors.Is(err, service.ErrGenerationFailed),
		errors.Is(err, service.ErrQueueUnavailable),
		errors.Is(err, llm.ErrModelUnavailable),
		errors.As(err, &apiErr),
		errors.Is(err, context.DeadlineExceeded):
		zap.L().Warn("upstream failure",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err))
		response.UpstreamError(c, upstreamMessage(err))

	case errors.Is(err, service.ErrInvalidVerifyCode),
		errors.Is(err, service.ErrWrongPassword),
		errors.Is(err, service.ErrEmptyTitle),
		errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, service.ErrAvatarTooLarge),
		errors.Is(err, service.ErrAvatarType),
		errors.Is(err, service.ErrWrongTemplateKind),
		errors.Is(err, service.ErrEmptyPrompt),
		errors.Is(err, service.ErrPromptRequired),
		errors.Is(err, service.ErrInvalidImageSize),
		errors.Is(err, service.ErrNoModelConfigured),
		errors.Is(err, service.ErrImageNotReady),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrUnknownSetting),
		errors.Is(err, service.ErrInvalidSetting),
		errors.Is(err, service.ErrUnknownPlan),
		errors.Is(err, service.ErrUnknownProvider),
		errors.Is(err, service.ErrProviderUnavailable),
		errors.Is(err, service.ErrPriceMissing),
		errors.Is(err, service.ErrPortalUnavailable),
		errors.Is(err, service.ErrOAuthNotConfigured),
		errors.Is(err, service.ErrStorageUnavailable),
		errors.Is(err, analytics.ErrInvalidRange):
		response.ParamError(c, err.Error())

	default:
		zap.L().Error("request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		response.ServerError(c, "")
	}
}

func upstreamMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrGenerationFailed):
		return service.ErrGenerationFailed.Error()
	case errors.Is(err, service.ErrQueueUnavailable):
		return service.ErrQueueUnavailable.Error()
	case errors.Is(err, llm.ErrModelUnavailable):
		return llm.ErrModelUnavailable.Error()
	}
	return ""
}

// currentUser 取登录用户 ID，未登录时直接写入认证错误
func currentUser(c *gin.Context) (int64, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
	}
	return userID, ok
}

// pathID 解析路径中的数字 ID
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "无效的 ID")
		return 0, false
	}
	return id, true
}
