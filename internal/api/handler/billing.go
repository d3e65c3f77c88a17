package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/payment"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

// 回调请求体上限
const maxWebhookBody = 1 << 20

type BillingHandler struct {
	billing *service.BillingService
}

func NewBillingHandler(billing *service.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

// Plans 套餐列表（无需登录）
// GET /api/v1/billing/plans
func (h *BillingHandler) Plans(c *gin.Context) {
	response.Success(c, gin.H{"plans": h.billing.ListPlans()})
}

// Checkout 创建支付
// POST /api/v1/billing/checkout
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.billing.CreateCheckout(c.Request.Context(), userID, &req)
	if err != nil {
		handleBillingError(c, err)
		return
	}
	response.Success(c, resp)
}

// Status 当前订阅状态，渠道接口失败时使用本地数据
// GET /api/v1/billing/status
func (h *BillingHandler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status, err := h.billing.GetStatus(c.Request.Context(), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

// Cancel 取消订阅（当前周期结束后生效）
// POST /api/v1/billing/cancel
func (h *BillingHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status, err := h.billing.Cancel(c.Request.Context(), userID)
	if err != nil {
		handleBillingError(c, err)
		return
	}
	response.SuccessWithMessage(c, "订阅已取消", status)
}

// Portal Stripe 账单管理页
// POST /api/v1/billing/portal
func (h *BillingHandler) Portal(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	u, err := h.billing.PortalURL(c.Request.Context(), userID)
	if err != nil {
		handleBillingError(c, err)
		return
	}
	response.Success(c, dto.PortalResponse{URL: u})
}

// Invoices 支付记录
// GET /api/v1/billing/invoices
func (h *BillingHandler) Invoices(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	q.Normalize()

	items, total, err := h.billing.ListInvoices(userID, q.Page, q.PageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// VerifyFatora Fatora 支付回跳后校验订单
// POST /api/v1/billing/fatora/verify
func (h *BillingHandler) VerifyFatora(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	status, err := h.billing.VerifyFatoraPayment(c.Request.Context(), userID, req.OrderID)
	if err != nil {
		handleBillingError(c, err)
		return
	}
	response.Success(c, status)
}

// Webhook 支付渠道回调，返回真实 HTTP 状态码供渠道重试
// POST /api/v1/webhooks/:provider
func (h *BillingHandler) Webhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	err = h.billing.HandleWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, payment.ErrInvalidSignature):
		zap.L().Warn("webhook signature rejected", zap.String("provider", provider))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	case errors.Is(err, service.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
	default:
		zap.L().Error("webhook failed", zap.String("provider", provider), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}

// handleBillingError 支付渠道接口错误按上游错误处理
func handleBillingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrNotConfigured):
		response.ParamError(c, service.ErrProviderUnavailable.Error())
	case errors.Is(err, payment.ErrUnsupported):
		response.ParamError(c, err.Error())
	case isServiceError(err):
		handleError(c, err)
	default:
		zap.L().Warn("payment provider call failed", zap.Error(err))
		response.UpstreamError(c, "")
	}
}

// isServiceError 判断是否为 service 层已知错误
func isServiceError(err error) bool {
	for _, target := range []error{
		service.ErrUnknownPlan,
		service.ErrProviderUnavailable,
		service.ErrPriceMissing,
		service.ErrNoSubscription,
		service.ErrPortalUnavailable,
		service.ErrPaymentNotFound,
		service.ErrSubscriptionNotFound,
		service.ErrUnknownProvider,
		service.ErrUserNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
