package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

type AdminHandler struct {
	admin *service.AdminService
}

func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Analytics 时间序列统计
// GET /api/v1/admin/analytics?range=30d&granularity=day
func (h *AdminHandler) Analytics(c *gin.Context) {
	var q dto.AnalyticsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.admin.Analytics(c.Request.Context(), &q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, resp)
}

// Overview 后台概览
// GET /api/v1/admin/overview
func (h *AdminHandler) Overview(c *gin.Context) {
	out, err := h.admin.Overview(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, out)
}

// ListUsers GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	var q dto.AdminUserQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.admin.ListUsers(&q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// UpdateUser 修改角色或封禁
// PUT /api/v1/admin/users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.AdminUpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	item, err := h.admin.UpdateUser(adminID, id, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", item)
}

// GrantCredits 赠送积分
// POST /api/v1/admin/users/:id/credits
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.GrantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	info, err := h.admin.GrantCredits(adminID, id, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "积分已发放", info)
}

// ListDocuments GET /api/v1/admin/documents
func (h *AdminHandler) ListDocuments(c *gin.Context) {
	var q dto.ModerationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.admin.ListDocuments(&q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// FlagDocument POST /api/v1/admin/documents/:id/flag
func (h *AdminHandler) FlagDocument(c *gin.Context) {
	h.flag(c, h.admin.FlagDocument)
}

// UnflagDocument DELETE /api/v1/admin/documents/:id/flag
func (h *AdminHandler) UnflagDocument(c *gin.Context) {
	h.unflag(c, h.admin.UnflagDocument)
}

// DeleteDocument DELETE /api/v1/admin/documents/:id
func (h *AdminHandler) DeleteDocument(c *gin.Context) {
	h.remove(c, h.admin.DeleteDocument)
}

// ListImages GET /api/v1/admin/images
func (h *AdminHandler) ListImages(c *gin.Context) {
	var q dto.ModerationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.admin.ListImages(&q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// FlagImage POST /api/v1/admin/images/:id/flag
func (h *AdminHandler) FlagImage(c *gin.Context) {
	h.flag(c, h.admin.FlagImage)
}

// UnflagImage DELETE /api/v1/admin/images/:id/flag
func (h *AdminHandler) UnflagImage(c *gin.Context) {
	h.unflag(c, h.admin.UnflagImage)
}

// DeleteImage DELETE /api/v1/admin/images/:id
func (h *AdminHandler) DeleteImage(c *gin.Context) {
	h.remove(c, h.admin.DeleteImage)
}

// ListSubscriptions GET /api/v1/admin/subscriptions
func (h *AdminHandler) ListSubscriptions(c *gin.Context) {
	var q dto.AdminSubscriptionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.admin.ListSubscriptions(&q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// SyncSubscription 从支付渠道重新同步
// POST /api/v1/admin/subscriptions/:id/sync
func (h *AdminHandler) SyncSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	sub, err := h.admin.SyncSubscription(c.Request.Context(), id)
	if err != nil {
		handleBillingError(c, err)
		return
	}
	response.Success(c, sub)
}

// ListPayments GET /api/v1/admin/payments
func (h *AdminHandler) ListPayments(c *gin.Context) {
	var q dto.AdminPaymentQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.admin.ListPayments(&q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// GetSettings GET /api/v1/admin/settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	values, err := h.admin.GetSettings(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, values)
}

// UpdateSettings 批量更新，任一项不合法则全部不写入
// PUT /api/v1/admin/settings
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}

	var values map[string]interface{}
	if err := c.ShouldBindJSON(&values); err != nil || len(values) == 0 {
		response.ParamError(c, "请提供要修改的设置")
		return
	}

	out, err := h.admin.UpdateSettings(c.Request.Context(), adminID, values)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "设置已保存", out)
}

func (h *AdminHandler) flag(c *gin.Context, fn func(id int64, reason string) error) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := fn(id, req.Reason); err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已标记", nil)
}

func (h *AdminHandler) unflag(c *gin.Context, fn func(id int64) error) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "已取消标记", nil)
}

func (h *AdminHandler) remove(c *gin.Context, fn func(adminID, id int64) error) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := fn(adminID, id); err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}
