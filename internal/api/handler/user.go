package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

const maxAvatarUpload = 5 << 20

type UserHandler struct {
	userService   *service.UserService
	creditService *service.CreditService
}

func NewUserHandler(userService *service.UserService, creditService *service.CreditService) *UserHandler {
	return &UserHandler{
		userService:   userService,
		creditService: creditService,
	}
}

// GetProfile 获取当前用户资料
// GET /api/v1/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	profile, err := h.userService.GetProfile(userID)
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, profile)
}

// UpdateProfile 更新用户资料
// PUT /api/v1/user/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	profile, err := h.userService.UpdateProfile(userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "更新成功", profile)
}

// UploadAvatar 上传头像
// POST /api/v1/user/avatar
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "请选择文件")
		return
	}
	if file.Size > maxAvatarUpload {
		handleError(c, service.ErrAvatarTooLarge)
		return
	}

	f, err := file.Open()
	if err != nil {
		response.ServerError(c, "文件读取失败")
		return
	}
	defer f.Close()

	// 文件类型由 service 按内容判断
	avatarURL, err := h.userService.UploadAvatar(userID, f)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "上传成功", gin.H{
		"avatar_url": avatarURL,
	})
}

// GetNotifications 获取通知设置
// GET /api/v1/user/notifications
func (h *UserHandler) GetNotifications(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	settings, err := h.userService.GetNotificationSettings(userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateNotifications 部分更新通知设置
// PUT /api/v1/user/notifications
func (h *UserHandler) UpdateNotifications(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.UpdateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	settings, err := h.userService.UpdateNotificationSettings(userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", settings)
}

// ChangePassword 修改密码
// PUT /api/v1/user/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.userService.ChangePassword(userID, &req); err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "密码已修改", nil)
}

// GetCredits 当前积分
// GET /api/v1/user/credits
func (h *UserHandler) GetCredits(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	info, err := h.creditService.Info(userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, info)
}
