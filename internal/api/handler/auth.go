package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
	frontendURL string
}

func NewAuthHandler(authService *service.AuthService, frontendURL string) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// Register 用户注册
// POST /api/v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "注册成功，请查收验证邮件", resp)
}

// Login 用户登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "登录成功", resp)
}

// VerifyEmail 验证邮箱
// POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req dto.VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.VerifyEmail(req.Code)
	if err != nil {
		handleError(c, err)
		return
	}

	response.SuccessWithMessage(c, "邮箱验证成功", resp)
}

// Me 当前登录用户
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	info, err := h.authService.Me(userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, info)
}

// GithubLogin 跳转到 GitHub 授权页
// GET /api/v1/auth/github?redirect=/dashboard
func (h *AuthHandler) GithubLogin(c *gin.Context) {
	authURL, err := h.authService.GithubAuthURL(c.Request.Context(), safeRedirect(c.Query("redirect")))
	if err != nil {
		handleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// GithubCallback GitHub 授权回调，登录成功后带 token 跳回前端
// GET /api/v1/auth/github/callback
func (h *AuthHandler) GithubCallback(c *gin.Context) {
	if errMsg := c.Query("error"); errMsg != "" {
		c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+url.QueryEscape(errMsg))
		return
	}

	resp, redirect, err := h.authService.GithubCallback(c.Request.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		zap.L().Warn("github callback failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.frontendURL+"/login?error=github_login_failed")
		return
	}

	target := h.frontendURL + "/auth/callback"
	if redirect != "" {
		target += "?redirect=" + url.QueryEscape(redirect)
	}
	c.Redirect(http.StatusFound, target+"#token="+url.QueryEscape(resp.Token))
}

// safeRedirect 只接受站内相对路径
func safeRedirect(r string) string {
	if !strings.HasPrefix(r, "/") || strings.HasPrefix(r, "//") || strings.Contains(r, `\`) {
		return ""
	}
	return r
}
