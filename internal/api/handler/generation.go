package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

type GenerationHandler struct {
	templates  *service.TemplateService
	generation *service.GenerationService
}

func NewGenerationHandler(templates *service.TemplateService, generation *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		templates:  templates,
		generation: generation,
	}
}

// ListTemplates 模板目录
// GET /api/v1/templates?category=blog
func (h *GenerationHandler) ListTemplates(c *gin.Context) {
	response.Success(c, gin.H{
		"categories": h.templates.Categories(),
		"templates":  h.templates.List(c.Query("category")),
	})
}

// GetTemplate 模板详情
// GET /api/v1/templates/:id
func (h *GenerationHandler) GetTemplate(c *gin.Context) {
	tpl, err := h.templates.Get(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, tpl)
}

// Generate 生成文本内容
// POST /api/v1/generate
func (h *GenerationHandler) Generate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.generation.Generate(c.Request.Context(), userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, resp)
}

// GenerateImage 提交图片生成任务
// POST /api/v1/images
func (h *GenerationHandler) GenerateImage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req dto.GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.generation.GenerateImage(c.Request.Context(), userID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "任务已提交", resp)
}
