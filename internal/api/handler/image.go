package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

type ImageHandler struct {
	images *service.ImageService
}

func NewImageHandler(images *service.ImageService) *ImageHandler {
	return &ImageHandler{images: images}
}

// List 图片任务列表
// GET /api/v1/images
func (h *ImageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var q dto.ImageListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.images.List(userID, &q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// Get 图片任务详情，前端轮询或收到推送后刷新
// GET /api/v1/images/:id
func (h *ImageHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.images.Get(userID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, item)
}

// File 输出本地存储的图片
// GET /api/v1/images/:id/file
func (h *ImageHandler) File(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	path, err := h.images.LocalFile(userID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.File(path)
}

// Delete 删除图片
// DELETE /api/v1/images/:id
func (h *ImageHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.images.Delete(userID, id); err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}
