package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
}

func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// List 文档列表
// GET /api/v1/documents
func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var q dto.DocumentListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.documents.List(userID, &q)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPage(c, total, q.Page, q.PageSize, items)
}

// Get 文档详情
// GET /api/v1/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	doc, err := h.documents.Get(userID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

// Update 修改标题或正文
// PUT /api/v1/documents/:id
func (h *DocumentHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	doc, err := h.documents.Update(userID, id, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", doc)
}

// SetFavorite 收藏或取消收藏
// PUT /api/v1/documents/:id/favorite
func (h *DocumentHandler) SetFavorite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req dto.FavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.documents.SetFavorite(userID, id, *req.Favorite); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"is_favorite": *req.Favorite})
}

// Delete 删除文档
// DELETE /api/v1/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.documents.Delete(userID, id); err != nil {
		handleError(c, err)
		return
	}
	response.SuccessWithMessage(c, "删除成功", nil)
}

// Stats 文档统计
// GET /api/v1/documents/stats
func (h *DocumentHandler) Stats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := h.documents.Stats(userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}
