package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/service"
)

type ModelsHandler struct {
	cfg      *config.Config
	settings *service.SettingsService
}

func NewModelsHandler(cfg *config.Config, settings *service.SettingsService) *ModelsHandler {
	return &ModelsHandler{cfg: cfg, settings: settings}
}

// List 获取模型列表
// GET /api/v1/models
func (h *ModelsHandler) List(c *gin.Context) {
	defaultModel := h.settings.String(c.Request.Context(), service.SettingDefaultModel)

	models := make([]map[string]interface{}, len(h.cfg.Models))
	for i, m := range h.cfg.Models {
		requiredPlan := m.RequiredPlan
		if requiredPlan == "" {
			requiredPlan = "free"
		}
		models[i] = map[string]interface{}{
			"name":          m.Name,
			"display_name":  m.DisplayName,
			"required_plan": requiredPlan,
			"description":   m.Description,
			"available":     m.APIKey != "",
			"default":       m.Name == defaultModel,
		}
	}

	response.Success(c, gin.H{
		"models": models,
		"image": gin.H{
			"model":       h.cfg.Image.Model,
			"credit_cost": h.cfg.Image.CreditCost,
			"sizes":       h.cfg.Image.Sizes,
			"available":   h.cfg.Image.APIKey != "",
		},
	})
}

// PublicSettings 公告和维护状态（无需登录）
// GET /api/v1/settings/public
func (h *ModelsHandler) PublicSettings(c *gin.Context) {
	response.Success(c, h.settings.Public(c.Request.Context()))
}
