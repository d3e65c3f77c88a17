package handler

import (
	"fmt"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/testutil"
)

func adminRouter(e *testEnv, adminID int64) *gin.Engine {
	router := gin.New()
	router.Use(mockAuth(adminID))
	router.GET("/analytics", e.admin.Analytics)
	router.GET("/overview", e.admin.Overview)
	router.GET("/users", e.admin.ListUsers)
	router.PUT("/users/:id", e.admin.UpdateUser)
	router.POST("/users/:id/credits", e.admin.GrantCredits)
	router.GET("/documents", e.admin.ListDocuments)
	router.POST("/documents/:id/flag", e.admin.FlagDocument)
	router.DELETE("/documents/:id/flag", e.admin.UnflagDocument)
	router.DELETE("/documents/:id", e.admin.DeleteDocument)
	router.GET("/images", e.admin.ListImages)
	router.POST("/images/:id/flag", e.admin.FlagImage)
	router.DELETE("/images/:id", e.admin.DeleteImage)
	router.GET("/subscriptions", e.admin.ListSubscriptions)
	router.GET("/payments", e.admin.ListPayments)
	router.GET("/settings", e.admin.GetSettings)
	router.PUT("/settings", e.admin.UpdateSettings)
	return router
}

func TestAdminHandler_Users(t *testing.T) {
	e := setupEnv(t)
	admin := e.newUser(t, testutil.WithRole(model.RoleAdmin))
	user := e.newUser(t, testutil.WithUsername("member"))
	router := adminRouter(e, admin.ID)

	w := performRequest(router, "GET", "/users?search=member", nil)
	data := dataMap(t, parseResponse(t, w))
	assert.Equal(t, float64(1), data["total"])

	t.Run("ban", func(t *testing.T) {
		w := performRequest(router, "PUT", fmt.Sprintf("/users/%d", user.ID), map[string]string{"status": "banned"})
		resp := parseResponse(t, w)
		require.Equal(t, response.CodeSuccess, resp.Code)
		assert.Equal(t, "banned", dataMap(t, resp)["status"])
	})

	t.Run("self", func(t *testing.T) {
		w := performRequest(router, "PUT", fmt.Sprintf("/users/%d", admin.ID), map[string]string{"role": "user"})
		assert.Equal(t, response.CodePermissionDenied, parseResponse(t, w).Code)
	})

	t.Run("bad role", func(t *testing.T) {
		w := performRequest(router, "PUT", fmt.Sprintf("/users/%d", user.ID), map[string]string{"role": "owner"})
		assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)
	})

	t.Run("missing user", func(t *testing.T) {
		w := performRequest(router, "PUT", "/users/99999", map[string]string{"status": "banned"})
		assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
	})

	t.Run("grant credits", func(t *testing.T) {
		w := performRequest(router, "POST", fmt.Sprintf("/users/%d/credits", user.ID), map[string]interface{}{"amount": 30, "reason": "support"})
		resp := parseResponse(t, w)
		require.Equal(t, response.CodeSuccess, resp.Code)
		assert.Equal(t, float64(50), dataMap(t, resp)["remaining"])

		w = performRequest(router, "POST", fmt.Sprintf("/users/%d/credits", user.ID), map[string]interface{}{"amount": 0})
		assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)
	})
}

func TestAdminHandler_Moderation(t *testing.T) {
	e := setupEnv(t)
	admin := e.newUser(t, testutil.WithRole(model.RoleAdmin))
	user := e.newUser(t)
	router := adminRouter(e, admin.ID)

	doc := testutil.TestContent(t, e.db, user.ID)
	testutil.TestContent(t, e.db, user.ID)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageCompleted)

	w := performRequest(router, "POST", fmt.Sprintf("/documents/%d/flag", doc.ID), map[string]string{})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(router, "POST", fmt.Sprintf("/documents/%d/flag", doc.ID), map[string]string{"reason": "spam"})
	require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	w = performRequest(router, "GET", "/documents?flagged=true", nil)
	data := dataMap(t, parseResponse(t, w))
	require.Equal(t, float64(1), data["total"])
	item := data["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "spam", item["flag_reason"])
	assert.Equal(t, user.Username, item["username"])

	w = performRequest(router, "DELETE", fmt.Sprintf("/documents/%d/flag", doc.ID), nil)
	require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)
	w = performRequest(router, "GET", "/documents?flagged=true", nil)
	assert.Equal(t, float64(0), dataMap(t, parseResponse(t, w))["total"])

	w = performRequest(router, "DELETE", fmt.Sprintf("/documents/%d", doc.ID), nil)
	require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)
	w = performRequest(router, "DELETE", fmt.Sprintf("/documents/%d", doc.ID), nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)

	w = performRequest(router, "POST", fmt.Sprintf("/images/%d/flag", image.ID), map[string]string{"reason": "nsfw"})
	require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)
	w = performRequest(router, "GET", "/images?flagged=true", nil)
	assert.Equal(t, float64(1), dataMap(t, parseResponse(t, w))["total"])

	w = performRequest(router, "DELETE", fmt.Sprintf("/images/%d", image.ID), nil)
	require.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)
	w = performRequest(router, "GET", "/images", nil)
	assert.Equal(t, float64(0), dataMap(t, parseResponse(t, w))["total"])
}

func TestAdminHandler_Settings(t *testing.T) {
	e := setupEnv(t)
	admin := e.newUser(t, testutil.WithRole(model.RoleAdmin))
	router := adminRouter(e, admin.ID)

	w := performRequest(router, "GET", "/settings", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, false, dataMap(t, resp)["maintenance_mode"])

	w = performRequest(router, "PUT", "/settings", map[string]interface{}{})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(router, "PUT", "/settings", map[string]interface{}{"theme": "dark"})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(router, "PUT", "/settings", map[string]interface{}{"maintenance_mode": "yes please"})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(router, "PUT", "/settings", map[string]interface{}{"maintenance_mode": true, "announcement": "维护中"})
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, true, dataMap(t, resp)["maintenance_mode"])
	assert.Equal(t, "维护中", dataMap(t, resp)["announcement"])

	// 公开设置接口同步变化
	public := gin.New()
	public.GET("/settings/public", e.models.PublicSettings)
	w = performRequest(public, "GET", "/settings/public", nil)
	data := dataMap(t, parseResponse(t, w))
	assert.Equal(t, true, data["maintenance_mode"])
}

func TestAdminHandler_Analytics(t *testing.T) {
	e := setupEnv(t)
	admin := e.newUser(t, testutil.WithRole(model.RoleAdmin))
	router := adminRouter(e, admin.ID)

	w := performRequest(router, "GET", "/analytics?range=7d", nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, "day", data["granularity"])
	assert.NotEmpty(t, data["series"])

	w = performRequest(router, "GET", "/analytics?range=1y", nil)
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(router, "GET", "/analytics?from=2026-03-10&to=2026-03-01", nil)
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(router, "GET", "/overview", nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, float64(1), dataMap(t, resp)["users"])
}
