package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/api/handler"
	"github.com/qs3c/aigc_server/internal/api/middleware"
	"github.com/qs3c/aigc_server/internal/service"
)

type Router struct {
	authHandler       *handler.AuthHandler
	userHandler       *handler.UserHandler
	generationHandler *handler.GenerationHandler
	documentHandler   *handler.DocumentHandler
	imageHandler      *handler.ImageHandler
	billingHandler    *handler.BillingHandler
	adminHandler      *handler.AdminHandler
	modelsHandler     *handler.ModelsHandler
	websocketHandler  *handler.WebSocketHandler
	users             middleware.UserLoader
	limiter           middleware.Limiter
	settings          middleware.MaintenanceChecker
	cfg               *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	generationHandler *handler.GenerationHandler,
	documentHandler *handler.DocumentHandler,
	imageHandler *handler.ImageHandler,
	billingHandler *handler.BillingHandler,
	adminHandler *handler.AdminHandler,
	modelsHandler *handler.ModelsHandler,
	websocketHandler *handler.WebSocketHandler,
	users middleware.UserLoader,
	limiter middleware.Limiter,
	settings middleware.MaintenanceChecker,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:       authHandler,
		userHandler:       userHandler,
		generationHandler: generationHandler,
		documentHandler:   documentHandler,
		imageHandler:      imageHandler,
		billingHandler:    billingHandler,
		adminHandler:      adminHandler,
		modelsHandler:     modelsHandler,
		websocketHandler:  websocketHandler,
		users:             users,
		limiter:           limiter,
		settings:          settings,
		cfg:               cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 支付渠道回调，不走统一响应格式
		api.POST("/webhooks/:provider", r.billingHandler.Webhook)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/verify-email", r.authHandler.VerifyEmail)
			auth.GET("/github", r.authHandler.GithubLogin)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 公开接口 - 目录
		api.GET("/models", r.modelsHandler.List)
		api.GET("/settings/public", r.modelsHandler.PublicSettings)
		api.GET("/templates", r.generationHandler.ListTemplates)
		api.GET("/templates/:id", r.generationHandler.GetTemplate)
		api.GET("/billing/plans", r.billingHandler.Plans)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret), middleware.ActiveUser(r.users))
		{
			authenticated.GET("/auth/me", r.authHandler.Me)

			// 用户
			user := authenticated.Group("/user")
			{
				user.GET("/profile", r.userHandler.GetProfile)
				user.PUT("/profile", r.userHandler.UpdateProfile)
				user.POST("/avatar", r.userHandler.UploadAvatar)
				user.GET("/notifications", r.userHandler.GetNotifications)
				user.PUT("/notifications", r.userHandler.UpdateNotifications)
				user.PUT("/password", r.userHandler.ChangePassword)
				user.GET("/credits", r.userHandler.GetCredits)
			}

			// 生成（限流 + 维护模式）
			limited := authenticated.Group("")
			limited.Use(
				middleware.Maintenance(r.settings, service.SettingMaintenanceMode),
				middleware.RateLimit(r.limiter, "generate", r.cfg.RateLimit.GenerationsPerMinute, time.Minute),
			)
			{
				limited.POST("/generate", r.generationHandler.Generate)
				limited.POST("/images", r.generationHandler.GenerateImage)
			}

			// 文档
			documents := authenticated.Group("/documents")
			{
				documents.GET("", r.documentHandler.List)
				documents.GET("/stats", r.documentHandler.Stats)
				documents.GET("/:id", r.documentHandler.Get)
				documents.PUT("/:id", r.documentHandler.Update)
				documents.PUT("/:id/favorite", r.documentHandler.SetFavorite)
				documents.DELETE("/:id", r.documentHandler.Delete)
			}

			// 图片
			images := authenticated.Group("/images")
			{
				images.GET("", r.imageHandler.List)
				images.GET("/:id", r.imageHandler.Get)
				images.GET("/:id/file", r.imageHandler.File)
				images.DELETE("/:id", r.imageHandler.Delete)
			}

			// 订阅与支付
			billing := authenticated.Group("/billing")
			{
				billing.GET("/status", r.billingHandler.Status)
				billing.POST("/checkout", middleware.Maintenance(r.settings, service.SettingMaintenanceMode), r.billingHandler.Checkout)
				billing.POST("/cancel", r.billingHandler.Cancel)
				billing.POST("/portal", r.billingHandler.Portal)
				billing.GET("/invoices", r.billingHandler.Invoices)
				billing.POST("/fatora/verify", r.billingHandler.VerifyFatora)
			}

			// 管理后台
			admin := authenticated.Group("/admin")
			admin.Use(middleware.AdminOnly())
			{
				admin.GET("/analytics", r.adminHandler.Analytics)
				admin.GET("/overview", r.adminHandler.Overview)

				admin.GET("/users", r.adminHandler.ListUsers)
				admin.PUT("/users/:id", r.adminHandler.UpdateUser)
				admin.POST("/users/:id/credits", r.adminHandler.GrantCredits)

				admin.GET("/documents", r.adminHandler.ListDocuments)
				admin.POST("/documents/:id/flag", r.adminHandler.FlagDocument)
				admin.DELETE("/documents/:id/flag", r.adminHandler.UnflagDocument)
				admin.DELETE("/documents/:id", r.adminHandler.DeleteDocument)

				admin.GET("/images", r.adminHandler.ListImages)
				admin.POST("/images/:id/flag", r.adminHandler.FlagImage)
				admin.DELETE("/images/:id/flag", r.adminHandler.UnflagImage)
				admin.DELETE("/images/:id", r.adminHandler.DeleteImage)

				admin.GET("/subscriptions", r.adminHandler.ListSubscriptions)
				admin.POST("/subscriptions/:id/sync", r.adminHandler.SyncSubscription)
				admin.GET("/payments", r.adminHandler.ListPayments)

				admin.GET("/settings", r.adminHandler.GetSettings)
				admin.PUT("/settings", r.adminHandler.UpdateSettings)
			}
		}
	}

	return engine
}
