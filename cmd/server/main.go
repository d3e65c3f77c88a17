package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/api"
	"github.com/qs3c/aigc_server/internal/api/handler"
	"github.com/qs3c/aigc_server/internal/database"
	"github.com/qs3c/aigc_server/internal/pkg/cron"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/logger"
	"github.com/qs3c/aigc_server/internal/pkg/oauth"
	"github.com/qs3c/aigc_server/internal/pkg/oss"
	"github.com/qs3c/aigc_server/internal/pkg/payment/fatora"
	"github.com/qs3c/aigc_server/internal/pkg/payment/paddle"
	"github.com/qs3c/aigc_server/internal/pkg/payment/stripe"
	"github.com/qs3c/aigc_server/internal/pkg/pubsub"
	"github.com/qs3c/aigc_server/internal/pkg/queue"
	"github.com/qs3c/aigc_server/internal/pkg/ratelimit"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer log.Sync()

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	log.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connected")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	templates, err := service.LoadTemplateService(cfg.Templates.Path)
	if err != nil {
		log.Fatal("failed to load templates", zap.String("path", cfg.Templates.Path), zap.Error(err))
	}

	providers, err := llm.NewRegistry(ctx, cfg.Models)
	if err != nil {
		log.Fatal("failed to init model providers", zap.Error(err))
	}

	// OSS 可选，store 必须保持无类型 nil
	var store service.ObjectStore
	if oss.Configured(&cfg.OSS) {
		client, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn("oss init failed, using local storage", zap.Error(err))
		} else {
			store = client
		}
	}

	wsHub := ws.NewHub()
	mailer := email.NewService(&cfg.Email)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	contentRepo := repository.NewContentRepository(db)
	imageRepo := repository.NewImageRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// 初始化 Service
	credits := service.NewCreditService(repository.NewCreditRepository(db), cfg)
	settings := service.NewSettingsService(repository.NewSettingRepository(db), rdb, cfg)
	authService := service.NewAuthService(userRepo, profileRepo, credits, settings, mailer, oauth.NewStateStore(rdb), cfg)
	userService := service.NewUserService(userRepo, profileRepo, credits, store, cfg)
	generationService := service.NewGenerationService(templates, credits, settings, providers,
		contentRepo, imageRepo, userRepo, profileRepo, queue.NewQueue(rdb, cfg.Queue.ImageQueue), wsHub, mailer, cfg)
	documentService := service.NewDocumentService(contentRepo, imageRepo)
	imageService := service.NewImageService(imageRepo, store, cfg)
	billingService := service.NewBillingService(subRepo, paymentRepo, userRepo, profileRepo, credits, mailer, wsHub, cfg)
	registerGateways(billingService, cfg)
	adminService := service.NewAdminService(userRepo, contentRepo, imageRepo, subRepo, paymentRepo,
		credits, settings, imageService, billingService, wsHub, cfg)

	// 初始化 Router
	router := api.NewRouter(
		handler.NewAuthHandler(authService, cfg.Server.FrontendURL),
		handler.NewUserHandler(userService, credits),
		handler.NewGenerationHandler(templates, generationService),
		handler.NewDocumentHandler(documentService),
		handler.NewImageHandler(imageService),
		handler.NewBillingHandler(billingService),
		handler.NewAdminHandler(adminService),
		handler.NewModelsHandler(cfg, settings),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins),
		userRepo,
		ratelimit.NewLimiter(rdb),
		settings,
		cfg,
	)

	// worker 进度通过 Redis 转发到 WebSocket
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
			wsHub.Send(msg.UserID, ws.TypeImageProgress, msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("progress subscriber exited", zap.Error(err))
		}
	}()

	cronService := cron.NewService(credits, billingService, imageRepo, wsHub, cfg)
	cronService.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	wsHub.CloseAll()
	cronService.Stop()
	log.Info("server exited")
}

// registerGateways 只注册已配置密钥的支付渠道
func registerGateways(billing *service.BillingService, cfg *config.Config) {
	if cfg.Billing.Stripe.SecretKey != "" {
		billing.RegisterGateway(stripe.NewGateway(cfg.Billing.Stripe, nil))
		zap.L().Info("payment gateway enabled", zap.String("provider", stripe.Name))
	}
	if cfg.Billing.Paddle.APIKey != "" {
		billing.RegisterGateway(paddle.NewGateway(cfg.Billing.Paddle))
		zap.L().Info("payment gateway enabled", zap.String("provider", paddle.Name))
	}
	if cfg.Billing.Fatora.APIKey != "" {
		billing.RegisterGateway(fatora.NewGateway(cfg.Billing.Fatora))
		zap.L().Info("payment gateway enabled", zap.String("provider", fatora.Name))
	}
}
