package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/database"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/logger"
	"github.com/qs3c/aigc_server/internal/pkg/oss"
	"github.com/qs3c/aigc_server/internal/pkg/pubsub"
	"github.com/qs3c/aigc_server/internal/pkg/queue"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
	"github.com/qs3c/aigc_server/internal/worker"
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
	log.Info("database connected", zap.String("driver", cfg.Database.Driver))

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	if cfg.Image.APIKey == "" {
		log.Fatal("image.api_key is not configured")
	}
	generator := llm.NewOpenAIImageGenerator(cfg.Image.APIKey, cfg.Image.BaseURL, 0)

	// OSS 可选，未配置时图片保存在本地
	var uploader worker.ImageUploader
	var ossClient *oss.Client
	if oss.Configured(&cfg.OSS) {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Warn("oss init failed, images will be stored locally", zap.Error(err))
		} else {
			uploader = ossClient
			log.Info("oss client initialized")
		}
	} else {
		log.Info("oss not configured, images will be stored locally", zap.String("dir", cfg.Upload.TempDir))
	}

	imageRepo := repository.NewImageRepository(db)
	credits := service.NewCreditService(repository.NewCreditRepository(db), cfg)
	publisher := pubsub.NewPublisher(rdb)

	processor := worker.NewProcessor(imageRepo, credits, generator, uploader, publisher, cfg)
	pool := worker.NewPool(queue.NewQueue(rdb, cfg.Queue.ImageQueue), processor, cfg.Queue.MaxWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ossClient != nil {
		go worker.NewReuploader(imageRepo, ossClient, cfg).Start(ctx)
	}

	log.Info("worker started",
		zap.String("queue", cfg.Queue.ImageQueue),
		zap.Int("workers", cfg.Queue.MaxWorkers))

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	<-ctx.Done()
	log.Info("shutting down worker, waiting for running jobs")

	select {
	case err := <-done:
		if err != nil {
			log.Error("worker pool exited with error", zap.Error(err))
		}
	case <-time.After(6 * time.Minute):
		log.Warn("worker shutdown timed out")
	}
	log.Info("worker exited")
}
