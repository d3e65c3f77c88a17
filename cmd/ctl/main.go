// ctl 运维命令行：迁移数据库、设置管理员、补发积分、同步订阅、执行清理
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/database"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/logger"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
)

// app 命令执行所需的依赖
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	users   *repository.UserRepository
	subs    *repository.SubscriptionRepository
	images  *repository.ImageRepository
	credits *service.CreditService
	billing *service.BillingService
}

func newApp(cfg *config.Config, db *gorm.DB) *app {
	users := repository.NewUserRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	credits := service.NewCreditService(repository.NewCreditRepository(db), cfg)
	billing := service.NewBillingService(
		subs,
		repository.NewPaymentRepository(db),
		users,
		repository.NewProfileRepository(db),
		credits,
		email.NewService(&cfg.Email),
		ws.NewHub(),
		cfg,
	)
	return &app{
		cfg:     cfg,
		db:      db,
		users:   users,
		subs:    subs,
		images:  repository.NewImageRepository(db),
		credits: credits,
		billing: billing,
	}
}

// openFromConfig 读取配置并连接数据库
func openFromConfig(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := logger.New(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return newApp(cfg, db), nil
}

func main() {
	root := newRootCmd(openFromConfig)
	if err := root.Execute(); err != nil {
		zap.L().Sync()
		os.Exit(1)
	}
}
