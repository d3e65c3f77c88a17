package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/pubsub"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
)

const (
	// 排队或处理超过该时长的图片任务视为丢失
	StaleImageAfter = 30 * time.Minute
	staleMessage    = "图片生成超时，积分已退回"

	defaultInterval = time.Hour
)

type Service struct {
	credits   *service.CreditService
	billing   *service.BillingService
	imageRepo *repository.ImageRepository
	notifier  service.Notifier

	uploadTempDir string
	expireHours   int
	interval      time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService notifier 可以为 nil
func NewService(
	credits *service.CreditService,
	billing *service.BillingService,
	imageRepo *repository.ImageRepository,
	notifier service.Notifier,
	cfg *config.Config,
) *Service {
	return &Service{
		credits:       credits,
		billing:       billing,
		imageRepo:     imageRepo,
		notifier:      notifier,
		uploadTempDir: cfg.Upload.TempDir,
		expireHours:   cfg.Upload.ExpireHours,
		interval:      defaultInterval,
		stopChan:      make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(1)
	go s.loop()
	zap.L().Info("cron service started", zap.Duration("interval", s.interval))
}

// Stop 停止定时任务并等待当前一轮结束，可重复调用
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	zap.L().Info("cron service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if err := s.RunNow(ctx); err != nil {
				zap.L().Error("cron run failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// RunNow 立即执行全部任务，单个任务失败不影响其他任务
func (s *Service) RunNow(ctx context.Context) error {
	var errs []error

	if s.credits != nil {
		rolled, err := s.credits.RollExpired()
		if err != nil {
			errs = append(errs, err)
		}
		if rolled > 0 {
			zap.L().Info("credit periods rolled", zap.Int("accounts", rolled))
		}
	}

	if s.billing != nil {
		users, err := s.billing.ExpireLapsed(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if users > 0 {
			zap.L().Info("lapsed subscriptions expired", zap.Int("users", users))
		}
	}

	if s.imageRepo != nil {
		failed, err := s.FailStaleImages(time.Now().Add(-StaleImageAfter))
		if err != nil {
			errs = append(errs, err)
		}
		if failed > 0 {
			zap.L().Warn("stale image jobs failed", zap.Int("count", failed))
		}

		removed, err := s.CleanupLocalImages()
		if err != nil {
			errs = append(errs, err)
		}
		if removed > 0 {
			zap.L().Info("local image files removed", zap.Int("count", removed))
		}
	}

	return errors.Join(errs...)
}

// FailStaleImages 把长时间未完成的任务标记为失败并退还积分
func (s *Service) FailStaleImages(before time.Time) (int, error) {
	images, err := s.imageRepo.ListStale(before)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, img := range images {
		if err := s.imageRepo.UpdateFields(img.ID, map[string]interface{}{
			"status":        model.ImageFailed,
			"error_message": staleMessage,
			"completed_at":  time.Now(),
		}); err != nil {
			zap.L().Error("mark stale image failed", zap.Int64("image_id", img.ID), zap.Error(err))
			continue
		}
		failed++

		if s.credits != nil && img.CreditsUsed > 0 {
			if err := s.credits.Refund(img.UserID, img.CreditsUsed); err != nil {
				zap.L().Error("refund stale image", zap.Int64("image_id", img.ID), zap.Error(err))
			}
		}
		if s.notifier != nil {
			s.notifier.Send(img.UserID, ws.TypeImageProgress, pubsub.Failed(img.UserID, img.ID, model.ImageFailed, staleMessage))
		}
	}
	return failed, nil
}

// CleanupLocalImages 删除已迁移到 OSS 或记录已删除的本地图片文件
func (s *Service) CleanupLocalImages() (int, error) {
	paths, err := s.OrphanLocalImages()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			zap.L().Warn("remove local image", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// OrphanLocalImages 超过保留时长且不再被任何记录引用的本地图片
func (s *Service) OrphanLocalImages() ([]string, error) {
	if s.uploadTempDir == "" {
		return nil, nil
	}

	dir := filepath.Join(s.uploadTempDir, "images")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	expireHours := s.expireHours
	if expireHours <= 0 {
		expireHours = 1
	}
	cutoff := time.Now().Add(-time.Duration(expireHours) * time.Hour)

	candidates := make(map[int64]string)
	var ids []int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".png") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".png"), 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		candidates[id] = filepath.Join(dir, name)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stillLocal, err := s.imageRepo.StillLocalIDs(ids)
	if err != nil {
		return nil, err
	}
	for _, id := range stillLocal {
		delete(candidates, id)
	}

	paths := make([]string, 0, len(candidates))
	for _, path := range candidates {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}
