package worker

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/repository"
)

const (
	reuploadInterval = 5 * time.Minute
	reuploadBatch    = 50
)

// Reuploader 后台把本地保存的图片补传到 OSS
type Reuploader struct {
	imageRepo *repository.ImageRepository
	uploader  ImageUploader
	cfg       *config.Config
}

// NewReuploader 创建重传器
func NewReuploader(
	imageRepo *repository.ImageRepository,
	uploader ImageUploader,
	cfg *config.Config,
) *Reuploader {
	return &Reuploader{
		imageRepo: imageRepo,
		uploader:  uploader,
		cfg:       cfg,
	}
}

// Start 启动后台重传循环，ctx 取消后返回
func (r *Reuploader) Start(ctx context.Context) {
	// 启动后先执行一次
	r.Run()

	ticker := time.NewTicker(reuploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reuploader stopped")
			return
		case <-ticker.C:
			r.Run()
		}
	}
}

// Run 执行一轮补传，返回成功数量
func (r *Reuploader) Run() int {
	images, err := r.imageRepo.ListLocal(reuploadBatch)
	if err != nil {
		zap.L().Error("reuploader: query local images", zap.Error(err))
		return 0
	}
	if len(images) == 0 {
		return 0
	}

	zap.L().Info("reuploader: local images pending", zap.Int("count", len(images)))

	done := 0
	for _, img := range images {
		localPath := model.LocalImagePath(r.cfg.Upload.TempDir, img.ID)
		data, err := os.ReadFile(localPath)
		if err != nil {
			zap.L().Warn("reuploader: read local image", zap.Int64("image_id", img.ID), zap.Error(err))
			continue
		}

		url, err := r.uploader.UploadImage(img.UserID, data)
		if err != nil {
			zap.L().Warn("reuploader: upload image", zap.Int64("image_id", img.ID), zap.Error(err))
			continue
		}

		if err := r.imageRepo.UpdateFields(img.ID, map[string]interface{}{"image_url": url}); err != nil {
			zap.L().Error("reuploader: update image url", zap.Int64("image_id", img.ID), zap.Error(err))
			continue
		}

		if err := os.Remove(localPath); err != nil {
			zap.L().Warn("reuploader: remove local image", zap.Int64("image_id", img.ID), zap.Error(err))
		}
		done++
	}
	return done
}
