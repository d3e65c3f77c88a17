package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/pubsub"
	"github.com/qs3c/aigc_server/internal/pkg/queue"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
)

// 返回给用户的失败原因，上游错误细节只写日志
const failedMessage = "图片生成失败，积分已退回"

// ImageUploader 图片上传，oss.Client 实现了该接口
type ImageUploader interface {
	UploadImage(userID int64, data []byte) (string, error)
}

// Processor 图片任务处理器
type Processor struct {
	imageRepo *repository.ImageRepository
	credits   *service.CreditService
	generator llm.ImageGenerator
	uploader  ImageUploader
	publisher *pubsub.Publisher
	cfg       *config.Config
}

// NewProcessor 创建任务处理器，uploader 为 nil 时图片保存到本地
func NewProcessor(
	imageRepo *repository.ImageRepository,
	credits *service.CreditService,
	generator llm.ImageGenerator,
	uploader ImageUploader,
	publisher *pubsub.Publisher,
	cfg *config.Config,
) *Processor {
	return &Processor{
		imageRepo: imageRepo,
		credits:   credits,
		generator: generator,
		uploader:  uploader,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Process 处理一个图片生成任务
func (p *Processor) Process(ctx context.Context, job *queue.ImageJob) error {
	image, err := p.imageRepo.GetByID(job.ImageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("image job dropped, record deleted", zap.Int64("image_id", job.ImageID))
			return nil
		}
		return fmt.Errorf("failed to get image: %w", err)
	}
	// 已被超时清理或重复投递
	if image.Status != model.ImageQueued {
		zap.L().Warn("image job skipped",
			zap.Int64("image_id", image.ID),
			zap.String("status", image.Status))
		return nil
	}

	log := zap.L().With(zap.Int64("image_id", image.ID), zap.Int64("user_id", image.UserID))

	startedAt := time.Now()
	if err := p.imageRepo.UpdateFields(image.ID, map[string]interface{}{
		"status":     model.ImageProcessing,
		"started_at": startedAt,
	}); err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}

	publish := func(msg *pubsub.ProgressMessage) {
		if p.publisher == nil {
			return
		}
		if err := p.publisher.Publish(ctx, msg); err != nil {
			log.Warn("publish progress failed", zap.String("step", msg.Step), zap.Error(err))
		}
	}
	progress := func(step string) {
		publish(pubsub.Progress(image.UserID, image.ID, step, model.ImageProcessing))
	}

	fail := func(step string, cause error) error {
		log.Error("image job failed", zap.String("step", step), zap.Error(cause))
		if err := p.imageRepo.UpdateFields(image.ID, map[string]interface{}{
			"status":        model.ImageFailed,
			"error_message": failedMessage,
			"completed_at":  time.Now(),
		}); err != nil {
			log.Error("mark image failed", zap.Error(err))
		}
		if image.CreditsUsed > 0 {
			if err := p.credits.Refund(image.UserID, image.CreditsUsed); err != nil {
				log.Error("refund image credits", zap.Error(err))
			}
		}
		publish(pubsub.Failed(image.UserID, image.ID, model.ImageFailed, failedMessage))
		return cause
	}

	progress(pubsub.StepGenerating)

	data, err := p.generator.Generate(ctx, llm.ImageRequest{
		Model:  job.Model,
		Prompt: image.Prompt,
		Size:   image.Size,
		Style:  image.Style,
	})
	if err != nil {
		return fail(pubsub.StepGenerating, err)
	}

	progress(pubsub.StepUploading)

	imageURL, err := p.store(image, data)
	if err != nil {
		return fail(pubsub.StepUploading, err)
	}

	completedAt := time.Now()
	if err := p.imageRepo.UpdateFields(image.ID, map[string]interface{}{
		"status":       model.ImageCompleted,
		"image_url":    imageURL,
		"completed_at": completedAt,
	}); err != nil {
		return fail(pubsub.StepUploading, fmt.Errorf("failed to save result: %w", err))
	}

	image.ImageURL = imageURL
	done := pubsub.Progress(image.UserID, image.ID, pubsub.StepDone, model.ImageCompleted)
	done.ImageURL = image.PublicURL()
	publish(done)

	log.Info("image job completed",
		zap.Duration("elapsed", completedAt.Sub(startedAt)),
		zap.Bool("local", image.IsLocal()))
	return nil
}

// store 优先上传 OSS，失败或未配置时保存到本地，由 Reuploader 稍后补传
func (p *Processor) store(image *model.GeneratedImage, data []byte) (string, error) {
	if p.uploader != nil {
		url, err := p.uploader.UploadImage(image.UserID, data)
		if err == nil {
			return url, nil
		}
		zap.L().Warn("upload image failed, saving locally", zap.Int64("image_id", image.ID), zap.Error(err))
	}

	path := model.LocalImagePath(p.cfg.Upload.TempDir, image.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create image dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save image locally: %w", err)
	}
	return model.LocalImageURL(image.ID), nil
}
