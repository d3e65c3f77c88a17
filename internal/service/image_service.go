package service

import (
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrImageNotFound   = errors.New("图片不存在")
	ErrImagePermission = errors.New("无权操作此图片")
	ErrImageNotReady   = errors.New("图片尚未生成完成")
)

type ImageService struct {
	imageRepo *repository.ImageRepository
	store     ObjectStore
	cfg       *config.Config
}

// NewImageService store 为空时图片只保存在本地
func NewImageService(imageRepo *repository.ImageRepository, store ObjectStore, cfg *config.Config) *ImageService {
	return &ImageService{
		imageRepo: imageRepo,
		store:     store,
		cfg:       cfg,
	}
}

// List 分页查询当前用户的图片任务
func (s *ImageService) List(userID int64, q *dto.ImageListQuery) ([]*dto.ImageItem, int64, error) {
	q.Normalize()

	images, total, err := s.imageRepo.List(repository.ImageFilter{
		UserID: userID,
		Status: q.Status,
	}, q.Page, q.PageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.ImageItem, len(images))
	for i, img := range images {
		items[i] = toImageItem(img)
	}
	return items, total, nil
}

func (s *ImageService) Get(userID, id int64) (*dto.ImageItem, error) {
	image, err := s.owned(userID, id)
	if err != nil {
		return nil, err
	}
	return toImageItem(image), nil
}

// LocalFile 返回本地存储图片的文件路径
func (s *ImageService) LocalFile(userID, id int64) (string, error) {
	image, err := s.owned(userID, id)
	if err != nil {
		return "", err
	}
	if image.Status != model.ImageCompleted || !image.IsLocal() {
		return "", ErrImageNotReady
	}
	return model.LocalImagePath(s.cfg.Upload.TempDir, image.ID), nil
}

// Delete 删除图片记录及其文件，文件删除失败只记录日志；排队或生成中的任务不能删除
func (s *ImageService) Delete(userID, id int64) error {
	image, err := s.owned(userID, id)
	if err != nil {
		return err
	}
	return s.remove(image)
}

// Remove 管理员删除
func (s *ImageService) Remove(id int64) error {
	image, err := s.imageRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrImageNotFound
		}
		return err
	}
	return s.remove(image)
}

func (s *ImageService) remove(image *model.GeneratedImage) error {
	if image.Status == model.ImageQueued || image.Status == model.ImageProcessing {
		return ErrImageNotReady
	}
	if err := s.imageRepo.Delete(image.ID); err != nil {
		return err
	}

	switch {
	case image.ImageURL == "":
	case image.IsLocal():
		path := model.LocalImagePath(s.cfg.Upload.TempDir, image.ID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("remove local image", zap.String("path", path), zap.Error(err))
		}
	case s.store != nil:
		if err := s.store.DeleteByURL(image.ImageURL); err != nil {
			zap.L().Warn("delete image object",
				zap.Int64("image_id", image.ID),
				zap.String("url", image.ImageURL),
				zap.Error(err))
		}
	}
	return nil
}

func (s *ImageService) owned(userID, id int64) (*model.GeneratedImage, error) {
	image, err := s.imageRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	if image.UserID != userID {
		return nil, ErrImagePermission
	}
	return image, nil
}

// toImageItem 本地图片改为通过接口访问
func toImageItem(img *model.GeneratedImage) *dto.ImageItem {
	item := &dto.ImageItem{
		ID:           img.ID,
		TemplateID:   img.TemplateID,
		Prompt:       img.Prompt,
		Size:         img.Size,
		Style:        img.Style,
		ModelName:    img.ModelName,
		Status:       img.Status,
		ImageURL:     img.PublicURL(),
		ErrorMessage: img.ErrorMessage,
		CreditsUsed:  img.CreditsUsed,
		Flagged:      img.Flagged,
		FlagReason:   img.FlagReason,
		CreatedAt:    img.CreatedAt.Format(time.RFC3339),
	}
	if img.CompletedAt != nil {
		item.CompletedAt = img.CompletedAt.Format(time.RFC3339)
	}
	return item
}
