package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
)

type ImageRepository struct {
	db *gorm.DB
}

func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// ImageFilter 图片列表过滤条件，UserID 为 0 时不按用户过滤
type ImageFilter struct {
	UserID  int64
	Status  string
	Search  string
	Flagged *bool
}

func (r *ImageRepository) Create(image *model.GeneratedImage) error {
	return r.db.Create(image).Error
}

func (r *ImageRepository) GetByID(id int64) (*model.GeneratedImage, error) {
	var image model.GeneratedImage
	if err := r.db.First(&image, id).Error; err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *ImageRepository) Update(image *model.GeneratedImage) error {
	return r.db.Save(image).Error
}

func (r *ImageRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.GeneratedImage{}).Where("id = ?", id).Updates(fields).Error
}

func (r *ImageRepository) Delete(id int64) error {
	return r.db.Delete(&model.GeneratedImage{}, id).Error
}

func (r *ImageRepository) List(filter ImageFilter, page, pageSize int) ([]*model.GeneratedImage, int64, error) {
	query := r.db.Model(&model.GeneratedImage{})
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		query = query.Where("prompt LIKE ? ESCAPE '!'", containsPattern(filter.Search))
	}
	if filter.Flagged != nil {
		query = query.Where("flagged = ?", *filter.Flagged)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var images []*model.GeneratedImage
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&images).Error
	return images, total, err
}

// CountPending 用户排队中或处理中的任务数
func (r *ImageRepository) CountPending(userID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.GeneratedImage{}).
		Where("user_id = ? AND status IN ?", userID, []string{model.ImageQueued, model.ImageProcessing}).
		Count(&count).Error
	return count, err
}

func (r *ImageRepository) CountByUser(userID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.GeneratedImage{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *ImageRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.GeneratedImage{}).Count(&count).Error
	return count, err
}

// ListLocal 仍保存在本地磁盘的已完成图片
func (r *ImageRepository) ListLocal(limit int) ([]*model.GeneratedImage, error) {
	var images []*model.GeneratedImage
	err := r.db.Where("status = ? AND image_url LIKE ?", model.ImageCompleted, model.LocalURLPrefix+"%").
		Order("id ASC").
		Limit(limit).
		Find(&images).Error
	return images, err
}

// ListStale 长时间未结束的任务
func (r *ImageRepository) ListStale(before time.Time) ([]*model.GeneratedImage, error) {
	var images []*model.GeneratedImage
	err := r.db.Where("status IN ? AND updated_at < ?", []string{model.ImageQueued, model.ImageProcessing}, before).
		Find(&images).Error
	return images, err
}

// StillLocalIDs 返回 ids 中仍引用本地文件的图片 ID
func (r *ImageRepository) StillLocalIDs(ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var local []int64
	err := r.db.Model(&model.GeneratedImage{}).
		Where("id IN ? AND image_url LIKE ?", ids, model.LocalURLPrefix+"%").
		Pluck("id", &local).Error
	return local, err
}

// Points 图片生成时间点，失败任务不计入
func (r *ImageRepository) Points(from, to time.Time, column string) ([]analytics.Point, error) {
	query := r.db.Model(&model.GeneratedImage{}).Where("status <> ?", model.ImageFailed)
	return timePoints(query, from, to, column)
}
