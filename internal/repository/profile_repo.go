package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
)

type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile 获取用户资料，不存在时返回空资料（不落库）
func (r *ProfileRepository) GetProfile(userID int64) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := r.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UserProfile{UserID: userID, Language: "zh", Timezone: "UTC"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile 新建或更新资料
func (r *ProfileRepository) SaveProfile(profile *model.UserProfile) error {
	return r.db.Save(profile).Error
}

// GetNotificationSetting 获取通知设置，不存在时返回默认值
func (r *ProfileRepository) GetNotificationSetting(userID int64) (*model.NotificationSetting, error) {
	var setting model.NotificationSetting
	err := r.db.Where("user_id = ?", userID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DefaultNotificationSetting(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *ProfileRepository) SaveNotificationSetting(setting *model.NotificationSetting) error {
	return r.db.Save(setting).Error
}

// CreateDefaults 为新用户创建资料和通知设置
func (r *ProfileRepository) CreateDefaults(userID int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model.UserProfile{UserID: userID, Language: "zh", Timezone: "UTC"}).Error; err != nil {
			return err
		}
		return tx.Create(model.DefaultNotificationSetting(userID)).Error
	})
}
