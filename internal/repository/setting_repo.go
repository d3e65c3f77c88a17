package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/aigc_server/internal/model"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// All 返回全部已保存的设置
func (r *SettingRepository) All() (map[string]string, error) {
	var settings []model.Setting
	if err := r.db.Find(&settings).Error; err != nil {
		return nil, err
	}
	result := make(map[string]string, len(settings))
	for _, s := range settings {
		result[s.Key] = s.Value
	}
	return result, nil
}

// Upsert 在一个事务中写入多个设置
func (r *SettingRepository) Upsert(values map[string]string, updatedBy int64) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]model.Setting, 0, len(values))
	for k, v := range values {
		rows = append(rows, model.Setting{Key: k, Value: v, UpdatedBy: updatedBy, UpdatedAt: now})
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&rows).Error
}
