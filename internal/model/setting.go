package model

import (
	"time"
)

// Setting 后台可配置的键值项
type Setting struct {
	Key       string    `gorm:"column:setting_key;primaryKey;size:64" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedBy int64     `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&UserProfile{},
		&NotificationSetting{},
		&Credit{},
		&Subscription{},
		&Payment{},
		&WebhookEvent{},
		&GeneratedContent{},
		&GeneratedImage{},
		&Setting{},
	}
}
