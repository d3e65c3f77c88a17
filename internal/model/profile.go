package model

import (
	"time"
)

type UserProfile struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	FullName  string    `gorm:"size:100" json:"full_name"`
	Company   string    `gorm:"size:100" json:"company"`
	Website   string    `gorm:"size:255" json:"website"`
	Bio       string    `gorm:"type:text" json:"bio"`
	Language  string    `gorm:"size:20;default:zh" json:"language"`
	Timezone  string    `gorm:"size:50;default:UTC" json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

type NotificationSetting struct {
	ID                int64     `gorm:"primaryKey" json:"-"`
	UserID            int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	EmailOnGeneration bool      `gorm:"default:false" json:"email_on_generation"`
	EmailOnBilling    bool      `json:"email_on_billing"`
	ProductUpdates    bool      `json:"product_updates"`
	WeeklyDigest      bool      `gorm:"default:false" json:"weekly_digest"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (NotificationSetting) TableName() string {
	return "notification_settings"
}

// DefaultNotificationSetting 新用户的默认通知设置
func DefaultNotificationSetting(userID int64) *NotificationSetting {
	return &NotificationSetting{
		UserID:            userID,
		EmailOnGeneration: false,
		EmailOnBilling:    true,
		ProductUpdates:    true,
		WeeklyDigest:      false,
	}
}
