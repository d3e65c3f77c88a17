package model

import (
	"time"
)

// Credit 用户积分账户，按计费周期滚动
type Credit struct {
	ID          int64     `gorm:"primaryKey" json:"-"`
	UserID      int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Plan        string    `gorm:"size:20;default:free" json:"plan"`
	Total       int       `gorm:"not null;default:0" json:"total"`
	Used        int       `gorm:"not null;default:0" json:"used"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `gorm:"index" json:"period_end"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Credit) TableName() string {
	return "credits"
}

func (c *Credit) Remaining() int {
	if c.Used >= c.Total {
		return 0
	}
	return c.Total - c.Used
}
