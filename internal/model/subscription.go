package model

import (
	"time"
)

const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
	ProviderFatora = "fatora"
)

// 订阅状态（各支付渠道统一后的取值）
const (
	SubStatusActive     = "active"
	SubStatusTrialing   = "trialing"
	SubStatusPastDue    = "past_due"
	SubStatusPaused     = "paused"
	SubStatusCanceled   = "canceled"
	SubStatusIncomplete = "incomplete"
	SubStatusExpired    = "expired"
)

type Subscription struct {
	ID                     int64      `gorm:"primaryKey" json:"id"`
	UserID                 int64      `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"size:20;not null;uniqueIndex:idx_provider_sub" json:"provider"`
	ProviderSubscriptionID string     `gorm:"size:100;not null;uniqueIndex:idx_provider_sub" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"size:100" json:"provider_customer_id,omitempty"`
	Plan                   string     `gorm:"size:20;not null" json:"plan"`
	Interval               string     `gorm:"size:10;default:month" json:"interval"` // month, year
	Status                 string     `gorm:"size:20;not null;index" json:"status"`
	RawStatus              string     `gorm:"size:40" json:"raw_status,omitempty"`
	Amount                 float64    `gorm:"type:decimal(10,2)" json:"amount"`
	Currency               string     `gorm:"size:10" json:"currency"`
	CurrentPeriodStart     time.Time  `json:"current_period_start"`
	CurrentPeriodEnd       time.Time  `gorm:"index" json:"current_period_end"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt             *time.Time `json:"canceled_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Entitled 判断订阅在 now 时刻是否仍享有权益
func (s *Subscription) Entitled(now time.Time, grace time.Duration) bool {
	switch s.Status {
	case SubStatusActive, SubStatusTrialing:
		return s.CurrentPeriodEnd.IsZero() || now.Before(s.CurrentPeriodEnd.Add(grace))
	case SubStatusPastDue:
		return now.Before(s.CurrentPeriodEnd.Add(grace))
	case SubStatusCanceled:
		return s.CancelAtPeriodEnd && now.Before(s.CurrentPeriodEnd.Add(grace))
	default:
		return false
	}
}
