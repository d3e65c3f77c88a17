package model

import (
	"time"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

type Payment struct {
	ID                     int64      `gorm:"primaryKey" json:"id"`
	UserID                 int64      `gorm:"not null;index" json:"user_id"`
	Provider               string     `gorm:"size:20;not null;index" json:"provider"`
	ProviderPaymentID      string     `gorm:"size:100;not null;uniqueIndex" json:"provider_payment_id"`
	ProviderSubscriptionID string     `gorm:"size:100;index" json:"provider_subscription_id,omitempty"`
	Plan                   string     `gorm:"size:20" json:"plan"`
	Interval               string     `gorm:"size:10" json:"interval,omitempty"`
	Amount                 float64    `gorm:"type:decimal(10,2)" json:"amount"`
	Currency               string     `gorm:"size:10" json:"currency"`
	Status                 string     `gorm:"size:20;not null;index" json:"status"`
	InvoiceURL             string     `gorm:"size:500" json:"invoice_url,omitempty"`
	PaidAt                 *time.Time `gorm:"index" json:"paid_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// WebhookEvent 已处理的回调事件，用于去重
type WebhookEvent struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Provider    string    `gorm:"size:20;not null;uniqueIndex:idx_provider_event" json:"provider"`
	EventID     string    `gorm:"size:150;not null;uniqueIndex:idx_provider_event" json:"event_id"`
	Type        string    `gorm:"size:100" json:"type"`
	ProcessedAt time.Time `json:"processed_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
