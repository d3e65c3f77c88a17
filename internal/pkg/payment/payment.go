package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotConfigured    = errors.New("payment provider not configured")
	ErrUnsupported      = errors.New("operation not supported by provider")
)

// 统一后的订阅状态
const (
	StatusActive     = "active"
	StatusTrialing   = "trialing"
	StatusPastDue    = "past_due"
	StatusPaused     = "paused"
	StatusCanceled   = "canceled"
	StatusIncomplete = "incomplete"
	StatusExpired    = "expired"
)

// 支付状态
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// CheckoutRequest 创建支付会话
type CheckoutRequest struct {
	UserID     int64
	Email      string
	Plan       string
	Interval   string
	PriceID    string
	Amount     float64
	Currency   string
	OrderID    string
	CustomerID string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession 支付会话
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionUpdate 各渠道订阅数据统一后的结构
type SubscriptionUpdate struct {
	ProviderSubscriptionID string
	ProviderCustomerID     string
	UserID                 int64
	Plan                   string
	PriceID                string
	Interval               string
	Status                 string
	RawStatus              string
	Amount                 float64
	Currency               string
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
}

// PaymentUpdate 各渠道付款数据统一后的结构
type PaymentUpdate struct {
	ProviderPaymentID      string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	UserID                 int64
	Plan                   string
	Interval               string
	Amount                 float64
	Currency               string
	Status                 string
	InvoiceURL             string
	PaidAt                 *time.Time
}

// Event 解析后的 webhook 事件，Subscription/Payment 可能为空
type Event struct {
	ID           string
	Type         string
	Subscription *SubscriptionUpdate
	Payment      *PaymentUpdate
}

// Gateway 所有支付渠道的公共能力
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ParseWebhook(payload []byte, header http.Header) (*Event, error)
}

// SubscriptionManager 支持远程订阅查询和取消的渠道（Stripe、Paddle）
type SubscriptionManager interface {
	GetSubscription(ctx context.Context, id string) (*SubscriptionUpdate, error)
	CancelSubscription(ctx context.Context, id string) (*SubscriptionUpdate, error)
}

// HMACHex 计算 HMAC-SHA256 十六进制签名
func HMACHex(secret string, parts ...[]byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC 常量时间比较签名
func VerifyHMAC(secret, signature string, parts ...[]byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := HMACHex(secret, parts...)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseUserID 从 metadata 中解析用户 ID
func ParseUserID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
