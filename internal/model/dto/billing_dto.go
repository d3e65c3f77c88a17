package dto

import "github.com/qs3c/aigc_server/internal/model"

// PlanInfo 套餐信息
type PlanInfo struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	Rank           int      `json:"rank"`
	MonthlyCredits int      `json:"monthly_credits"`
	PriceMonthly   float64  `json:"price_monthly"`
	PriceYearly    float64  `json:"price_yearly"`
	Currency       string   `json:"currency"`
	Features       []string `json:"features"`
	Providers      []string `json:"providers"`
}

// CheckoutRequest 创建支付请求
type CheckoutRequest struct {
	Plan     string `json:"plan" binding:"required,max=20"`
	Provider string `json:"provider" binding:"required,oneof=stripe paddle fatora"`
	Interval string `json:"interval,omitempty" binding:"omitempty,oneof=month year"`
}

// CheckoutResponse 支付跳转信息
type CheckoutResponse struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
	OrderID  string `json:"order_id,omitempty"`
}

// VerifyPaymentRequest Fatora 支付回跳校验
type VerifyPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required,max=100"`
}

// BillingStatus 当前有效订阅
type BillingStatus struct {
	Plan              string                `json:"plan"`
	Status            string                `json:"status"`
	Provider          string                `json:"provider,omitempty"`
	Interval          string                `json:"interval,omitempty"`
	CurrentPeriodEnd  string                `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                  `json:"cancel_at_period_end"`
	Credits           *CreditInfo           `json:"credits,omitempty"`
	Subscriptions     []*model.Subscription `json:"subscriptions"`
}

// PortalResponse 账单管理页
type PortalResponse struct {
	URL string `json:"url"`
}

// PageQuery 通用分页参数
type PageQuery struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}

func (q *PageQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
}
