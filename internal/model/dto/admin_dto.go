package dto

import "github.com/qs3c/aigc_server/internal/pkg/analytics"

// AnalyticsQuery 统计查询
type AnalyticsQuery struct {
	Range       string `form:"range,default=30d" binding:"omitempty,oneof=7d 30d 90d 12m"`
	Granularity string `form:"granularity" binding:"omitempty,oneof=day week month"`
	From        string `form:"from"`
	To          string `form:"to"`
}

// Overview 后台概览
type Overview struct {
	Users            int64            `json:"users"`
	VerifiedUsers    int64            `json:"verified_users"`
	PayingUsers      int64            `json:"paying_users"`
	Documents        int64            `json:"documents"`
	Images           int64            `json:"images"`
	RevenueThisMonth float64          `json:"revenue_this_month"`
	MRR              float64          `json:"mrr"`
	ByProvider       map[string]int64 `json:"subscriptions_by_provider"`
}

// AdminUserQuery 用户列表查询
type AdminUserQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Search   string `form:"search"`
	Role     string `form:"role"`
	Status   string `form:"status"`
	Plan     string `form:"plan"`
}

func (q *AdminUserQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
}

// AdminUserItem 用户列表项
type AdminUserItem struct {
	*UserInfo
	LastLoginAt string `json:"last_login_at,omitempty"`
	Documents   int64  `json:"documents"`
}

// AdminUpdateUserRequest 修改用户角色或状态
type AdminUpdateUserRequest struct {
	Role   *string `json:"role,omitempty" binding:"omitempty,oneof=user admin"`
	Status *string `json:"status,omitempty" binding:"omitempty,oneof=active banned"`
}

// GrantCreditsRequest 赠送积分
type GrantCreditsRequest struct {
	Amount int    `json:"amount" binding:"required,min=1,max=1000000"`
	Reason string `json:"reason,omitempty" binding:"omitempty,max=255"`
}

// ModerationQuery 内容审核列表查询
type ModerationQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Search   string `form:"search"`
	UserID   int64  `form:"user_id"`
	Flagged  *bool  `form:"flagged"`
}

func (q *ModerationQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
}

// FlagRequest 标记违规
type FlagRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// AdminSubscriptionQuery 订阅列表查询
type AdminSubscriptionQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Provider string `form:"provider"`
	Status   string `form:"status"`
	Plan     string `form:"plan"`
	Search   string `form:"search"`
}

func (q *AdminSubscriptionQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
}

// AdminPaymentQuery 支付记录查询
type AdminPaymentQuery struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Provider string `form:"provider"`
	Status   string `form:"status"`
}

func (q *AdminPaymentQuery) Normalize() {
	q.Page, q.PageSize = normalizePage(q.Page, q.PageSize)
}

// AnalyticsResponse 统计序列
type AnalyticsResponse struct {
	From        string             `json:"from"`
	To          string             `json:"to"`
	Granularity string             `json:"granularity"`
	Timezone    string             `json:"timezone"`
	Series      []analytics.Series `json:"series"`
}

// ModerationDocument 审核列表中的文档
type ModerationDocument struct {
	*DocumentListItem
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	FlagReason string `json:"flag_reason,omitempty"`
}

// ModerationImage 审核列表中的图片
type ModerationImage struct {
	*ImageItem
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
