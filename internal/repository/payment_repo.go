package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(payment *model.Payment) error {
	return r.db.Create(payment).Error
}

func (r *PaymentRepository) Save(payment *model.Payment) error {
	return r.db.Save(payment).Error
}

// GetByProviderID 按渠道支付号查询，不存在时返回 nil, nil
func (r *PaymentRepository) GetByProviderID(providerPaymentID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.Where("provider_payment_id = ?", providerPaymentID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) ListByUser(userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	return r.List(PaymentFilter{UserID: userID}, page, pageSize)
}

// PaymentFilter 支付记录过滤条件
type PaymentFilter struct {
	UserID   int64
	Provider string
	Status   string
}

func (r *PaymentRepository) List(filter PaymentFilter, page, pageSize int) ([]*model.Payment, int64, error) {
	query := r.db.Model(&model.Payment{})
	if filter.UserID > 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []*model.Payment
	err := query.Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error
	return payments, total, err
}

// RevenueBetween 时间段内已支付金额合计
func (r *PaymentRepository) RevenueBetween(from, to time.Time) (float64, error) {
	var total float64
	err := r.db.Model(&model.Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ? AND paid_at BETWEEN ? AND ?", model.PaymentPaid, from, to).
		Scan(&total).Error
	return total, err
}

// RevenuePoints 已支付金额时间点（按支付时间）
func (r *PaymentRepository) RevenuePoints(from, to time.Time) ([]analytics.Point, error) {
	var rows []struct {
		PaidAt time.Time
		Amount float64
	}
	err := r.db.Model(&model.Payment{}).
		Select("paid_at, amount").
		Where("status = ? AND paid_at BETWEEN ? AND ?", model.PaymentPaid, from, to).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	points := make([]analytics.Point, len(rows))
	for i, row := range rows {
		points[i] = analytics.Point{At: row.PaidAt, Value: row.Amount}
	}
	return points, nil
}

// MarkEventProcessed 记录回调事件，已存在时返回 false
func (r *PaymentRepository) MarkEventProcessed(provider, eventID, eventType string) (bool, error) {
	event := &model.WebhookEvent{
		Provider:    provider,
		EventID:     eventID,
		Type:        eventType,
		ProcessedAt: time.Now(),
	}
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ForgetEvent 处理失败时删除事件记录，允许渠道重试
func (r *PaymentRepository) ForgetEvent(provider, eventID string) error {
	return r.db.Where("provider = ? AND event_id = ?", provider, eventID).Delete(&model.WebhookEvent{}).Error
}
