package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// SubscriptionFilter 后台订阅列表过滤条件
type SubscriptionFilter struct {
	Provider string
	Status   string
	Plan     string
	UserIDs  []int64
}

func (r *SubscriptionRepository) GetByID(id int64) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByProviderID 按渠道订阅号查询，不存在时返回 nil, nil
func (r *SubscriptionRepository) GetByProviderID(provider, providerSubID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) ListByUser(userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("user_id = ?", userID).Order("current_period_end DESC, id DESC").Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) Save(sub *model.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *SubscriptionRepository) List(filter SubscriptionFilter, page, pageSize int) ([]*model.Subscription, int64, error) {
	query := r.db.Model(&model.Subscription{})
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Plan != "" {
		query = query.Where("plan = ?", filter.Plan)
	}
	if filter.UserIDs != nil {
		if len(filter.UserIDs) == 0 {
			return []*model.Subscription{}, 0, nil
		}
		query = query.Where("user_id IN ?", filter.UserIDs)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var subs []*model.Subscription
	err := query.Order("updated_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&subs).Error
	return subs, total, err
}

// ListLapsed 周期结束超过宽限期仍未过期的订阅
func (r *SubscriptionRepository) ListLapsed(cutoff time.Time) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("status <> ? AND current_period_end < ?", model.SubStatusExpired, cutoff).
		Find(&subs).Error
	return subs, err
}

// ListEntitled 在 now 时刻仍享有权益的订阅，判断规则与 Subscription.Entitled 一致
func (r *SubscriptionRepository) ListEntitled(now time.Time, grace time.Duration) ([]*model.Subscription, error) {
	var candidates []*model.Subscription
	err := r.db.Where("status IN ? AND (current_period_end > ? OR current_period_end <= ?)",
		[]string{model.SubStatusActive, model.SubStatusTrialing, model.SubStatusPastDue, model.SubStatusCanceled},
		now.Add(-grace), time.Time{}).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	subs := candidates[:0]
	for _, sub := range candidates {
		if sub.Entitled(now, grace) {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// LatestCustomerID 用户在某渠道最近使用的客户号
func (r *SubscriptionRepository) LatestCustomerID(userID int64, provider string) (string, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ? AND provider = ? AND provider_customer_id <> ''", userID, provider).
		Order("updated_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sub.ProviderCustomerID, nil
}
