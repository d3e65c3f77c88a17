package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
)

type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) Create(credit *model.Credit) error {
	return r.db.Create(credit).Error
}

func (r *CreditRepository) GetByUserID(userID int64) (*model.Credit, error) {
	var credit model.Credit
	if err := r.db.Where("user_id = ?", userID).First(&credit).Error; err != nil {
		return nil, err
	}
	return &credit, nil
}

func (r *CreditRepository) Save(credit *model.Credit) error {
	return r.db.Save(credit).Error
}

// Reserve 原子扣减，余额不足时返回 false
func (r *CreditRepository) Reserve(userID int64, amount int) (bool, error) {
	result := r.db.Model(&model.Credit{}).
		Where("user_id = ? AND used + ? <= total", userID, amount).
		Update("used", gorm.Expr("used + ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Refund 退还积分，used 不会小于 0
func (r *CreditRepository) Refund(userID int64, amount int) error {
	return r.db.Model(&model.Credit{}).Where("user_id = ?", userID).
		Update("used", gorm.Expr("CASE WHEN used > ? THEN used - ? ELSE 0 END", amount, amount)).Error
}

// Grant 增加额度
func (r *CreditRepository) Grant(userID int64, amount int) error {
	return r.db.Model(&model.Credit{}).Where("user_id = ?", userID).
		Update("total", gorm.Expr("total + ?", amount)).Error
}

// ListPeriodEnded 计费周期已结束的账户
func (r *CreditRepository) ListPeriodEnded(now time.Time, limit int) ([]*model.Credit, error) {
	var credits []*model.Credit
	err := r.db.Where("period_end <= ?", now).
		Order("period_end ASC").
		Limit(limit).
		Find(&credits).Error
	return credits, err
}
