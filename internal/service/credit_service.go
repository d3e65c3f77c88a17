package service

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrInsufficientCredits = errors.New("积分不足")
	ErrModelDenied         = errors.New("当前套餐无法使用该模型")
	ErrPlanRequired        = errors.New("当前套餐无法使用该模板")
	ErrInvalidAmount       = errors.New("积分数量必须大于 0")
)

const (
	rollBatchSize = 200
	// 订阅周期末尾不足该时长的部分并入最后一个月
	minWindowTail = 7 * 24 * time.Hour
)

type CreditService struct {
	creditRepo *repository.CreditRepository
	cfg        *config.Config
	now        func() time.Time
}

func NewCreditService(creditRepo *repository.CreditRepository, cfg *config.Config) *CreditService {
	return &CreditService{
		creditRepo: creditRepo,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Allocation 套餐每个周期的积分
func (s *CreditService) Allocation(plan string) int {
	return s.cfg.Plan(plan).MonthlyCredits
}

// PlanAllows 用户套餐等级是否满足要求
func (s *CreditService) PlanAllows(userPlan, requiredPlan string) bool {
	if requiredPlan == "" || requiredPlan == "free" {
		return true
	}
	return s.cfg.Plan(userPlan).Rank >= s.cfg.Plan(requiredPlan).Rank
}

// CheckModelPermission 检查模型权限
func (s *CreditService) CheckModelPermission(userPlan, modelName string) error {
	m, ok := s.cfg.Model(modelName)
	if !ok {
		return ErrModelDenied
	}
	if !s.PlanAllows(userPlan, m.RequiredPlan) {
		return ErrModelDenied
	}
	return nil
}

// Ensure 账户不存在时创建，周期从现在开始一个月
func (s *CreditService) Ensure(userID int64, plan string) (*model.Credit, error) {
	credit, err := s.creditRepo.GetByUserID(userID)
	if err == nil {
		return credit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.now()
	credit = &model.Credit{
		UserID:      userID,
		Plan:        plan,
		Total:       s.Allocation(plan),
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 1, 0),
	}
	if err := s.creditRepo.Create(credit); err != nil {
		// 并发创建时读取已存在的账户
		if existing, getErr := s.creditRepo.GetByUserID(userID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return credit, nil
}

// Get 获取账户，周期结束时先滚动
func (s *CreditService) Get(userID int64) (*model.Credit, error) {
	credit, err := s.Ensure(userID, "free")
	if err != nil {
		return nil, err
	}
	if s.roll(credit) {
		if err := s.creditRepo.Save(credit); err != nil {
			return nil, err
		}
	}
	return credit, nil
}

// Info 积分信息
func (s *CreditService) Info(userID int64) (*dto.CreditInfo, error) {
	credit, err := s.Get(userID)
	if err != nil {
		return nil, err
	}
	return creditInfo(credit), nil
}

// Reserve 扣减积分，n <= 0 时不处理
func (s *CreditService) Reserve(userID int64, n int) error {
	if n <= 0 {
		return nil
	}
	// 保证账户存在且周期已滚动
	if _, err := s.Get(userID); err != nil {
		return err
	}
	ok, err := s.creditRepo.Reserve(userID, n)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientCredits
	}
	return nil
}

// Refund 退还积分
func (s *CreditService) Refund(userID int64, n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.creditRepo.Refund(userID, n); err != nil {
		zap.L().Error("refund credits failed", zap.Int64("user_id", userID), zap.Int("amount", n), zap.Error(err))
		return err
	}
	return nil
}

// Grant 后台赠送积分
func (s *CreditService) Grant(userID int64, n int) (*model.Credit, error) {
	if n <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.Get(userID); err != nil {
		return nil, err
	}
	if err := s.creditRepo.Grant(userID, n); err != nil {
		return nil, err
	}
	return s.creditRepo.GetByUserID(userID)
}

// ApplyPlan 订阅变化时更新套餐额度，积分按月发放，月窗口变化时清零已用积分
func (s *CreditService) ApplyPlan(userID int64, plan string, periodStart, periodEnd time.Time) (*model.Credit, error) {
	credit, err := s.Ensure(userID, plan)
	if err != nil {
		return nil, err
	}

	// free 套餐沿用当前周期
	if periodStart.IsZero() || periodEnd.IsZero() {
		periodStart, periodEnd = credit.PeriodStart, credit.PeriodEnd
		if !periodEnd.After(s.now()) {
			periodStart, periodEnd = advancePeriod(credit.PeriodStart, credit.PeriodEnd, s.now())
		}
	} else {
		periodStart, periodEnd = monthWindow(periodStart, periodEnd, s.now())
	}

	periodChanged := !periodStart.Equal(credit.PeriodStart) || !periodEnd.Equal(credit.PeriodEnd)
	if credit.Plan == plan && !periodChanged {
		return credit, nil
	}

	credit.Plan = plan
	credit.Total = s.Allocation(plan)
	if periodChanged {
		credit.Used = 0
		credit.PeriodStart = periodStart
		credit.PeriodEnd = periodEnd
	}
	if err := s.creditRepo.Save(credit); err != nil {
		return nil, err
	}
	return credit, nil
}

// RollExpired 滚动所有周期已结束的账户
func (s *CreditService) RollExpired() (int, error) {
	rolled := 0
	for {
		credits, err := s.creditRepo.ListPeriodEnded(s.now(), rollBatchSize)
		if err != nil {
			return rolled, err
		}
		if len(credits) == 0 {
			return rolled, nil
		}
		for _, c := range credits {
			s.roll(c)
			if err := s.creditRepo.Save(c); err != nil {
				return rolled, err
			}
			rolled++
		}
		if len(credits) < rollBatchSize {
			return rolled, nil
		}
	}
}

func (s *CreditService) roll(c *model.Credit) bool {
	now := s.now()
	if now.Before(c.PeriodEnd) {
		return false
	}
	c.PeriodStart, c.PeriodEnd = advancePeriod(c.PeriodStart, c.PeriodEnd, now)
	c.Used = 0
	c.Total = s.Allocation(c.Plan)
	return true
}

// advancePeriod 按整月向后推进，直到周期包含 now
func advancePeriod(start, end, now time.Time) (time.Time, time.Time) {
	if end.IsZero() || !end.After(start) {
		return now, now.AddDate(0, 1, 0)
	}
	for !now.Before(end) {
		start = end
		end = start.AddDate(0, 1, 0)
	}
	return start, end
}

// monthWindow 订阅周期内包含 now 的月窗口，以 periodStart 为锚点
func monthWindow(periodStart, periodEnd, now time.Time) (time.Time, time.Time) {
	if !periodEnd.After(periodStart) {
		return periodStart, periodEnd
	}
	start := periodStart
	for i := 1; ; i++ {
		end := periodStart.AddDate(0, i, 0)
		if end.Add(minWindowTail).After(periodEnd) {
			end = periodEnd
		}
		if now.Before(end) || !end.Before(periodEnd) {
			return start, end
		}
		start = end
	}
}

func creditInfo(c *model.Credit) *dto.CreditInfo {
	if c == nil {
		return nil
	}
	return &dto.CreditInfo{
		Plan:        c.Plan,
		Total:       c.Total,
		Used:        c.Used,
		Remaining:   c.Remaining(),
		PeriodStart: c.PeriodStart.Format(time.RFC3339),
		PeriodEnd:   c.PeriodEnd.Format(time.RFC3339),
	}
}
