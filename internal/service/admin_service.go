package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
)

var ErrSelfModify = errors.New("不能修改自己的角色或状态")

type AdminService struct {
	userRepo    *repository.UserRepository
	contentRepo *repository.ContentRepository
	imageRepo   *repository.ImageRepository
	subRepo     *repository.SubscriptionRepository
	paymentRepo *repository.PaymentRepository
	credits     *CreditService
	settings    *SettingsService
	images      *ImageService
	billing     *BillingService
	notifier    Notifier
	cfg         *config.Config
	loc         *time.Location
	now         func() time.Time
}

func NewAdminService(
	userRepo *repository.UserRepository,
	contentRepo *repository.ContentRepository,
	imageRepo *repository.ImageRepository,
	subRepo *repository.SubscriptionRepository,
	paymentRepo *repository.PaymentRepository,
	credits *CreditService,
	settings *SettingsService,
	images *ImageService,
	billing *BillingService,
	notifier Notifier,
	cfg *config.Config,
) *AdminService {
	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil || cfg.Analytics.Timezone == "" {
		if cfg.Analytics.Timezone != "" {
			zap.L().Warn("invalid analytics timezone, using UTC", zap.String("timezone", cfg.Analytics.Timezone))
		}
		loc = time.UTC
	}
	return &AdminService{
		userRepo:    userRepo,
		contentRepo: contentRepo,
		imageRepo:   imageRepo,
		subRepo:     subRepo,
		paymentRepo: paymentRepo,
		credits:     credits,
		settings:    settings,
		images:      images,
		billing:     billing,
		notifier:    notifier,
		cfg:         cfg,
		loc:         loc,
		now:         time.Now,
	}
}

// Analytics 按时间桶聚合注册、生成、积分和收入
func (s *AdminService) Analytics(ctx context.Context, q *dto.AnalyticsQuery) (*dto.AnalyticsResponse, error) {
	var (
		w   analytics.Window
		err error
	)
	if q.From != "" || q.To != "" {
		w, err = analytics.NewExplicitWindow(q.From, q.To, q.Granularity, s.loc)
	} else {
		w, err = analytics.NewWindow(q.Range, q.Granularity, s.now(), s.loc)
	}
	if err != nil {
		return nil, err
	}

	// 一次查询同时覆盖上一周期，用于计算环比
	from, to := w.Previous().From, w.To

	var signups, generations, images, contentCredits, imageCredits, revenue []analytics.Point
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		signups, err = s.userRepo.SignupPoints(from, to)
		return err
	})
	g.Go(func() (err error) {
		generations, err = s.contentRepo.Points(from, to, "")
		return err
	})
	g.Go(func() (err error) {
		images, err = s.imageRepo.Points(from, to, "")
		return err
	})
	g.Go(func() (err error) {
		contentCredits, err = s.contentRepo.Points(from, to, "credits_used")
		return err
	})
	g.Go(func() (err error) {
		imageCredits, err = s.imageRepo.Points(from, to, "credits_used")
		return err
	})
	g.Go(func() (err error) {
		revenue, err = s.paymentRepo.RevenuePoints(from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &dto.AnalyticsResponse{
		From:        w.From.Format(time.RFC3339),
		To:          w.To.Format(time.RFC3339),
		Granularity: string(w.Granularity),
		Timezone:    s.loc.String(),
		Series: []analytics.Series{
			analytics.Build("signups", signups, w),
			analytics.Build("generations", generations, w),
			analytics.Build("images", images, w),
			analytics.Build("credits_used", append(contentCredits, imageCredits...), w),
			analytics.Build("revenue", revenue, w),
		},
	}, nil
}

// Overview 后台首页概览
func (s *AdminService) Overview(ctx context.Context) (*dto.Overview, error) {
	now := s.now()
	local := now.In(s.loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)

	out := &dto.Overview{ByProvider: make(map[string]int64)}
	var active []*model.Subscription

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Users, err = s.userRepo.Count()
		return err
	})
	g.Go(func() (err error) {
		out.VerifiedUsers, err = s.userRepo.CountVerified()
		return err
	})
	g.Go(func() (err error) {
		out.Documents, err = s.contentRepo.Count()
		return err
	})
	g.Go(func() (err error) {
		out.Images, err = s.imageRepo.Count()
		return err
	})
	g.Go(func() (err error) {
		out.RevenueThisMonth, err = s.paymentRepo.RevenueBetween(monthStart, now)
		return err
	})
	g.Go(func() (err error) {
		active, err = s.subRepo.ListEntitled(now, time.Duration(s.cfg.Billing.GraceDays)*24*time.Hour)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paying := make(map[int64]struct{})
	for _, sub := range active {
		paying[sub.UserID] = struct{}{}
		out.ByProvider[sub.Provider]++
		if sub.Interval == "year" {
			out.MRR += sub.Amount / 12
		} else {
			out.MRR += sub.Amount
		}
	}
	out.PayingUsers = int64(len(paying))
	out.MRR = roundCents(out.MRR)
	return out, nil
}

// ListUsers 后台用户列表
func (s *AdminService) ListUsers(q *dto.AdminUserQuery) ([]*dto.AdminUserItem, int64, error) {
	q.Normalize()

	users, total, err := s.userRepo.List(repository.UserFilter{
		Search: strings.TrimSpace(q.Search),
		Role:   q.Role,
		Status: q.Status,
		Plan:   q.Plan,
	}, q.Page, q.PageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.AdminUserItem, len(users))
	for i, u := range users {
		item, err := s.userItem(u)
		if err != nil {
			return nil, 0, err
		}
		items[i] = item
	}
	return items, total, nil
}

// UpdateUser 修改角色或状态，管理员不能修改自己
func (s *AdminService) UpdateUser(adminID, userID int64, req *dto.AdminUpdateUserRequest) (*dto.AdminUserItem, error) {
	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if req.Role != nil && *req.Role != user.Role {
		fields["role"] = *req.Role
		user.Role = *req.Role
	}
	if req.Status != nil && *req.Status != user.Status {
		fields["status"] = *req.Status
		user.Status = *req.Status
	}
	if len(fields) == 0 {
		return s.userItem(user)
	}
	if adminID == userID {
		return nil, ErrSelfModify
	}

	if err := s.userRepo.UpdateFields(userID, fields); err != nil {
		return nil, err
	}
	zap.L().Info("admin updated user",
		zap.Int64("admin_id", adminID),
		zap.Int64("user_id", userID),
		zap.Any("fields", fields))
	return s.userItem(user)
}

// GrantCredits 赠送积分
func (s *AdminService) GrantCredits(adminID, userID int64, req *dto.GrantCreditsRequest) (*dto.CreditInfo, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.loadUser(userID); err != nil {
		return nil, err
	}

	credit, err := s.credits.Grant(userID, req.Amount)
	if err != nil {
		return nil, err
	}
	info := creditInfo(credit)
	if s.notifier != nil {
		s.notifier.Send(userID, ws.TypeCreditsUpdated, info)
	}

	zap.L().Info("admin granted credits",
		zap.Int64("admin_id", adminID),
		zap.Int64("user_id", userID),
		zap.Int("amount", req.Amount),
		zap.String("reason", req.Reason))
	return info, nil
}

// ListDocuments 审核用文档列表
func (s *AdminService) ListDocuments(q *dto.ModerationQuery) ([]*dto.ModerationDocument, int64, error) {
	q.Normalize()

	contents, total, err := s.contentRepo.List(repository.ContentFilter{
		UserID:  q.UserID,
		Search:  strings.TrimSpace(q.Search),
		Flagged: q.Flagged,
		Sort:    "newest",
	}, q.Page, q.PageSize)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, len(contents))
	for i, c := range contents {
		ids[i] = c.UserID
	}
	names, err := s.usernames(ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.ModerationDocument, len(contents))
	for i, c := range contents {
		items[i] = &dto.ModerationDocument{
			DocumentListItem: toDocumentListItem(c),
			UserID:           c.UserID,
			Username:         names[c.UserID],
			FlagReason:       c.FlagReason,
		}
	}
	return items, total, nil
}

// FlagDocument 标记文档，作者仍可查看
func (s *AdminService) FlagDocument(id int64, reason string) error {
	if _, err := s.content(id); err != nil {
		return err
	}
	return s.contentRepo.UpdateFields(id, map[string]interface{}{"flagged": true, "flag_reason": strings.TrimSpace(reason)})
}

func (s *AdminService) UnflagDocument(id int64) error {
	if _, err := s.content(id); err != nil {
		return err
	}
	return s.contentRepo.UpdateFields(id, map[string]interface{}{"flagged": false, "flag_reason": ""})
}

func (s *AdminService) DeleteDocument(adminID, id int64) error {
	content, err := s.content(id)
	if err != nil {
		return err
	}
	if err := s.contentRepo.Delete(id); err != nil {
		return err
	}
	zap.L().Info("admin deleted document",
		zap.Int64("admin_id", adminID),
		zap.Int64("document_id", id),
		zap.Int64("owner_id", content.UserID))
	return nil
}

// ListImages 审核用图片列表
func (s *AdminService) ListImages(q *dto.ModerationQuery) ([]*dto.ModerationImage, int64, error) {
	q.Normalize()

	images, total, err := s.imageRepo.List(repository.ImageFilter{
		UserID:  q.UserID,
		Search:  strings.TrimSpace(q.Search),
		Flagged: q.Flagged,
	}, q.Page, q.PageSize)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, len(images))
	for i, img := range images {
		ids[i] = img.UserID
	}
	names, err := s.usernames(ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.ModerationImage, len(images))
	for i, img := range images {
		items[i] = &dto.ModerationImage{
			ImageItem: toImageItem(img),
			UserID:    img.UserID,
			Username:  names[img.UserID],
		}
	}
	return items, total, nil
}

func (s *AdminService) FlagImage(id int64, reason string) error {
	if _, err := s.image(id); err != nil {
		return err
	}
	return s.imageRepo.UpdateFields(id, map[string]interface{}{"flagged": true, "flag_reason": strings.TrimSpace(reason)})
}

func (s *AdminService) UnflagImage(id int64) error {
	if _, err := s.image(id); err != nil {
		return err
	}
	return s.imageRepo.UpdateFields(id, map[string]interface{}{"flagged": false, "flag_reason": ""})
}

func (s *AdminService) DeleteImage(adminID, id int64) error {
	if err := s.images.Remove(id); err != nil {
		return err
	}
	zap.L().Info("admin deleted image", zap.Int64("admin_id", adminID), zap.Int64("image_id", id))
	return nil
}

// ListSubscriptions 订阅列表，search 按用户邮箱匹配
func (s *AdminService) ListSubscriptions(q *dto.AdminSubscriptionQuery) ([]*model.Subscription, int64, error) {
	q.Normalize()

	filter := repository.SubscriptionFilter{
		Provider: q.Provider,
		Status:   q.Status,
		Plan:     q.Plan,
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		ids, err := s.userRepo.IDsByEmailLike(search)
		if err != nil {
			return nil, 0, err
		}
		if len(ids) == 0 {
			return []*model.Subscription{}, 0, nil
		}
		filter.UserIDs = ids
	}
	return s.subRepo.List(filter, q.Page, q.PageSize)
}

func (s *AdminService) ListPayments(q *dto.AdminPaymentQuery) ([]*model.Payment, int64, error) {
	q.Normalize()
	return s.paymentRepo.List(repository.PaymentFilter{
		Provider: q.Provider,
		Status:   q.Status,
	}, q.Page, q.PageSize)
}

// SyncSubscription 从渠道重新拉取订阅并重新计算用户套餐
func (s *AdminService) SyncSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	return s.billing.Sync(ctx, id)
}

func (s *AdminService) GetSettings(ctx context.Context) (map[string]interface{}, error) {
	return s.settings.GetAll(ctx)
}

// UpdateSettings 全部校验通过后才写入
func (s *AdminService) UpdateSettings(ctx context.Context, adminID int64, values map[string]interface{}) (map[string]interface{}, error) {
	if err := s.settings.Update(ctx, values, adminID); err != nil {
		return nil, err
	}
	zap.L().Info("admin updated settings", zap.Int64("admin_id", adminID), zap.Int("keys", len(values)))
	return s.settings.GetAll(ctx)
}

func (s *AdminService) userItem(u *model.User) (*dto.AdminUserItem, error) {
	totals, err := s.contentRepo.Totals(u.ID)
	if err != nil {
		return nil, err
	}
	info := buildUserInfo(u)
	if credits, err := s.credits.Info(u.ID); err == nil {
		info.Credits = credits
	}

	item := &dto.AdminUserItem{UserInfo: info, Documents: totals.Documents}
	if u.LastLoginAt != nil {
		item.LastLoginAt = u.LastLoginAt.Format(time.RFC3339)
	}
	return item, nil
}

func (s *AdminService) usernames(ids []int64) (map[int64]string, error) {
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	users, err := s.userRepo.ListByIDs(unique)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

func (s *AdminService) loadUser(id int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AdminService) content(id int64) (*model.GeneratedContent, error) {
	content, err := s.contentRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return content, nil
}

func (s *AdminService) image(id int64) (*model.GeneratedImage, error) {
	image, err := s.imageRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	return image, nil
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
