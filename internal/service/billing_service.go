package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/payment"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrUnknownPlan          = errors.New("套餐不存在")
	ErrProviderUnavailable  = errors.New("支付渠道未开通")
	ErrPriceMissing         = errors.New("该套餐未配置价格")
	ErrNoSubscription       = errors.New("没有有效的订阅")
	ErrPortalUnavailable    = errors.New("当前订阅不支持账单管理")
	ErrPaymentNotFound      = errors.New("订单不存在")
	ErrSubscriptionNotFound = errors.New("订阅不存在")
	ErrUnknownProvider      = errors.New("未知的支付渠道")
)

const refreshConcurrency = 4

// portalProvider 提供客户自助账单页的渠道（Stripe）
type portalProvider interface {
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
}

// paymentVerifier 支持主动查询订单的渠道（Fatora）
type paymentVerifier interface {
	VerifyPayment(ctx context.Context, orderID string) (*payment.PaymentUpdate, error)
}

type BillingService struct {
	subRepo     *repository.SubscriptionRepository
	paymentRepo *repository.PaymentRepository
	userRepo    *repository.UserRepository
	profileRepo *repository.ProfileRepository
	credits     *CreditService
	mailer      *email.Service
	notifier    Notifier
	cfg         *config.Config
	gateways    map[string]payment.Gateway
	now         func() time.Time
}

func NewBillingService(
	subRepo *repository.SubscriptionRepository,
	paymentRepo *repository.PaymentRepository,
	userRepo *repository.UserRepository,
	profileRepo *repository.ProfileRepository,
	credits *CreditService,
	mailer *email.Service,
	notifier Notifier,
	cfg *config.Config,
) *BillingService {
	return &BillingService{
		subRepo:     subRepo,
		paymentRepo: paymentRepo,
		userRepo:    userRepo,
		profileRepo: profileRepo,
		credits:     credits,
		mailer:      mailer,
		notifier:    notifier,
		cfg:         cfg,
		gateways:    make(map[string]payment.Gateway),
		now:         time.Now,
	}
}

// RegisterGateway 注册已配置的支付渠道
func (s *BillingService) RegisterGateway(g payment.Gateway) {
	s.gateways[g.Name()] = g
}

func (s *BillingService) grace() time.Duration {
	return time.Duration(s.cfg.Billing.GraceDays) * 24 * time.Hour
}

// ListPlans 返回全部套餐，free 排在最前
func (s *BillingService) ListPlans() []*dto.PlanInfo {
	plans := append([]config.PlanConfig(nil), s.cfg.Plans...)
	if !containsPlan(plans, "free") {
		plans = append(plans, s.cfg.Plan("free"))
	}
	sort.SliceStable(plans, func(i, j int) bool { return plans[i].Rank < plans[j].Rank })

	out := make([]*dto.PlanInfo, 0, len(plans))
	for _, p := range plans {
		info := &dto.PlanInfo{
			Name:           p.Name,
			DisplayName:    p.DisplayName,
			Rank:           p.Rank,
			MonthlyCredits: p.MonthlyCredits,
			PriceMonthly:   p.PriceMonthly,
			PriceYearly:    p.PriceYearly,
			Currency:       p.Currency,
			Features:       p.Features,
			Providers:      []string{},
		}
		if p.Name != "free" {
			for _, provider := range []string{model.ProviderStripe, model.ProviderPaddle, model.ProviderFatora} {
				if _, ok := s.gateways[provider]; !ok {
					continue
				}
				if _, err := checkoutPrice(p, provider, "month"); err == nil {
					info.Providers = append(info.Providers, provider)
				}
			}
		}
		out = append(out, info)
	}
	return out
}

// CreateCheckout 创建支付会话，Fatora 先写入待支付订单
func (s *BillingService) CreateCheckout(ctx context.Context, userID int64, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	interval := req.Interval
	if interval == "" {
		interval = "month"
	}
	if req.Plan == "free" || !s.cfg.HasPlan(req.Plan) {
		return nil, ErrUnknownPlan
	}
	gw, ok := s.gateways[req.Provider]
	if !ok {
		return nil, ErrProviderUnavailable
	}
	plan := s.cfg.Plan(req.Plan)
	price, err := checkoutPrice(plan, req.Provider, interval)
	if err != nil {
		return nil, err
	}

	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	checkout := payment.CheckoutRequest{
		UserID:     userID,
		Email:      user.EmailOrEmpty(),
		Plan:       plan.Name,
		Interval:   interval,
		PriceID:    price.id,
		Amount:     price.amount,
		Currency:   plan.Currency,
		SuccessURL: s.successURL(req.Provider),
		CancelURL:  s.cancelURL(),
	}

	var pending *model.Payment
	switch req.Provider {
	case model.ProviderStripe:
		if checkout.CustomerID, err = s.subRepo.LatestCustomerID(userID, model.ProviderStripe); err != nil {
			return nil, err
		}
	case model.ProviderFatora:
		checkout.OrderID = uuid.NewString()
		checkout.SuccessURL = withQuery(checkout.SuccessURL, "order_id", checkout.OrderID)
		pending = &model.Payment{
			UserID:            userID,
			Provider:          model.ProviderFatora,
			ProviderPaymentID: checkout.OrderID,
			Plan:              plan.Name,
			Interval:          interval,
			Amount:            price.amount,
			Currency:          strings.ToLower(plan.Currency),
			Status:            model.PaymentPending,
		}
		if err := s.paymentRepo.Create(pending); err != nil {
			return nil, err
		}
	}

	session, err := gw.CreateCheckout(ctx, checkout)
	if err != nil {
		if pending != nil {
			pending.Status = model.PaymentFailed
			if serr := s.paymentRepo.Save(pending); serr != nil {
				zap.L().Error("mark checkout payment failed", zap.String("order_id", pending.ProviderPaymentID), zap.Error(serr))
			}
		}
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, ErrProviderUnavailable
		}
		zap.L().Error("create checkout failed",
			zap.Int64("user_id", userID),
			zap.String("provider", req.Provider),
			zap.String("plan", plan.Name),
			zap.Error(err))
		return nil, err
	}

	zap.L().Info("checkout created",
		zap.Int64("user_id", userID),
		zap.String("provider", req.Provider),
		zap.String("plan", plan.Name),
		zap.String("interval", interval))

	return &dto.CheckoutResponse{
		URL:      session.URL,
		Provider: req.Provider,
		OrderID:  checkout.OrderID,
	}, nil
}

// HandleWebhook 校验签名、按事件 ID 去重后同步订阅和付款，最后重新计算用户套餐
func (s *BillingService) HandleWebhook(ctx context.Context, provider string, payload []byte, header http.Header) error {
	gw, ok := s.gateways[provider]
	if !ok {
		return ErrUnknownProvider
	}

	evt, err := gw.ParseWebhook(payload, header)
	if err != nil {
		return err
	}

	if evt.ID != "" {
		fresh, err := s.paymentRepo.MarkEventProcessed(provider, evt.ID, evt.Type)
		if err != nil {
			return err
		}
		if !fresh {
			zap.L().Info("duplicate webhook event", zap.String("provider", provider), zap.String("event_id", evt.ID))
			return nil
		}
	}

	if err := s.applyEvent(ctx, provider, gw, evt); err != nil {
		if evt.ID != "" {
			if ferr := s.paymentRepo.ForgetEvent(provider, evt.ID); ferr != nil {
				zap.L().Error("forget webhook event", zap.String("event_id", evt.ID), zap.Error(ferr))
			}
		}
		zap.L().Error("apply webhook event failed",
			zap.String("provider", provider),
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type),
			zap.Error(err))
		return err
	}

	zap.L().Info("webhook processed",
		zap.String("provider", provider),
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type))
	return nil
}

func (s *BillingService) applyEvent(ctx context.Context, provider string, gw payment.Gateway, evt *payment.Event) error {
	users := make(map[int64]struct{})

	if u := evt.Subscription; u != nil && u.ProviderSubscriptionID != "" {
		// checkout 完成事件只带订阅 ID
		if u.Status == "" {
			mgr, ok := gw.(payment.SubscriptionManager)
			if !ok {
				return fmt.Errorf("%s: partial subscription update", provider)
			}
			full, err := mgr.GetSubscription(ctx, u.ProviderSubscriptionID)
			if err != nil {
				return err
			}
			mergeSubscriptionUpdate(full, u)
			u = full
		}
		sub, err := s.upsertSubscription(provider, u)
		if err != nil {
			return err
		}
		if sub != nil {
			users[sub.UserID] = struct{}{}
		}
	}

	if p := evt.Payment; p != nil && p.ProviderPaymentID != "" {
		record, err := s.upsertPayment(provider, p)
		if err != nil {
			return err
		}
		if record != nil {
			users[record.UserID] = struct{}{}
		}
	}

	for userID := range users {
		if err := s.Reconcile(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

// mergeSubscriptionUpdate 用 checkout 事件中的元数据补全远程订阅
func mergeSubscriptionUpdate(full, partial *payment.SubscriptionUpdate) {
	if full.UserID == 0 {
		full.UserID = partial.UserID
	}
	if full.Plan == "" {
		full.Plan = partial.Plan
	}
	if full.Interval == "" {
		full.Interval = partial.Interval
	}
	if full.ProviderCustomerID == "" {
		full.ProviderCustomerID = partial.ProviderCustomerID
	}
}

// upsertSubscription 无法确定用户时返回 nil
func (s *BillingService) upsertSubscription(provider string, u *payment.SubscriptionUpdate) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByProviderID(provider, u.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		sub = &model.Subscription{
			Provider:               provider,
			ProviderSubscriptionID: u.ProviderSubscriptionID,
			Interval:               "month",
		}
	}

	if sub.UserID == 0 {
		sub.UserID = u.UserID
	}
	if sub.UserID == 0 {
		zap.L().Warn("subscription without user",
			zap.String("provider", provider),
			zap.String("subscription_id", u.ProviderSubscriptionID))
		return nil, nil
	}

	s.applySubscriptionUpdate(sub, u)
	if sub.Plan == "" {
		sub.Plan = "free"
	}
	if err := s.subRepo.Save(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *BillingService) applySubscriptionUpdate(sub *model.Subscription, u *payment.SubscriptionUpdate) {
	plan, interval := u.Plan, u.Interval
	if plan == "" && u.PriceID != "" {
		plan, interval = s.planForPrice(u.PriceID)
	}
	if plan != "" {
		sub.Plan = plan
	}
	if interval != "" {
		sub.Interval = interval
	}
	if u.ProviderCustomerID != "" {
		sub.ProviderCustomerID = u.ProviderCustomerID
	}
	if u.Status != "" {
		sub.Status = u.Status
		sub.RawStatus = u.RawStatus
	}
	if u.Amount > 0 {
		sub.Amount = u.Amount
	}
	if u.Currency != "" {
		sub.Currency = u.Currency
	}
	if !u.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = u.CurrentPeriodStart
	}
	if !u.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = u.CurrentPeriodEnd
	}
	sub.CancelAtPeriodEnd = u.CancelAtPeriodEnd
	if u.CanceledAt != nil {
		sub.CanceledAt = u.CanceledAt
	}
}

// planForPrice 根据渠道价格 ID 反查套餐
func (s *BillingService) planForPrice(priceID string) (string, string) {
	for _, p := range s.cfg.Plans {
		switch priceID {
		case p.StripePriceMonthly, p.PaddlePriceMonthly:
			return p.Name, "month"
		case p.StripePriceYearly, p.PaddlePriceYearly:
			return p.Name, "year"
		}
	}
	return "", ""
}

// upsertPayment Fatora 订单首次变为已支付时延长订阅
func (s *BillingService) upsertPayment(provider string, u *payment.PaymentUpdate) (*model.Payment, error) {
	record, err := s.paymentRepo.GetByProviderID(u.ProviderPaymentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &model.Payment{
			Provider:          provider,
			ProviderPaymentID: u.ProviderPaymentID,
		}
	}
	wasPaid := record.Status == model.PaymentPaid

	if record.UserID == 0 {
		record.UserID = u.UserID
	}
	if u.ProviderSubscriptionID != "" {
		record.ProviderSubscriptionID = u.ProviderSubscriptionID
		if record.UserID == 0 || record.Plan == "" {
			sub, err := s.subRepo.GetByProviderID(provider, u.ProviderSubscriptionID)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				if record.UserID == 0 {
					record.UserID = sub.UserID
				}
				if record.Plan == "" {
					record.Plan = sub.Plan
					record.Interval = sub.Interval
				}
			}
		}
	}
	if record.UserID == 0 {
		zap.L().Warn("payment without user",
			zap.String("provider", provider),
			zap.String("payment_id", u.ProviderPaymentID))
		return nil, nil
	}

	if u.Plan != "" {
		record.Plan = u.Plan
	}
	if u.Interval != "" {
		record.Interval = u.Interval
	}
	if u.Amount > 0 {
		record.Amount = u.Amount
	}
	if u.Currency != "" {
		record.Currency = u.Currency
	}
	if u.InvoiceURL != "" {
		record.InvoiceURL = u.InvoiceURL
	}
	if u.Status != "" {
		record.Status = u.Status
	}
	if u.PaidAt != nil {
		record.PaidAt = u.PaidAt
	}
	if err := s.paymentRepo.Save(record); err != nil {
		return nil, err
	}

	if provider == model.ProviderFatora && !wasPaid && record.Status == model.PaymentPaid {
		if err := s.extendFatora(record); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// extendFatora 每个用户一条 fatora 订阅，同套餐在剩余周期后顺延
func (s *BillingService) extendFatora(p *model.Payment) error {
	subID := fmt.Sprintf("fatora-%d", p.UserID)
	sub, err := s.subRepo.GetByProviderID(model.ProviderFatora, subID)
	if err != nil {
		return err
	}

	now := s.now()
	start := now
	if sub == nil {
		sub = &model.Subscription{
			UserID:                 p.UserID,
			Provider:               model.ProviderFatora,
			ProviderSubscriptionID: subID,
		}
	} else if sub.Plan == p.Plan && sub.Status == model.SubStatusActive && sub.CurrentPeriodEnd.After(now) {
		start = sub.CurrentPeriodEnd
	}

	interval := p.Interval
	if interval == "" {
		interval = "month"
	}
	end := start.AddDate(0, 1, 0)
	if interval == "year" {
		end = start.AddDate(1, 0, 0)
	}
	if start.Equal(now) {
		sub.CurrentPeriodStart = now
	}

	sub.Plan = p.Plan
	sub.Interval = interval
	sub.Status = model.SubStatusActive
	sub.RawStatus = "paid"
	sub.Amount = p.Amount
	sub.Currency = p.Currency
	sub.CurrentPeriodEnd = end
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	return s.subRepo.Save(sub)
}

// VerifyFatoraPayment 支付完成跳转后主动查询订单
func (s *BillingService) VerifyFatoraPayment(ctx context.Context, userID int64, orderID string) (*dto.BillingStatus, error) {
	record, err := s.paymentRepo.GetByProviderID(orderID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.UserID != userID || record.Provider != model.ProviderFatora {
		return nil, ErrPaymentNotFound
	}

	if record.Status != model.PaymentPaid {
		verifier, ok := s.gateways[model.ProviderFatora].(paymentVerifier)
		if !ok {
			return nil, ErrProviderUnavailable
		}
		u, err := verifier.VerifyPayment(ctx, orderID)
		if err != nil {
			return nil, err
		}
		u.UserID = userID
		if _, err := s.upsertPayment(model.ProviderFatora, u); err != nil {
			return nil, err
		}
		if err := s.Reconcile(ctx, userID); err != nil {
			return nil, err
		}
	}
	return s.statusFromDB(userID)
}

// GetStatus 刷新 Stripe/Paddle 订阅后计算有效套餐，渠道查询失败时使用本地数据
func (s *BillingService) GetStatus(ctx context.Context, userID int64) (*dto.BillingStatus, error) {
	subs, err := s.subRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, subs)

	effective := s.effective(subs)
	if err := s.applyPlan(ctx, userID, effective); err != nil {
		return nil, err
	}
	return s.buildStatus(userID, subs, effective)
}

func (s *BillingService) refresh(ctx context.Context, subs []*model.Subscription) {
	updates := make([]*payment.SubscriptionUpdate, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for i, sub := range subs {
		if sub.Status == model.SubStatusExpired {
			continue
		}
		mgr, ok := s.gateways[sub.Provider].(payment.SubscriptionManager)
		if !ok {
			continue
		}
		g.Go(func() error {
			u, err := mgr.GetSubscription(gctx, sub.ProviderSubscriptionID)
			if err != nil {
				zap.L().Warn("refresh subscription failed, using stored data",
					zap.String("provider", sub.Provider),
					zap.String("subscription_id", sub.ProviderSubscriptionID),
					zap.Error(err))
				return nil
			}
			updates[i] = u
			return nil
		})
	}
	_ = g.Wait()

	for i, u := range updates {
		if u == nil {
			continue
		}
		s.applySubscriptionUpdate(subs[i], u)
		if err := s.subRepo.Save(subs[i]); err != nil {
			zap.L().Error("save refreshed subscription", zap.Int64("id", subs[i].ID), zap.Error(err))
		}
	}
}

// effective 有权益的订阅中套餐等级最高者，同级取到期最晚的
func (s *BillingService) effective(subs []*model.Subscription) *model.Subscription {
	now := s.now()
	grace := s.grace()

	var best *model.Subscription
	for _, sub := range subs {
		if !sub.Entitled(now, grace) {
			continue
		}
		if best == nil {
			best = sub
			continue
		}
		rank, bestRank := s.cfg.Plan(sub.Plan).Rank, s.cfg.Plan(best.Plan).Rank
		if rank > bestRank || (rank == bestRank && sub.CurrentPeriodEnd.After(best.CurrentPeriodEnd)) {
			best = sub
		}
	}
	return best
}

// Reconcile 根据本地订阅重新计算用户套餐和积分
func (s *BillingService) Reconcile(ctx context.Context, userID int64) error {
	subs, err := s.subRepo.ListByUser(userID)
	if err != nil {
		return err
	}
	return s.applyPlan(ctx, userID, s.effective(subs))
}

func (s *BillingService) applyPlan(ctx context.Context, userID int64, effective *model.Subscription) error {
	user, err := s.loadUser(userID)
	if err != nil {
		return err
	}

	plan := "free"
	var start, end time.Time
	status := model.SubStatusExpired
	if effective != nil {
		plan = effective.Plan
		start, end = effective.CurrentPeriodStart, effective.CurrentPeriodEnd
		status = effective.Status
	}

	changed := user.Plan != plan
	if changed {
		if err := s.userRepo.SetPlan(userID, plan); err != nil {
			return err
		}
		zap.L().Info("user plan changed",
			zap.Int64("user_id", userID),
			zap.String("from", user.Plan),
			zap.String("to", plan))
	}

	credit, err := s.credits.ApplyPlan(userID, plan, start, end)
	if err != nil {
		return err
	}

	if changed {
		if s.notifier != nil && credit != nil {
			s.notifier.Send(userID, ws.TypeCreditsUpdated, creditInfo(credit))
		}
		s.mailBillingNotice(user, plan, status)
	}
	return nil
}

func (s *BillingService) mailBillingNotice(user *model.User, plan, status string) {
	if user.Email == nil {
		return
	}
	setting, err := s.profileRepo.GetNotificationSetting(user.ID)
	if err != nil || !setting.EmailOnBilling {
		return
	}
	name := s.cfg.Plan(plan).DisplayName
	if name == "" {
		name = plan
	}
	logMailError("billing", s.mailer.SendBillingNotice(*user.Email, user.Username, name, status))
}

// Cancel 取消当前有效订阅，权益保留到周期结束
func (s *BillingService) Cancel(ctx context.Context, userID int64) (*dto.BillingStatus, error) {
	subs, err := s.subRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	sub := s.effective(subs)
	if sub == nil {
		return nil, ErrNoSubscription
	}

	if mgr, ok := s.gateways[sub.Provider].(payment.SubscriptionManager); ok {
		u, err := mgr.CancelSubscription(ctx, sub.ProviderSubscriptionID)
		if err != nil {
			return nil, err
		}
		s.applySubscriptionUpdate(sub, u)
	} else {
		now := s.now()
		sub.Status = model.SubStatusCanceled
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = &now
	}
	if err := s.subRepo.Save(sub); err != nil {
		return nil, err
	}

	zap.L().Info("subscription canceled",
		zap.Int64("user_id", userID),
		zap.String("provider", sub.Provider),
		zap.String("subscription_id", sub.ProviderSubscriptionID))

	if err := s.Reconcile(ctx, userID); err != nil {
		return nil, err
	}
	return s.statusFromDB(userID)
}

// PortalURL Stripe 客户自助页
func (s *BillingService) PortalURL(ctx context.Context, userID int64) (string, error) {
	portal, ok := s.gateways[model.ProviderStripe].(portalProvider)
	if !ok {
		return "", ErrPortalUnavailable
	}
	customerID, err := s.subRepo.LatestCustomerID(userID, model.ProviderStripe)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", ErrPortalUnavailable
	}
	return portal.PortalURL(ctx, customerID, strings.TrimRight(s.cfg.Server.FrontendURL, "/")+"/billing")
}

// ListInvoices 当前用户的付款记录
func (s *BillingService) ListInvoices(userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	return s.paymentRepo.ListByUser(userID, page, pageSize)
}

// ExpireLapsed 过了宽限期的一次性订阅或已取消订阅标记为过期
func (s *BillingService) ExpireLapsed(ctx context.Context) (int, error) {
	subs, err := s.subRepo.ListLapsed(s.now().Add(-s.grace()))
	if err != nil {
		return 0, err
	}

	users := make(map[int64]struct{})
	for _, sub := range subs {
		if sub.Provider != model.ProviderFatora && sub.Status != model.SubStatusCanceled && sub.Status != model.SubStatusIncomplete {
			continue
		}
		sub.Status = model.SubStatusExpired
		if err := s.subRepo.Save(sub); err != nil {
			return 0, err
		}
		users[sub.UserID] = struct{}{}
	}

	for userID := range users {
		if err := s.Reconcile(ctx, userID); err != nil {
			zap.L().Error("reconcile after expiry", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return len(users), nil
}

// Sync 管理员手动从渠道同步一条订阅
func (s *BillingService) Sync(ctx context.Context, subscriptionID int64) (*model.Subscription, error) {
	sub, err := s.subRepo.GetByID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	if mgr, ok := s.gateways[sub.Provider].(payment.SubscriptionManager); ok {
		u, err := mgr.GetSubscription(ctx, sub.ProviderSubscriptionID)
		if err != nil {
			return nil, err
		}
		s.applySubscriptionUpdate(sub, u)
		if err := s.subRepo.Save(sub); err != nil {
			return nil, err
		}
	}

	if err := s.Reconcile(ctx, sub.UserID); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *BillingService) statusFromDB(userID int64) (*dto.BillingStatus, error) {
	subs, err := s.subRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}
	return s.buildStatus(userID, subs, s.effective(subs))
}

func (s *BillingService) buildStatus(userID int64, subs []*model.Subscription, effective *model.Subscription) (*dto.BillingStatus, error) {
	status := &dto.BillingStatus{
		Plan:          "free",
		Status:        "none",
		Subscriptions: subs,
	}
	if subs == nil {
		status.Subscriptions = []*model.Subscription{}
	}
	if effective != nil {
		status.Plan = effective.Plan
		status.Status = effective.Status
		status.Provider = effective.Provider
		status.Interval = effective.Interval
		status.CancelAtPeriodEnd = effective.CancelAtPeriodEnd
		if !effective.CurrentPeriodEnd.IsZero() {
			status.CurrentPeriodEnd = effective.CurrentPeriodEnd.Format(time.RFC3339)
		}
	}

	credits, err := s.credits.Info(userID)
	if err != nil {
		return nil, err
	}
	status.Credits = credits
	return status, nil
}

func (s *BillingService) loadUser(userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *BillingService) successURL(provider string) string {
	u := s.cfg.Billing.SuccessURL
	if u == "" {
		u = strings.TrimRight(s.cfg.Server.FrontendURL, "/") + "/billing/success"
	}
	return withQuery(u, "provider", provider)
}

func (s *BillingService) cancelURL() string {
	if s.cfg.Billing.CancelURL != "" {
		return s.cfg.Billing.CancelURL
	}
	return strings.TrimRight(s.cfg.Server.FrontendURL, "/") + "/billing"
}

type planPrice struct {
	id     string
	amount float64
}

// checkoutPrice Stripe/Paddle 需要价格 ID，Fatora 需要金额
func checkoutPrice(p config.PlanConfig, provider, interval string) (planPrice, error) {
	yearly := interval == "year"
	price := planPrice{amount: p.PriceMonthly}
	if yearly {
		price.amount = p.PriceYearly
	}

	switch provider {
	case model.ProviderStripe:
		price.id = p.StripePriceMonthly
		if yearly {
			price.id = p.StripePriceYearly
		}
	case model.ProviderPaddle:
		price.id = p.PaddlePriceMonthly
		if yearly {
			price.id = p.PaddlePriceYearly
		}
	case model.ProviderFatora:
		if price.amount <= 0 {
			return price, ErrPriceMissing
		}
		return price, nil
	default:
		return price, ErrProviderUnavailable
	}
	if price.id == "" {
		return price, ErrPriceMissing
	}
	return price, nil
}

func containsPlan(plans []config.PlanConfig, name string) bool {
	for _, p := range plans {
		if p.Name == name {
			return true
		}
	}
	return false
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
