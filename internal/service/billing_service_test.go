package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/payment"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/testutil"
)

const testSigHeader = "X-Test-Signature"

// fakeGateway 只支持下单和回调
type fakeGateway struct {
	mu        sync.Mutex
	name      string
	events    map[string]*payment.Event
	checkouts []payment.CheckoutRequest
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, events: make(map[string]*payment.Event)}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, req)
	return &payment.CheckoutSession{ID: "cs_1", URL: "https://pay.test/" + g.name}, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, header http.Header) (*payment.Event, error) {
	if header.Get(testSigHeader) != "ok" {
		return nil, payment.ErrInvalidSignature
	}
	evt, ok := g.events[string(payload)]
	if !ok {
		return nil, errors.New("unknown payload")
	}
	return evt, nil
}

// fakeRecurring 支持远程订阅查询和取消
type fakeRecurring struct {
	*fakeGateway
	subs     map[string]*payment.SubscriptionUpdate
	getErr   error
	canceled []string
}

func newFakeRecurring(name string) *fakeRecurring {
	return &fakeRecurring{fakeGateway: newFakeGateway(name), subs: make(map[string]*payment.SubscriptionUpdate)}
}

func (g *fakeRecurring) GetSubscription(ctx context.Context, id string) (*payment.SubscriptionUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	u, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	cp := *u
	return &cp, nil
}

func (g *fakeRecurring) CancelSubscription(ctx context.Context, id string) (*payment.SubscriptionUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, id)
	u, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", id)
	}
	u.CancelAtPeriodEnd = true
	cp := *u
	return &cp, nil
}

func (g *fakeRecurring) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://portal.test/" + customerID, nil
}

// fakeFatora 支持订单查询
type fakeFatora struct {
	*fakeGateway
	status string
}

func (g *fakeFatora) VerifyPayment(ctx context.Context, orderID string) (*payment.PaymentUpdate, error) {
	u := &payment.PaymentUpdate{ProviderPaymentID: orderID, Amount: 19, Currency: "usd", Status: g.status}
	if g.status == payment.PaymentPaid {
		now := time.Now()
		u.PaidAt = &now
	}
	return u, nil
}

type billingFixture struct {
	svc      *BillingService
	db       *gorm.DB
	stripe   *fakeRecurring
	fatora   *fakeFatora
	mail     *recordingSender
	notifier *fakeNotifier
	credits  *CreditService
}

func setupBillingService(t *testing.T) *billingFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := testConfig()
	credits := NewCreditService(repository.NewCreditRepository(db), cfg)
	sender := &recordingSender{}
	notifier := &fakeNotifier{}

	svc := NewBillingService(
		repository.NewSubscriptionRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewUserRepository(db),
		repository.NewProfileRepository(db),
		credits,
		email.NewServiceWithSender(&cfg.Email, sender),
		notifier,
		cfg,
	)
	stripe := newFakeRecurring(model.ProviderStripe)
	fatora := &fakeFatora{fakeGateway: newFakeGateway(model.ProviderFatora), status: payment.PaymentPaid}
	svc.RegisterGateway(stripe)
	svc.RegisterGateway(fatora)

	return &billingFixture{svc: svc, db: db, stripe: stripe, fatora: fatora, mail: sender, notifier: notifier, credits: credits}
}

func (f *billingFixture) userPlan(t *testing.T, userID int64) string {
	t.Helper()
	var user model.User
	require.NoError(t, f.db.First(&user, userID).Error)
	return user.Plan
}

func okHeader() http.Header {
	h := http.Header{}
	h.Set(testSigHeader, "ok")
	return h
}

func TestBillingService_ListPlans(t *testing.T) {
	f := setupBillingService(t)

	plans := f.svc.ListPlans()
	require.Len(t, plans, 3)
	assert.Equal(t, "free", plans[0].Name)
	assert.Empty(t, plans[0].Providers)
	assert.Equal(t, "pro", plans[1].Name)
	assert.Equal(t, []string{"stripe", "fatora"}, plans[1].Providers)
	assert.Equal(t, "team", plans[2].Name)
}

func TestBillingService_CreateCheckout(t *testing.T) {
	f := setupBillingService(t)
	user := testutil.TestUser(t, f.db)
	ctx := context.Background()

	t.Run("stripe monthly and yearly", func(t *testing.T) {
		resp, err := f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "pro", Provider: "stripe"})
		require.NoError(t, err)
		assert.Equal(t, "https://pay.test/stripe", resp.URL)

		_, err = f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "pro", Provider: "stripe", Interval: "year"})
		require.NoError(t, err)

		require.Len(t, f.stripe.checkouts, 2)
		assert.Equal(t, "price_pro_m", f.stripe.checkouts[0].PriceID)
		assert.Equal(t, "month", f.stripe.checkouts[0].Interval)
		assert.Equal(t, "price_pro_y", f.stripe.checkouts[1].PriceID)
		assert.Equal(t, user.EmailOrEmpty(), f.stripe.checkouts[0].Email)
		assert.Contains(t, f.stripe.checkouts[0].SuccessURL, "provider=stripe")
	})

	t.Run("rejections", func(t *testing.T) {
		_, err := f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "free", Provider: "stripe"})
		assert.ErrorIs(t, err, ErrUnknownPlan)
		_, err = f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "gold", Provider: "stripe"})
		assert.ErrorIs(t, err, ErrUnknownPlan)
		_, err = f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "pro", Provider: "paddle"})
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		_, err = f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "team", Provider: "stripe", Interval: "year"})
		assert.ErrorIs(t, err, ErrPriceMissing)
	})

	t.Run("fatora creates pending payment", func(t *testing.T) {
		resp, err := f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "pro", Provider: "fatora"})
		require.NoError(t, err)
		require.NotEmpty(t, resp.OrderID)

		p, err := repository.NewPaymentRepository(f.db).GetByProviderID(resp.OrderID)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, model.PaymentPending, p.Status)
		assert.Equal(t, 19.0, p.Amount)
		assert.Equal(t, user.ID, p.UserID)

		require.Len(t, f.fatora.checkouts, 1)
		assert.Contains(t, f.fatora.checkouts[0].SuccessURL, "order_id="+resp.OrderID)
	})
}

func TestBillingService_HandleWebhook(t *testing.T) {
	f := setupBillingService(t)
	user := testutil.TestUser(t, f.db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	f.stripe.events["sub-created"] = &payment.Event{
		ID:   "evt_1",
		Type: "customer.subscription.created",
		Subscription: &payment.SubscriptionUpdate{
			ProviderSubscriptionID: "sub_1",
			ProviderCustomerID:     "cus_1",
			UserID:                 user.ID,
			PriceID:                "price_pro_m",
			Status:                 payment.StatusActive,
			RawStatus:              "active",
			Amount:                 19,
			Currency:               "usd",
			CurrentPeriodStart:     now.Add(-time.Hour),
			CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		},
	}

	t.Run("invalid signature", func(t *testing.T) {
		err := f.svc.HandleWebhook(ctx, "stripe", []byte("sub-created"), http.Header{})
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
		assert.Equal(t, "free", f.userPlan(t, user.ID))
	})

	t.Run("unknown provider", func(t *testing.T) {
		err := f.svc.HandleWebhook(ctx, "paypal", []byte("x"), okHeader())
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("subscription activates plan", func(t *testing.T) {
		require.NoError(t, f.svc.HandleWebhook(ctx, "stripe", []byte("sub-created"), okHeader()))

		assert.Equal(t, "pro", f.userPlan(t, user.ID))
		info, err := f.credits.Info(user.ID)
		require.NoError(t, err)
		assert.Equal(t, 500, info.Total)
		assert.Equal(t, "pro", info.Plan)

		sub, err := repository.NewSubscriptionRepository(f.db).GetByProviderID("stripe", "sub_1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "pro", sub.Plan)
		assert.Equal(t, "month", sub.Interval)

		sent := f.mail.Sent()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].Subject, "订阅变更")
		assert.Contains(t, f.notifier.types(), "credits_updated")
	})

	t.Run("duplicate event is ignored", func(t *testing.T) {
		require.NoError(t, f.svc.HandleWebhook(ctx, "stripe", []byte("sub-created"), okHeader()))

		var events int64
		f.db.Model(&model.WebhookEvent{}).Count(&events)
		assert.Equal(t, int64(1), events)
		assert.Len(t, f.mail.Sent(), 1)
	})

	t.Run("invoice links to subscription owner", func(t *testing.T) {
		paidAt := now
		f.stripe.events["invoice"] = &payment.Event{
			ID:   "evt_2",
			Type: "invoice.paid",
			Payment: &payment.PaymentUpdate{
				ProviderPaymentID:      "in_1",
				ProviderSubscriptionID: "sub_1",
				Amount:                 19,
				Currency:               "usd",
				Status:                 payment.PaymentPaid,
				PaidAt:                 &paidAt,
			},
		}
		require.NoError(t, f.svc.HandleWebhook(ctx, "stripe", []byte("invoice"), okHeader()))

		invoices, total, err := f.svc.ListInvoices(user.ID, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, "pro", invoices[0].Plan)
		assert.Equal(t, model.PaymentPaid, invoices[0].Status)
	})
}

func TestBillingService_WebhookPartialSubscription(t *testing.T) {
	f := setupBillingService(t)
	user := testutil.TestUser(t, f.db)
	ctx := context.Background()
	now := time.Now().UTC()

	f.stripe.events["checkout"] = &payment.Event{
		ID:   "evt_checkout",
		Type: "checkout.session.completed",
		Subscription: &payment.SubscriptionUpdate{
			ProviderSubscriptionID: "sub_9",
			UserID:                 user.ID,
			Plan:                   "team",
			Interval:               "month",
		},
	}

	// 拉取失败时删除事件记录，渠道重试可以再次处理
	f.stripe.getErr = errors.New("stripe down")
	err := f.svc.HandleWebhook(ctx, "stripe", []byte("checkout"), okHeader())
	require.Error(t, err)
	var events int64
	f.db.Model(&model.WebhookEvent{}).Count(&events)
	assert.Zero(t, events)

	f.stripe.getErr = nil
	f.stripe.subs["sub_9"] = &payment.SubscriptionUpdate{
		ProviderSubscriptionID: "sub_9",
		ProviderCustomerID:     "cus_9",
		Status:                 payment.StatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
	}
	require.NoError(t, f.svc.HandleWebhook(ctx, "stripe", []byte("checkout"), okHeader()))
	assert.Equal(t, "team", f.userPlan(t, user.ID))
}

func TestBillingService_GetStatus(t *testing.T) {
	f := setupBillingService(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("no subscription is free", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		status, err := f.svc.GetStatus(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "free", status.Plan)
		assert.Equal(t, "none", status.Status)
		assert.Empty(t, status.Subscriptions)
		assert.Equal(t, 20, status.Credits.Total)
	})

	t.Run("highest rank wins", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "pro", model.SubStatusActive, now.AddDate(0, 0, 20))
		testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "team", model.SubStatusActive, now.AddDate(0, 0, 5))
		testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "team", model.SubStatusExpired, now.AddDate(0, 0, 30))

		status, err := f.svc.GetStatus(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "team", status.Plan)
		assert.Equal(t, model.SubStatusActive, status.Status)
		assert.Len(t, status.Subscriptions, 3)
		assert.Equal(t, "team", f.userPlan(t, user.ID))
		assert.Equal(t, 2000, status.Credits.Total)
	})

	t.Run("past due within grace stays entitled", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "pro", model.SubStatusPastDue, now.AddDate(0, 0, -1))

		status, err := f.svc.GetStatus(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "pro", status.Plan)
		assert.Equal(t, model.SubStatusPastDue, status.Status)
	})

	t.Run("canceled at period end stays entitled within grace", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		sub := testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "pro", model.SubStatusCanceled, now.AddDate(0, 0, -1))
		require.NoError(t, f.db.Model(sub).Update("cancel_at_period_end", true).Error)

		status, err := f.svc.GetStatus(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "pro", status.Plan)
		assert.Equal(t, "pro", f.userPlan(t, user.ID))
	})

	t.Run("provider refresh", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		sub := testutil.TestSubscription(t, f.db, user.ID, model.ProviderStripe, "pro", model.SubStatusActive, now.AddDate(0, 0, 10))
		canceledAt := now
		f.stripe.subs[sub.ProviderSubscriptionID] = &payment.SubscriptionUpdate{
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			Status:                 payment.StatusCanceled,
			RawStatus:              "canceled",
			CurrentPeriodEnd:       now.AddDate(0, 0, 10),
			CanceledAt:             &canceledAt,
		}

		status, err := f.svc.GetStatus(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "free", status.Plan)
		assert.Equal(t, model.SubStatusCanceled, status.Subscriptions[0].Status)
	})

	t.Run("provider error falls back to stored row", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		testutil.TestSubscription(t, f.db, user.ID, model.ProviderStripe, "pro", model.SubStatusActive, now.AddDate(0, 0, 10))
		f.stripe.getErr = errors.New("timeout")
		defer func() { f.stripe.getErr = nil }()

		status, err := f.svc.GetStatus(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "pro", status.Plan)
		assert.Equal(t, model.ProviderStripe, status.Provider)
	})
}

func TestBillingService_Cancel(t *testing.T) {
	f := setupBillingService(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("no subscription", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		_, err := f.svc.Cancel(ctx, user.ID)
		assert.ErrorIs(t, err, ErrNoSubscription)
	})

	t.Run("stripe cancels at period end", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		sub := testutil.TestSubscription(t, f.db, user.ID, model.ProviderStripe, "pro", model.SubStatusActive, now.AddDate(0, 0, 10))
		f.stripe.subs[sub.ProviderSubscriptionID] = &payment.SubscriptionUpdate{
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			Status:                 payment.StatusActive,
			CurrentPeriodEnd:       sub.CurrentPeriodEnd,
		}

		status, err := f.svc.Cancel(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{sub.ProviderSubscriptionID}, f.stripe.canceled)
		assert.True(t, status.CancelAtPeriodEnd)
		assert.Equal(t, "pro", status.Plan)
	})

	t.Run("fatora is canceled locally", func(t *testing.T) {
		user := testutil.TestUser(t, f.db)
		testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "pro", model.SubStatusActive, now.AddDate(0, 0, 10))

		status, err := f.svc.Cancel(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SubStatusCanceled, status.Status)
		assert.True(t, status.CancelAtPeriodEnd)
		assert.Equal(t, "pro", status.Plan)
	})
}

func TestBillingService_VerifyFatoraPayment(t *testing.T) {
	f := setupBillingService(t)
	user := testutil.TestUser(t, f.db)
	other := testutil.TestUser(t, f.db)
	ctx := context.Background()

	resp, err := f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "pro", Provider: "fatora"})
	require.NoError(t, err)

	_, err = f.svc.VerifyFatoraPayment(ctx, other.ID, resp.OrderID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	status, err := f.svc.VerifyFatoraPayment(ctx, user.ID, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "pro", status.Plan)
	assert.Equal(t, model.ProviderFatora, status.Provider)

	sub, err := repository.NewSubscriptionRepository(f.db).GetByProviderID(model.ProviderFatora, fmt.Sprintf("fatora-%d", user.ID))
	require.NoError(t, err)
	require.NotNil(t, sub)
	end := sub.CurrentPeriodEnd

	// 重复校验不会再次延长
	_, err = f.svc.VerifyFatoraPayment(ctx, user.ID, resp.OrderID)
	require.NoError(t, err)
	sub, err = repository.NewSubscriptionRepository(f.db).GetByProviderID(model.ProviderFatora, fmt.Sprintf("fatora-%d", user.ID))
	require.NoError(t, err)
	assert.True(t, end.Equal(sub.CurrentPeriodEnd))

	// 第二笔订单顺延一个月
	resp2, err := f.svc.CreateCheckout(ctx, user.ID, &dto.CheckoutRequest{Plan: "pro", Provider: "fatora"})
	require.NoError(t, err)
	_, err = f.svc.VerifyFatoraPayment(ctx, user.ID, resp2.OrderID)
	require.NoError(t, err)
	sub, err = repository.NewSubscriptionRepository(f.db).GetByProviderID(model.ProviderFatora, fmt.Sprintf("fatora-%d", user.ID))
	require.NoError(t, err)
	assert.True(t, sub.CurrentPeriodEnd.Equal(end.AddDate(0, 1, 0)))
}

func TestBillingService_ExpireLapsed(t *testing.T) {
	f := setupBillingService(t)
	ctx := context.Background()
	now := time.Now()

	user := testutil.TestUser(t, f.db, testutil.WithPlan("pro"))
	lapsed := testutil.TestSubscription(t, f.db, user.ID, model.ProviderFatora, "pro", model.SubStatusActive, now.AddDate(0, 0, -5))
	recurring := testutil.TestSubscription(t, f.db, user.ID, model.ProviderStripe, "pro", model.SubStatusActive, now.AddDate(0, 0, -5))

	n, err := f.svc.ExpireLapsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	subRepo := repository.NewSubscriptionRepository(f.db)
	got, err := subRepo.GetByID(lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusExpired, got.Status)

	got, err = subRepo.GetByID(recurring.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusActive, got.Status)

	assert.Equal(t, "free", f.userPlan(t, user.ID))
}

func TestBillingService_PortalAndSync(t *testing.T) {
	f := setupBillingService(t)
	ctx := context.Background()
	now := time.Now()

	user := testutil.TestUser(t, f.db)
	_, err := f.svc.PortalURL(ctx, user.ID)
	assert.ErrorIs(t, err, ErrPortalUnavailable)

	sub := testutil.TestSubscription(t, f.db, user.ID, model.ProviderStripe, "pro", model.SubStatusIncomplete, now.AddDate(0, 0, 10))
	url, err := f.svc.PortalURL(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://portal.test/"+sub.ProviderCustomerID, url)

	f.stripe.subs[sub.ProviderSubscriptionID] = &payment.SubscriptionUpdate{
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		Status:                 payment.StatusActive,
		RawStatus:              "active",
		CurrentPeriodEnd:       now.AddDate(0, 0, 10),
	}
	synced, err := f.svc.Sync(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubStatusActive, synced.Status)
	assert.Equal(t, "pro", f.userPlan(t, user.ID))

	_, err = f.svc.Sync(ctx, 9999)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}
