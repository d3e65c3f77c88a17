package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/analytics"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/testutil"
)

type adminFixture struct {
	svc      *AdminService
	db       *gorm.DB
	notifier *fakeNotifier
	docs     *DocumentService
}

func setupAdminService(t *testing.T) *adminFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := testConfig()
	cfg.Upload.TempDir = t.TempDir()

	userRepo := repository.NewUserRepository(db)
	contentRepo := repository.NewContentRepository(db)
	imageRepo := repository.NewImageRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	profileRepo := repository.NewProfileRepository(db)

	credits := NewCreditService(repository.NewCreditRepository(db), cfg)
	settings := NewSettingsService(repository.NewSettingRepository(db), nil, cfg)
	images := NewImageService(imageRepo, nil, cfg)
	notifier := &fakeNotifier{}
	billing := NewBillingService(subRepo, paymentRepo, userRepo, profileRepo, credits,
		email.NewServiceWithSender(&cfg.Email, &recordingSender{}), notifier, cfg)

	svc := NewAdminService(userRepo, contentRepo, imageRepo, subRepo, paymentRepo,
		credits, settings, images, billing, notifier, cfg)
	return &adminFixture{svc: svc, db: db, notifier: notifier, docs: NewDocumentService(contentRepo, imageRepo)}
}

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func seriesByName(t *testing.T, series []analytics.Series, name string) analytics.Series {
	t.Helper()
	for _, s := range series {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("series %s not found", name)
	return analytics.Series{}
}

func bucketValues(s analytics.Series) []float64 {
	values := make([]float64, len(s.Buckets))
	for i, b := range s.Buckets {
		values[i] = b.Value
	}
	return values
}

func TestAdminService_Analytics(t *testing.T) {
	f := setupAdminService(t)
	f.svc.now = func() time.Time { return utc(2026, 3, 15, 12) }

	u1 := testutil.TestUser(t, f.db, testutil.WithCreatedAt(utc(2026, 3, 10, 9)))
	testutil.TestUser(t, f.db, testutil.WithCreatedAt(utc(2026, 3, 10, 18)))
	testutil.TestUser(t, f.db, testutil.WithCreatedAt(utc(2026, 3, 15, 8)))
	testutil.TestUser(t, f.db, testutil.WithCreatedAt(utc(2026, 3, 5, 8)))

	testutil.TestContent(t, f.db, u1.ID, testutil.WithContentCreatedAt(utc(2026, 3, 11, 10)))
	testutil.TestContent(t, f.db, u1.ID, testutil.WithContentCreatedAt(utc(2026, 3, 11, 11)))

	img := testutil.TestImage(t, f.db, u1.ID, model.ImageCompleted)
	require.NoError(t, f.db.Model(img).Update("created_at", utc(2026, 3, 12, 10)).Error)
	failed := testutil.TestImage(t, f.db, u1.ID, model.ImageFailed)
	require.NoError(t, f.db.Model(failed).Update("created_at", utc(2026, 3, 12, 11)).Error)

	testutil.TestPayment(t, f.db, u1.ID, model.ProviderStripe, 19, utc(2026, 3, 13, 10))
	testutil.TestPayment(t, f.db, u1.ID, model.ProviderStripe, 38, utc(2026, 3, 6, 10))

	resp, err := f.svc.Analytics(context.Background(), &dto.AnalyticsQuery{Range: "7d"})
	require.NoError(t, err)
	assert.Equal(t, "day", resp.Granularity)
	assert.Equal(t, "UTC", resp.Timezone)
	require.Len(t, resp.Series, 5)

	signups := seriesByName(t, resp.Series, "signups")
	if diff := cmp.Diff([]float64{0, 2, 0, 0, 0, 0, 1}, bucketValues(signups)); diff != "" {
		t.Errorf("signups mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "2026-03-09", signups.Buckets[0].Label)
	assert.Equal(t, 3.0, signups.Total)
	assert.Equal(t, 1.0, signups.PreviousTotal)
	assert.Equal(t, 200.0, signups.ChangePct)

	generations := seriesByName(t, resp.Series, "generations")
	if diff := cmp.Diff([]float64{0, 0, 2, 0, 0, 0, 0}, bucketValues(generations)); diff != "" {
		t.Errorf("generations mismatch (-want +got):\n%s", diff)
	}

	images := seriesByName(t, resp.Series, "images")
	assert.Equal(t, 1.0, images.Total)

	// 文档 1+1，成功的图片 5
	creditsUsed := seriesByName(t, resp.Series, "credits_used")
	assert.Equal(t, 7.0, creditsUsed.Total)

	revenue := seriesByName(t, resp.Series, "revenue")
	assert.Equal(t, 19.0, revenue.Total)
	assert.Equal(t, 38.0, revenue.PreviousTotal)
	assert.Equal(t, -50.0, revenue.ChangePct)
}

func TestAdminService_AnalyticsExplicitRange(t *testing.T) {
	f := setupAdminService(t)

	resp, err := f.svc.Analytics(context.Background(), &dto.AnalyticsQuery{From: "2026-01-01", To: "2026-03-31"})
	require.NoError(t, err)
	assert.Equal(t, "week", resp.Granularity)

	_, err = f.svc.Analytics(context.Background(), &dto.AnalyticsQuery{From: "2026-03-31", To: "2026-01-01"})
	assert.ErrorIs(t, err, analytics.ErrInvalidRange)
}

func TestAdminService_Overview(t *testing.T) {
	f := setupAdminService(t)
	now := time.Now()

	u1 := testutil.TestUser(t, f.db)
	u2 := testutil.TestUser(t, f.db)
	testutil.TestUser(t, f.db, testutil.WithUnverified("code", now.Add(time.Hour)))

	testutil.TestSubscription(t, f.db, u1.ID, model.ProviderStripe, "pro", model.SubStatusActive, now.AddDate(0, 0, 10))
	yearly := testutil.TestSubscription(t, f.db, u2.ID, model.ProviderFatora, "pro", model.SubStatusActive, now.AddDate(0, 6, 0))
	require.NoError(t, f.db.Model(yearly).Updates(map[string]interface{}{"interval": "year", "amount": 190}).Error)
	testutil.TestSubscription(t, f.db, u2.ID, model.ProviderStripe, "pro", model.SubStatusCanceled, now.AddDate(0, 0, 10))
	// 宽限期内的欠费订阅仍计入付费用户
	u3 := testutil.TestUser(t, f.db)
	testutil.TestSubscription(t, f.db, u3.ID, model.ProviderPaddle, "pro", model.SubStatusPastDue, now.AddDate(0, 0, -1))

	testutil.TestContent(t, f.db, u1.ID)
	testutil.TestImage(t, f.db, u1.ID, model.ImageCompleted)
	testutil.TestPayment(t, f.db, u1.ID, model.ProviderStripe, 19, now)

	out, err := f.svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), out.Users)
	assert.Equal(t, int64(3), out.VerifiedUsers)
	assert.Equal(t, int64(3), out.PayingUsers)
	assert.Equal(t, int64(1), out.Documents)
	assert.Equal(t, int64(1), out.Images)
	assert.Equal(t, 19.0, out.RevenueThisMonth)
	assert.Equal(t, 53.83, out.MRR)
	assert.Equal(t, map[string]int64{"stripe": 1, "fatora": 1, "paddle": 1}, out.ByProvider)
}

func TestAdminService_Users(t *testing.T) {
	f := setupAdminService(t)
	admin := testutil.TestUser(t, f.db, testutil.WithRole(model.RoleAdmin))
	user := testutil.TestUser(t, f.db, testutil.WithUsername("alice"))
	testutil.TestContent(t, f.db, user.ID)

	items, total, err := f.svc.ListUsers(&dto.AdminUserQuery{Search: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), items[0].Documents)
	assert.Equal(t, 20, items[0].Credits.Total)

	t.Run("cannot modify self", func(t *testing.T) {
		role := model.RoleUser
		_, err := f.svc.UpdateUser(admin.ID, admin.ID, &dto.AdminUpdateUserRequest{Role: &role})
		assert.ErrorIs(t, err, ErrSelfModify)

		// 没有实际变化时允许
		same := model.RoleAdmin
		_, err = f.svc.UpdateUser(admin.ID, admin.ID, &dto.AdminUpdateUserRequest{Role: &same})
		assert.NoError(t, err)
	})

	t.Run("ban user", func(t *testing.T) {
		banned := model.UserStatusBanned
		item, err := f.svc.UpdateUser(admin.ID, user.ID, &dto.AdminUpdateUserRequest{Status: &banned})
		require.NoError(t, err)
		assert.Equal(t, banned, item.Status)

		var got model.User
		require.NoError(t, f.db.First(&got, user.ID).Error)
		assert.Equal(t, banned, got.Status)
	})

	t.Run("grant credits", func(t *testing.T) {
		info, err := f.svc.GrantCredits(admin.ID, user.ID, &dto.GrantCreditsRequest{Amount: 50, Reason: "support"})
		require.NoError(t, err)
		assert.Equal(t, 70, info.Total)
		assert.Contains(t, f.notifier.types(), "credits_updated")

		_, err = f.svc.GrantCredits(admin.ID, 9999, &dto.GrantCreditsRequest{Amount: 5})
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = f.svc.GrantCredits(admin.ID, user.ID, &dto.GrantCreditsRequest{Amount: 0})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestAdminService_Moderation(t *testing.T) {
	f := setupAdminService(t)
	admin := testutil.TestUser(t, f.db, testutil.WithRole(model.RoleAdmin))
	owner := testutil.TestUser(t, f.db, testutil.WithUsername("bob"))
	doc := testutil.TestContent(t, f.db, owner.ID)
	testutil.TestContent(t, f.db, owner.ID)
	img := testutil.TestImage(t, f.db, owner.ID, model.ImageCompleted)

	require.NoError(t, f.svc.FlagDocument(doc.ID, " spam "))

	flagged := true
	docs, total, err := f.svc.ListDocuments(&dto.ModerationQuery{Flagged: &flagged})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "bob", docs[0].Username)
	assert.Equal(t, "spam", docs[0].FlagReason)

	// 作者仍可查看被标记的文档
	detail, err := f.docs.Get(owner.ID, doc.ID)
	require.NoError(t, err)
	assert.True(t, detail.Flagged)

	require.NoError(t, f.svc.UnflagDocument(doc.ID))
	_, total, err = f.svc.ListDocuments(&dto.ModerationQuery{Flagged: &flagged})
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, f.svc.DeleteDocument(admin.ID, doc.ID))
	assert.ErrorIs(t, f.svc.DeleteDocument(admin.ID, doc.ID), ErrContentNotFound)
	assert.ErrorIs(t, f.svc.FlagDocument(doc.ID, "x"), ErrContentNotFound)

	require.NoError(t, f.svc.FlagImage(img.ID, "nsfw"))
	images, total, err := f.svc.ListImages(&dto.ModerationQuery{Flagged: &flagged})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "nsfw", images[0].FlagReason)
	assert.Equal(t, owner.ID, images[0].UserID)

	require.NoError(t, f.svc.DeleteImage(admin.ID, img.ID))
	assert.ErrorIs(t, f.svc.FlagImage(img.ID, "x"), ErrImageNotFound)
}

func TestAdminService_SubscriptionsAndSettings(t *testing.T) {
	f := setupAdminService(t)
	ctx := context.Background()
	now := time.Now()

	u1 := testutil.TestUser(t, f.db)
	u2 := testutil.TestUser(t, f.db)
	testutil.TestSubscription(t, f.db, u1.ID, model.ProviderStripe, "pro", model.SubStatusActive, now.AddDate(0, 0, 10))
	testutil.TestSubscription(t, f.db, u2.ID, model.ProviderFatora, "team", model.SubStatusActive, now.AddDate(0, 0, 10))

	subs, total, err := f.svc.ListSubscriptions(&dto.AdminSubscriptionQuery{Search: u2.EmailOrEmpty()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, u2.ID, subs[0].UserID)

	_, total, err = f.svc.ListSubscriptions(&dto.AdminSubscriptionQuery{Search: "nobody@example.org"})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, total, err = f.svc.ListSubscriptions(&dto.AdminSubscriptionQuery{Provider: model.ProviderStripe})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// fatora 订阅同步只重新计算套餐
	synced, err := f.svc.SyncSubscription(ctx, subs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "team", synced.Plan)
	var got model.User
	require.NoError(t, f.db.First(&got, u2.ID).Error)
	assert.Equal(t, "team", got.Plan)

	_, err = f.svc.UpdateSettings(ctx, 1, map[string]interface{}{"unknown": 1})
	assert.ErrorIs(t, err, ErrUnknownSetting)

	values, err := f.svc.UpdateSettings(ctx, 1, map[string]interface{}{SettingAnnouncement: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", values[SettingAnnouncement])
}
