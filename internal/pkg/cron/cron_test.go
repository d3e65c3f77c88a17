package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
	"github.com/qs3c/aigc_server/internal/testutil"
)

func setupCronService(t *testing.T) (*Service, *gorm.DB, *config.Config) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Plans: []config.PlanConfig{
			{Name: "free", MonthlyCredits: 20},
			{Name: "pro", Rank: 1, MonthlyCredits: 500},
		},
		Billing: config.BillingConfig{GraceDays: 3},
		Upload:  config.UploadConfig{TempDir: t.TempDir(), ExpireHours: 1},
	}

	userRepo := repository.NewUserRepository(db)
	imageRepo := repository.NewImageRepository(db)
	credits := service.NewCreditService(repository.NewCreditRepository(db), cfg)
	billing := service.NewBillingService(
		repository.NewSubscriptionRepository(db),
		repository.NewPaymentRepository(db),
		userRepo,
		repository.NewProfileRepository(db),
		credits,
		email.NewService(&cfg.Email),
		ws.NewHub(),
		cfg,
	)

	return NewService(credits, billing, imageRepo, ws.NewHub(), cfg), db, cfg
}

func TestService_StartAndStop(t *testing.T) {
	svc, _, _ := setupCronService(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	svc.interval = 10 * time.Millisecond
	svc.Start()
	time.Sleep(30 * time.Millisecond)
	svc.Stop()

	// 重复 Stop 不会 panic
	svc.Stop()
}

func TestService_StopBeforeStart(t *testing.T) {
	svc, _, _ := setupCronService(t)
	svc.Stop()
}

func TestService_RunNow_RollsCreditPeriods(t *testing.T) {
	svc, db, _ := setupCronService(t)
	user := testutil.TestUser(t, db)

	credit := testutil.TestCredit(t, db, user.ID, 20, 17)
	require.NoError(t, db.Model(credit).Updates(map[string]interface{}{
		"period_start": time.Now().AddDate(0, -1, -2),
		"period_end":   time.Now().AddDate(0, 0, -2),
	}).Error)

	require.NoError(t, svc.RunNow(context.Background()))

	var stored model.Credit
	require.NoError(t, db.First(&stored, credit.ID).Error)
	assert.Equal(t, 0, stored.Used)
	assert.Equal(t, 20, stored.Total)
	assert.True(t, stored.PeriodEnd.After(time.Now()))
}

func TestService_RunNow_ExpiresLapsedSubscriptions(t *testing.T) {
	svc, db, _ := setupCronService(t)
	user := testutil.TestUser(t, db, testutil.WithPlan("pro"))
	testutil.TestCredit(t, db, user.ID, 500, 10)

	lapsed := testutil.TestSubscription(t, db, user.ID, model.ProviderFatora, "pro", model.SubStatusActive, time.Now().AddDate(0, 0, -5))
	// 宽限期内不处理
	other := testutil.TestUser(t, db, testutil.WithPlan("pro"))
	inGrace := testutil.TestSubscription(t, db, other.ID, model.ProviderFatora, "pro", model.SubStatusActive, time.Now().AddDate(0, 0, -1))

	require.NoError(t, svc.RunNow(context.Background()))

	var sub model.Subscription
	require.NoError(t, db.First(&sub, lapsed.ID).Error)
	assert.Equal(t, model.SubStatusExpired, sub.Status)

	var stored model.User
	require.NoError(t, db.First(&stored, user.ID).Error)
	assert.Equal(t, "free", stored.Plan)

	var graced model.Subscription
	require.NoError(t, db.First(&graced, inGrace.ID).Error)
	assert.Equal(t, model.SubStatusActive, graced.Status)
}

func TestService_FailStaleImages(t *testing.T) {
	svc, db, _ := setupCronService(t)
	user := testutil.TestUser(t, db)
	testutil.TestCredit(t, db, user.ID, 20, 10)

	stale := testutil.TestImage(t, db, user.ID, model.ImageProcessing)
	require.NoError(t, db.Model(stale).UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)
	fresh := testutil.TestImage(t, db, user.ID, model.ImageQueued)
	done := testutil.TestImage(t, db, user.ID, model.ImageCompleted)
	require.NoError(t, db.Model(done).UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	n, err := svc.FailStaleImages(time.Now().Add(-StaleImageAfter))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var image model.GeneratedImage
	require.NoError(t, db.First(&image, stale.ID).Error)
	assert.Equal(t, model.ImageFailed, image.Status)
	assert.Equal(t, staleMessage, image.ErrorMessage)

	var queued, completed model.GeneratedImage
	require.NoError(t, db.First(&queued, fresh.ID).Error)
	assert.Equal(t, model.ImageQueued, queued.Status)
	require.NoError(t, db.First(&completed, done.ID).Error)
	assert.Equal(t, model.ImageCompleted, completed.Status)

	var credit model.Credit
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&credit).Error)
	assert.Equal(t, 5, credit.Used)
}

func TestService_CleanupLocalImages(t *testing.T) {
	svc, db, cfg := setupCronService(t)
	user := testutil.TestUser(t, db)

	local := testutil.TestImage(t, db, user.ID, model.ImageCompleted)
	require.NoError(t, db.Model(local).Update("image_url", model.LocalImageURL(local.ID)).Error)
	migrated := testutil.TestImage(t, db, user.ID, model.ImageCompleted, testutil.WithImageURL("https://cdn.example.com/x.png"))

	old := time.Now().Add(-2 * time.Hour)
	write := func(id int64, mtime time.Time) string {
		path := model.LocalImagePath(cfg.Upload.TempDir, id)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("png"), 0644))
		require.NoError(t, os.Chtimes(path, mtime, mtime))
		return path
	}

	keep := write(local.ID, old)
	uploaded := write(migrated.ID, old)
	orphan := write(99999, old)
	recent := write(88888, time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(keep), "notes.txt"), []byte("x"), 0644))

	paths, err := svc.OrphanLocalImages()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{uploaded, orphan}, paths)
	assert.FileExists(t, orphan)

	n, err := svc.CleanupLocalImages()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.FileExists(t, keep)
	assert.FileExists(t, recent)
	assert.NoFileExists(t, uploaded)
	assert.NoFileExists(t, orphan)
}

func TestService_CleanupLocalImages_NoDir(t *testing.T) {
	svc, _, _ := setupCronService(t)
	n, err := svc.CleanupLocalImages()
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
