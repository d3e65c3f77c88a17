package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/pubsub"
	"github.com/qs3c/aigc_server/internal/pkg/queue"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
	"github.com/qs3c/aigc_server/internal/testutil"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	last  llm.ImageRequest
	data  []byte
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, req llm.ImageRequest) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.data, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded map[int64][]byte
	err      error
}

func (u *fakeUploader) UploadImage(userID int64, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return "", u.err
	}
	if u.uploaded == nil {
		u.uploaded = make(map[int64][]byte)
	}
	u.uploaded[userID] = data
	return "https://cdn.example.com/images/generated.png", nil
}

type workerEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	imageRepo *repository.ImageRepository
	credits   *service.CreditService
	generator *fakeGenerator
}

func setupWorker(t *testing.T) *workerEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	cfg := &config.Config{
		Plans:  []config.PlanConfig{{Name: "free", MonthlyCredits: 20}},
		Image:  config.ImageConfig{Model: "dall-e-3", CreditCost: 5},
		Upload: config.UploadConfig{TempDir: t.TempDir()},
	}

	return &workerEnv{
		db:        db,
		cfg:       cfg,
		imageRepo: repository.NewImageRepository(db),
		credits:   service.NewCreditService(repository.NewCreditRepository(db), cfg),
		generator: &fakeGenerator{data: []byte("png-data")},
	}
}

func (e *workerEnv) processor(uploader ImageUploader, publisher *pubsub.Publisher) *Processor {
	return NewProcessor(e.imageRepo, e.credits, e.generator, uploader, publisher, e.cfg)
}

func (e *workerEnv) reload(t *testing.T, id int64) *model.GeneratedImage {
	t.Helper()
	var image model.GeneratedImage
	require.NoError(t, e.db.First(&image, id).Error)
	return &image
}

func jobFor(image *model.GeneratedImage) *queue.ImageJob {
	return &queue.ImageJob{
		ImageID:     image.ID,
		UserID:      image.UserID,
		Prompt:      image.Prompt,
		Size:        image.Size,
		Model:       "dall-e-3",
		CreditsUsed: image.CreditsUsed,
		EnqueuedAt:  time.Now(),
	}
}

func TestProcessor_SavesLocallyWithoutOSS(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)

	err := e.processor(nil, nil).Process(context.Background(), jobFor(image))
	require.NoError(t, err)

	stored := e.reload(t, image.ID)
	assert.Equal(t, model.ImageCompleted, stored.Status)
	assert.Equal(t, model.LocalImageURL(image.ID), stored.ImageURL)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)

	data, err := os.ReadFile(model.LocalImagePath(e.cfg.Upload.TempDir, image.ID))
	require.NoError(t, err)
	assert.Equal(t, "png-data", string(data))

	assert.Equal(t, "a red fox in the snow", e.generator.last.Prompt)
	assert.Equal(t, "512x512", e.generator.last.Size)
}

func TestProcessor_UploadsToOSS(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)
	uploader := &fakeUploader{}

	require.NoError(t, e.processor(uploader, nil).Process(context.Background(), jobFor(image)))

	stored := e.reload(t, image.ID)
	assert.Equal(t, model.ImageCompleted, stored.Status)
	assert.Equal(t, "https://cdn.example.com/images/generated.png", stored.ImageURL)
	assert.Equal(t, []byte("png-data"), uploader.uploaded[user.ID])

	_, err := os.Stat(model.LocalImagePath(e.cfg.Upload.TempDir, image.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_UploadFailureFallsBackToLocal(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)

	uploader := &fakeUploader{err: errors.New("oss unavailable")}
	require.NoError(t, e.processor(uploader, nil).Process(context.Background(), jobFor(image)))

	stored := e.reload(t, image.ID)
	assert.Equal(t, model.ImageCompleted, stored.Status)
	assert.True(t, stored.IsLocal())
}

func TestProcessor_GenerationFailureRefunds(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	testutil.TestCredit(t, e.db, user.ID, 20, 5)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)
	e.generator.err = &llm.APIError{Status: 400, Message: "content policy violation"}

	err := e.processor(nil, nil).Process(context.Background(), jobFor(image))
	require.Error(t, err)

	stored := e.reload(t, image.ID)
	assert.Equal(t, model.ImageFailed, stored.Status)
	assert.Equal(t, failedMessage, stored.ErrorMessage)
	assert.Empty(t, stored.ImageURL)

	var credit model.Credit
	require.NoError(t, e.db.Where("user_id = ?", user.ID).First(&credit).Error)
	assert.Equal(t, 0, credit.Used)
}

func TestProcessor_SkipsFinishedOrDeletedImages(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	failed := testutil.TestImage(t, e.db, user.ID, model.ImageFailed)
	p := e.processor(nil, nil)

	assert.NoError(t, p.Process(context.Background(), jobFor(failed)))
	assert.NoError(t, p.Process(context.Background(), &queue.ImageJob{ImageID: 99999, UserID: user.ID}))
	assert.Equal(t, 0, e.generator.callCount())
	assert.Equal(t, model.ImageFailed, e.reload(t, failed.ID).Status)
}

func TestProcessor_PublishesProgress(t *testing.T) {
	e := setupWorker(t)
	rdb, _ := testutil.SetupTestRedis(t)
	user := testutil.TestUser(t, e.db)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, pubsub.ChannelImageProgress)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	require.NoError(t, e.processor(nil, pubsub.NewPublisher(rdb)).Process(ctx, jobFor(image)))

	var steps []string
	var last pubsub.ProgressMessage
	for len(steps) < 3 {
		select {
		case msg := <-ch:
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &last))
			steps = append(steps, last.Step)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for progress, got %v", steps)
		}
	}

	assert.Equal(t, []string{pubsub.StepGenerating, pubsub.StepUploading, pubsub.StepDone}, steps)
	assert.Equal(t, user.ID, last.UserID)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, fmt.Sprintf("/api/v1/images/%d/file", image.ID), last.ImageURL)
}

type chanSource chan *queue.ImageJob

func (c chanSource) Pop(ctx context.Context, timeout time.Duration) (*queue.ImageJob, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job := <-c:
		return job, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func TestPool_RunProcessesUntilCanceled(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	first := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)
	second := testutil.TestImage(t, e.db, user.ID, model.ImageQueued)

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	source := make(chanSource, 2)
	source <- jobFor(first)
	source <- jobFor(second)

	pool := NewPool(source, e.processor(nil, nil), 2)
	pool.PopTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return e.reload(t, first.ID).Status == model.ImageCompleted &&
			e.reload(t, second.ID).Status == model.ImageCompleted
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestReuploader_Run(t *testing.T) {
	e := setupWorker(t)
	user := testutil.TestUser(t, e.db)
	image := testutil.TestImage(t, e.db, user.ID, model.ImageCompleted)
	require.NoError(t, e.imageRepo.UpdateFields(image.ID, map[string]interface{}{"image_url": model.LocalImageURL(image.ID)}))
	missing := testutil.TestImage(t, e.db, user.ID, model.ImageCompleted)
	require.NoError(t, e.imageRepo.UpdateFields(missing.ID, map[string]interface{}{"image_url": model.LocalImageURL(missing.ID)}))

	path := model.LocalImagePath(e.cfg.Upload.TempDir, image.ID)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("local-png"), 0644))

	t.Run("upload failure keeps file", func(t *testing.T) {
		r := NewReuploader(e.imageRepo, &fakeUploader{err: errors.New("down")}, e.cfg)
		assert.Equal(t, 0, r.Run())
		assert.FileExists(t, path)
		assert.True(t, e.reload(t, image.ID).IsLocal())
	})

	t.Run("uploads and removes file", func(t *testing.T) {
		uploader := &fakeUploader{}
		r := NewReuploader(e.imageRepo, uploader, e.cfg)
		assert.Equal(t, 1, r.Run())
		assert.NoFileExists(t, path)
		assert.Equal(t, "https://cdn.example.com/images/generated.png", e.reload(t, image.ID).ImageURL)
		assert.Equal(t, []byte("local-png"), uploader.uploaded[user.ID])

		// 本地文件丢失的记录保持原样
		assert.True(t, e.reload(t, missing.ID).IsLocal())
	})
}
