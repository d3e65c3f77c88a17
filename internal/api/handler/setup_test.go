package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/api/middleware"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/oauth"
	"github.com/qs3c/aigc_server/internal/pkg/queue"
	"github.com/qs3c/aigc_server/internal/pkg/response"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
	"github.com/qs3c/aigc_server/internal/service"
	"github.com/qs3c/aigc_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testCatalog = `
templates:
  - id: intro
    name: Intro
    category: blog
    credit_cost: 2
    prompt: "Write an intro about {{.topic}}."
    fields:
      - {name: topic, type: text, required: true}
  - id: poster
    name: Poster
    category: image
    kind: image
    prompt: "A poster of {{.subject}}"
    fields:
      - {name: subject, type: text, required: true}
`

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Mode: "release", FrontendURL: "https://app.example.com"},
		JWT:     config.JWTConfig{Secret: "test-secret-key", ExpireHours: 24},
		Credits: config.CreditsConfig{SignupBonus: 10},
		Plans: []config.PlanConfig{
			{Name: "free", DisplayName: "Free", Rank: 0, MonthlyCredits: 20},
			{Name: "pro", DisplayName: "Pro", Rank: 1, MonthlyCredits: 500, PriceMonthly: 19, Currency: "USD", PaddlePriceMonthly: "pri_pro_m"},
		},
		Models: []config.ModelConfig{
			{Name: "gpt-4o-mini", DisplayName: "GPT-4o mini", RequiredPlan: "free"},
			{Name: "gpt-4o", DisplayName: "GPT-4o", RequiredPlan: "pro"},
		},
		Image:   config.ImageConfig{Model: "dall-e-3", CreditCost: 5, Sizes: []string{"512x512", "1024x1024"}},
		Billing: config.BillingConfig{GraceDays: 3},
		Upload:  config.UploadConfig{TempDir: "./tmp"},
	}
}

type stubProvider struct {
	mu   sync.Mutex
	text string
	err  error
}

func (p *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Completion{Text: p.text, InputTokens: 10, OutputTokens: 20}, nil
}

type stubProviders struct {
	p *stubProvider
}

func (s stubProviders) Get(name string) (llm.Provider, error) {
	return s.p, nil
}

// memStore 内存对象存储
type memStore struct {
	mu      sync.Mutex
	avatars map[int64][]byte
}

func (m *memStore) UploadAvatar(userID int64, data []byte, ext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.avatars == nil {
		m.avatars = make(map[int64][]byte)
	}
	m.avatars[userID] = data
	return fmt.Sprintf("https://cdn.example.com/avatars/%d%s", userID, ext), nil
}

func (m *memStore) UploadImage(userID int64, data []byte) (string, error) {
	return fmt.Sprintf("https://cdn.example.com/images/%d.png", userID), nil
}

func (m *memStore) DeleteByURL(url string) error { return nil }

type testEnv struct {
	db       *gorm.DB
	rdb      *redis.Client
	cfg      *config.Config
	provider *stubProvider
	queue    *queue.Queue
	store    *memStore
	credits  *service.CreditService
	settings *service.SettingsService
	billing  *service.BillingService

	auth       *AuthHandler
	user       *UserHandler
	generation *GenerationHandler
	documents  *DocumentHandler
	images     *ImageHandler
	billingH   *BillingHandler
	admin      *AdminHandler
	models     *ModelsHandler
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	rdb, _ := testutil.SetupTestRedis(t)

	cfg := testConfig()
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	contentRepo := repository.NewContentRepository(db)
	imageRepo := repository.NewImageRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	templates, err := service.NewTemplateService([]byte(testCatalog))
	require.NoError(t, err)

	hub := ws.NewHub()
	mailer := email.NewService(&cfg.Email)
	store := &memStore{}
	provider := &stubProvider{text: "# Gophers\n\nGophers dig tunnels."}
	q := queue.NewQueue(rdb, "test:images")

	credits := service.NewCreditService(repository.NewCreditRepository(db), cfg)
	settings := service.NewSettingsService(repository.NewSettingRepository(db), rdb, cfg)
	authSvc := service.NewAuthService(userRepo, profileRepo, credits, settings, mailer, oauth.NewStateStore(rdb), cfg)
	userSvc := service.NewUserService(userRepo, profileRepo, credits, store, cfg)
	generation := service.NewGenerationService(
		templates, credits, settings, stubProviders{p: provider},
		contentRepo, imageRepo, userRepo, profileRepo,
		q, hub, mailer, cfg,
	)
	documents := service.NewDocumentService(contentRepo, imageRepo)
	images := service.NewImageService(imageRepo, store, cfg)
	billing := service.NewBillingService(subRepo, paymentRepo, userRepo, profileRepo, credits, mailer, hub, cfg)
	admin := service.NewAdminService(userRepo, contentRepo, imageRepo, subRepo, paymentRepo, credits, settings, images, billing, hub, cfg)

	return &testEnv{
		db:         db,
		rdb:        rdb,
		cfg:        cfg,
		provider:   provider,
		queue:      q,
		store:      store,
		credits:    credits,
		settings:   settings,
		billing:    billing,
		auth:       NewAuthHandler(authSvc, cfg.Server.FrontendURL),
		user:       NewUserHandler(userSvc, credits),
		generation: NewGenerationHandler(templates, generation),
		documents:  NewDocumentHandler(documents),
		images:     NewImageHandler(images),
		billingH:   NewBillingHandler(billing),
		admin:      NewAdminHandler(admin),
		models:     NewModelsHandler(cfg, settings),
	}
}

// newUser 创建带积分账户的用户
func (e *testEnv) newUser(t *testing.T, opts ...func(*model.User)) *model.User {
	t.Helper()
	user := testutil.TestUser(t, e.db, opts...)
	_, err := e.credits.Ensure(user.ID, user.Plan)
	require.NoError(t, err)
	return user
}

// mockAuth 跳过 JWT，直接注入登录用户
func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return data
}
