package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/llm"
	"github.com/qs3c/aigc_server/internal/pkg/queue"
	"github.com/qs3c/aigc_server/internal/pkg/ws"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrMaintenance       = errors.New("系统维护中，暂停生成")
	ErrGenerationFailed  = errors.New("内容生成失败")
	ErrPromptRequired    = errors.New("请填写图片描述")
	ErrInvalidImageSize  = errors.New("不支持的图片尺寸")
	ErrTooManyImageJobs  = errors.New("排队中的图片任务过多，请稍后再试")
	ErrQueueUnavailable  = errors.New("任务队列暂不可用")
	ErrNoModelConfigured = errors.New("未配置可用模型")
)

const (
	defaultGenerationTimeout = 90 * time.Second
	maxTitleRunes            = 80
)

// ProviderSource 按模型名获取 Provider，llm.Registry 实现了该接口
type ProviderSource interface {
	Get(name string) (llm.Provider, error)
}

// ImageQueue 图片任务队列
type ImageQueue interface {
	Push(ctx context.Context, job *queue.ImageJob) error
}

// Notifier 向用户推送实时消息
type Notifier interface {
	Send(userID int64, msgType string, data interface{})
}

type GenerationService struct {
	templates   *TemplateService
	credits     *CreditService
	settings    *SettingsService
	providers   ProviderSource
	contentRepo *repository.ContentRepository
	imageRepo   *repository.ImageRepository
	userRepo    *repository.UserRepository
	profileRepo *repository.ProfileRepository
	queue       ImageQueue
	notifier    Notifier
	mailer      *email.Service
	cfg         *config.Config
	timeout     time.Duration
}

func NewGenerationService(
	templates *TemplateService,
	credits *CreditService,
	settings *SettingsService,
	providers ProviderSource,
	contentRepo *repository.ContentRepository,
	imageRepo *repository.ImageRepository,
	userRepo *repository.UserRepository,
	profileRepo *repository.ProfileRepository,
	imageQueue ImageQueue,
	notifier Notifier,
	mailer *email.Service,
	cfg *config.Config,
) *GenerationService {
	return &GenerationService{
		templates:   templates,
		credits:     credits,
		settings:    settings,
		providers:   providers,
		contentRepo: contentRepo,
		imageRepo:   imageRepo,
		userRepo:    userRepo,
		profileRepo: profileRepo,
		queue:       imageQueue,
		notifier:    notifier,
		mailer:      mailer,
		cfg:         cfg,
		timeout:     defaultGenerationTimeout,
	}
}

// Generate 根据模板生成文本并保存为文档
func (s *GenerationService) Generate(ctx context.Context, userID int64, req *dto.GenerateRequest) (*dto.GenerateResponse, error) {
	if s.settings.Bool(ctx, SettingMaintenanceMode) {
		return nil, ErrMaintenance
	}

	tpl, err := s.templates.Get(req.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl.Kind != KindText {
		return nil, ErrWrongTemplateKind
	}

	values, err := s.templates.Validate(tpl, req.Inputs)
	if err != nil {
		return nil, err
	}
	prompt, err := s.templates.Render(tpl, values, RenderOptions{Tone: req.Tone, Language: req.Language})
	if err != nil {
		return nil, err
	}

	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	modelName := s.pickModel(ctx, req.Model, tpl)
	if modelName == "" {
		return nil, ErrNoModelConfigured
	}
	if err := s.credits.CheckModelPermission(user.Plan, modelName); err != nil {
		return nil, err
	}
	if !s.credits.PlanAllows(user.Plan, tpl.RequiredPlan) {
		return nil, ErrPlanRequired
	}
	provider, err := s.providers.Get(modelName)
	if err != nil {
		return nil, err
	}

	cost := tpl.CreditCost
	if err := s.credits.Reserve(userID, cost); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := provider.Complete(callCtx, llm.CompletionRequest{
		Model:       modelName,
		System:      tpl.SystemPrompt,
		Prompt:      prompt,
		MaxTokens:   tpl.MaxTokens,
		Temperature: s.temperature(tpl, modelName),
	})
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		s.refund(userID, cost)
		zap.L().Warn("generation failed",
			zap.Int64("user_id", userID),
			zap.String("template", tpl.ID),
			zap.String("model", modelName),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	inputs, _ := json.Marshal(values)
	text := strings.TrimSpace(completion.Text)
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = titleFromOutput(text, tpl.Name)
	}

	content := &model.GeneratedContent{
		UserID:       userID,
		TemplateID:   tpl.ID,
		Category:     tpl.Category,
		Title:        title,
		Content:      text,
		Prompt:       prompt,
		Inputs:       datatypes.JSON(inputs),
		ModelName:    modelName,
		Tone:         req.Tone,
		Language:     req.Language,
		WordCount:    countWords(text),
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		CreditsUsed:  cost,
	}
	if err := s.contentRepo.Create(content); err != nil {
		s.refund(userID, cost)
		return nil, err
	}

	detail := toDocumentDetail(content)
	credits, _ := s.credits.Info(userID)

	s.notifier.Send(userID, ws.TypeGenerationCompleted, detail)
	if credits != nil {
		s.notifier.Send(userID, ws.TypeCreditsUpdated, credits)
	}
	s.mailOnGeneration(user, content)

	zap.L().Info("content generated",
		zap.Int64("user_id", userID),
		zap.Int64("document_id", content.ID),
		zap.String("template", tpl.ID),
		zap.String("model", modelName),
		zap.Int("output_tokens", completion.OutputTokens))

	return &dto.GenerateResponse{
		Document: detail,
		Credits:  credits,
	}, nil
}

// GenerateImage 创建图片任务并放入队列
func (s *GenerationService) GenerateImage(ctx context.Context, userID int64, req *dto.GenerateImageRequest) (*dto.GenerateImageResponse, error) {
	if s.settings.Bool(ctx, SettingMaintenanceMode) {
		return nil, ErrMaintenance
	}

	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	prompt := strings.TrimSpace(req.Prompt)
	if req.TemplateID != "" {
		tpl, err := s.templates.Get(req.TemplateID)
		if err != nil {
			return nil, err
		}
		if tpl.Kind != KindImage {
			return nil, ErrWrongTemplateKind
		}
		if !s.credits.PlanAllows(user.Plan, tpl.RequiredPlan) {
			return nil, ErrPlanRequired
		}
		values, err := s.templates.Validate(tpl, req.Inputs)
		if err != nil {
			return nil, err
		}
		if prompt, err = s.templates.Render(tpl, values, RenderOptions{}); err != nil {
			return nil, err
		}
	}
	if prompt == "" {
		return nil, ErrPromptRequired
	}

	if len(s.cfg.Image.Sizes) > 0 && !containsString(s.cfg.Image.Sizes, req.Size) {
		return nil, ErrInvalidImageSize
	}

	pending, err := s.imageRepo.CountPending(userID)
	if err != nil {
		return nil, err
	}
	if pending >= int64(s.settings.Int(ctx, SettingMaxImageJobs)) {
		return nil, ErrTooManyImageJobs
	}

	cost := s.cfg.Image.CreditCost
	if err := s.credits.Reserve(userID, cost); err != nil {
		return nil, err
	}

	image := &model.GeneratedImage{
		UserID:      userID,
		TemplateID:  req.TemplateID,
		Prompt:      prompt,
		Size:        req.Size,
		Style:       req.Style,
		ModelName:   s.cfg.Image.Model,
		Status:      model.ImageQueued,
		CreditsUsed: cost,
	}
	if err := s.imageRepo.Create(image); err != nil {
		s.refund(userID, cost)
		return nil, err
	}

	job := &queue.ImageJob{
		ImageID:     image.ID,
		UserID:      userID,
		Prompt:      prompt,
		Size:        req.Size,
		Style:       req.Style,
		Model:       s.cfg.Image.Model,
		CreditsUsed: cost,
		EnqueuedAt:  time.Now(),
	}
	if err := s.queue.Push(ctx, job); err != nil {
		zap.L().Error("push image job failed", zap.Int64("image_id", image.ID), zap.Error(err))
		if uerr := s.imageRepo.UpdateFields(image.ID, map[string]interface{}{
			"status":        model.ImageFailed,
			"error_message": "任务入队失败",
		}); uerr != nil {
			zap.L().Error("mark image failed", zap.Int64("image_id", image.ID), zap.Error(uerr))
		}
		s.refund(userID, cost)
		return nil, ErrQueueUnavailable
	}

	credits, _ := s.credits.Info(userID)
	if credits != nil {
		s.notifier.Send(userID, ws.TypeCreditsUpdated, credits)
	}

	return &dto.GenerateImageResponse{
		ImageID: image.ID,
		Status:  image.Status,
		Credits: credits,
	}, nil
}

// pickModel 请求指定 > 模板默认 > 后台默认模型
func (s *GenerationService) pickModel(ctx context.Context, requested string, tpl *Template) string {
	if requested != "" {
		return requested
	}
	if tpl.Model != "" {
		return tpl.Model
	}
	return s.settings.String(ctx, SettingDefaultModel)
}

func (s *GenerationService) temperature(tpl *Template, modelName string) float64 {
	if tpl.Temperature > 0 {
		return tpl.Temperature
	}
	if m, ok := s.cfg.Model(modelName); ok && m.Temperature > 0 {
		return m.Temperature
	}
	return 0.7
}

func (s *GenerationService) loadUser(userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *GenerationService) refund(userID int64, n int) {
	if err := s.credits.Refund(userID, n); err != nil {
		zap.L().Error("refund after failure", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *GenerationService) mailOnGeneration(user *model.User, content *model.GeneratedContent) {
	if user.Email == nil {
		return
	}
	setting, err := s.profileRepo.GetNotificationSetting(user.ID)
	if err != nil || !setting.EmailOnGeneration {
		return
	}
	link := fmt.Sprintf("%s/documents/%d", strings.TrimRight(s.cfg.Server.FrontendURL, "/"), content.ID)
	logMailError("generation", s.mailer.SendGenerationDone(*user.Email, user.Username, content.Title, link))
}

// titleFromOutput 取第一行非空文本作为标题
func titleFromOutput(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#*>- ")
		line = strings.Trim(line, "*\"'“” ")
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxTitleRunes {
			return string(runes[:maxTitleRunes])
		}
		return line
	}
	return fallback
}
