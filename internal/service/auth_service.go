package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/pkg/email"
	"github.com/qs3c/aigc_server/internal/pkg/jwt"
	"github.com/qs3c/aigc_server/internal/pkg/oauth"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrEmailExists        = errors.New("邮箱已被注册")
	ErrUsernameExists     = errors.New("用户名已被使用")
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrEmailNotVerified   = errors.New("邮箱尚未验证")
	ErrInvalidVerifyCode  = errors.New("验证码无效或已过期")
	ErrUserNotFound       = errors.New("用户不存在")
	ErrUserBanned         = errors.New("账号已被封禁")
	ErrOAuthNotConfigured = errors.New("GitHub 登录未开启")
)

const verifyCodeTTL = 24 * time.Hour

type AuthService struct {
	userRepo    *repository.UserRepository
	profileRepo *repository.ProfileRepository
	credits     *CreditService
	settings    *SettingsService
	mailer      *email.Service
	githubOAuth *oauth.GithubOAuth
	states      *oauth.StateStore
	cfg         *config.Config
}

func NewAuthService(
	userRepo *repository.UserRepository,
	profileRepo *repository.ProfileRepository,
	credits *CreditService,
	settings *SettingsService,
	mailer *email.Service,
	states *oauth.StateStore,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		profileRepo: profileRepo,
		credits:     credits,
		settings:    settings,
		mailer:      mailer,
		githubOAuth: oauth.NewGithubOAuth(cfg.OAuth.Github),
		states:      states,
		cfg:         cfg,
	}
}

// Register 用户注册
func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	exists, err := s.userRepo.ExistsByEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	exists, err = s.userRepo.ExistsByUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUsernameExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	verifyCode, err := generateRandomCode(32)
	if err != nil {
		return nil, err
	}

	passwordStr := string(hashedPassword)
	expiresAt := time.Now().Add(verifyCodeTTL)
	user := &model.User{
		Username:              req.Username,
		Email:                 &req.Email,
		PasswordHash:          &passwordStr,
		Role:                  model.RoleUser,
		Status:                model.UserStatusActive,
		Plan:                  "free",
		VerificationCode:      &verifyCode,
		VerificationExpiresAt: &expiresAt,
	}

	// 开发环境自动验证邮箱
	if s.cfg.Server.Mode == "debug" {
		user.EmailVerified = true
		user.VerificationCode = nil
		user.VerificationExpiresAt = nil
	}

	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}

	if err := s.setupAccount(ctx, user.ID); err != nil {
		return nil, err
	}

	if !user.EmailVerified {
		logMailError("verification", s.mailer.SendVerificationCode(req.Email, verifyCode))
	}

	return &dto.RegisterResponse{
		UserID: user.ID,
	}, nil
}

// setupAccount 新用户的资料、通知设置、积分账户和注册奖励
func (s *AuthService) setupAccount(ctx context.Context, userID int64) error {
	if err := s.profileRepo.CreateDefaults(userID); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if _, err := s.credits.Ensure(userID, "free"); err != nil {
		return fmt.Errorf("create credit account: %w", err)
	}
	if bonus := s.settings.Int(ctx, SettingSignupBonusCredits); bonus > 0 {
		if _, err := s.credits.Grant(userID, bonus); err != nil {
			return fmt.Errorf("grant signup bonus: %w", err)
		}
	}
	return nil
}

// Login 用户登录
func (s *AuthService) Login(req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 生产环境强制要求验证邮箱
	if !user.EmailVerified && s.cfg.Server.Mode != "debug" {
		return nil, ErrEmailNotVerified
	}

	return s.issue(user)
}

// VerifyEmail 验证邮箱，验证码只能使用一次
func (s *AuthService) VerifyEmail(code string) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByVerificationCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidVerifyCode
		}
		return nil, err
	}

	if user.VerificationExpiresAt == nil || time.Now().After(*user.VerificationExpiresAt) {
		return nil, ErrInvalidVerifyCode
	}

	user.EmailVerified = true
	user.VerificationCode = nil
	user.VerificationExpiresAt = nil
	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}

	logMailError("welcome", s.mailer.SendWelcome(user.EmailOrEmpty(), user.Username))

	return s.issue(user)
}

// GetUserByID 根据 ID 获取用户
func (s *AuthService) GetUserByID(id int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Me 当前用户信息（含积分）
func (s *AuthService) Me(userID int64) (*dto.UserInfo, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	return s.userInfo(user), nil
}

// GithubAuthURL 生成 state 并返回 GitHub 授权地址
func (s *AuthService) GithubAuthURL(ctx context.Context, redirect string) (string, error) {
	if !s.githubOAuth.Configured() || s.states == nil {
		return "", ErrOAuthNotConfigured
	}
	state, err := s.states.Issue(ctx, redirect)
	if err != nil {
		return "", err
	}
	return s.githubOAuth.AuthURL(state), nil
}

// GithubCallback 处理 GitHub OAuth 回调，返回登录信息和前端跳转地址
func (s *AuthService) GithubCallback(ctx context.Context, state, code string) (*dto.LoginResponse, string, error) {
	if s.states == nil {
		return nil, "", ErrOAuthNotConfigured
	}
	redirect, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, "", err
	}

	githubUser, err := s.githubOAuth.Authenticate(ctx, code)
	if err != nil {
		return nil, "", err
	}

	user, err := s.findOrCreateGithubUser(ctx, githubUser)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.issue(user)
	if err != nil {
		return nil, "", err
	}
	return resp, redirect, nil
}

func (s *AuthService) findOrCreateGithubUser(ctx context.Context, githubUser *oauth.GithubUser) (*model.User, error) {
	githubIDStr := fmt.Sprintf("%d", githubUser.ID)

	user, err := s.userRepo.GetByGithubID(githubIDStr)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 邮箱已注册时绑定到原账号
	if githubUser.Email != "" {
		existing, err := s.userRepo.GetByEmail(githubUser.Email)
		if err == nil {
			existing.GithubID = &githubIDStr
			existing.EmailVerified = true
			if existing.AvatarURL == "" {
				existing.AvatarURL = githubUser.AvatarURL
			}
			if err := s.userRepo.Update(existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	user = &model.User{
		Username:      githubUser.Login,
		GithubID:      &githubIDStr,
		AvatarURL:     githubUser.AvatarURL,
		Role:          model.RoleUser,
		Status:        model.UserStatusActive,
		Plan:          "free",
		EmailVerified: true,
	}
	if githubUser.Email != "" {
		user.Email = &githubUser.Email
	}

	// 确保用户名唯一
	exists, err := s.userRepo.ExistsByUsername(user.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		user.Username = fmt.Sprintf("%s_%d", githubUser.Login, githubUser.ID)
	}

	if err := s.userRepo.Create(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if err := s.setupAccount(ctx, user.ID); err != nil {
		return nil, err
	}

	if user.Email != nil {
		logMailError("welcome", s.mailer.SendWelcome(*user.Email, user.Username))
	}
	return user, nil
}

// issue 检查账号状态，签发 token 并记录登录时间
func (s *AuthService) issue(user *model.User) (*dto.LoginResponse, error) {
	if user.Status == model.UserStatusBanned {
		return nil, ErrUserBanned
	}

	token, err := jwt.GenerateToken(user.ID, user.Role, s.cfg.JWT.Secret, s.cfg.JWT.ExpireHours)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.userRepo.TouchLogin(user.ID, now); err != nil {
		zap.L().Warn("update last login failed", zap.Int64("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	return &dto.LoginResponse{
		Token: token,
		User:  s.userInfo(user),
	}, nil
}

func (s *AuthService) userInfo(user *model.User) *dto.UserInfo {
	info := buildUserInfo(user)
	if credit, err := s.credits.Get(user.ID); err == nil {
		info.Credits = creditInfo(credit)
	} else {
		zap.L().Warn("load credits failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return info
}

func buildUserInfo(user *model.User) *dto.UserInfo {
	return &dto.UserInfo{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.EmailOrEmpty(),
		AvatarURL:     user.AvatarURL,
		Role:          user.Role,
		Status:        user.Status,
		Plan:          user.Plan,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
	}
}

func generateRandomCode(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// logMailError 邮件发送失败只记录日志
func logMailError(kind string, err error) {
	if err == nil || errors.Is(err, email.ErrDisabled) {
		return
	}
	zap.L().Warn("send email failed", zap.String("kind", kind), zap.Error(err))
}
