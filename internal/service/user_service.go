package service

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/model"
	"github.com/qs3c/aigc_server/internal/model/dto"
	"github.com/qs3c/aigc_server/internal/repository"
)

const maxAvatarSize = 5 << 20

var (
	ErrAvatarTooLarge     = errors.New("头像不能超过 5MB")
	ErrAvatarType         = errors.New("仅支持 jpg、png、webp 格式的头像")
	ErrStorageUnavailable = errors.New("存储服务未配置")
	ErrWrongPassword      = errors.New("原密码错误")
	ErrInvalidProfile     = errors.New("资料格式不正确")
)

var avatarExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ObjectStore 对象存储，oss.Client 实现了该接口
type ObjectStore interface {
	UploadAvatar(userID int64, data []byte, ext string) (string, error)
	UploadImage(userID int64, data []byte) (string, error)
	DeleteByURL(url string) error
}

type UserService struct {
	userRepo    *repository.UserRepository
	profileRepo *repository.ProfileRepository
	credits     *CreditService
	store       ObjectStore
	cfg         *config.Config
}

// NewUserService store 为空时不能上传头像
func NewUserService(userRepo *repository.UserRepository, profileRepo *repository.ProfileRepository, credits *CreditService, store ObjectStore, cfg *config.Config) *UserService {
	return &UserService{
		userRepo:    userRepo,
		profileRepo: profileRepo,
		credits:     credits,
		store:       store,
		cfg:         cfg,
	}
}

// GetProfile 获取用户详情
func (s *UserService) GetProfile(userID int64) (*dto.ProfileResponse, error) {
	user, err := s.getUser(userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profileRepo.GetProfile(userID)
	if err != nil {
		return nil, err
	}
	return s.buildProfile(user, profile), nil
}

// UpdateProfile 更新用户信息，只修改请求中给出的字段
func (s *UserService) UpdateProfile(userID int64, req *dto.UpdateProfileRequest) (*dto.ProfileResponse, error) {
	user, err := s.getUser(userID)
	if err != nil {
		return nil, err
	}

	// 检查用户名是否已被占用
	if req.Username != nil && *req.Username != user.Username {
		exists, err := s.userRepo.ExistsByUsername(*req.Username)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrUsernameExists
		}
		if err := s.userRepo.UpdateFields(userID, map[string]interface{}{"username": *req.Username}); err != nil {
			return nil, err
		}
		user.Username = *req.Username
	}

	profile, err := s.profileRepo.GetProfile(userID)
	if err != nil {
		return nil, err
	}

	if req.Website != nil {
		website := strings.TrimSpace(*req.Website)
		if website != "" && !strings.HasPrefix(website, "http://") && !strings.HasPrefix(website, "https://") {
			return nil, fmt.Errorf("%w: 网站地址需以 http:// 或 https:// 开头", ErrInvalidProfile)
		}
		profile.Website = website
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, fmt.Errorf("%w: 未知时区 %s", ErrInvalidProfile, *req.Timezone)
		}
		profile.Timezone = *req.Timezone
	}
	if req.FullName != nil {
		profile.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Company != nil {
		profile.Company = strings.TrimSpace(*req.Company)
	}
	if req.Bio != nil {
		profile.Bio = *req.Bio
	}
	if req.Language != nil {
		profile.Language = *req.Language
	}

	if err := s.profileRepo.SaveProfile(profile); err != nil {
		return nil, err
	}

	return s.buildProfile(user, profile), nil
}

// UploadAvatar 校验并上传头像，返回新的头像地址
func (s *UserService) UploadAvatar(userID int64, file io.Reader) (string, error) {
	if s.store == nil {
		return "", ErrStorageUnavailable
	}

	data, err := io.ReadAll(io.LimitReader(file, maxAvatarSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxAvatarSize {
		return "", ErrAvatarTooLarge
	}

	ext, ok := avatarExts[http.DetectContentType(data)]
	if !ok {
		return "", ErrAvatarType
	}

	avatarURL, err := s.store.UploadAvatar(userID, data, ext)
	if err != nil {
		return "", err
	}

	if err := s.userRepo.UpdateFields(userID, map[string]interface{}{"avatar_url": avatarURL}); err != nil {
		return "", err
	}
	return avatarURL, nil
}

// GetNotificationSettings 获取通知设置
func (s *UserService) GetNotificationSettings(userID int64) (*model.NotificationSetting, error) {
	return s.profileRepo.GetNotificationSetting(userID)
}

// UpdateNotificationSettings 部分更新通知设置
func (s *UserService) UpdateNotificationSettings(userID int64, req *dto.UpdateNotificationRequest) (*model.NotificationSetting, error) {
	setting, err := s.profileRepo.GetNotificationSetting(userID)
	if err != nil {
		return nil, err
	}

	if req.EmailOnGeneration != nil {
		setting.EmailOnGeneration = *req.EmailOnGeneration
	}
	if req.EmailOnBilling != nil {
		setting.EmailOnBilling = *req.EmailOnBilling
	}
	if req.ProductUpdates != nil {
		setting.ProductUpdates = *req.ProductUpdates
	}
	if req.WeeklyDigest != nil {
		setting.WeeklyDigest = *req.WeeklyDigest
	}

	if err := s.profileRepo.SaveNotificationSetting(setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// ChangePassword 修改密码，GitHub 用户首次设置密码时不校验原密码
func (s *UserService) ChangePassword(userID int64, req *dto.ChangePasswordRequest) error {
	user, err := s.getUser(userID)
	if err != nil {
		return err
	}

	if user.PasswordHash != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.OldPassword)); err != nil {
			return ErrWrongPassword
		}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.userRepo.UpdateFields(userID, map[string]interface{}{"password_hash": string(hashed)})
}

func (s *UserService) getUser(userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) buildProfile(user *model.User, profile *model.UserProfile) *dto.ProfileResponse {
	info := buildUserInfo(user)
	if credit, err := s.credits.Get(user.ID); err == nil {
		info.Credits = creditInfo(credit)
	}
	return &dto.ProfileResponse{
		UserInfo: info,
		FullName: profile.FullName,
		Company:  profile.Company,
		Website:  profile.Website,
		Bio:      profile.Bio,
		Language: profile.Language,
		Timezone: profile.Timezone,
	}
}
