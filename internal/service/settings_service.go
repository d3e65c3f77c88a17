package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/repository"
)

var (
	ErrUnknownSetting = errors.New("未知的设置项")
	ErrInvalidSetting = errors.New("设置值不合法")
)

// 后台可配置项
const (
	SettingMaintenanceMode    = "maintenance_mode"
	SettingSignupBonusCredits = "signup_bonus_credits"
	SettingDefaultModel       = "default_model"
	SettingAnnouncement       = "announcement"
	SettingMaxImageJobs       = "max_image_jobs_per_user"
)

const (
	settingsCacheKey = "settings:all"
	settingsCacheTTL = 60 * time.Second
)

type settingKind int

const (
	kindBool settingKind = iota
	kindInt
	kindString
)

type settingDef struct {
	key      string
	kind     settingKind
	def      string
	validate func(v string) error
}

type SettingsService struct {
	repo *repository.SettingRepository
	rdb  *redis.Client
	cfg  *config.Config
	defs []settingDef
}

// NewSettingsService rdb 为空时不使用缓存
func NewSettingsService(repo *repository.SettingRepository, rdb *redis.Client, cfg *config.Config) *SettingsService {
	s := &SettingsService{repo: repo, rdb: rdb, cfg: cfg}

	defaultModel := ""
	if len(cfg.Models) > 0 {
		defaultModel = cfg.Models[0].Name
	}

	s.defs = []settingDef{
		{key: SettingMaintenanceMode, kind: kindBool, def: "false"},
		{key: SettingSignupBonusCredits, kind: kindInt, def: strconv.Itoa(cfg.Credits.SignupBonus), validate: minInt(0)},
		{key: SettingDefaultModel, kind: kindString, def: defaultModel, validate: func(v string) error {
			if _, ok := cfg.Model(v); !ok {
				return fmt.Errorf("模型 %s 未配置", v)
			}
			return nil
		}},
		{key: SettingAnnouncement, kind: kindString, def: "", validate: func(v string) error {
			if len([]rune(v)) > 500 {
				return errors.New("公告不能超过 500 字")
			}
			return nil
		}},
		{key: SettingMaxImageJobs, kind: kindInt, def: "3", validate: minInt(1)},
	}
	return s
}

func minInt(min int) func(string) error {
	return func(v string) error {
		n, _ := strconv.Atoi(v)
		if n < min {
			return fmt.Errorf("不能小于 %d", min)
		}
		return nil
	}
}

// GetAll 默认值合并已保存的值，按类型返回
func (s *SettingsService) GetAll(ctx context.Context) (map[string]interface{}, error) {
	raw, err := s.raw(ctx)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(s.defs))
	for _, d := range s.defs {
		result[d.key] = d.typed(s.value(raw, d))
	}
	return result, nil
}

// Public 无需登录即可读取的设置
func (s *SettingsService) Public(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		SettingAnnouncement:    s.String(ctx, SettingAnnouncement),
		SettingMaintenanceMode: s.Bool(ctx, SettingMaintenanceMode),
	}
}

// Update 先校验全部字段再写入
func (s *SettingsService) Update(ctx context.Context, values map[string]interface{}, updatedBy int64) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: 没有需要更新的设置", ErrInvalidSetting)
	}

	normalized := make(map[string]string, len(values))
	for key, v := range values {
		d, ok := s.def(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
		}
		str, err := d.normalize(v)
		if err != nil {
			return fmt.Errorf("%w: %s %v", ErrInvalidSetting, key, err)
		}
		if d.validate != nil {
			if err := d.validate(str); err != nil {
				return fmt.Errorf("%w: %s %v", ErrInvalidSetting, key, err)
			}
		}
		normalized[key] = str
	}

	if err := s.repo.Upsert(normalized, updatedBy); err != nil {
		return err
	}
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, settingsCacheKey).Err(); err != nil {
			zap.L().Warn("invalidate settings cache failed", zap.Error(err))
		}
	}
	return nil
}

// Bool 读取布尔设置，出错时返回默认值
func (s *SettingsService) Bool(ctx context.Context, key string) bool {
	return s.get(ctx, key) == "true"
}

func (s *SettingsService) Int(ctx context.Context, key string) int {
	n, _ := strconv.Atoi(s.get(ctx, key))
	return n
}

func (s *SettingsService) String(ctx context.Context, key string) string {
	return s.get(ctx, key)
}

func (s *SettingsService) get(ctx context.Context, key string) string {
	d, ok := s.def(key)
	if !ok {
		return ""
	}
	raw, err := s.raw(ctx)
	if err != nil {
		zap.L().Warn("load settings failed, using default", zap.String("key", key), zap.Error(err))
		return d.def
	}
	return s.value(raw, d)
}

func (s *SettingsService) value(raw map[string]string, d settingDef) string {
	if v, ok := raw[d.key]; ok {
		return v
	}
	return d.def
}

func (s *SettingsService) def(key string) (settingDef, bool) {
	for _, d := range s.defs {
		if d.key == key {
			return d, true
		}
	}
	return settingDef{}, false
}

// raw 优先读 Redis 缓存，未命中时读库并回填
func (s *SettingsService) raw(ctx context.Context) (map[string]string, error) {
	if s.rdb != nil {
		data, err := s.rdb.Get(ctx, settingsCacheKey).Bytes()
		if err == nil {
			var cached map[string]string
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			zap.L().Warn("read settings cache failed", zap.Error(err))
		}
	}

	values, err := s.repo.All()
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if data, err := json.Marshal(values); err == nil {
			if err := s.rdb.Set(ctx, settingsCacheKey, data, settingsCacheTTL).Err(); err != nil {
				zap.L().Warn("write settings cache failed", zap.Error(err))
			}
		}
	}
	return values, nil
}

func (d settingDef) typed(v string) interface{} {
	switch d.kind {
	case kindBool:
		return v == "true"
	case kindInt:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return v
	}
}

// normalize 把 JSON 值转换为存储用的字符串
func (d settingDef) normalize(v interface{}) (string, error) {
	switch d.kind {
	case kindBool:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return "", errors.New("需要布尔值")
			}
			return strconv.FormatBool(parsed), nil
		}
		return "", errors.New("需要布尔值")

	case kindInt:
		switch n := v.(type) {
		case float64:
			if n != float64(int(n)) {
				return "", errors.New("需要整数")
			}
			return strconv.Itoa(int(n)), nil
		case int:
			return strconv.Itoa(n), nil
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return "", errors.New("需要整数")
			}
			return strconv.Itoa(parsed), nil
		}
		return "", errors.New("需要整数")

	default:
		str, ok := v.(string)
		if !ok {
			return "", errors.New("需要字符串")
		}
		return strings.TrimSpace(str), nil
	}
}
