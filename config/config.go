package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OSS       OSSConfig       `mapstructure:"oss"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Email     EmailConfig     `mapstructure:"email"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Plans     []PlanConfig    `mapstructure:"plans"`
	Models    []ModelConfig   `mapstructure:"models"`
	Image     ImageConfig     `mapstructure:"image"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Mode        string `mapstructure:"mode"`
	PublicURL   string `mapstructure:"public_url"`   // 后端对外地址，用于支付回调
	FrontendURL string `mapstructure:"frontend_url"` // 前端地址，用于跳转
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	DSN          string `mapstructure:"dsn"`    // 设置后优先使用
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type EmailConfig struct {
	Provider       string `mapstructure:"provider"` // sendgrid, smtp, 为空时不发送
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	From           string `mapstructure:"from"`
	FromName       string `mapstructure:"from_name"`
}

type QueueConfig struct {
	ImageQueue string `mapstructure:"image_queue"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type RateLimitConfig struct {
	GenerationsPerMinute int `mapstructure:"generations_per_minute"`
}

type CreditsConfig struct {
	SignupBonus int `mapstructure:"signup_bonus"`
}

// PlanConfig 套餐定义，free 套餐可以不配置
type PlanConfig struct {
	Name               string   `mapstructure:"name"`
	DisplayName        string   `mapstructure:"display_name"`
	Rank               int      `mapstructure:"rank"`
	MonthlyCredits     int      `mapstructure:"monthly_credits"`
	PriceMonthly       float64  `mapstructure:"price_monthly"`
	PriceYearly        float64  `mapstructure:"price_yearly"`
	Currency           string   `mapstructure:"currency"`
	StripePriceMonthly string   `mapstructure:"stripe_price_monthly"`
	StripePriceYearly  string   `mapstructure:"stripe_price_yearly"`
	PaddlePriceMonthly string   `mapstructure:"paddle_price_monthly"`
	PaddlePriceYearly  string   `mapstructure:"paddle_price_yearly"`
	Features           []string `mapstructure:"features"`
}

type ModelConfig struct {
	Name          string  `mapstructure:"name"`
	DisplayName   string  `mapstructure:"display_name"`
	RequiredPlan  string  `mapstructure:"required_plan"`
	APIKey        string  `mapstructure:"api_key"`
	APIProvider   string  `mapstructure:"api_provider"` // openai, gemini
	BaseURL       string  `mapstructure:"base_url"`
	Description   string  `mapstructure:"description"`
	TimeoutSecond int     `mapstructure:"timeout_seconds"`
	Temperature   float64 `mapstructure:"temperature"`
}

type ImageConfig struct {
	Model      string   `mapstructure:"model"`
	APIKey     string   `mapstructure:"api_key"`
	BaseURL    string   `mapstructure:"base_url"`
	CreditCost int      `mapstructure:"credit_cost"`
	Sizes      []string `mapstructure:"sizes"`
}

type TemplatesConfig struct {
	Path string `mapstructure:"path"`
}

type BillingConfig struct {
	SuccessURL string       `mapstructure:"success_url"`
	CancelURL  string       `mapstructure:"cancel_url"`
	GraceDays  int          `mapstructure:"grace_days"`
	Stripe     StripeConfig `mapstructure:"stripe"`
	Paddle     PaddleConfig `mapstructure:"paddle"`
	Fatora     FatoraConfig `mapstructure:"fatora"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PaddleConfig struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type FatoraConfig struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type UploadConfig struct {
	MaxSize     int64  `mapstructure:"max_size"`     // 最大文件大小（字节）
	TempDir     string `mapstructure:"temp_dir"`     // 本地存储目录（OSS 未配置时使用）
	ExpireHours int    `mapstructure:"expire_hours"` // 本地文件过期时间（小时）
}

type AnalyticsConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Plan 根据名称获取套餐，找不到时返回内置 free 套餐
func (c *Config) Plan(name string) PlanConfig {
	for _, p := range c.Plans {
		if p.Name == name {
			return p
		}
	}
	for _, p := range c.Plans {
		if p.Name == "free" {
			return p
		}
	}
	return PlanConfig{Name: "free", DisplayName: "Free", Rank: 0}
}

// HasPlan 套餐是否存在（free 始终存在）
func (c *Config) HasPlan(name string) bool {
	if name == "free" {
		return true
	}
	for _, p := range c.Plans {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Model 根据名称获取模型配置
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

func Load(configPath string) (*Config, error) {
	// .env 不存在时直接使用系统环境变量
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("jwt.expire_hours", 72)
	v.SetDefault("queue.image_queue", "image_jobs")
	v.SetDefault("queue.max_workers", 2)
	v.SetDefault("rate_limit.generations_per_minute", 20)
	v.SetDefault("image.credit_cost", 5)
	v.SetDefault("templates.path", "templates.yaml")
	v.SetDefault("billing.grace_days", 3)
	v.SetDefault("upload.temp_dir", "/tmp/aigc")
	v.SetDefault("upload.expire_hours", 24)
	v.SetDefault("analytics.timezone", "UTC")
}
