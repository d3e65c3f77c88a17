package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/aigc_server/config"
)

// Registry 按模型名称管理 Provider
type Registry struct {
	providers map[string]Provider
	models    map[string]config.ModelConfig
}

// NewRegistry 为每个配置了 API Key 的模型创建 Provider
func NewRegistry(ctx context.Context, models []config.ModelConfig) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]config.ModelConfig),
	}

	for _, m := range models {
		r.models[m.Name] = m
		if m.APIKey == "" {
			zap.L().Warn("model has no api key, disabled", zap.String("model", m.Name))
			continue
		}

		timeout := time.Duration(m.TimeoutSecond) * time.Second
		switch m.APIProvider {
		case "", "openai":
			r.providers[m.Name] = NewOpenAIProvider(m.APIKey, m.BaseURL, timeout)
		case "gemini":
			p, err := NewGeminiProvider(ctx, m.APIKey, m.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
			r.providers[m.Name] = p
		default:
			return nil, fmt.Errorf("model %s: unknown api provider %q", m.Name, m.APIProvider)
		}
	}
	return r, nil
}

// Register 手动注册 Provider（测试或自定义接入）
func (r *Registry) Register(model config.ModelConfig, p Provider) {
	r.models[model.Name] = model
	r.providers[model.Name] = p
}

// Get 根据名称获取 Provider
func (r *Registry) Get(name string) (Provider, error) {
	if _, ok := r.models[name]; !ok {
		return nil, ErrModelNotFound
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrModelUnavailable
	}
	return p, nil
}

// Available 模型是否可用
func (r *Registry) Available(name string) bool {
	_, ok := r.providers[name]
	return ok
}
