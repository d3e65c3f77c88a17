package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrModelNotFound    = errors.New("模型不存在")
	ErrModelUnavailable = errors.New("模型暂不可用")
	ErrEmptyCompletion  = errors.New("模型未返回内容")
)

// CompletionRequest 一次文本生成请求
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion 文本生成结果
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// Provider 文本生成接口
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ImageRequest 图片生成请求
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	Style  string
}

// ImageGenerator 图片生成接口，返回 PNG 数据
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) ([]byte, error)
}

// APIError 上游返回的非 2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error: status %d: %s", e.Status, e.Message)
}

// Retryable 限流和服务端错误可以重试
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}
