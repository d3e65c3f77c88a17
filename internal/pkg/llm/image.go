package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// OpenAIImageGenerator 调用 /images/generations，使用 b64_json 返回
type OpenAIImageGenerator struct {
	client *OpenAIProvider
}

func NewOpenAIImageGenerator(apiKey, baseURL string, timeout time.Duration) *OpenAIImageGenerator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OpenAIImageGenerator{client: NewOpenAIProvider(apiKey, baseURL, timeout)}
}

type imageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (g *OpenAIImageGenerator) Generate(ctx context.Context, req ImageRequest) ([]byte, error) {
	body, err := json.Marshal(imageRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		N:              1,
		Size:           req.Size,
		Style:          req.Style,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out imageResponse
	if err := g.client.post(ctx, "/images/generations", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, ErrEmptyCompletion
	}

	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return data, nil
}
