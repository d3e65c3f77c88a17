// Package pubsub worker 与 API 进程之间的图片进度广播
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	ChannelImageProgress = "image_progress"
	MessageTypeProgress  = "image_progress"
)

// 进度阶段
const (
	StepQueued     = "queued"
	StepGenerating = "generating"
	StepUploading  = "uploading"
	StepDone       = "done"
	StepFailed     = "failed"
)

type stage struct {
	progress int
	label    string
}

var stages = map[string]stage{
	StepQueued:     {5, "排队中"},
	StepGenerating: {30, "正在生成图片"},
	StepUploading:  {80, "正在上传图片"},
	StepDone:       {100, "生成完成"},
	StepFailed:     {0, "生成失败"},
}

// ProgressMessage 图片生成进度
type ProgressMessage struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	ImageID  int64  `json:"image_id"`
	Status   string `json:"status"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	ImageURL string `json:"image_url,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Progress 按阶段填好百分比和提示文案
func Progress(userID, imageID int64, step, status string) *ProgressMessage {
	st := stages[step]
	return &ProgressMessage{
		Type:     MessageTypeProgress,
		UserID:   userID,
		ImageID:  imageID,
		Status:   status,
		Step:     step,
		Progress: st.progress,
		Message:  st.label,
	}
}

// Failed 失败消息，reason 同时作为提示和错误
func Failed(userID, imageID int64, status, reason string) *ProgressMessage {
	msg := Progress(userID, imageID, StepFailed, status)
	if reason != "" {
		msg.Message = reason
		msg.Error = reason
	}
	return msg
}

type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, msg *ProgressMessage) error {
	if msg.Type == "" {
		msg.Type = MessageTypeProgress
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	return p.rdb.Publish(ctx, ChannelImageProgress, payload).Err()
}

type Subscriber struct {
	rdb *redis.Client
}

func NewSubscriber(rdb *redis.Client) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Subscribe 阻塞直到 ctx 结束，订阅建立失败时立即返回错误
func (s *Subscriber) Subscribe(ctx context.Context, handle func(*ProgressMessage)) error {
	sub := s.rdb.Subscribe(ctx, ChannelImageProgress)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelImageProgress, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg ProgressMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				zap.L().Warn("drop malformed progress", zap.String("payload", raw.Payload), zap.Error(err))
				continue
			}
			handle(&msg)
		}
	}
}
