// Package queue 基于 Redis 列表的图片生成任务队列，LPUSH 入队 BRPOP 出队
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ImageJob 图片生成任务，CreditsUsed 用于失败时退款
type ImageJob struct {
	ImageID     int64     `json:"image_id"`
	UserID      int64     `json:"user_id"`
	Prompt      string    `json:"prompt"`
	Size        string    `json:"size"`
	Style       string    `json:"style,omitempty"`
	Model       string    `json:"model"`
	CreditsUsed int       `json:"credits_used"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type Queue struct {
	rdb *redis.Client
	key string
}

func NewQueue(rdb *redis.Client, key string) *Queue {
	return &Queue{rdb: rdb, key: key}
}

// Push 入队，未设置入队时间时补上当前时间
func (q *Queue) Push(ctx context.Context, job *ImageJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %d: %w", job.ImageID, err)
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.key, err)
	}
	return nil
}

// Pop 阻塞等待任务，超时返回 nil, nil
// 无法解析的消息直接丢弃，避免 worker 反复失败
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*ImageJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("pop %s: %w", q.key, err)
	case len(res) != 2:
		return nil, nil
	}

	var job ImageJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		zap.L().Error("drop malformed image job", zap.String("queue", q.key), zap.String("payload", res[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Length 排队中的任务数
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
