package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	stateKeyPrefix = "oauth:state:"
	stateTTL       = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid or expired state")

// StateStore 登录 state，有效期 10 分钟且只能使用一次
type StateStore struct {
	rdb *redis.Client
}

func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

// Issue 生成 state，并记住登录完成后的前端跳转地址
func (s *StateStore) Issue(ctx context.Context, redirect string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	if err := s.rdb.Set(ctx, stateKeyPrefix+state, redirect, stateTTL).Err(); err != nil {
		return "", fmt.Errorf("oauth state: save: %w", err)
	}
	return state, nil
}

// Consume 取出并删除 state，返回跳转地址
func (s *StateStore) Consume(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrInvalidState
	}
	redirect, err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", fmt.Errorf("oauth state: load: %w", err)
	}
	return redirect, nil
}
