package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Stages(t *testing.T) {
	order := []string{StepQueued, StepGenerating, StepUploading, StepDone}

	prev := 0
	for _, step := range order {
		msg := Progress(1, 2, step, "processing")
		assert.Greater(t, msg.Progress, prev, step)
		assert.NotEmpty(t, msg.Message, step)
		assert.Equal(t, MessageTypeProgress, msg.Type)
		prev = msg.Progress
	}
	assert.Equal(t, 100, prev)
}

func TestFailed(t *testing.T) {
	msg := Failed(1, 2, "failed", "积分已退回")
	assert.Equal(t, StepFailed, msg.Step)
	assert.Equal(t, 0, msg.Progress)
	assert.Equal(t, "积分已退回", msg.Message)
	assert.Equal(t, "积分已退回", msg.Error)

	msg = Failed(1, 2, "failed", "")
	assert.Equal(t, "生成失败", msg.Message)
	assert.Empty(t, msg.Error)
}

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(client).Subscribe(ctx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, ChannelImageProgress).Result()
		return err == nil && n[ChannelImageProgress] > 0
	}, 2*time.Second, 10*time.Millisecond)

	// 非法负载被丢弃，不影响后续消息
	require.NoError(t, client.Publish(ctx, ChannelImageProgress, "not json").Err())
	require.NoError(t, NewPublisher(client).Publish(ctx, Progress(123, 456, StepGenerating, "processing")))

	select {
	case msg := <-received:
		assert.Equal(t, int64(123), msg.UserID)
		assert.Equal(t, int64(456), msg.ImageID)
		assert.Equal(t, 30, msg.Progress)
		assert.Equal(t, "正在生成图片", msg.Message)
	case <-ctx.Done():
		t.Fatal("timeout waiting for message")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
