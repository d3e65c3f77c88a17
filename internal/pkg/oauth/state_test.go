package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*StateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStateStore(rdb), mr
}

func TestStateStore_Issue(t *testing.T) {
	store, mr := newTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		state, err := store.Issue(context.Background(), "/dashboard")
		require.NoError(t, err)
		assert.Len(t, state, 32)
		assert.False(t, seen[state])
		seen[state] = true
	}

	for state := range seen {
		assert.Equal(t, stateTTL, mr.TTL(stateKeyPrefix+state))
		break
	}
}

func TestStateStore_Consume(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		state, err := store.Issue(ctx, "/dashboard")
		require.NoError(t, err)

		redirect, err := store.Consume(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, "/dashboard", redirect)

		_, err = store.Consume(ctx, state)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("expired", func(t *testing.T) {
		state, err := store.Issue(ctx, "")
		require.NoError(t, err)

		mr.FastForward(stateTTL + time.Second)
		_, err = store.Consume(ctx, state)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("unknown or empty", func(t *testing.T) {
		_, err := store.Consume(ctx, "nope")
		assert.ErrorIs(t, err, ErrInvalidState)
		_, err = store.Consume(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}
