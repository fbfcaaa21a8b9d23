package repository_test

import (
	"context"
	"testing"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisCodeStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Reserve is exclusive", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		store := repository.NewRedisCodeStore(client, zap.NewNop())

		reg := domain.SessionCodeRegistration{Code: "012345", Kind: domain.CodeTargetStory, TargetID: uuid.New(), OwnerID: uuid.New()}
		ok, err := store.Reserve(ctx, reg, 0)
		require.NoError(t, err)
		assert.True(t, ok)

		other := reg
		other.TargetID = uuid.New()
		ok, err = store.Reserve(ctx, other, 0)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.Lookup(ctx, "012345")
		require.NoError(t, err)
		assert.Equal(t, reg.TargetID, got.TargetID)
		assert.Equal(t, reg.OwnerID, got.OwnerID)
	})

	t.Run("Unknown code", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		store := repository.NewRedisCodeStore(client, zap.NewNop())

		_, err := store.Lookup(ctx, "999999")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	})

	t.Run("Expired code is not live", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		store := repository.NewRedisCodeStore(client, zap.NewNop())

		reg := domain.SessionCodeRegistration{Code: "111111", Kind: domain.CodeTargetPromptGroup, TargetID: uuid.New(), OwnerID: uuid.New()}
		ok, err := store.Reserve(ctx, reg, 15*time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(16 * time.Minute)

		_, err = store.Lookup(ctx, "111111")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)

		ok, err = store.Reserve(ctx, reg, 0)
		require.NoError(t, err)
		assert.True(t, ok, "expired code can be issued again")
	})

	t.Run("Release frees the code", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		store := repository.NewRedisCodeStore(client, zap.NewNop())

		reg := domain.SessionCodeRegistration{Code: "222222", TargetID: uuid.New(), OwnerID: uuid.New()}
		_, err := store.Reserve(ctx, reg, 0)
		require.NoError(t, err)
		require.NoError(t, store.Release(ctx, "222222"))

		_, err = store.Lookup(ctx, "222222")
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	})
}

func TestRedisChangeFeed(t *testing.T) {
	ctx := context.Background()
	client, _ := setupTestRedis(t)
	feed := repository.NewRedisChangeFeed(client, zap.NewNop())

	storyID := uuid.New()
	sub, err := feed.Subscribe(ctx, storyID)
	require.NoError(t, err)

	other, err := feed.Subscribe(ctx, uuid.New())
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, feed.Publish(ctx, storyID))

	select {
	case <-sub.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("change notification was not delivered")
	}

	select {
	case <-other.Changes():
		t.Fatal("notification leaked to another story")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")

	assert.Eventually(t, func() bool {
		_, open := <-sub.Changes()
		return !open
	}, time.Second, 10*time.Millisecond)
}
