package repository

import (
	"context"
	"fmt"
	"sync"

	"wordchain-server/internal/interfaces"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ interfaces.ChangeFeed = (*redisChangeFeed)(nil)

const storyChannelPrefix = "story:"

// StoryChannel - канал pub/sub для изменений одной истории.
func StoryChannel(storyID uuid.UUID) string {
	return storyChannelPrefix + storyID.String()
}

type redisChangeFeed struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisChangeFeed рассылает уведомления об изменениях историй через Redis pub/sub.
func NewRedisChangeFeed(client *redis.Client, logger *zap.Logger) interfaces.ChangeFeed {
	return &redisChangeFeed{
		client: client,
		logger: logger.Named("RedisChangeFeed"),
	}
}

func (f *redisChangeFeed) Publish(ctx context.Context, storyID uuid.UUID) error {
	if err := f.client.Publish(ctx, StoryChannel(storyID), storyID.String()).Err(); err != nil {
		f.logger.Error("Failed to publish story change", zap.String("storyID", storyID.String()), zap.Error(err))
		return fmt.Errorf("failed to publish story change: %w", err)
	}
	return nil
}

// Subscribe подписывается на канал истории. Подписка подтверждается до возврата,
// поэтому публикации после Subscribe не теряются.
func (f *redisChangeFeed) Subscribe(ctx context.Context, storyID uuid.UUID) (interfaces.FeedSubscription, error) {
	ps := f.client.Subscribe(ctx, StoryChannel(storyID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to story %s: %w", storyID, err)
	}

	sub := &redisFeedSubscription{
		pubsub:  ps,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go sub.forward(ps.Channel())
	f.logger.Debug("Subscribed to story changes", zap.String("storyID", storyID.String()))
	return sub, nil
}

type redisFeedSubscription struct {
	pubsub    *redis.PubSub
	changes   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// forward схлопывает сообщения: в буфере не больше одного сигнала.
func (s *redisFeedSubscription) forward(in <-chan *redis.Message) {
	defer close(s.changes)
	for {
		select {
		case <-s.done:
			return
		case _, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (s *redisFeedSubscription) Changes() <-chan struct{} {
	return s.changes
}

func (s *redisFeedSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
