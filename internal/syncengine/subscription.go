package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"
	"wordchain-server/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// storySubscription - одна подписка на фид изменений истории, общая для всех держателей.
type storySubscription struct {
	storyID uuid.UUID
	refs    int
	feed    interfaces.FeedSubscription

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

// Subscription - хэндл подписки. Release обязателен, повторный вызов ничего не делает.
type Subscription struct {
	engine *Engine
	shared *storySubscription
	once   sync.Once
}

func (s *Subscription) StoryID() uuid.UUID { return s.shared.storyID }

func (s *Subscription) Release() {
	s.once.Do(func() {
		s.engine.release(s.shared)
	})
}

// Subscribe подписывает на изменения истории. Подписки на одну историю
// разделяют один канал фида; канал закрывается с последним Release.
func (e *Engine) Subscribe(ctx context.Context, storyID uuid.UUID) (*Subscription, error) {
	if e.feed == nil {
		return nil, fmt.Errorf("%w: change feed is not configured", domain.ErrConfiguration)
	}
	e.mu.Lock()
	if sub, ok := e.subs[storyID]; ok {
		sub.refs++
		e.mu.Unlock()
		return &Subscription{engine: e, shared: sub}, nil
	}
	e.mu.Unlock()

	feedSub, err := e.feed.Subscribe(ctx, storyID)
	if err != nil {
		e.logger.Error("Failed to subscribe to story changes", zap.String("storyID", storyID.String()), zap.Error(err))
		return nil, fmt.Errorf("subscribe to story %s: %w", storyID, err)
	}

	e.mu.Lock()
	if sub, ok := e.subs[storyID]; ok {
		// параллельный Subscribe успел первым
		sub.refs++
		e.mu.Unlock()
		if err := feedSub.Close(); err != nil {
			e.logger.Warn("Failed to close duplicate feed subscription", zap.String("storyID", storyID.String()), zap.Error(err))
		}
		return &Subscription{engine: e, shared: sub}, nil
	}
	sub := &storySubscription{
		storyID: storyID,
		refs:    1,
		feed:    feedSub,
		done:    make(chan struct{}),
	}
	e.subs[storyID] = sub
	e.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	go e.watch(sub)
	e.logger.Debug("Subscribed to story changes", zap.String("storyID", storyID.String()))
	return &Subscription{engine: e, shared: sub}, nil
}

// release снимает одну ссылку. Хэндлы подписки, закрытой через forceRelease, ни на что не влияют.
func (e *Engine) release(sub *storySubscription) {
	e.mu.Lock()
	if current, ok := e.subs[sub.storyID]; !ok || current != sub {
		e.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.subs, sub.storyID)
	e.mu.Unlock()

	e.stop(sub)
}

// forceRelease закрывает подписку независимо от числа держателей (история удалена).
func (e *Engine) forceRelease(storyID uuid.UUID) {
	e.mu.Lock()
	sub, ok := e.subs[storyID]
	if ok {
		delete(e.subs, storyID)
	}
	e.mu.Unlock()
	if ok {
		e.stop(sub)
	}
}

func (e *Engine) stop(sub *storySubscription) {
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		return
	}
	sub.stopped = true
	if sub.timer != nil {
		sub.timer.Stop()
	}
	close(sub.done)
	sub.mu.Unlock()

	if err := sub.feed.Close(); err != nil {
		e.logger.Warn("Failed to close feed subscription", zap.String("storyID", sub.storyID.String()), zap.Error(err))
	}
	metrics.ActiveSubscriptions.Dec()
	e.logger.Debug("Story subscription released", zap.String("storyID", sub.storyID.String()))
}

func (e *Engine) watch(sub *storySubscription) {
	changes := sub.feed.Changes()
	for {
		select {
		case <-sub.done:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			e.scheduleResync(sub)
		}
	}
}

// scheduleResync откладывает ресинк на окно дебаунса; каждое новое изменение сдвигает окно.
func (e *Engine) scheduleResync(sub *storySubscription) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return
	}
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.timer = time.AfterFunc(e.cfg.ResyncDebounce, func() {
		sub.mu.Lock()
		stopped := sub.stopped
		sub.mu.Unlock()
		if stopped {
			return
		}
		e.resyncFromFeed(sub.storyID)
	})
}

func (e *Engine) resyncFromFeed(storyID uuid.UUID) {
	ctx, cancel := e.withTimeout(context.Background())
	defer cancel()

	unlock := e.lockStory(storyID)
	defer unlock()

	metrics.Resyncs.WithLabelValues("change_feed").Inc()
	if _, err := e.Resync(ctx, storyID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("Change-triggered resync failed", zap.String("storyID", storyID.String()), zap.Error(err))
	}
}
