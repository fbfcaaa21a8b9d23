package repository

import (
	"context"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ interfaces.StoryBackend = (*notifyingStoryBackend)(nil)

// notifyingStoryBackend публикует уведомление об изменении после каждой успешной записи.
type notifyingStoryBackend struct {
	interfaces.StoryBackend
	feed   interfaces.ChangeFeed
	logger *zap.Logger
}

// NewNotifyingStoryBackend wraps backend so every accepted write fires a change notification for the story.
func NewNotifyingStoryBackend(backend interfaces.StoryBackend, feed interfaces.ChangeFeed, logger *zap.Logger) interfaces.StoryBackend {
	return &notifyingStoryBackend{
		StoryBackend: backend,
		feed:         feed,
		logger:       logger.Named("NotifyingStoryBackend"),
	}
}

func (b *notifyingStoryBackend) InsertStory(ctx context.Context, story domain.StorySnapshot) error {
	if err := b.StoryBackend.InsertStory(ctx, story); err != nil {
		return err
	}
	b.publish(ctx, story.ID)
	return nil
}

func (b *notifyingStoryBackend) UpdateStory(ctx context.Context, story domain.StorySnapshot) error {
	if err := b.StoryBackend.UpdateStory(ctx, story); err != nil {
		return err
	}
	b.publish(ctx, story.ID)
	return nil
}

func (b *notifyingStoryBackend) DeleteStory(ctx context.Context, id uuid.UUID) error {
	if err := b.StoryBackend.DeleteStory(ctx, id); err != nil {
		return err
	}
	b.publish(ctx, id)
	return nil
}

func (b *notifyingStoryBackend) AppendEntry(ctx context.Context, req interfaces.AppendEntryRequest) error {
	if err := b.StoryBackend.AppendEntry(ctx, req); err != nil {
		return err
	}
	b.publish(ctx, req.Entry.StoryID)
	return nil
}

// publish не влияет на результат записи: данные уже сохранены.
func (b *notifyingStoryBackend) publish(ctx context.Context, storyID uuid.UUID) {
	if err := b.feed.Publish(ctx, storyID); err != nil {
		b.logger.Warn("Change notification lost", zap.String("storyID", storyID.String()), zap.Error(err))
	}
}
