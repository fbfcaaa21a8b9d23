package interfaces

import (
	"context"
	"time"

	"wordchain-server/internal/domain"

	"github.com/google/uuid"
)

// AppendEntryRequest - новая запись вместе с новым состоянием хода.
// Бэкенд повторно проверяет ход, автора ветки и завершенность внутри своей транзакции.
type AppendEntryRequest struct {
	Entry      domain.StoryEntry
	NextTurn   uuid.UUID
	IsFinished bool
	UpdatedAt  time.Time
}

// StoryBackend - авторитетное хранилище историй.
type StoryBackend interface {
	// InsertStory сохраняет историю вместе с начальными записями.
	InsertStory(ctx context.Context, story domain.StorySnapshot) error
	// UpdateStory обновляет метаданные: ход, флаги, партнера, код.
	UpdateStory(ctx context.Context, story domain.StorySnapshot) error
	// DeleteStory удаляет историю каскадно с записями.
	DeleteStory(ctx context.Context, id uuid.UUID) error
	AppendEntry(ctx context.Context, req AppendEntryRequest) error

	// FetchStory returns the story with its entries ordered by timestamp.
	FetchStory(ctx context.Context, id uuid.UUID) (*domain.StorySnapshot, error)
	ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.StorySnapshot, error)
	ListByParentPrompt(ctx context.Context, parentPromptID uuid.UUID) ([]domain.StorySnapshot, error)
	FindBySessionCode(ctx context.Context, code string) (*domain.StorySnapshot, error)
}

// FeedSubscription - подписка на изменения одной истории.
type FeedSubscription interface {
	// Changes получает сигнал на каждое изменение истории.
	Changes() <-chan struct{}
	Close() error
}

// ChangeFeed delivers per-story change notifications.
type ChangeFeed interface {
	Publish(ctx context.Context, storyID uuid.UUID) error
	Subscribe(ctx context.Context, storyID uuid.UUID) (FeedSubscription, error)
}

// TurnNotifier delivers "your turn" events. Delivery errors never affect story state.
type TurnNotifier interface {
	NotifyTurn(ctx context.Context, event domain.TurnPassed) error
}

// UserStatsRepository хранит серии активности участников.
type UserStatsRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*domain.UserStats, error)
	Upsert(ctx context.Context, stats domain.UserStats) error
}

// SessionCodeStore резервирует коды приглашений. Reserve атомарен:
// false означает, что код уже занят.
type SessionCodeStore interface {
	Reserve(ctx context.Context, reg domain.SessionCodeRegistration, ttl time.Duration) (bool, error)
	Lookup(ctx context.Context, code string) (*domain.SessionCodeRegistration, error)
	Release(ctx context.Context, code string) error
}
