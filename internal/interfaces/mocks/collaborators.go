package mocks

import (
	"context"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// TurnNotifier mock
type TurnNotifier struct {
	mock.Mock
}

var _ interfaces.TurnNotifier = (*TurnNotifier)(nil)

func (m *TurnNotifier) NotifyTurn(ctx context.Context, event domain.TurnPassed) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// UserStatsRepository mock
type UserStatsRepository struct {
	mock.Mock
}

var _ interfaces.UserStatsRepository = (*UserStatsRepository)(nil)

func (m *UserStatsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UserStats, error) {
	args := m.Called(ctx, userID)
	if st := args.Get(0); st != nil {
		return st.(*domain.UserStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserStatsRepository) Upsert(ctx context.Context, stats domain.UserStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

// SessionCodeStore mock
type SessionCodeStore struct {
	mock.Mock
}

var _ interfaces.SessionCodeStore = (*SessionCodeStore)(nil)

func (m *SessionCodeStore) Reserve(ctx context.Context, reg domain.SessionCodeRegistration, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, reg, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *SessionCodeStore) Lookup(ctx context.Context, code string) (*domain.SessionCodeRegistration, error) {
	args := m.Called(ctx, code)
	if reg := args.Get(0); reg != nil {
		return reg.(*domain.SessionCodeRegistration), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionCodeStore) Release(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

// ChangeFeed mock
type ChangeFeed struct {
	mock.Mock
}

var _ interfaces.ChangeFeed = (*ChangeFeed)(nil)

func (m *ChangeFeed) Publish(ctx context.Context, storyID uuid.UUID) error {
	args := m.Called(ctx, storyID)
	return args.Error(0)
}

func (m *ChangeFeed) Subscribe(ctx context.Context, storyID uuid.UUID) (interfaces.FeedSubscription, error) {
	args := m.Called(ctx, storyID)
	if sub := args.Get(0); sub != nil {
		return sub.(interfaces.FeedSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}
