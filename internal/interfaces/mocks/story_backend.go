package mocks

import (
	"context"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// StoryBackend is a testify mock of interfaces.StoryBackend.
type StoryBackend struct {
	mock.Mock
}

var _ interfaces.StoryBackend = (*StoryBackend)(nil)

func (m *StoryBackend) InsertStory(ctx context.Context, story domain.StorySnapshot) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

func (m *StoryBackend) UpdateStory(ctx context.Context, story domain.StorySnapshot) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}

func (m *StoryBackend) DeleteStory(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *StoryBackend) AppendEntry(ctx context.Context, req interfaces.AppendEntryRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *StoryBackend) FetchStory(ctx context.Context, id uuid.UUID) (*domain.StorySnapshot, error) {
	args := m.Called(ctx, id)
	if snap := args.Get(0); snap != nil {
		return snap.(*domain.StorySnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryBackend) ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.StorySnapshot, error) {
	args := m.Called(ctx, participantID)
	if list := args.Get(0); list != nil {
		return list.([]domain.StorySnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryBackend) ListByParentPrompt(ctx context.Context, parentPromptID uuid.UUID) ([]domain.StorySnapshot, error) {
	args := m.Called(ctx, parentPromptID)
	if list := args.Get(0); list != nil {
		return list.([]domain.StorySnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryBackend) FindBySessionCode(ctx context.Context, code string) (*domain.StorySnapshot, error) {
	args := m.Called(ctx, code)
	if snap := args.Get(0); snap != nil {
		return snap.(*domain.StorySnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}
