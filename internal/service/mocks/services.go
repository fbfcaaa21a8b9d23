package mocks

import (
	"context"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// StoryService mock
type StoryService struct {
	mock.Mock
}

var _ service.StoryService = (*StoryService)(nil)

func storyOrNil(args mock.Arguments) (*domain.Story, error) {
	if s := args.Get(0); s != nil {
		return s.(*domain.Story), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryService) CreateStory(ctx context.Context, in service.CreateStoryInput) (*domain.Story, error) {
	return storyOrNil(m.Called(ctx, in))
}

func (m *StoryService) GetStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	return storyOrNil(m.Called(ctx, storyID, participantID))
}

func (m *StoryService) ListStories(ctx context.Context, participantID uuid.UUID, filter service.StoryFilter) (*service.StoryList, error) {
	args := m.Called(ctx, participantID, filter)
	if l := args.Get(0); l != nil {
		return l.(*service.StoryList), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryService) AppendEntry(ctx context.Context, storyID uuid.UUID, in domain.NewEntry) (domain.StoryEntry, error) {
	args := m.Called(ctx, storyID, in)
	return args.Get(0).(domain.StoryEntry), args.Error(1)
}

func (m *StoryService) FinishStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	return storyOrNil(m.Called(ctx, storyID, participantID))
}

func (m *StoryService) RevealStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	return storyOrNil(m.Called(ctx, storyID, participantID))
}

func (m *StoryService) RefreshStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	return storyOrNil(m.Called(ctx, storyID, participantID))
}

func (m *StoryService) DeleteStory(ctx context.Context, storyID, participantID uuid.UUID) error {
	return m.Called(ctx, storyID, participantID).Error(0)
}

func (m *StoryService) Preview(ctx context.Context, storyID, participantID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, storyID, participantID)
	if w := args.Get(0); w != nil {
		return w.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoryService) JoinWithCode(ctx context.Context, code string, participantID uuid.UUID) (*domain.RedeemResult, error) {
	args := m.Called(ctx, code, participantID)
	if r := args.Get(0); r != nil {
		return r.(*domain.RedeemResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// BranchCoordinator mock
type BranchCoordinator struct {
	mock.Mock
}

var _ service.BranchCoordinator = (*BranchCoordinator)(nil)

func (m *BranchCoordinator) CreateBranchGroup(ctx context.Context, in service.CreateStoryInput) (*service.BranchGroup, error) {
	args := m.Called(ctx, in)
	if g := args.Get(0); g != nil {
		return g.(*service.BranchGroup), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BranchCoordinator) JoinBranchGroup(ctx context.Context, code string, participantID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, code, participantID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *BranchCoordinator) JoinResolved(ctx context.Context, reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error) {
	args := m.Called(ctx, reg, participantID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *BranchCoordinator) GetSiblingBranches(ctx context.Context, parentPromptID uuid.UUID) ([]*domain.Story, error) {
	args := m.Called(ctx, parentPromptID)
	if b := args.Get(0); b != nil {
		return b.([]*domain.Story), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BranchCoordinator) Merge(ctx context.Context, actorID, branchAID, branchBID uuid.UUID) (*domain.Story, error) {
	return storyOrNil(m.Called(ctx, actorID, branchAID, branchBID))
}
