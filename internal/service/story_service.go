package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/session"
	"wordchain-server/internal/syncengine"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// PreviewSize - сколько последних слов показывает превью.
const PreviewSize = 3

// StoryStore - то, что сервисам нужно от движка синхронизации.
type StoryStore interface {
	Create(ctx context.Context, story *domain.Story) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Story, error)
	AppendEntry(ctx context.Context, storyID uuid.UUID, in domain.NewEntry) (domain.StoryEntry, error)
	Update(ctx context.Context, storyID uuid.UUID, op string, fn syncengine.MutateFunc) (*domain.Story, error)
	Delete(ctx context.Context, storyID uuid.UUID) error
	DiscardOptimistic(ctx context.Context, storyID uuid.UUID) (*domain.Story, error)
	ListForParticipant(ctx context.Context, participantID uuid.UUID) ([]*domain.Story, bool, error)
	ListByParentPrompt(ctx context.Context, parentPromptID uuid.UUID) ([]*domain.Story, error)
}

// CodeRegistry выдает и разрешает коды приглашений.
type CodeRegistry interface {
	GenerateCode(ctx context.Context, kind domain.CodeTargetKind, targetID, ownerID uuid.UUID) (string, error)
	Resolve(ctx context.Context, code string, participantID uuid.UUID) (*domain.SessionCodeRegistration, error)
	Redeem(ctx context.Context, code string, participantID uuid.UUID, linker session.Linker) (*domain.RedeemResult, error)
	Release(ctx context.Context, code string) error
}

var (
	_ StoryStore   = (*syncengine.Engine)(nil)
	_ CodeRegistry = (*session.Registry)(nil)
)

// CreateStoryInput - параметры новой истории или группы веток.
type CreateStoryInput struct {
	Title       string
	Prompt      string
	Mode        domain.Mode
	Theme       domain.Theme
	CreatorID   uuid.UUID
	CreatorName string
}

// StoryFilter selects stories in a participant's list.
type StoryFilter string

const (
	FilterAll      StoryFilter = "all"
	FilterActive   StoryFilter = "active"
	FilterFinished StoryFilter = "finished"
)

// StoryList - список историй участника. Stale - бэкенд недоступен, отдан кэш.
type StoryList struct {
	Stories []*domain.Story
	Stale   bool
}

// StoryService - операции над историями от имени участника.
type StoryService interface {
	CreateStory(ctx context.Context, in CreateStoryInput) (*domain.Story, error)
	GetStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error)
	ListStories(ctx context.Context, participantID uuid.UUID, filter StoryFilter) (*StoryList, error)
	AppendEntry(ctx context.Context, storyID uuid.UUID, in domain.NewEntry) (domain.StoryEntry, error)
	FinishStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error)
	RevealStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error)
	RefreshStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error)
	DeleteStory(ctx context.Context, storyID, participantID uuid.UUID) error
	Preview(ctx context.Context, storyID, participantID uuid.UUID) ([]string, error)
	JoinWithCode(ctx context.Context, code string, participantID uuid.UUID) (*domain.RedeemResult, error)
}

type storyServiceImpl struct {
	store    StoryStore
	registry CodeRegistry
	branches BranchCoordinator
	stats    *StatsRecorder
	logger   *zap.Logger
	now      func() time.Time
}

var _ session.Linker = (*storyServiceImpl)(nil)

// NewStoryService creates the story service. stats may be nil.
func NewStoryService(
	store StoryStore,
	registry CodeRegistry,
	branches BranchCoordinator,
	stats *StatsRecorder,
	logger *zap.Logger,
) StoryService {
	return &storyServiceImpl{
		store:    store,
		registry: registry,
		branches: branches,
		stats:    stats,
		logger:   logger.Named("StoryService"),
		now:      time.Now,
	}
}

// CreateStory создает классическую историю с кодом приглашения.
func (s *storyServiceImpl) CreateStory(ctx context.Context, in CreateStoryInput) (*domain.Story, error) {
	logFields := []zap.Field{zap.String("creatorID", in.CreatorID.String()), zap.String("mode", string(in.Mode))}

	mode, err := domain.ParseMode(string(in.Mode))
	if err != nil {
		return nil, err
	}

	storyID := uuid.New()
	code, err := s.registry.GenerateCode(ctx, domain.CodeTargetStory, storyID, in.CreatorID)
	if err != nil {
		s.logger.Error("Failed to issue session code", append(logFields, zap.Error(err))...)
		return nil, err
	}

	story, err := domain.NewClassicStory(domain.StoryParams{
		ID:          storyID,
		Title:       in.Title,
		Prompt:      in.Prompt,
		Mode:        mode,
		Theme:       in.Theme,
		CreatorID:   in.CreatorID,
		CreatorName: in.CreatorName,
		SessionCode: &code,
		Now:         s.now(),
	})
	if err != nil {
		s.releaseCode(code)
		return nil, err
	}
	if err := s.store.Create(ctx, story); err != nil {
		s.releaseCode(code)
		return nil, fmt.Errorf("ошибка создания истории: %w", err)
	}
	s.logger.Info("Story created", append(logFields, zap.String("storyID", story.ID.String()))...)
	return story, nil
}

// GetStory returns a story the participant takes part in.
func (s *storyServiceImpl) GetStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	story, err := s.store.Get(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if !story.HasParticipant(participantID) {
		return nil, domain.ErrForbidden
	}
	return story, nil
}

// ListStories - истории участника, последние по активности первыми.
func (s *storyServiceImpl) ListStories(ctx context.Context, participantID uuid.UUID, filter StoryFilter) (*StoryList, error) {
	stories, stale, err := s.store.ListForParticipant(ctx, participantID)
	if err != nil {
		s.logger.Error("Failed to list stories", zap.String("participantID", participantID.String()), zap.Error(err))
		return nil, err
	}
	switch filter {
	case FilterActive:
		stories = lo.Filter(stories, func(st *domain.Story, _ int) bool { return !st.IsFinished })
	case FilterFinished:
		stories = lo.Filter(stories, func(st *domain.Story, _ int) bool { return st.IsFinished })
	case FilterAll, "":
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", domain.ErrValidation, string(filter))
	}
	return &StoryList{Stories: stories, Stale: stale}, nil
}

// AppendEntry добавляет слово и учитывает активность участника в его серии.
func (s *storyServiceImpl) AppendEntry(ctx context.Context, storyID uuid.UUID, in domain.NewEntry) (domain.StoryEntry, error) {
	entry, err := s.store.AppendEntry(ctx, storyID, in)
	if err != nil {
		return domain.StoryEntry{}, err
	}
	s.stats.Record(ctx, in.ParticipantID, entry.CreatedAt)
	return entry, nil
}

func (s *storyServiceImpl) FinishStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	return s.store.Update(ctx, storyID, "finish", func(st *domain.Story) (bool, error) {
		if !canSettle(st, participantID) {
			return false, domain.ErrForbidden
		}
		return st.Finish(s.now()), nil
	})
}

// RevealStory отмечает, что анимация завершения показана. Повторный вызов ничего не меняет.
func (s *storyServiceImpl) RevealStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	return s.store.Update(ctx, storyID, "reveal", func(st *domain.Story) (bool, error) {
		if !canSettle(st, participantID) {
			return false, domain.ErrForbidden
		}
		return st.Reveal(s.now()), nil
	})
}

// canSettle: ветку завершает только ее автор, классическую историю - любой участник.
func canSettle(st *domain.Story, participantID uuid.UUID) bool {
	if author, ok := st.BranchAuthorID(); ok {
		return author == participantID
	}
	return st.HasParticipant(participantID)
}

// RefreshStory отбрасывает локальную копию и отдает состояние бэкенда.
func (s *storyServiceImpl) RefreshStory(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error) {
	story, err := s.store.DiscardOptimistic(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if !story.HasParticipant(participantID) {
		return nil, domain.ErrForbidden
	}
	return story, nil
}

// DeleteStory удаляет историю создателя вместе с записями и освобождает ее код.
func (s *storyServiceImpl) DeleteStory(ctx context.Context, storyID, participantID uuid.UUID) error {
	logFields := []zap.Field{zap.String("storyID", storyID.String()), zap.String("participantID", participantID.String())}

	story, err := s.store.Get(ctx, storyID)
	if err != nil {
		return err
	}
	if story.CreatorID != participantID {
		s.logger.Warn("Delete by non-creator rejected", logFields...)
		return domain.ErrForbidden
	}
	if err := s.store.Delete(ctx, storyID); err != nil {
		return err
	}
	if story.SessionCode != nil {
		s.releaseCode(*story.SessionCode)
	}
	s.logger.Info("Story deleted", logFields...)
	return nil
}

func (s *storyServiceImpl) Preview(ctx context.Context, storyID, participantID uuid.UUID) ([]string, error) {
	story, err := s.GetStory(ctx, storyID, participantID)
	if err != nil {
		return nil, err
	}
	return story.LastN(PreviewSize), nil
}

// JoinWithCode входит в историю или группу веток по коду.
func (s *storyServiceImpl) JoinWithCode(ctx context.Context, code string, participantID uuid.UUID) (*domain.RedeemResult, error) {
	return s.registry.Redeem(ctx, code, participantID, s)
}

// LinkClassic привязывает участника партнером к классической истории.
func (s *storyServiceImpl) LinkClassic(ctx context.Context, storyID, participantID uuid.UUID) (uuid.UUID, error) {
	_, err := s.store.Update(ctx, storyID, "join", func(st *domain.Story) (bool, error) {
		return st.Join(participantID, s.now())
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return uuid.Nil, domain.ErrInvalidCode
		}
		return uuid.Nil, err
	}
	return storyID, nil
}

func (s *storyServiceImpl) LinkBranch(ctx context.Context, reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error) {
	return s.branches.JoinResolved(ctx, reg, participantID)
}

// releaseCode не должен зависеть от отмены запроса: код освобождается в любом случае.
func (s *storyServiceImpl) releaseCode(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Release(ctx, code); err != nil {
		s.logger.Warn("Failed to release session code", zap.String("code", code), zap.Error(err))
	}
}
