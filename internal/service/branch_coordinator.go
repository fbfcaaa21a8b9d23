package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"wordchain-server/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	// mergeLeadEntries - сколько первых записей каждой ветки идет в затравку слияния.
	mergeLeadEntries = 3
	mergeConnector   = "meets"
	mergeTitlePrefix = "Merged: "
	maxBranches      = 2
)

// BranchGroup - созданная группа веток и ветка ее автора.
type BranchGroup struct {
	ParentPromptID uuid.UUID
	SessionCode    string
	CreatorBranch  *domain.Story
}

// BranchCoordinator управляет парами веток, написанных по одному промпту.
type BranchCoordinator interface {
	CreateBranchGroup(ctx context.Context, in CreateStoryInput) (*BranchGroup, error)
	JoinBranchGroup(ctx context.Context, code string, participantID uuid.UUID) (uuid.UUID, error)
	// JoinResolved выполняет вход по уже проверенной регистрации кода.
	JoinResolved(ctx context.Context, reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error)
	GetSiblingBranches(ctx context.Context, parentPromptID uuid.UUID) ([]*domain.Story, error)
	Merge(ctx context.Context, actorID, branchAID, branchBID uuid.UUID) (*domain.Story, error)
}

type branchCoordinatorImpl struct {
	store    StoryStore
	registry CodeRegistry
	logger   *zap.Logger
	now      func() time.Time

	// вход в группы сериализуется внутри процесса, между процессами
	// дубль отсекает уникальный индекс (parent_prompt_id, branch_author_id)
	joinMu sync.Mutex
}

func NewBranchCoordinator(store StoryStore, registry CodeRegistry, logger *zap.Logger) BranchCoordinator {
	return &branchCoordinatorImpl{
		store:    store,
		registry: registry,
		logger:   logger.Named("BranchCoordinator"),
		now:      time.Now,
	}
}

// CreateBranchGroup создает группу и ветку создателя. Код выдается на группу, не на ветку.
func (c *branchCoordinatorImpl) CreateBranchGroup(ctx context.Context, in CreateStoryInput) (*BranchGroup, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: branch mode requires a prompt", domain.ErrValidation)
	}
	mode, err := domain.ParseMode(string(in.Mode))
	if err != nil {
		return nil, err
	}
	parentPromptID := uuid.New()
	logFields := []zap.Field{
		zap.String("parentPromptID", parentPromptID.String()),
		zap.String("creatorID", in.CreatorID.String()),
	}

	code, err := c.registry.GenerateCode(ctx, domain.CodeTargetPromptGroup, parentPromptID, in.CreatorID)
	if err != nil {
		c.logger.Error("Failed to issue group code", append(logFields, zap.Error(err))...)
		return nil, err
	}

	branch, err := domain.NewBranchStory(domain.StoryParams{
		Title:       in.Title,
		Prompt:      in.Prompt,
		Mode:        mode,
		Theme:       in.Theme,
		CreatorID:   in.CreatorID,
		CreatorName: in.CreatorName,
		SessionCode: &code,
		Now:         c.now(),
	}, parentPromptID)
	if err != nil {
		c.releaseCode(code)
		return nil, err
	}
	if err := c.store.Create(ctx, branch); err != nil {
		c.releaseCode(code)
		return nil, fmt.Errorf("ошибка создания ветки: %w", err)
	}

	c.logger.Info("Branch group created", append(logFields, zap.String("branchID", branch.ID.String()))...)
	return &BranchGroup{ParentPromptID: parentPromptID, SessionCode: code, CreatorBranch: branch}, nil
}

func (c *branchCoordinatorImpl) JoinBranchGroup(ctx context.Context, code string, participantID uuid.UUID) (uuid.UUID, error) {
	reg, err := c.registry.Resolve(ctx, code, participantID)
	if err != nil {
		return uuid.Nil, err
	}
	if reg.Kind != domain.CodeTargetPromptGroup {
		return uuid.Nil, fmt.Errorf("%w: code does not belong to a branch group", domain.ErrInvalidCode)
	}
	return c.JoinResolved(ctx, *reg, participantID)
}

// JoinResolved создает ветку второго участника и связывает обе ветки.
// Повторный вход того же участника возвращает его существующую ветку.
func (c *branchCoordinatorImpl) JoinResolved(ctx context.Context, reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error) {
	if reg.OwnerID == participantID {
		return uuid.Nil, domain.ErrSelfJoin
	}
	c.joinMu.Lock()
	defer c.joinMu.Unlock()

	logFields := []zap.Field{
		zap.String("parentPromptID", reg.TargetID.String()),
		zap.String("participantID", participantID.String()),
	}

	branches, err := c.store.ListByParentPrompt(ctx, reg.TargetID)
	if err != nil {
		return uuid.Nil, err
	}
	if own, ok := findBranchBy(branches, participantID); ok {
		c.logger.Info("Participant already has a branch in group", append(logFields, zap.String("branchID", own.ID.String()))...)
		return own.ID, nil
	}
	creatorBranch, ok := findBranchBy(branches, reg.OwnerID)
	if !ok {
		c.logger.Warn("Group has no creator branch", logFields...)
		return uuid.Nil, domain.ErrInvalidCode
	}
	if len(branches) >= maxBranches {
		return uuid.Nil, domain.ErrAlreadyPartnered
	}

	creatorID := creatorBranch.CreatorID
	partnerBranch, err := domain.NewBranchStory(domain.StoryParams{
		Title:      creatorBranch.Title,
		Prompt:     creatorBranch.Prompt,
		Mode:       creatorBranch.Mode,
		Theme:      creatorBranch.Theme,
		MaxEntries: creatorBranch.MaxEntries,
		CreatorID:  participantID,
		PartnerID:  &creatorID,
		Now:        c.now(),
	}, reg.TargetID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := c.store.Create(ctx, partnerBranch); err != nil {
		return uuid.Nil, err
	}

	_, err = c.store.Update(ctx, creatorBranch.ID, "link_sibling", func(st *domain.Story) (bool, error) {
		return st.LinkSibling(participantID, c.now())
	})
	if err != nil {
		// ветку создателя успел занять другой участник
		c.logger.Warn("Failed to link sibling branch, rolling back", append(logFields, zap.Error(err))...)
		if delErr := c.store.Delete(context.WithoutCancel(ctx), partnerBranch.ID); delErr != nil {
			c.logger.Error("Failed to roll back partner branch", append(logFields, zap.Error(delErr))...)
		}
		return uuid.Nil, err
	}

	c.logger.Info("Partner branch created", append(logFields, zap.String("branchID", partnerBranch.ID.String()))...)
	return partnerBranch.ID, nil
}

// GetSiblingBranches returns at most two branches of the group, oldest first.
func (c *branchCoordinatorImpl) GetSiblingBranches(ctx context.Context, parentPromptID uuid.UUID) ([]*domain.Story, error) {
	branches, err := c.store.ListByParentPrompt(ctx, parentPromptID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(branches, func(i, j int) bool {
		return branches[i].CreatedAt.Before(branches[j].CreatedAt)
	})
	if len(branches) > maxBranches {
		c.logger.Error("Prompt group has more branches than allowed",
			zap.String("parentPromptID", parentPromptID.String()), zap.Int("branches", len(branches)))
		branches = branches[:maxBranches]
	}
	return branches, nil
}

// Merge создает новую классическую историю из двух веток одной группы.
// Исходные ветки не меняются.
func (c *branchCoordinatorImpl) Merge(ctx context.Context, actorID, branchAID, branchBID uuid.UUID) (*domain.Story, error) {
	if branchAID == branchBID {
		return nil, fmt.Errorf("%w: cannot merge a branch with itself", domain.ErrMismatchedBranch)
	}
	a, err := c.store.Get(ctx, branchAID)
	if err != nil {
		return nil, err
	}
	b, err := c.store.Get(ctx, branchBID)
	if err != nil {
		return nil, err
	}
	parentA, okA := a.ParentPromptID()
	parentB, okB := b.ParentPromptID()
	if !okA || !okB || parentA != parentB {
		return nil, domain.ErrMismatchedBranch
	}

	authorA, _ := a.BranchAuthorID()
	authorB, _ := b.BranchAuthorID()
	var partnerID uuid.UUID
	switch actorID {
	case authorA:
		partnerID = authorB
	case authorB:
		partnerID = authorA
	default:
		return nil, domain.ErrForbidden
	}

	merged, err := domain.NewClassicStory(domain.StoryParams{
		Title:      mergeTitlePrefix + a.Title,
		Prompt:     MergeSeed(a, b),
		Mode:       a.Mode,
		Theme:      a.Theme,
		MaxEntries: a.MaxEntries,
		CreatorID:  actorID,
		PartnerID:  &partnerID,
		Now:        c.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.store.Create(ctx, merged); err != nil {
		return nil, fmt.Errorf("ошибка создания объединенной истории: %w", err)
	}

	c.logger.Info("Branches merged",
		zap.String("parentPromptID", parentA.String()),
		zap.String("branchA", a.ID.String()),
		zap.String("branchB", b.ID.String()),
		zap.String("storyID", merged.ID.String()))
	return merged, nil
}

// MergeSeed склеивает первые записи двух веток: "<A> meets <B>".
func MergeSeed(a, b *domain.Story) string {
	lead := func(s *domain.Story) string {
		entries := s.Entries()
		if len(entries) > mergeLeadEntries {
			entries = entries[:mergeLeadEntries]
		}
		return strings.Join(lo.Map(entries, func(e domain.StoryEntry, _ int) string { return e.Content }), " ")
	}
	parts := lo.Compact([]string{lead(a), mergeConnector, lead(b)})
	return strings.Join(parts, " ")
}

func findBranchBy(branches []*domain.Story, authorID uuid.UUID) (*domain.Story, bool) {
	return lo.Find(branches, func(s *domain.Story) bool {
		id, ok := s.BranchAuthorID()
		return ok && id == authorID
	})
}

func (c *branchCoordinatorImpl) releaseCode(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.registry.Release(ctx, code); err != nil {
		c.logger.Warn("Failed to release group code", zap.String("code", code), zap.Error(err))
	}
}
