package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"
	"wordchain-server/internal/service"
	"wordchain-server/internal/session"
	"wordchain-server/internal/syncengine"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memoryBackend - авторитетное хранилище в памяти с теми же проверками, что и Postgres.
type memoryBackend struct {
	mu      sync.Mutex
	stories map[uuid.UUID]domain.StorySnapshot
}

var _ interfaces.StoryBackend = (*memoryBackend)(nil)

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{stories: make(map[uuid.UUID]domain.StorySnapshot)}
}

func cloneSnap(s domain.StorySnapshot) domain.StorySnapshot {
	s.Entries = append([]domain.StoryEntry(nil), s.Entries...)
	return s
}

func (b *memoryBackend) InsertStory(_ context.Context, story domain.StorySnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.stories {
		if story.SessionCode != nil && existing.SessionCode != nil && *story.SessionCode == *existing.SessionCode {
			return domain.ErrConflict
		}
		if story.ParentPromptID != nil && existing.ParentPromptID != nil &&
			*story.ParentPromptID == *existing.ParentPromptID && *story.BranchAuthorID == *existing.BranchAuthorID {
			return domain.ErrAlreadyPartnered
		}
	}
	b.stories[story.ID] = cloneSnap(story)
	return nil
}

func (b *memoryBackend) UpdateStory(_ context.Context, story domain.StorySnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	existing, ok := b.stories[story.ID]
	if !ok {
		return domain.ErrNotFound
	}
	story.Entries = existing.Entries
	b.stories[story.ID] = cloneSnap(story)
	return nil
}

func (b *memoryBackend) DeleteStory(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.stories[id]; !ok {
		return domain.ErrNotFound
	}
	delete(b.stories, id)
	return nil
}

func (b *memoryBackend) AppendEntry(_ context.Context, req interfaces.AppendEntryRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.stories[req.Entry.StoryID]
	if !ok {
		return domain.ErrNotFound
	}
	if snap.IsFinished || len(snap.Entries) >= snap.MaxEntries {
		return domain.ErrAlreadyFinished
	}
	if snap.CurrentTurnParticipantID != req.Entry.ParticipantID {
		return domain.ErrNotYourTurn
	}
	snap.Entries = append(snap.Entries, req.Entry)
	snap.CurrentTurnParticipantID = req.NextTurn
	snap.IsFinished = req.IsFinished
	snap.UpdatedAt = req.UpdatedAt
	b.stories[snap.ID] = snap
	return nil
}

func (b *memoryBackend) FetchStory(_ context.Context, id uuid.UUID) (*domain.StorySnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.stories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneSnap(snap)
	return &out, nil
}

func (b *memoryBackend) filter(keep func(domain.StorySnapshot) bool) []domain.StorySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StorySnapshot
	for _, snap := range b.stories {
		if keep(snap) {
			out = append(out, cloneSnap(snap))
		}
	}
	return out
}

func (b *memoryBackend) ListByParticipant(_ context.Context, participantID uuid.UUID) ([]domain.StorySnapshot, error) {
	return b.filter(func(s domain.StorySnapshot) bool {
		return s.CreatorID == participantID || (s.PartnerID != nil && *s.PartnerID == participantID)
	}), nil
}

func (b *memoryBackend) ListByParentPrompt(_ context.Context, parentPromptID uuid.UUID) ([]domain.StorySnapshot, error) {
	return b.filter(func(s domain.StorySnapshot) bool {
		return s.ParentPromptID != nil && *s.ParentPromptID == parentPromptID
	}), nil
}

func (b *memoryBackend) FindBySessionCode(_ context.Context, code string) (*domain.StorySnapshot, error) {
	found := b.filter(func(s domain.StorySnapshot) bool { return s.SessionCode != nil && *s.SessionCode == code })
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	return &found[0], nil
}

type memoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]domain.SessionCodeRegistration
}

var _ interfaces.SessionCodeStore = (*memoryCodeStore)(nil)

func newMemoryCodeStore() *memoryCodeStore {
	return &memoryCodeStore{codes: make(map[string]domain.SessionCodeRegistration)}
}

func (s *memoryCodeStore) Reserve(_ context.Context, reg domain.SessionCodeRegistration, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[reg.Code]; taken {
		return false, nil
	}
	s.codes[reg.Code] = reg
	return true, nil
}

func (s *memoryCodeStore) Lookup(_ context.Context, code string) (*domain.SessionCodeRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.codes[code]
	if !ok {
		return nil, domain.ErrInvalidCode
	}
	return &reg, nil
}

func (s *memoryCodeStore) Release(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

type fixture struct {
	backend  *memoryBackend
	codes    *memoryCodeStore
	engine   *syncengine.Engine
	stories  service.StoryService
	branches service.BranchCoordinator
}

func sequentialCodes() session.CodeSource {
	var mu sync.Mutex
	next := int64(100000)
	return func() (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		next++
		return next, nil
	}
}

func newFixture(t *testing.T, stats *service.StatsRecorder) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{backend: newMemoryBackend(), codes: newMemoryCodeStore()}
	f.engine = syncengine.NewEngine(f.backend, nil, syncengine.NewMemoryRepository(), nil, syncengine.Config{
		WriteMaxAttempts:  3,
		WriteRetryBackoff: time.Millisecond,
		OperationTimeout:  time.Second,
	}, logger)
	t.Cleanup(func() { _ = f.engine.Close() })

	registry := session.NewRegistry(f.codes, f.backend, sequentialCodes(), session.Config{}, logger)
	f.branches = service.NewBranchCoordinator(f.engine, registry, logger)
	f.stories = service.NewStoryService(f.engine, registry, f.branches, stats, logger)
	return f
}
