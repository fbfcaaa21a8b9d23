package syncengine

import (
	"sync"

	"wordchain-server/internal/domain"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Repository - локальная копия историй, которой владеет Engine.
// Get всегда возвращает независимую копию: изменения видны только после Put.
type Repository interface {
	Get(id uuid.UUID) (*domain.Story, error)
	Put(story *domain.Story) error
	Delete(id uuid.UUID) error
	List() ([]*domain.Story, error)
	Close() error
}

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps snapshots in a map.
type MemoryRepository struct {
	mu      sync.RWMutex
	stories map[uuid.UUID]domain.StorySnapshot
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{stories: make(map[uuid.UUID]domain.StorySnapshot)}
}

func (r *MemoryRepository) Get(id uuid.UUID) (*domain.Story, error) {
	r.mu.RLock()
	snap, ok := r.stories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return domain.FromSnapshot(snap)
}

func (r *MemoryRepository) Put(story *domain.Story) error {
	snap := story.Snapshot()
	r.mu.Lock()
	r.stories[snap.ID] = snap
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Delete(id uuid.UUID) error {
	r.mu.Lock()
	delete(r.stories, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) List() ([]*domain.Story, error) {
	r.mu.RLock()
	snaps := lo.Values(r.stories)
	r.mu.RUnlock()

	out := make([]*domain.Story, 0, len(snaps))
	for _, snap := range snaps {
		s, err := domain.FromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	clear(r.stories)
	r.mu.Unlock()
	return nil
}
