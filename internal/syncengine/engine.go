package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"
	"wordchain-server/internal/metrics"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	DefaultWriteMaxAttempts  = 3
	DefaultWriteRetryBackoff = 100 * time.Millisecond
	DefaultResyncDebounce    = 300 * time.Millisecond
	DefaultOperationTimeout  = 10 * time.Second
)

// Config - параметры синхронизации.
type Config struct {
	WriteMaxAttempts  int
	WriteRetryBackoff time.Duration
	ResyncDebounce    time.Duration
	// OperationTimeout ограничивает одну операцию вместе со всеми повторами.
	OperationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteMaxAttempts <= 0 {
		c.WriteMaxAttempts = DefaultWriteMaxAttempts
	}
	if c.WriteRetryBackoff <= 0 {
		c.WriteRetryBackoff = DefaultWriteRetryBackoff
	}
	if c.ResyncDebounce <= 0 {
		c.ResyncDebounce = DefaultResyncDebounce
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	return c
}

// StoryObserver получает итоговое состояние истории после каждой записи или ресинка.
type StoryObserver interface {
	StoryChanged(story domain.StorySnapshot)
	StoryRemoved(storyID uuid.UUID, participants []uuid.UUID)
}

// Engine связывает локальные копии историй с авторитетным бэкендом.
// Локальная копия меняется оптимистично и перезаписывается целиком при ресинке.
type Engine struct {
	backend  interfaces.StoryBackend
	feed     interfaces.ChangeFeed
	local    Repository
	notifier interfaces.TurnNotifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	locks     map[uuid.UUID]*sync.Mutex
	subs      map[uuid.UUID]*storySubscription
	sessions  map[*Session]struct{}
	observers []StoryObserver
}

// NewEngine creates an engine. feed and notifier may be nil.
func NewEngine(
	backend interfaces.StoryBackend,
	feed interfaces.ChangeFeed,
	local Repository,
	notifier interfaces.TurnNotifier,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if local == nil {
		local = NewMemoryRepository()
	}
	return &Engine{
		backend:  backend,
		feed:     feed,
		local:    local,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("SyncEngine"),
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
		subs:     make(map[uuid.UUID]*storySubscription),
		sessions: make(map[*Session]struct{}),
	}
}

func (e *Engine) AddObserver(o StoryObserver) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// lockStory сериализует мутации одной истории внутри процесса.
func (e *Engine) lockStory(id uuid.UUID) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

// Create сохраняет новую историю: сначала локально, затем в бэкенде.
func (e *Engine) Create(ctx context.Context, story *domain.Story) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.lockStory(story.ID)
	defer unlock()

	logFields := []zap.Field{zap.String("storyID", story.ID.String()), zap.String("creatorID", story.CreatorID.String())}
	story.FlushEvents()
	snap := story.Snapshot()
	if err := e.local.Put(story); err != nil {
		e.logger.Warn("Failed to cache new story", append(logFields, zap.Error(err))...)
	}

	if err := e.write(ctx, "insert_story", func(ctx context.Context) error {
		return e.backend.InsertStory(ctx, snap)
	}); err != nil {
		e.logger.Error("Failed to create story", append(logFields, zap.Error(err))...)
		if delErr := e.local.Delete(story.ID); delErr != nil {
			e.logger.Warn("Failed to drop optimistic story", append(logFields, zap.Error(delErr))...)
		}
		return err
	}
	e.logger.Info("Story created", logFields...)
	e.emitChanged(snap)
	return nil
}

// Get returns the local copy, loading it from the backend on a miss.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.Story, error) {
	story, err := e.local.Get(id)
	if err == nil {
		return story, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("Local cache read failed, falling back to backend", zap.String("storyID", id.String()), zap.Error(err))
	}
	return e.Resync(ctx, id)
}

// AppendEntry применяет запись локально и отправляет ее в бэкенд с повторами.
// При любой ошибке записи оптимистичное изменение откатывается ресинком.
func (e *Engine) AppendEntry(ctx context.Context, storyID uuid.UUID, in domain.NewEntry) (domain.StoryEntry, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.lockStory(storyID)
	defer unlock()

	logFields := []zap.Field{zap.String("storyID", storyID.String()), zap.String("participantID", in.ParticipantID.String())}

	story, err := e.load(ctx, storyID)
	if err != nil {
		return domain.StoryEntry{}, err
	}
	entry, err := story.AppendEntry(in, e.now())
	if err != nil {
		e.logger.Warn("Entry rejected", append(logFields, zap.Error(err))...)
		return domain.StoryEntry{}, err
	}
	events := story.FlushEvents()
	if err := e.local.Put(story); err != nil {
		e.logger.Warn("Failed to cache optimistic entry", append(logFields, zap.Error(err))...)
	}
	e.emitChanged(story.Snapshot())

	req := interfaces.AppendEntryRequest{
		Entry:      entry,
		NextTurn:   story.CurrentTurn(),
		IsFinished: story.IsFinished,
		UpdatedAt:  story.UpdatedAt,
	}
	if err := e.write(ctx, "append_entry", func(ctx context.Context) error {
		return e.backend.AppendEntry(ctx, req)
	}); err != nil {
		e.logger.Error("Append failed, discarding optimistic entry", append(logFields, zap.Error(err))...)
		e.discard(storyID, "append_failed")
		return domain.StoryEntry{}, err
	}

	metrics.EntriesAppended.WithLabelValues(string(story.CollaborationType())).Inc()
	e.logger.Info("Entry appended", append(logFields, zap.Int("entries", story.EntryCount()), zap.Bool("finished", story.IsFinished))...)

	for _, ev := range events {
		e.notifyTurn(ctx, ev)
	}
	return entry, nil
}

// MutateFunc меняет историю через методы агрегата. false - изменений нет, запись не нужна.
type MutateFunc func(story *domain.Story) (bool, error)

// Update применяет fn к локальной копии и сохраняет метаданные в бэкенде.
// Используется для finish, reveal и привязки партнера.
func (e *Engine) Update(ctx context.Context, storyID uuid.UUID, op string, fn MutateFunc) (*domain.Story, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.lockStory(storyID)
	defer unlock()

	logFields := []zap.Field{zap.String("storyID", storyID.String()), zap.String("operation", op)}

	story, err := e.load(ctx, storyID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(story)
	if err != nil {
		e.logger.Warn("Update rejected", append(logFields, zap.Error(err))...)
		return nil, err
	}
	if !changed {
		e.logger.Debug("Update is a no-op", logFields...)
		return story, nil
	}
	story.FlushEvents()
	snap := story.Snapshot()
	if err := e.local.Put(story); err != nil {
		e.logger.Warn("Failed to cache optimistic update", append(logFields, zap.Error(err))...)
	}
	e.emitChanged(snap)

	if err := e.write(ctx, op, func(ctx context.Context) error {
		return e.backend.UpdateStory(ctx, snap)
	}); err != nil {
		e.logger.Error("Update failed, discarding optimistic change", append(logFields, zap.Error(err))...)
		e.discard(storyID, op+"_failed")
		return nil, err
	}
	e.logger.Info("Story updated", logFields...)
	return story, nil
}

// Delete удаляет историю в бэкенде и освобождает все локальные ресурсы, связанные с ней.
func (e *Engine) Delete(ctx context.Context, storyID uuid.UUID) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	unlock := e.lockStory(storyID)
	defer unlock()

	logFields := []zap.Field{zap.String("storyID", storyID.String())}
	var participants []uuid.UUID
	if story, err := e.local.Get(storyID); err == nil {
		participants = participantsOf(story)
	}

	err := e.write(ctx, "delete_story", func(ctx context.Context) error {
		return e.backend.DeleteStory(ctx, storyID)
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error("Failed to delete story", append(logFields, zap.Error(err))...)
		return err
	}
	e.forget(storyID, participants)
	e.logger.Info("Story deleted", logFields...)
	return nil
}

// forget убирает историю из кэша, подписок и сессий.
func (e *Engine) forget(storyID uuid.UUID, participants []uuid.UUID) {
	if err := e.local.Delete(storyID); err != nil {
		e.logger.Warn("Failed to evict story", zap.String("storyID", storyID.String()), zap.Error(err))
	}
	e.forceRelease(storyID)

	e.mu.Lock()
	sessions := lo.Keys(e.sessions)
	observers := append([]StoryObserver(nil), e.observers...)
	e.mu.Unlock()

	for _, s := range sessions {
		s.Untrack(storyID)
	}
	for _, o := range observers {
		o.StoryRemoved(storyID, participants)
	}
}

// Resync загружает историю из бэкенда и целиком заменяет локальную копию.
func (e *Engine) Resync(ctx context.Context, storyID uuid.UUID) (*domain.Story, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var snap *domain.StorySnapshot
	err := e.read(ctx, "fetch_story", func(ctx context.Context) error {
		var err error
		snap, err = e.backend.FetchStory(ctx, storyID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			var participants []uuid.UUID
			if stale, getErr := e.local.Get(storyID); getErr == nil {
				participants = participantsOf(stale)
				e.logger.Info("Story vanished from backend", zap.String("storyID", storyID.String()))
				e.forget(storyID, participants)
			}
		}
		return nil, err
	}
	story, err := domain.FromSnapshot(*snap)
	if err != nil {
		return nil, fmt.Errorf("decode story %s: %w", storyID, err)
	}
	if err := e.local.Put(story); err != nil {
		e.logger.Warn("Failed to cache resynced story", zap.String("storyID", storyID.String()), zap.Error(err))
	}
	e.logger.Debug("Story resynced", zap.String("storyID", storyID.String()), zap.Int("entries", story.EntryCount()))
	e.emitChanged(story.Snapshot())
	return story, nil
}

// DiscardOptimistic отбрасывает локальные изменения истории и перечитывает ее из бэкенда.
// Если бэкенд недоступен, локальная копия удаляется: показывать ее дальше нельзя.
func (e *Engine) DiscardOptimistic(ctx context.Context, storyID uuid.UUID) (*domain.Story, error) {
	unlock := e.lockStory(storyID)
	defer unlock()

	metrics.Resyncs.WithLabelValues("discard").Inc()
	story, err := e.Resync(ctx, storyID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.evict(storyID)
		}
		return nil, err
	}
	return story, nil
}

// discard вызывается под локом истории. Контекст вызова мог уже истечь,
// поэтому ресинк идет на отдельном таймауте.
func (e *Engine) discard(storyID uuid.UUID, trigger string) {
	ctx, cancel := e.withTimeout(context.Background())
	defer cancel()

	metrics.Resyncs.WithLabelValues(trigger).Inc()
	if _, err := e.Resync(ctx, storyID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Warn("Resync after failed write failed, evicting local copy", zap.String("storyID", storyID.String()), zap.Error(err))
		e.evict(storyID)
	}
}

// evict удаляет локальную копию, следующее чтение пойдет в бэкенд.
func (e *Engine) evict(storyID uuid.UUID) {
	if err := e.local.Delete(storyID); err != nil {
		e.logger.Warn("Failed to evict story", zap.String("storyID", storyID.String()), zap.Error(err))
	}
}

// ListForParticipant returns the participant's stories, newest activity first.
// При недоступном бэкенде возвращает локальный кэш с stale=true.
func (e *Engine) ListForParticipant(ctx context.Context, participantID uuid.UUID) ([]*domain.Story, bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var snaps []domain.StorySnapshot
	err := e.read(ctx, "list_by_participant", func(ctx context.Context) error {
		var err error
		snaps, err = e.backend.ListByParticipant(ctx, participantID)
		return err
	})
	if err != nil {
		cached, cacheErr := e.local.List()
		if cacheErr != nil {
			return nil, false, err
		}
		e.logger.Warn("Backend unavailable, serving cached stories",
			zap.String("participantID", participantID.String()), zap.Error(err))
		stories := lo.Filter(cached, func(s *domain.Story, _ int) bool { return s.HasParticipant(participantID) })
		sortByActivity(stories)
		return stories, true, nil
	}

	stories, err := e.replaceAll(snaps)
	if err != nil {
		return nil, false, err
	}
	sortByActivity(stories)
	return stories, false, nil
}

// ListByParentPrompt returns the branches of one prompt group.
func (e *Engine) ListByParentPrompt(ctx context.Context, parentPromptID uuid.UUID) ([]*domain.Story, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var snaps []domain.StorySnapshot
	if err := e.read(ctx, "list_by_parent_prompt", func(ctx context.Context) error {
		var err error
		snaps, err = e.backend.ListByParentPrompt(ctx, parentPromptID)
		return err
	}); err != nil {
		return nil, err
	}
	return e.replaceAll(snaps)
}

func (e *Engine) replaceAll(snaps []domain.StorySnapshot) ([]*domain.Story, error) {
	stories := make([]*domain.Story, 0, len(snaps))
	for _, snap := range snaps {
		story, err := domain.FromSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("decode story %s: %w", snap.ID, err)
		}
		if err := e.local.Put(story); err != nil {
			e.logger.Warn("Failed to cache story", zap.String("storyID", snap.ID.String()), zap.Error(err))
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// load берет локальную копию или загружает ее. Вызывается под локом истории.
func (e *Engine) load(ctx context.Context, id uuid.UUID) (*domain.Story, error) {
	story, err := e.local.Get(id)
	if err == nil {
		return story, nil
	}
	return e.Resync(ctx, id)
}

func (e *Engine) notifyTurn(ctx context.Context, ev domain.TurnPassed) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyTurn(context.WithoutCancel(ctx), ev); err != nil {
		metrics.TurnNotifications.WithLabelValues("failed").Inc()
		e.logger.Warn("Failed to notify turn",
			zap.String("storyID", ev.StoryID.String()),
			zap.String("toID", ev.ToID.String()),
			zap.Error(err))
	}
}

func (e *Engine) emitChanged(snap domain.StorySnapshot) {
	e.mu.Lock()
	observers := append([]StoryObserver(nil), e.observers...)
	e.mu.Unlock()
	for _, o := range observers {
		o.StoryChanged(snap)
	}
}

// Close releases every subscription and session and closes the local cache.
func (e *Engine) Close() error {
	e.mu.Lock()
	sessions := lo.Keys(e.sessions)
	ids := lo.Keys(e.subs)
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, id := range ids {
		e.forceRelease(id)
	}
	return e.local.Close()
}

func participantsOf(s *domain.Story) []uuid.UUID {
	out := []uuid.UUID{s.CreatorID}
	if s.PartnerID != nil {
		out = append(out, *s.PartnerID)
	}
	return out
}

func sortByActivity(stories []*domain.Story) {
	sort.SliceStable(stories, func(i, j int) bool {
		return stories[i].UpdatedAt.After(stories[j].UpdatedAt)
	})
}
