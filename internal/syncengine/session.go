package syncengine

import (
	"context"
	"sync"

	"wordchain-server/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session - подписки одного участника на все его истории.
// Close освобождает их все; после Close сессия не используется.
type Session struct {
	engine        *Engine
	participantID uuid.UUID

	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// OpenSession загружает истории участника и подписывается на каждую.
// Если бэкенд недоступен, отдает кэш: подписки догонят изменения позже.
func (e *Engine) OpenSession(ctx context.Context, participantID uuid.UUID) (*Session, []*domain.Story, error) {
	stories, stale, err := e.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}

	s := &Session{
		engine:        e,
		participantID: participantID,
		subs:          make(map[uuid.UUID]*Subscription),
	}
	e.mu.Lock()
	e.sessions[s] = struct{}{}
	e.mu.Unlock()

	if e.feed != nil {
		for _, story := range stories {
			if err := s.Track(ctx, story.ID); err != nil {
				e.logger.Warn("Failed to track story for session",
					zap.String("participantID", participantID.String()),
					zap.String("storyID", story.ID.String()),
					zap.Error(err))
			}
		}
	}
	e.logger.Info("Session opened",
		zap.String("participantID", participantID.String()),
		zap.Int("stories", len(stories)),
		zap.Bool("stale", stale))
	return s, stories, nil
}

func (s *Session) ParticipantID() uuid.UUID { return s.participantID }

// Track подписывает сессию на историю. Повторный Track той же истории ничего не делает.
func (s *Session) Track(ctx context.Context, storyID uuid.UUID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.subs[storyID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sub, err := s.engine.Subscribe(ctx, storyID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[storyID]; ok || s.closed {
		sub.Release()
		return nil
	}
	s.subs[storyID] = sub
	return nil
}

func (s *Session) Untrack(storyID uuid.UUID) {
	s.mu.Lock()
	sub, ok := s.subs[storyID]
	delete(s.subs, storyID)
	s.mu.Unlock()
	if ok {
		sub.Release()
	}
}

// Tracked returns the ids of stories the session is subscribed to.
func (s *Session) Tracked() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Release()
	}
	s.engine.mu.Lock()
	delete(s.engine.sessions, s)
	s.engine.mu.Unlock()

	s.engine.logger.Info("Session closed", zap.String("participantID", s.participantID.String()))
}
