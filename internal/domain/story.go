package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SeedTokenCount - сколько первых слов промпта попадает в историю как начальные записи.
	SeedTokenCount = 5

	DefaultStoryTitle      = "Untitled Story"
	DefaultParticipantName = "User"
)

// Story - агрегат истории: метаданные, журнал записей и состояние хода.
// Все изменения идут через методы, которые держат инварианты.
type Story struct {
	ID          uuid.UUID
	Title       string
	Prompt      string
	Theme       Theme
	Mode        Mode
	MaxEntries  int
	CreatorID   uuid.UUID
	PartnerID   *uuid.UUID
	SessionCode *string
	IsFinished  bool
	IsRevealed  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Collaboration Collaboration

	log    *EntryLog
	events []TurnPassed
}

// StoryParams - входные данные для создания истории.
type StoryParams struct {
	ID          uuid.UUID // пустой - сгенерировать
	Title       string
	Prompt      string
	Mode        Mode
	Theme       Theme
	MaxEntries  int // 0 - взять из режима
	CreatorID   uuid.UUID
	CreatorName string
	PartnerID   *uuid.UUID
	SessionCode *string
	Now         time.Time
}

// NewClassicStory creates a classic story and seeds it with the prompt's lead tokens.
func NewClassicStory(p StoryParams) (*Story, error) {
	return newStory(p, Classic{CurrentTurnParticipantID: p.CreatorID})
}

// NewBranchStory creates one branch of a prompt group authored by p.CreatorID.
// In branch mode the title is the prompt text.
func NewBranchStory(p StoryParams, parentPromptID uuid.UUID) (*Story, error) {
	if parentPromptID == uuid.Nil {
		return nil, fmt.Errorf("%w: parent prompt id is required", ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = p.Prompt
	}
	return newStory(p, Branch{ParentPromptID: parentPromptID, AuthorID: p.CreatorID})
}

func newStory(p StoryParams, collab Collaboration) (*Story, error) {
	if p.CreatorID == uuid.Nil {
		return nil, fmt.Errorf("%w: creator id is required", ErrValidation)
	}
	if p.PartnerID != nil && *p.PartnerID == p.CreatorID {
		return nil, ErrSelfJoin
	}
	modeBudget, err := p.Mode.MaxEntries()
	if err != nil {
		return nil, err
	}
	theme := p.Theme
	if theme == "" {
		theme = DefaultTheme
	}
	if _, ok := knownThemes[theme]; !ok {
		return nil, fmt.Errorf("%w: unknown theme %q", ErrConfiguration, string(theme))
	}
	maxEntries := p.MaxEntries
	if maxEntries < 0 {
		return nil, fmt.Errorf("%w: max entries must be positive", ErrConfiguration)
	}
	if maxEntries == 0 {
		maxEntries = modeBudget
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(timestampResolution)

	prompt := strings.TrimSpace(p.Prompt)
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = prompt
	}
	if title == "" {
		title = DefaultStoryTitle
	}

	s := &Story{
		ID:            id,
		Title:         title,
		Prompt:        prompt,
		Theme:         theme,
		Mode:          p.Mode,
		MaxEntries:    maxEntries,
		CreatorID:     p.CreatorID,
		PartnerID:     p.PartnerID,
		SessionCode:   p.SessionCode,
		CreatedAt:     now,
		UpdatedAt:     now,
		Collaboration: collab,
		log:           NewEntryLog(id),
	}
	if err := s.seed(prompt, p.CreatorName, now); err != nil {
		return nil, err
	}
	return s, nil
}

// seed добавляет первые SeedTokenCount слов промпта от имени создателя.
// Ход уходит партнеру только при нечетном числе слов затравки.
func (s *Story) seed(prompt, creatorName string, now time.Time) error {
	collab := s.Collaboration
	seeded := 0
	for _, token := range SeedTokens(prompt) {
		if s.log.Len() >= s.MaxEntries {
			break
		}
		if _, err := s.appendUnchecked(NewEntry{
			Content:         token,
			ParticipantID:   s.CreatorID,
			ParticipantName: creatorName,
		}, ShapeSingleToken, now); err != nil {
			return fmt.Errorf("seed prompt: %w", err)
		}
		seeded++
	}
	s.Collaboration = collab
	if seeded%2 == 1 && s.PartnerID != nil {
		s.Collaboration = collab.withTurn(*s.PartnerID)
	}
	return nil
}

// SeedTokens returns the lead tokens of a prompt used as opening entries.
func SeedTokens(prompt string) []string {
	tokens := strings.Fields(prompt)
	if len(tokens) > SeedTokenCount {
		tokens = tokens[:SeedTokenCount]
	}
	return tokens
}

// AppendEntry добавляет вклад участника, передает ход и при необходимости завершает историю.
func (s *Story) AppendEntry(in NewEntry, now time.Time) (StoryEntry, error) {
	if s.IsFinished {
		return StoryEntry{}, ErrAlreadyFinished
	}
	if err := s.Collaboration.checkAppend(s, in.ParticipantID); err != nil {
		return StoryEntry{}, err
	}
	if s.log.Len() >= s.MaxEntries {
		s.IsFinished = true
		return StoryEntry{}, ErrAlreadyFinished
	}

	entry, err := s.appendUnchecked(in, s.Collaboration.contentShape(s.Mode), now)
	if err != nil {
		return StoryEntry{}, err
	}

	next := s.CurrentTurn()
	if !s.IsFinished && next != in.ParticipantID {
		s.events = append(s.events, TurnPassed{
			StoryID:         s.ID,
			StoryTitle:      s.Title,
			FromID:          in.ParticipantID,
			FromName:        entry.ParticipantName,
			ToID:            next,
			EntryContent:    entry.Content,
			OccurredAt:      entry.CreatedAt,
			EntryCountAfter: s.log.Len(),
		})
	}
	return entry, nil
}

func (s *Story) appendUnchecked(in NewEntry, shape ContentShape, now time.Time) (StoryEntry, error) {
	entry, err := s.log.Append(in, shape, now)
	if err != nil {
		return StoryEntry{}, err
	}
	s.Collaboration = s.Collaboration.withTurn(NextTurn(s, in.ParticipantID))
	if IsComplete(s, s.log.Len()) {
		s.IsFinished = true
	}
	if entry.CreatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = entry.CreatedAt
	}
	return entry, nil
}

// Finish досрочно завершает историю. Возвращает false, если она уже была завершена.
func (s *Story) Finish(now time.Time) bool {
	if s.IsFinished {
		return false
	}
	s.IsFinished = true
	s.touch(now)
	return true
}

// Reveal marks the completion animation as shown. Only finished stories can be revealed;
// repeated calls are no-ops.
func (s *Story) Reveal(now time.Time) bool {
	if !s.IsFinished || s.IsRevealed {
		return false
	}
	s.IsRevealed = true
	s.touch(now)
	return true
}

// Join привязывает партнера к классической истории.
// Повторный вход того же партнера ничего не меняет.
func (s *Story) Join(partnerID uuid.UUID, now time.Time) (bool, error) {
	if s.Collaboration.Type() != CollaborationClassic {
		return false, fmt.Errorf("%w: branch stories are joined through their prompt group", ErrValidation)
	}
	return s.linkPartner(partnerID, now)
}

// LinkSibling records the author of the sibling branch as this branch's partner.
func (s *Story) LinkSibling(siblingAuthorID uuid.UUID, now time.Time) (bool, error) {
	if s.Collaboration.Type() != CollaborationBranch {
		return false, fmt.Errorf("%w: only branch stories have siblings", ErrValidation)
	}
	return s.linkPartner(siblingAuthorID, now)
}

func (s *Story) linkPartner(partnerID uuid.UUID, now time.Time) (bool, error) {
	if partnerID == s.CreatorID {
		return false, ErrSelfJoin
	}
	if s.PartnerID != nil {
		if *s.PartnerID == partnerID {
			return false, nil
		}
		return false, ErrAlreadyPartnered
	}
	p := partnerID
	s.PartnerID = &p
	s.touch(now)
	return true, nil
}

func (s *Story) touch(now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(timestampResolution)
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// CurrentTurn returns the participant allowed to append next.
func (s *Story) CurrentTurn() uuid.UUID {
	return s.Collaboration.currentTurn()
}

func (s *Story) CollaborationType() CollaborationType {
	return s.Collaboration.Type()
}

// ParentPromptID возвращает идентификатор группы для веток.
func (s *Story) ParentPromptID() (uuid.UUID, bool) {
	if b, ok := s.Collaboration.(Branch); ok {
		return b.ParentPromptID, true
	}
	return uuid.Nil, false
}

func (s *Story) BranchAuthorID() (uuid.UUID, bool) {
	if b, ok := s.Collaboration.(Branch); ok {
		return b.AuthorID, true
	}
	return uuid.Nil, false
}

// HasParticipant reports whether id is the creator or the partner.
func (s *Story) HasParticipant(id uuid.UUID) bool {
	return id == s.CreatorID || (s.PartnerID != nil && *s.PartnerID == id)
}

// IsMyTurn - ход этого участника и история не завершена.
func (s *Story) IsMyTurn(id uuid.UUID) bool {
	return !s.IsFinished && s.CurrentTurn() == id
}

func (s *Story) Entries() []StoryEntry {
	return s.log.Entries()
}

func (s *Story) EntryCount() int {
	return s.log.Len()
}

func (s *Story) LastN(n int) []string {
	return s.log.LastN(n)
}

// FlushEvents отдает накопленные события и очищает очередь.
func (s *Story) FlushEvents() []TurnPassed {
	events := s.events
	s.events = nil
	return events
}
