package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StoryEntry - один вклад участника в историю. После создания не меняется.
type StoryEntry struct {
	ID              uuid.UUID `json:"id" db:"id"`
	StoryID         uuid.UUID `json:"storyId" db:"story_id"`
	Content         string    `json:"content" db:"content"`
	ParticipantID   uuid.UUID `json:"participantId" db:"participant_id"`
	ParticipantName string    `json:"participantName" db:"participant_name"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	MediaURL        *string   `json:"mediaUrl,omitempty" db:"media_url"`
}

// ContentShape задает допустимую форму содержимого записи.
type ContentShape int

const (
	// ShapeSingleToken - ровно одно слово без пробелов.
	ShapeSingleToken ContentShape = iota
	// ShapeFreeText - произвольный непустой текст.
	ShapeFreeText
)

// NewEntry is the caller-supplied part of an entry.
type NewEntry struct {
	Content         string
	ParticipantID   uuid.UUID
	ParticipantName string
	MediaURL        *string
}

// timestampResolution совпадает с точностью timestamptz в Postgres,
// иначе порядок после перечитывания из базы может поменяться.
const timestampResolution = time.Microsecond

// EntryLog - упорядоченный журнал записей одной истории, только добавление.
type EntryLog struct {
	storyID uuid.UUID
	entries []StoryEntry
}

func NewEntryLog(storyID uuid.UUID) *EntryLog {
	return &EntryLog{storyID: storyID}
}

// RestoreEntryLog rebuilds a log from persisted rows ordered by timestamp.
func RestoreEntryLog(storyID uuid.UUID, entries []StoryEntry) *EntryLog {
	restored := slices.Clone(entries)
	slices.SortStableFunc(restored, func(a, b StoryEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return &EntryLog{storyID: storyID, entries: restored}
}

// Append validates the content against shape and adds a new entry to the end.
// Timestamps are strictly increasing within the log.
func (l *EntryLog) Append(in NewEntry, shape ContentShape, now time.Time) (StoryEntry, error) {
	content, err := ValidateContent(in.Content, shape)
	if err != nil {
		return StoryEntry{}, err
	}

	createdAt := now.UTC().Truncate(timestampResolution)
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1].CreatedAt
		if !createdAt.After(last) {
			createdAt = last.Add(timestampResolution)
		}
	}

	name := strings.TrimSpace(in.ParticipantName)
	if name == "" {
		name = DefaultParticipantName
	}

	entry := StoryEntry{
		ID:              uuid.New(),
		StoryID:         l.storyID,
		Content:         content,
		ParticipantID:   in.ParticipantID,
		ParticipantName: name,
		CreatedAt:       createdAt,
		MediaURL:        in.MediaURL,
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// LastN возвращает содержимое последних n записей (для превью).
func (l *EntryLog) LastN(n int) []string {
	if n <= 0 || len(l.entries) == 0 {
		return []string{}
	}
	start := max(len(l.entries)-n, 0)
	out := make([]string, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, e.Content)
	}
	return out
}

func (l *EntryLog) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log.
func (l *EntryLog) Entries() []StoryEntry {
	return slices.Clone(l.entries)
}

// ValidateContent trims the content and checks it against shape.
func ValidateContent(raw string, shape ContentShape) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", fmt.Errorf("%w: entry content is empty", ErrValidation)
	}
	if shape == ShapeSingleToken && len(strings.Fields(content)) > 1 {
		return "", fmt.Errorf("%w: only one word is allowed", ErrValidation)
	}
	return content, nil
}
