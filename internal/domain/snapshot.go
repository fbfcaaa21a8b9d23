package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StorySnapshot - плоское представление истории для хранения, кэша и API.
type StorySnapshot struct {
	ID                       uuid.UUID         `json:"id" db:"id"`
	Title                    string            `json:"title" db:"title"`
	Prompt                   string            `json:"prompt" db:"prompt"`
	Theme                    Theme             `json:"theme" db:"theme"`
	Mode                     Mode              `json:"mode" db:"mode"`
	MaxEntries               int               `json:"maxEntries" db:"max_entries"`
	CreatorID                uuid.UUID         `json:"creatorId" db:"creator_id"`
	PartnerID                *uuid.UUID        `json:"partnerId,omitempty" db:"partner_id"`
	SessionCode              *string           `json:"sessionCode,omitempty" db:"session_code"`
	CollaborationType        CollaborationType `json:"collaborationType" db:"collaboration_type"`
	CurrentTurnParticipantID uuid.UUID         `json:"currentTurnParticipantId" db:"current_turn_participant_id"`
	ParentPromptID           *uuid.UUID        `json:"parentPromptId,omitempty" db:"parent_prompt_id"`
	BranchAuthorID           *uuid.UUID        `json:"branchAuthorId,omitempty" db:"branch_author_id"`
	IsFinished               bool              `json:"isFinished" db:"is_finished"`
	IsRevealed               bool              `json:"isRevealed" db:"is_revealed"`
	CreatedAt                time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt                time.Time         `json:"updatedAt" db:"updated_at"`
	Entries                  []StoryEntry      `json:"entries" db:"-"`
}

// Snapshot copies the story into its flat form.
func (s *Story) Snapshot() StorySnapshot {
	snap := StorySnapshot{
		ID:                       s.ID,
		Title:                    s.Title,
		Prompt:                   s.Prompt,
		Theme:                    s.Theme,
		Mode:                     s.Mode,
		MaxEntries:               s.MaxEntries,
		CreatorID:                s.CreatorID,
		PartnerID:                copyUUID(s.PartnerID),
		SessionCode:              copyString(s.SessionCode),
		CollaborationType:        s.Collaboration.Type(),
		CurrentTurnParticipantID: s.CurrentTurn(),
		IsFinished:               s.IsFinished,
		IsRevealed:               s.IsRevealed,
		CreatedAt:                s.CreatedAt,
		UpdatedAt:                s.UpdatedAt,
		Entries:                  s.log.Entries(),
	}
	if b, ok := s.Collaboration.(Branch); ok {
		snap.ParentPromptID = copyUUID(&b.ParentPromptID)
		snap.BranchAuthorID = copyUUID(&b.AuthorID)
	}
	return snap
}

// FromSnapshot восстанавливает агрегат из плоского представления, проверяя тег варианта.
func FromSnapshot(snap StorySnapshot) (*Story, error) {
	var collab Collaboration
	switch snap.CollaborationType {
	case CollaborationClassic, "":
		turn := snap.CurrentTurnParticipantID
		if turn == uuid.Nil {
			turn = snap.CreatorID
		}
		collab = Classic{CurrentTurnParticipantID: turn}
	case CollaborationBranch:
		if snap.ParentPromptID == nil {
			return nil, fmt.Errorf("%w: branch story %s has no parent prompt", ErrValidation, snap.ID)
		}
		author := snap.CreatorID
		if snap.BranchAuthorID != nil {
			author = *snap.BranchAuthorID
		}
		collab = Branch{ParentPromptID: *snap.ParentPromptID, AuthorID: author}
	default:
		return nil, fmt.Errorf("%w: unknown collaboration type %q", ErrConfiguration, string(snap.CollaborationType))
	}
	if _, err := snap.Mode.MaxEntries(); err != nil {
		return nil, err
	}

	return &Story{
		ID:            snap.ID,
		Title:         snap.Title,
		Prompt:        snap.Prompt,
		Theme:         snap.Theme,
		Mode:          snap.Mode,
		MaxEntries:    snap.MaxEntries,
		CreatorID:     snap.CreatorID,
		PartnerID:     copyUUID(snap.PartnerID),
		SessionCode:   copyString(snap.SessionCode),
		IsFinished:    snap.IsFinished,
		IsRevealed:    snap.IsRevealed,
		CreatedAt:     snap.CreatedAt,
		UpdatedAt:     snap.UpdatedAt,
		Collaboration: collab,
		log:           RestoreEntryLog(snap.ID, snap.Entries),
	}, nil
}

// Clone returns an independent copy without pending events.
func (s *Story) Clone() *Story {
	c, err := FromSnapshot(s.Snapshot())
	if err != nil {
		// снапшот собственного агрегата всегда валиден
		panic(err)
	}
	return c
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
