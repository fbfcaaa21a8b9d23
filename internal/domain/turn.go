package domain

import "github.com/google/uuid"

// CollaborationType is the persisted tag of a Collaboration variant.
type CollaborationType string

const (
	CollaborationClassic CollaborationType = "classic"
	CollaborationBranch  CollaborationType = "branch"
)

// Collaboration - закрытый набор вариантов совместной работы над историей.
// Реализации есть только в этом пакете: Classic и Branch.
type Collaboration interface {
	Type() CollaborationType
	currentTurn() uuid.UUID
	nextTurn(s *Story, actingID uuid.UUID) uuid.UUID
	withTurn(participantID uuid.UUID) Collaboration
	contentShape(mode Mode) ContentShape
	checkAppend(s *Story, participantID uuid.UUID) error
}

// Classic - строгое чередование ходов между создателем и партнером.
type Classic struct {
	CurrentTurnParticipantID uuid.UUID
}

// Branch - независимая ветка одного автора в группе общего промпта.
type Branch struct {
	ParentPromptID uuid.UUID
	AuthorID       uuid.UUID
}

var (
	_ Collaboration = Classic{}
	_ Collaboration = Branch{}
)

func (Classic) Type() CollaborationType { return CollaborationClassic }

func (c Classic) currentTurn() uuid.UUID { return c.CurrentTurnParticipantID }

func (Classic) nextTurn(s *Story, actingID uuid.UUID) uuid.UUID {
	if s.PartnerID == nil {
		// solo: ход остается у того, кто пишет
		return actingID
	}
	if actingID == s.CreatorID {
		return *s.PartnerID
	}
	return s.CreatorID
}

func (Classic) withTurn(participantID uuid.UUID) Collaboration {
	return Classic{CurrentTurnParticipantID: participantID}
}

func (Classic) contentShape(mode Mode) ContentShape {
	if mode == ModeSentence {
		return ShapeFreeText
	}
	return ShapeSingleToken
}

func (c Classic) checkAppend(_ *Story, participantID uuid.UUID) error {
	if participantID != c.CurrentTurnParticipantID {
		return ErrNotYourTurn
	}
	return nil
}

func (Branch) Type() CollaborationType { return CollaborationBranch }

func (b Branch) currentTurn() uuid.UUID { return b.AuthorID }

func (b Branch) nextTurn(_ *Story, _ uuid.UUID) uuid.UUID { return b.AuthorID }

func (b Branch) withTurn(_ uuid.UUID) Collaboration { return b }

func (Branch) contentShape(Mode) ContentShape { return ShapeFreeText }

func (b Branch) checkAppend(_ *Story, participantID uuid.UUID) error {
	if participantID != b.AuthorID {
		return ErrForbidden
	}
	return nil
}

// NextTurn вычисляет, чей ход после вклада actingID.
func NextTurn(s *Story, actingID uuid.UUID) uuid.UUID {
	return s.Collaboration.nextTurn(s, actingID)
}

// IsComplete reports whether a story with entryCountAfterAppend entries has reached its budget.
func IsComplete(s *Story, entryCountAfterAppend int) bool {
	return entryCountAfterAppend >= s.MaxEntries
}
