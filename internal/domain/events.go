package domain

import (
	"time"

	"github.com/google/uuid"
)

// TurnPassed is raised when an append hands the turn to another participant
// of an unfinished story.
type TurnPassed struct {
	StoryID         uuid.UUID
	StoryTitle      string
	FromID          uuid.UUID
	FromName        string
	ToID            uuid.UUID
	EntryContent    string
	EntryCountAfter int
	OccurredAt      time.Time
}
