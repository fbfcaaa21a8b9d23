package domain

import (
	"time"

	"github.com/google/uuid"
)

// CodeTargetKind - на что указывает код приглашения.
type CodeTargetKind string

const (
	CodeTargetStory       CodeTargetKind = "story"
	CodeTargetPromptGroup CodeTargetKind = "prompt_group"
)

// SessionCodeRegistration maps a short join code to a story or a branch prompt group.
type SessionCodeRegistration struct {
	Code      string         `json:"code"`
	Kind      CodeTargetKind `json:"kind"`
	TargetID  uuid.UUID      `json:"targetId"`
	OwnerID   uuid.UUID      `json:"ownerId"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RedeemResult - итог входа по коду.
type RedeemResult struct {
	Kind     CodeTargetKind `json:"kind"`
	TargetID uuid.UUID      `json:"targetId"`
	StoryID  uuid.UUID      `json:"storyId"`
}
