package http

import (
	"time"

	"wordchain-server/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// --- Запросы --- //

type createStoryRequest struct {
	Title  string `json:"title" validate:"max=120"`
	Prompt string `json:"prompt" validate:"max=500"`
	Mode   string `json:"mode" validate:"omitempty,oneof=quick standard epic sentence"`
	Theme  string `json:"theme" validate:"max=32"`
}

type appendEntryRequest struct {
	Content  string  `json:"content" validate:"required,max=500"`
	MediaURL *string `json:"mediaUrl" validate:"omitempty,url"`
}

type joinRequest struct {
	Code string `json:"code" validate:"required"`
}

type mergeRequest struct {
	BranchA uuid.UUID `json:"branchA" validate:"required"`
	BranchB uuid.UUID `json:"branchB" validate:"required"`
}

// --- Ответы --- //

// APIError - тело ответа с ошибкой.
type APIError struct {
	Message string `json:"message"`
}

type storyResponse struct {
	domain.StorySnapshot
	IsMyTurn  bool `json:"isMyTurn"`
	IsPremium bool `json:"isPremium"`
}

type storyListResponse struct {
	Stories []storyResponse `json:"stories"`
	Stale   bool            `json:"stale"`
}

type previewResponse struct {
	Words []string `json:"words"`
}

type branchGroupResponse struct {
	ParentPromptID uuid.UUID     `json:"parentPromptId"`
	SessionCode    string        `json:"sessionCode"`
	Branch         storyResponse `json:"branch"`
}

type joinBranchResponse struct {
	StoryID uuid.UUID `json:"storyId"`
}

type siblingsResponse struct {
	Branches []storyResponse `json:"branches"`
}

type entryResponse struct {
	ID              uuid.UUID `json:"id"`
	StoryID         uuid.UUID `json:"storyId"`
	Content         string    `json:"content"`
	ParticipantID   uuid.UUID `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	MediaURL        *string   `json:"mediaUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toStoryResponse(s *domain.Story, viewer uuid.UUID) storyResponse {
	return storyResponse{
		StorySnapshot: s.Snapshot(),
		IsMyTurn:      s.IsMyTurn(viewer),
		IsPremium:     s.Mode.IsPremium(),
	}
}

func toStoryResponses(stories []*domain.Story, viewer uuid.UUID) []storyResponse {
	out := make([]storyResponse, 0, len(stories))
	for _, s := range stories {
		out = append(out, toStoryResponse(s, viewer))
	}
	return out
}

func toEntryResponse(e domain.StoryEntry) entryResponse {
	return entryResponse{
		ID:              e.ID,
		StoryID:         e.StoryID,
		Content:         e.Content,
		ParticipantID:   e.ParticipantID,
		ParticipantName: e.ParticipantName,
		MediaURL:        e.MediaURL,
		CreatedAt:       e.CreatedAt,
	}
}
