package http

import (
	"context"
	"fmt"
	"net/http"

	"wordchain-server/internal/delivery/http/middleware"
	"wordchain-server/internal/domain"
	"wordchain-server/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler - HTTP-слой над сервисами историй и веток.
type Handler struct {
	stories  service.StoryService
	branches service.BranchCoordinator
	logger   *zap.Logger
}

func NewHandler(stories service.StoryService, branches service.BranchCoordinator, logger *zap.Logger) *Handler {
	return &Handler{
		stories:  stories,
		branches: branches,
		logger:   logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API. Группа уже должна быть закрыта JWT-middleware.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	stories := api.Group("/stories")
	{
		stories.POST("", h.createStory)
		stories.GET("", h.listStories)
		stories.GET("/:id", h.getStory)
		stories.DELETE("/:id", h.deleteStory)
		stories.POST("/:id/entries", h.appendEntry)
		stories.POST("/:id/finish", h.finishStory)
		stories.POST("/:id/reveal", h.revealStory)
		stories.POST("/:id/refresh", h.refreshStory)
		stories.GET("/:id/preview", h.previewStory)
	}
	api.POST("/join", h.joinWithCode)

	branches := api.Group("/branches")
	{
		branches.POST("", h.createBranchGroup)
		branches.POST("/join", h.joinBranchGroup)
		branches.POST("/merge", h.mergeBranches)
		branches.GET("/:parentPromptId/siblings", h.getSiblings)
	}
}

// --- Вспомогательные функции --- //

func (h *Handler) participant(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.ParticipantFromContext(c)
	if !ok {
		h.logger.Error("Participant missing in context after auth middleware", zap.String("path", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Message: "Unauthorized"})
	}
	return id, ok
}

func (h *Handler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: fmt.Sprintf("Invalid %s", name)})
		return uuid.Nil, false
	}
	return id, true
}

// bind читает JSON и проверяет его валидатором.
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: "Invalid request body"})
		return false
	}
	if err := validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: err.Error()})
		return false
	}
	return true
}

func (h *Handler) createInput(c *gin.Context, req createStoryRequest, participantID uuid.UUID) (service.CreateStoryInput, bool) {
	theme, err := domain.ParseTheme(req.Theme)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return service.CreateStoryInput{}, false
	}
	return service.CreateStoryInput{
		Title:       req.Title,
		Prompt:      req.Prompt,
		Mode:        domain.Mode(req.Mode),
		Theme:       theme,
		CreatorID:   participantID,
		CreatorName: middleware.ParticipantNameFromContext(c),
	}, true
}

// --- Истории --- //

func (h *Handler) createStory(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	var req createStoryRequest
	if !h.bind(c, &req) {
		return
	}
	in, ok := h.createInput(c, req, participantID)
	if !ok {
		return
	}
	story, err := h.stories.CreateStory(c.Request.Context(), in)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, toStoryResponse(story, participantID))
}

func (h *Handler) listStories(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	filter := service.StoryFilter(c.DefaultQuery("filter", string(service.FilterAll)))
	list, err := h.stories.ListStories(c.Request.Context(), participantID, filter)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, storyListResponse{
		Stories: toStoryResponses(list.Stories, participantID),
		Stale:   list.Stale,
	})
}

func (h *Handler) getStory(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	storyID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	story, err := h.stories.GetStory(c.Request.Context(), storyID, participantID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, toStoryResponse(story, participantID))
}

func (h *Handler) deleteStory(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	storyID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.stories.DeleteStory(c.Request.Context(), storyID, participantID); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) appendEntry(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	storyID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req appendEntryRequest
	if !h.bind(c, &req) {
		return
	}
	entry, err := h.stories.AppendEntry(c.Request.Context(), storyID, domain.NewEntry{
		Content:         req.Content,
		ParticipantID:   participantID,
		ParticipantName: middleware.ParticipantNameFromContext(c),
		MediaURL:        req.MediaURL,
	})
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) finishStory(c *gin.Context) {
	h.mutateStory(c, h.stories.FinishStory)
}

func (h *Handler) revealStory(c *gin.Context) {
	h.mutateStory(c, h.stories.RevealStory)
}

func (h *Handler) refreshStory(c *gin.Context) {
	h.mutateStory(c, h.stories.RefreshStory)
}

func (h *Handler) mutateStory(c *gin.Context, op func(ctx context.Context, storyID, participantID uuid.UUID) (*domain.Story, error)) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	storyID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	story, err := op(c.Request.Context(), storyID, participantID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, toStoryResponse(story, participantID))
}

func (h *Handler) previewStory(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	storyID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	words, err := h.stories.Preview(c.Request.Context(), storyID, participantID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, previewResponse{Words: words})
}

func (h *Handler) joinWithCode(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	var req joinRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.stories.JoinWithCode(c.Request.Context(), req.Code, participantID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Ветки --- //

func (h *Handler) createBranchGroup(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	var req createStoryRequest
	if !h.bind(c, &req) {
		return
	}
	in, ok := h.createInput(c, req, participantID)
	if !ok {
		return
	}
	group, err := h.branches.CreateBranchGroup(c.Request.Context(), in)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, branchGroupResponse{
		ParentPromptID: group.ParentPromptID,
		SessionCode:    group.SessionCode,
		Branch:         toStoryResponse(group.CreatorBranch, participantID),
	})
}

func (h *Handler) joinBranchGroup(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	var req joinRequest
	if !h.bind(c, &req) {
		return
	}
	branchID, err := h.branches.JoinBranchGroup(c.Request.Context(), req.Code, participantID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, joinBranchResponse{StoryID: branchID})
}

func (h *Handler) getSiblings(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	parentPromptID, ok := h.uuidParam(c, "parentPromptId")
	if !ok {
		return
	}
	branches, err := h.branches.GetSiblingBranches(c.Request.Context(), parentPromptID)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	// чужие группы не показываем
	visible := false
	for _, b := range branches {
		if b.HasParticipant(participantID) {
			visible = true
			break
		}
	}
	if !visible {
		handleServiceError(c, domain.ErrNotFound, h.logger)
		return
	}
	c.JSON(http.StatusOK, siblingsResponse{Branches: toStoryResponses(branches, participantID)})
}

func (h *Handler) mergeBranches(c *gin.Context) {
	participantID, ok := h.participant(c)
	if !ok {
		return
	}
	var req mergeRequest
	if !h.bind(c, &req) {
		return
	}
	merged, err := h.branches.Merge(c.Request.Context(), participantID, req.BranchA, req.BranchB)
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, toStoryResponse(merged, participantID))
}
