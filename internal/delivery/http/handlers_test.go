package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	deliveryhttp "wordchain-server/internal/delivery/http"
	"wordchain-server/internal/delivery/http/middleware"
	"wordchain-server/internal/domain"
	"wordchain-server/internal/service"
	"wordchain-server/internal/service/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router   *gin.Engine
	stories  *mocks.StoryService
	branches *mocks.BranchCoordinator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{stories: new(mocks.StoryService), branches: new(mocks.BranchCoordinator)}
	h := deliveryhttp.NewHandler(f.stories, f.branches, zap.NewNop())
	f.router = deliveryhttp.NewRouter(deliveryhttp.RouterConfig{JWTSecret: testSecret}, h, zap.NewNop())
	t.Cleanup(func() {
		f.stories.AssertExpectations(t)
		f.branches.AssertExpectations(t)
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, participant uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if participant != uuid.Nil {
		token, err := middleware.IssueToken(participant, "Alice", testSecret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func newStory(t *testing.T, creator uuid.UUID) *domain.Story {
	t.Helper()
	code := "482913"
	story, err := domain.NewClassicStory(domain.StoryParams{
		Prompt:      "once upon a time",
		Mode:        domain.ModeQuick,
		CreatorID:   creator,
		SessionCode: &code,
		Now:         time.Now(),
	})
	require.NoError(t, err)
	return story
}

func TestAuth(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("Health needs no token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/health", uuid.Nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Missing token", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/stories", uuid.Nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Expired token", func(t *testing.T) {
		token, err := middleware.IssueToken(uuid.New(), "Bob", testSecret, -time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stories", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "expired")
	})

	t.Run("Wrong signing key", func(t *testing.T) {
		token, err := middleware.IssueToken(uuid.New(), "Bob", []byte("other"), time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/stories", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Token in query string", func(t *testing.T) {
		alice := uuid.New()
		token, err := middleware.IssueToken(alice, "Alice", testSecret, time.Hour)
		require.NoError(t, err)
		f.stories.On("ListStories", mock.Anything, alice, service.FilterAll).
			Return(&service.StoryList{}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/api/v1/stories?access_token="+token, nil)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCreateStory(t *testing.T) {
	f := newAPIFixture(t)
	alice := uuid.New()

	t.Run("Created with caller as creator", func(t *testing.T) {
		story := newStory(t, alice)
		f.stories.On("CreateStory", mock.Anything, mock.MatchedBy(func(in service.CreateStoryInput) bool {
			return in.CreatorID == alice && in.CreatorName == "Alice" &&
				in.Mode == domain.ModeQuick && in.Theme == domain.DefaultTheme
		})).Return(story, nil).Once()

		rec := f.do(t, http.MethodPost, "/api/v1/stories", alice, map[string]string{"prompt": "once upon a time", "mode": "quick"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, story.ID.String(), body["id"])
		assert.Equal(t, "482913", body["sessionCode"])
		assert.Equal(t, true, body["isMyTurn"])
		assert.Len(t, body["entries"], 4)
	})

	t.Run("Unknown mode is rejected before the service", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/stories", alice, map[string]string{"mode": "marathon"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Unknown theme", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/stories", alice, map[string]string{"theme": "western"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAppendEntry_ErrorMapping(t *testing.T) {
	alice := uuid.New()
	storyID := uuid.New()

	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrNotYourTurn, http.StatusConflict},
		{domain.ErrAlreadyFinished, http.StatusConflict},
		{fmt.Errorf("%w: entry must be a single word", domain.ErrValidation), http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: append_entry failed after 3 attempts: %w", domain.ErrPersistence, assert.AnError), http.StatusServiceUnavailable},
		{domain.ErrTimeout, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := newAPIFixture(t)
			f.stories.On("AppendEntry", mock.Anything, storyID, mock.MatchedBy(func(in domain.NewEntry) bool {
				return in.ParticipantID == alice && in.Content == "dragon" && in.ParticipantName == "Alice"
			})).Return(domain.StoryEntry{}, tc.err).Once()

			rec := f.do(t, http.MethodPost, "/api/v1/stories/"+storyID.String()+"/entries", alice, map[string]string{"content": "dragon"})
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	t.Run("Success", func(t *testing.T) {
		f := newAPIFixture(t)
		entry := domain.StoryEntry{ID: uuid.New(), StoryID: storyID, Content: "dragon", ParticipantID: alice, CreatedAt: time.Now()}
		f.stories.On("AppendEntry", mock.Anything, storyID, mock.Anything).Return(entry, nil).Once()

		rec := f.do(t, http.MethodPost, "/api/v1/stories/"+storyID.String()+"/entries", alice, map[string]string{"content": "dragon"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"content":"dragon"`)
	})

	t.Run("Empty content never reaches the service", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/stories/"+storyID.String()+"/entries", alice, map[string]string{"content": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Malformed story id", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/stories/not-a-uuid/entries", alice, map[string]string{"content": "dragon"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestJoinAndStoryOperations(t *testing.T) {
	f := newAPIFixture(t)
	alice, bob := uuid.New(), uuid.New()
	story := newStory(t, alice)

	f.stories.On("JoinWithCode", mock.Anything, "000000", bob).Return(nil, domain.ErrInvalidCode).Once()
	rec := f.do(t, http.MethodPost, "/api/v1/join", bob, map[string]string{"code": "000000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.stories.On("JoinWithCode", mock.Anything, "482913", alice).Return(nil, domain.ErrSelfJoin).Once()
	rec = f.do(t, http.MethodPost, "/api/v1/join", alice, map[string]string{"code": "482913"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.stories.On("JoinWithCode", mock.Anything, "482913", bob).
		Return(&domain.RedeemResult{Kind: domain.CodeTargetStory, TargetID: story.ID, StoryID: story.ID}, nil).Once()
	rec = f.do(t, http.MethodPost, "/api/v1/join", bob, map[string]string{"code": "482913"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), story.ID.String())

	f.stories.On("Preview", mock.Anything, story.ID, bob).Return([]string{"upon", "a", "time"}, nil).Once()
	rec = f.do(t, http.MethodGet, "/api/v1/stories/"+story.ID.String()+"/preview", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"words":["upon","a","time"]}`, rec.Body.String())

	f.stories.On("FinishStory", mock.Anything, story.ID, bob).Return(story, nil).Once()
	rec = f.do(t, http.MethodPost, "/api/v1/stories/"+story.ID.String()+"/finish", bob, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.stories.On("RefreshStory", mock.Anything, story.ID, bob).Return(nil, domain.ErrTimeout).Once()
	rec = f.do(t, http.MethodPost, "/api/v1/stories/"+story.ID.String()+"/refresh", bob, nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	f.stories.On("DeleteStory", mock.Anything, story.ID, bob).Return(domain.ErrForbidden).Once()
	rec = f.do(t, http.MethodDelete, "/api/v1/stories/"+story.ID.String(), bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.stories.On("DeleteStory", mock.Anything, story.ID, alice).Return(nil).Once()
	rec = f.do(t, http.MethodDelete, "/api/v1/stories/"+story.ID.String(), alice, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	f.stories.On("ListStories", mock.Anything, alice, service.FilterActive).
		Return(&service.StoryList{Stories: []*domain.Story{story}, Stale: true}, nil).Once()
	rec = f.do(t, http.MethodGet, "/api/v1/stories?filter=active", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stale":true`)
}

func TestBranches(t *testing.T) {
	f := newAPIFixture(t)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	parent := uuid.New()
	code := "100200"
	branch, err := domain.NewBranchStory(domain.StoryParams{
		Prompt:      "The old lighthouse",
		Mode:        domain.ModeStandard,
		CreatorID:   alice,
		SessionCode: &code,
		Now:         time.Now(),
	}, parent)
	require.NoError(t, err)

	t.Run("Create group", func(t *testing.T) {
		f.branches.On("CreateBranchGroup", mock.Anything, mock.MatchedBy(func(in service.CreateStoryInput) bool {
			return in.CreatorID == alice && in.Prompt == "The old lighthouse"
		})).Return(&service.BranchGroup{ParentPromptID: parent, SessionCode: code, CreatorBranch: branch}, nil).Once()

		rec := f.do(t, http.MethodPost, "/api/v1/branches", alice, map[string]string{"prompt": "The old lighthouse", "mode": "standard"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"sessionCode":"100200"`)
		assert.Contains(t, rec.Body.String(), parent.String())
	})

	t.Run("Join group", func(t *testing.T) {
		branchID := uuid.New()
		f.branches.On("JoinBranchGroup", mock.Anything, code, bob).Return(branchID, nil).Once()
		rec := f.do(t, http.MethodPost, "/api/v1/branches/join", bob, map[string]string{"code": code})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), branchID.String())
	})

	t.Run("Siblings are hidden from outsiders", func(t *testing.T) {
		f.branches.On("GetSiblingBranches", mock.Anything, parent).Return([]*domain.Story{branch}, nil).Twice()

		rec := f.do(t, http.MethodGet, "/api/v1/branches/"+parent.String()+"/siblings", carol, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/branches/"+parent.String()+"/siblings", alice, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Merge mismatch", func(t *testing.T) {
		a, b := uuid.New(), uuid.New()
		f.branches.On("Merge", mock.Anything, alice, a, b).Return(nil, domain.ErrMismatchedBranch).Once()
		rec := f.do(t, http.MethodPost, "/api/v1/branches/merge", alice, map[string]string{"branchA": a.String(), "branchB": b.String()})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("Merge requires both branches", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/branches/merge", alice, map[string]string{"branchA": uuid.NewString()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
