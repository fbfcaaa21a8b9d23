package syncengine_test

import (
	"testing"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/syncengine"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBadgerRepository(t *testing.T) {
	repo, err := syncengine.OpenBadgerRepository("", zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	creator, partner := uuid.New(), uuid.New()
	story := newPairStory(t, creator, partner, 6)
	_, err = story.AppendEntry(domain.NewEntry{Content: "dark", ParticipantID: partner, ParticipantName: "Bob"}, time.Now())
	require.NoError(t, err)

	_, err = repo.Get(story.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Put(story))
	got, err := repo.Get(story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.Title, got.Title)
	assert.Equal(t, story.LastN(5), got.LastN(5))
	assert.True(t, story.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, creator, got.CurrentTurn())

	group := uuid.New()
	branch, err := domain.NewBranchStory(domain.StoryParams{Prompt: "Our trip", Mode: domain.ModeStandard, CreatorID: creator}, group)
	require.NoError(t, err)
	require.NoError(t, repo.Put(branch))

	all, err := repo.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Delete(story.ID))
	all, err = repo.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	parent, ok := all[0].ParentPromptID()
	assert.True(t, ok)
	assert.Equal(t, group, parent)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := syncengine.NewMemoryRepository()
	story := newPairStory(t, uuid.New(), uuid.New(), 6)
	require.NoError(t, repo.Put(story))

	got, err := repo.Get(story.ID)
	require.NoError(t, err)
	got.Finish(time.Now())

	again, err := repo.Get(story.ID)
	require.NoError(t, err)
	assert.False(t, again.IsFinished, "changes are visible only after Put")
}
