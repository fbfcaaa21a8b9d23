package service_test

import (
	"context"
	"testing"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchCoordinator_JoinAndSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	group, err := f.branches.CreateBranchGroup(ctx, service.CreateStoryInput{
		Prompt:    "Our trip to the lake was",
		Mode:      domain.ModeStandard,
		Theme:     domain.ThemeAdventure,
		CreatorID: alice,
	})
	require.NoError(t, err)
	assert.Equal(t, "Our trip to the lake was", group.CreatorBranch.Title)
	assert.Equal(t, 5, group.CreatorBranch.EntryCount())
	assert.Equal(t, alice, group.CreatorBranch.CurrentTurn())

	_, err = f.branches.JoinBranchGroup(ctx, group.SessionCode, alice)
	assert.ErrorIs(t, err, domain.ErrSelfJoin)

	bobBranchID, err := f.branches.JoinBranchGroup(ctx, group.SessionCode, bob)
	require.NoError(t, err)
	assert.NotEqual(t, group.CreatorBranch.ID, bobBranchID)

	again, err := f.stories.JoinWithCode(ctx, group.SessionCode, bob)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeTargetPromptGroup, again.Kind)
	assert.Equal(t, bobBranchID, again.StoryID, "rejoin returns the existing branch")

	_, err = f.branches.JoinBranchGroup(ctx, group.SessionCode, carol)
	assert.ErrorIs(t, err, domain.ErrAlreadyPartnered)

	siblings, err := f.branches.GetSiblingBranches(ctx, group.ParentPromptID)
	require.NoError(t, err)
	require.Len(t, siblings, 2)
	authors := map[uuid.UUID]bool{}
	for _, b := range siblings {
		author, ok := b.BranchAuthorID()
		require.True(t, ok)
		authors[author] = true
		assert.Equal(t, author, b.CurrentTurn())
		assert.Equal(t, domain.ThemeAdventure, b.Theme)
		assert.Equal(t, 75, b.MaxEntries)
		require.NotNil(t, b.PartnerID)
		assert.NotEqual(t, author, *b.PartnerID)
	}
	assert.Len(t, authors, 2)

	t.Run("Branches progress independently", func(t *testing.T) {
		_, err := f.stories.AppendEntry(ctx, group.CreatorBranch.ID, word(alice, "unexpectedly quiet"))
		require.NoError(t, err)
		_, err = f.stories.AppendEntry(ctx, group.CreatorBranch.ID, word(alice, "and cold"))
		require.NoError(t, err)
		_, err = f.stories.AppendEntry(ctx, bobBranchID, word(bob, "a disaster"))
		require.NoError(t, err)

		_, err = f.stories.AppendEntry(ctx, bobBranchID, word(alice, "intrusion"))
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestBranchCoordinator_Merge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()

	group, err := f.branches.CreateBranchGroup(ctx, service.CreateStoryInput{Prompt: "Red sky", Mode: domain.ModeQuick, CreatorID: alice})
	require.NoError(t, err)
	bobBranchID, err := f.branches.JoinBranchGroup(ctx, group.SessionCode, bob)
	require.NoError(t, err)

	_, err = f.stories.AppendEntry(ctx, group.CreatorBranch.ID, word(alice, "at night"))
	require.NoError(t, err)
	_, err = f.stories.AppendEntry(ctx, bobBranchID, word(bob, "burning"))
	require.NoError(t, err)

	t.Run("Same branch twice", func(t *testing.T) {
		_, err := f.branches.Merge(ctx, alice, bobBranchID, bobBranchID)
		assert.ErrorIs(t, err, domain.ErrMismatchedBranch)
	})

	t.Run("Different groups", func(t *testing.T) {
		other, err := f.branches.CreateBranchGroup(ctx, service.CreateStoryInput{Prompt: "Blue sea", Mode: domain.ModeQuick, CreatorID: alice})
		require.NoError(t, err)
		_, err = f.branches.Merge(ctx, alice, group.CreatorBranch.ID, other.CreatorBranch.ID)
		assert.ErrorIs(t, err, domain.ErrMismatchedBranch)
	})

	t.Run("Classic story is not a branch", func(t *testing.T) {
		classic, err := f.stories.CreateStory(ctx, service.CreateStoryInput{Mode: domain.ModeQuick, CreatorID: alice})
		require.NoError(t, err)
		_, err = f.branches.Merge(ctx, alice, group.CreatorBranch.ID, classic.ID)
		assert.ErrorIs(t, err, domain.ErrMismatchedBranch)
	})

	t.Run("Outsider cannot merge", func(t *testing.T) {
		_, err := f.branches.Merge(ctx, uuid.New(), group.CreatorBranch.ID, bobBranchID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("Merge creates a new classic story", func(t *testing.T) {
		merged, err := f.branches.Merge(ctx, bob, group.CreatorBranch.ID, bobBranchID)
		require.NoError(t, err)
		assert.Equal(t, domain.CollaborationClassic, merged.CollaborationType())
		assert.Equal(t, "Merged: Red sky", merged.Title)
		assert.Equal(t, "Red sky at night meets Red sky burning", merged.Prompt)
		assert.Equal(t, []string{"Red", "sky", "at", "night", "meets"}, merged.LastN(5))
		assert.Equal(t, bob, merged.CreatorID)
		require.NotNil(t, merged.PartnerID)
		assert.Equal(t, alice, *merged.PartnerID)
		assert.Nil(t, merged.SessionCode)
		assert.Equal(t, alice, merged.CurrentTurn(), "odd seed hands the turn to the partner")

		// исходные ветки не меняются
		siblings, err := f.branches.GetSiblingBranches(ctx, group.ParentPromptID)
		require.NoError(t, err)
		assert.Len(t, siblings, 2)
		for _, b := range siblings {
			assert.Equal(t, domain.CollaborationBranch, b.CollaborationType())
		}
	})
}

func TestBranchCoordinator_MergeEvenSeedKeepsCreatorTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()

	group, err := f.branches.CreateBranchGroup(ctx, service.CreateStoryInput{Prompt: "Sky", Mode: domain.ModeQuick, CreatorID: alice})
	require.NoError(t, err)
	bobBranchID, err := f.branches.JoinBranchGroup(ctx, group.SessionCode, bob)
	require.NoError(t, err)
	_, err = f.stories.AppendEntry(ctx, bobBranchID, word(bob, "now"))
	require.NoError(t, err)

	merged, err := f.branches.Merge(ctx, bob, group.CreatorBranch.ID, bobBranchID)
	require.NoError(t, err)
	assert.Equal(t, "Sky meets Sky now", merged.Prompt)
	assert.Equal(t, 4, merged.EntryCount())
	assert.Equal(t, bob, merged.CurrentTurn())

	_, err = f.stories.AppendEntry(ctx, merged.ID, word(alice, "early"))
	assert.ErrorIs(t, err, domain.ErrNotYourTurn)
	_, err = f.stories.AppendEntry(ctx, merged.ID, word(bob, "again"))
	require.NoError(t, err)
}

func TestBranchCoordinator_CreateDefaultsAndOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	alice, bob := uuid.New(), uuid.New()

	group, err := f.branches.CreateBranchGroup(ctx, service.CreateStoryInput{Prompt: "Our trip", CreatorID: alice})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeStandard, group.CreatorBranch.Mode)
	assert.Equal(t, 75, group.CreatorBranch.MaxEntries)

	_, err = f.branches.CreateBranchGroup(ctx, service.CreateStoryInput{Prompt: "Our trip", Mode: "marathon", CreatorID: alice})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	bobBranchID, err := f.branches.JoinBranchGroup(ctx, group.SessionCode, bob)
	require.NoError(t, err)

	t.Run("Sibling author cannot finish or reveal a branch", func(t *testing.T) {
		_, err := f.stories.FinishStory(ctx, group.CreatorBranch.ID, bob)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		_, err = f.stories.RevealStory(ctx, bobBranchID, alice)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("Each branch finishes independently", func(t *testing.T) {
		finished, err := f.stories.FinishStory(ctx, bobBranchID, bob)
		require.NoError(t, err)
		assert.True(t, finished.IsFinished)

		mine, err := f.stories.GetStory(ctx, group.CreatorBranch.ID, alice)
		require.NoError(t, err)
		assert.False(t, mine.IsFinished)
	})
}
