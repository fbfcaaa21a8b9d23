package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces/mocks"
	"wordchain-server/internal/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedSource(values ...int64) session.CodeSource {
	i := 0
	return func() (int64, error) {
		v := values[i%len(values)]
		i++
		return v, nil
	}
}

type linkerStub struct {
	classic func(storyID, participantID uuid.UUID) (uuid.UUID, error)
	branch  func(reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error)
}

func (l linkerStub) LinkClassic(_ context.Context, storyID, participantID uuid.UUID) (uuid.UUID, error) {
	return l.classic(storyID, participantID)
}

func (l linkerStub) LinkBranch(_ context.Context, reg domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error) {
	return l.branch(reg, participantID)
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "000042", session.FormatCode(42))
	assert.Equal(t, "999999", session.FormatCode(999999))
	assert.Equal(t, "000000", session.FormatCode(1_000_000))
}

func TestRegistry_GenerateCode(t *testing.T) {
	ctx := context.Background()
	target, owner := uuid.New(), uuid.New()

	t.Run("Collision is retried with a fresh code", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		reg := session.NewRegistry(store, nil, fixedSource(7, 123456), session.Config{CodeTTL: time.Hour}, zap.NewNop())

		store.On("Reserve", mock.Anything, mock.MatchedBy(func(r domain.SessionCodeRegistration) bool { return r.Code == "000007" }), time.Hour).
			Return(false, nil).Once()
		store.On("Reserve", mock.Anything, mock.MatchedBy(func(r domain.SessionCodeRegistration) bool {
			return r.Code == "123456" && r.TargetID == target && r.OwnerID == owner && r.Kind == domain.CodeTargetStory
		}), time.Hour).Return(true, nil).Once()

		code, err := reg.GenerateCode(ctx, domain.CodeTargetStory, target, owner)
		require.NoError(t, err)
		assert.Equal(t, "123456", code)
		store.AssertExpectations(t)
	})

	t.Run("Nearly full code space fails after bounded attempts", func(t *testing.T) {
		// занято 999 999 кодов из миллиона, генератор выдает только занятые
		store := new(mocks.SessionCodeStore)
		attempts := 0
		source := func() (int64, error) {
			attempts++
			return int64(attempts), nil
		}
		reg := session.NewRegistry(store, nil, source, session.Config{MaxAttempts: 10}, zap.NewNop())
		store.On("Reserve", mock.Anything, mock.Anything, time.Duration(0)).Return(false, nil)

		_, err := reg.GenerateCode(ctx, domain.CodeTargetPromptGroup, target, owner)
		assert.ErrorIs(t, err, domain.ErrCodeExhaustion)
		assert.Equal(t, 10, attempts)
		store.AssertNumberOfCalls(t, "Reserve", 10)
	})

	t.Run("Store failure is a persistence error", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		reg := session.NewRegistry(store, nil, fixedSource(1), session.Config{}, zap.NewNop())
		store.On("Reserve", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down")).Once()

		_, err := reg.GenerateCode(ctx, domain.CodeTargetStory, target, owner)
		assert.ErrorIs(t, err, domain.ErrPersistence)
	})
}

func TestRegistry_Redeem(t *testing.T) {
	ctx := context.Background()
	storyID, owner, joiner := uuid.New(), uuid.New(), uuid.New()
	registration := &domain.SessionCodeRegistration{Code: "482913", Kind: domain.CodeTargetStory, TargetID: storyID, OwnerID: owner}

	linker := linkerStub{
		classic: func(id, participantID uuid.UUID) (uuid.UUID, error) {
			assert.Equal(t, joiner, participantID)
			return id, nil
		},
		branch: func(domain.SessionCodeRegistration, uuid.UUID) (uuid.UUID, error) {
			t.Fatal("branch linker must not be called for a story code")
			return uuid.Nil, nil
		},
	}

	t.Run("Owner always gets SelfJoin", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		store.On("Lookup", mock.Anything, "482913").Return(registration, nil).Once()
		reg := session.NewRegistry(store, nil, nil, session.Config{}, zap.NewNop())

		_, err := reg.Redeem(ctx, "482913", owner, linker)
		assert.ErrorIs(t, err, domain.ErrSelfJoin)
	})

	t.Run("Story code links the joiner", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		store.On("Lookup", mock.Anything, "482913").Return(registration, nil).Once()
		reg := session.NewRegistry(store, nil, nil, session.Config{}, zap.NewNop())

		res, err := reg.Redeem(ctx, "482913", joiner, linker)
		require.NoError(t, err)
		assert.Equal(t, storyID, res.StoryID)
		assert.Equal(t, domain.CodeTargetStory, res.Kind)
	})

	t.Run("Malformed code never reaches the store", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		reg := session.NewRegistry(store, nil, nil, session.Config{}, zap.NewNop())
		for _, code := range []string{"", "12345", "1234567", "12a456"} {
			_, err := reg.Redeem(ctx, code, joiner, linker)
			assert.ErrorIs(t, err, domain.ErrInvalidCode, code)
		}
		store.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
	})

	t.Run("Missing registration falls back to the story backend", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		lookup := new(mocks.StoryBackend)
		store.On("Lookup", mock.Anything, "482913").Return(nil, domain.ErrInvalidCode).Once()
		store.On("Reserve", mock.Anything, mock.MatchedBy(func(r domain.SessionCodeRegistration) bool {
			return r.Code == "482913" && r.TargetID == storyID
		}), time.Duration(0)).Return(true, nil).Once()
		lookup.On("FindBySessionCode", mock.Anything, "482913").Return(&domain.StorySnapshot{
			ID: storyID, CreatorID: owner, CollaborationType: domain.CollaborationClassic,
		}, nil).Once()
		reg := session.NewRegistry(store, lookup, nil, session.Config{}, zap.NewNop())

		res, err := reg.Redeem(ctx, "482913", joiner, linker)
		require.NoError(t, err)
		assert.Equal(t, storyID, res.StoryID)
		store.AssertExpectations(t)
		lookup.AssertExpectations(t)
	})

	t.Run("Expiring codes do not fall back", func(t *testing.T) {
		store := new(mocks.SessionCodeStore)
		lookup := new(mocks.StoryBackend)
		store.On("Lookup", mock.Anything, "482913").Return(nil, domain.ErrInvalidCode).Once()
		reg := session.NewRegistry(store, lookup, nil, session.Config{CodeTTL: time.Hour}, zap.NewNop())

		_, err := reg.Redeem(ctx, "482913", joiner, linker)
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
		lookup.AssertNotCalled(t, "FindBySessionCode", mock.Anything, mock.Anything)
	})

	t.Run("Group code goes to the branch linker", func(t *testing.T) {
		group := uuid.New()
		branchID := uuid.New()
		store := new(mocks.SessionCodeStore)
		store.On("Lookup", mock.Anything, "100200").Return(&domain.SessionCodeRegistration{
			Code: "100200", Kind: domain.CodeTargetPromptGroup, TargetID: group, OwnerID: owner,
		}, nil).Once()
		reg := session.NewRegistry(store, nil, nil, session.Config{}, zap.NewNop())

		res, err := reg.Redeem(ctx, "100200", joiner, linkerStub{
			branch: func(r domain.SessionCodeRegistration, participantID uuid.UUID) (uuid.UUID, error) {
				assert.Equal(t, group, r.TargetID)
				return branchID, nil
			},
		})
		require.NoError(t, err)
		assert.Equal(t, branchID, res.StoryID)
		assert.Equal(t, group, res.TargetID)
	})
}
