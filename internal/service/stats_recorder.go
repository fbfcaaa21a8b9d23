package service

import (
	"context"
	"errors"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatsRecorder ведет серии активности. Ошибки только логируются:
// добавление слова от них не зависит.
type StatsRecorder struct {
	repo   interfaces.UserStatsRepository
	logger *zap.Logger
}

func NewStatsRecorder(repo interfaces.UserStatsRepository, logger *zap.Logger) *StatsRecorder {
	return &StatsRecorder{repo: repo, logger: logger.Named("StatsRecorder")}
}

// Record counts one appended entry at time at. Nil recorder is a no-op.
func (r *StatsRecorder) Record(ctx context.Context, userID uuid.UUID, at time.Time) {
	if r == nil || r.repo == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	logFields := []zap.Field{zap.String("userID", userID.String())}

	current, err := r.repo.Get(ctx, userID)
	var next domain.UserStats
	switch {
	case errors.Is(err, domain.ErrNotFound):
		next = domain.NewUserStats(userID, at)
	case err != nil:
		r.logger.Warn("Failed to load user stats", append(logFields, zap.Error(err))...)
		return
	default:
		next = *current
		next.RecordActivity(at)
	}

	if err := r.repo.Upsert(ctx, next); err != nil {
		r.logger.Warn("Failed to save user stats", append(logFields, zap.Error(err))...)
		return
	}
	r.logger.Debug("User stats updated", append(logFields, zap.Int("streak", next.CurrentStreak))...)
}
