package repository

import (
	"context"
	"errors"
	"fmt"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ interfaces.UserStatsRepository = (*pgUserStatsRepository)(nil)

type pgUserStatsRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgUserStatsRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.UserStatsRepository {
	return &pgUserStatsRepository{
		db:     db,
		logger: logger.Named("PgUserStatsRepo"),
	}
}

func (r *pgUserStatsRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.UserStats, error) {
	query := `
        SELECT user_id, current_streak, longest_streak, last_activity_date, total_stories, total_words, created_at, updated_at
        FROM user_stats WHERE user_id = $1
    `
	var stats domain.UserStats
	if err := pgxscan.Get(ctx, r.db, &stats, query, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("Failed to get user stats", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения статистики пользователя %s: %w", userID, err)
	}
	return &stats, nil
}

func (r *pgUserStatsRepository) Upsert(ctx context.Context, stats domain.UserStats) error {
	query := `
        INSERT INTO user_stats (user_id, current_streak, longest_streak, last_activity_date, total_stories, total_words, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id) DO UPDATE SET
            current_streak = EXCLUDED.current_streak,
            longest_streak = EXCLUDED.longest_streak,
            last_activity_date = EXCLUDED.last_activity_date,
            total_stories = EXCLUDED.total_stories,
            total_words = EXCLUDED.total_words,
            updated_at = EXCLUDED.updated_at
    `
	logFields := []zap.Field{zap.String("userID", stats.UserID.String())}
	if _, err := r.db.Exec(ctx, query,
		stats.UserID, stats.CurrentStreak, stats.LongestStreak, stats.LastActivityDate,
		stats.TotalStories, stats.TotalWords, stats.CreatedAt, stats.UpdatedAt,
	); err != nil {
		r.logger.Error("Failed to upsert user stats", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка сохранения статистики пользователя %s: %w", stats.UserID, err)
	}
	r.logger.Debug("User stats saved", append(logFields, zap.Int("currentStreak", stats.CurrentStreak))...)
	return nil
}
