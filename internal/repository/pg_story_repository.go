package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Compile-time check
var _ interfaces.StoryBackend = (*pgStoryRepository)(nil)

const (
	pgUniqueViolation = "23505"

	storyColumns = `id, title, prompt, theme, mode, max_entries, creator_id, partner_id, session_code,
        collaboration_type, current_turn_participant_id, parent_prompt_id, branch_author_id,
        is_finished, is_revealed, created_at, updated_at`
	entryColumns = `id, story_id, content, participant_id, participant_name, created_at, media_url`
)

type pgStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryRepository возвращает авторитетный бэкенд историй на Postgres.
func NewPgStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.StoryBackend {
	return &pgStoryRepository{
		pool:   pool,
		logger: logger.Named("PgStoryRepo"),
	}
}

// InsertStory вставляет историю и ее начальные записи в одной транзакции.
func (r *pgStoryRepository) InsertStory(ctx context.Context, story domain.StorySnapshot) error {
	logFields := []zap.Field{zap.String("storyID", story.ID.String()), zap.String("creatorID", story.CreatorID.String())}
	r.logger.Debug("Inserting story", logFields...)

	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `
            INSERT INTO stories (` + storyColumns + `)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        `
		if _, err := tx.Exec(ctx, query,
			story.ID, story.Title, story.Prompt, story.Theme, story.Mode, story.MaxEntries,
			story.CreatorID, story.PartnerID, story.SessionCode, story.CollaborationType,
			story.CurrentTurnParticipantID, story.ParentPromptID, story.BranchAuthorID,
			story.IsFinished, story.IsRevealed, story.CreatedAt, story.UpdatedAt,
		); err != nil {
			return mapWriteError(err)
		}
		for _, e := range story.Entries {
			if err := insertEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to insert story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания истории %s: %w", story.ID, err)
	}
	r.logger.Info("Story inserted", append(logFields, zap.Int("seedEntries", len(story.Entries)))...)
	return nil
}

// UpdateStory обновляет изменяемые поля истории.
func (r *pgStoryRepository) UpdateStory(ctx context.Context, story domain.StorySnapshot) error {
	query := `
        UPDATE stories
        SET title = $2, partner_id = $3, session_code = $4, current_turn_participant_id = $5,
            is_finished = is_finished OR $6, is_revealed = is_revealed OR $7, updated_at = GREATEST(updated_at, $8)
        WHERE id = $1
    `
	logFields := []zap.Field{zap.String("storyID", story.ID.String())}
	r.logger.Debug("Updating story", logFields...)

	tag, err := r.pool.Exec(ctx, query,
		story.ID, story.Title, story.PartnerID, story.SessionCode, story.CurrentTurnParticipantID,
		story.IsFinished, story.IsRevealed, story.UpdatedAt,
	)
	if err != nil {
		err = mapWriteError(err)
		r.logger.Error("Failed to update story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка обновления истории %s: %w", story.ID, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Story not found for update", logFields...)
		return domain.ErrNotFound
	}
	r.logger.Info("Story updated", logFields...)
	return nil
}

func (r *pgStoryRepository) DeleteStory(ctx context.Context, id uuid.UUID) error {
	logFields := []zap.Field{zap.String("storyID", id.String())}
	r.logger.Debug("Deleting story", logFields...)

	tag, err := r.pool.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete story", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка удаления истории %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Story not found for delete", logFields...)
		return domain.ErrNotFound
	}
	r.logger.Info("Story deleted", logFields...)
	return nil
}

// AppendEntry повторно проверяет ход под блокировкой строки истории,
// затем вставляет запись и сдвигает ход.
func (r *pgStoryRepository) AppendEntry(ctx context.Context, req interfaces.AppendEntryRequest) error {
	entry := req.Entry
	logFields := []zap.Field{
		zap.String("storyID", entry.StoryID.String()),
		zap.String("participantID", entry.ParticipantID.String()),
	}
	r.logger.Debug("Appending entry", logFields...)

	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			turn       uuid.UUID
			finished   bool
			maxEntries int
			collab     domain.CollaborationType
			author     *uuid.UUID
		)
		err := tx.QueryRow(ctx, `
            SELECT current_turn_participant_id, is_finished, max_entries, collaboration_type, branch_author_id
            FROM stories WHERE id = $1 FOR UPDATE
        `, entry.StoryID).Scan(&turn, &finished, &maxEntries, &collab, &author)
		if err != nil {
			return WrapNotFound(err)
		}
		// повтор уже принятой записи (ответ на прошлую попытку потерялся)
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM story_entries WHERE id = $1)`, entry.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		if finished {
			return domain.ErrAlreadyFinished
		}
		switch collab {
		case domain.CollaborationBranch:
			if author == nil || *author != entry.ParticipantID {
				return domain.ErrForbidden
			}
		default:
			if turn != entry.ParticipantID {
				return domain.ErrNotYourTurn
			}
		}

		var (
			count  int
			lastAt *time.Time
		)
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*), MAX(created_at) FROM story_entries WHERE story_id = $1`, entry.StoryID,
		).Scan(&count, &lastAt); err != nil {
			return err
		}
		if count >= maxEntries {
			return domain.ErrAlreadyFinished
		}
		// порядок записей задается временем; часы клиента не должны его нарушать
		if lastAt != nil && !entry.CreatedAt.After(*lastAt) {
			entry.CreatedAt = lastAt.Add(time.Microsecond)
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}

		isFinished := req.IsFinished || count+1 >= maxEntries
		_, err = tx.Exec(ctx, `
            UPDATE stories
            SET current_turn_participant_id = $2, is_finished = $3, updated_at = GREATEST(updated_at, $4)
            WHERE id = $1
        `, entry.StoryID, req.NextTurn, isFinished, req.UpdatedAt)
		return err
	})
	if err != nil {
		if domain.IsRejection(err) {
			r.logger.Warn("Entry rejected by backend", append(logFields, zap.Error(err))...)
			return err
		}
		r.logger.Error("Failed to append entry", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка добавления записи в историю %s: %w", entry.StoryID, err)
	}
	r.logger.Info("Entry appended", logFields...)
	return nil
}

func (r *pgStoryRepository) FetchStory(ctx context.Context, id uuid.UUID) (*domain.StorySnapshot, error) {
	logFields := []zap.Field{zap.String("storyID", id.String())}
	r.logger.Debug("Fetching story", logFields...)

	var story domain.StorySnapshot
	if err := pgxscan.Get(ctx, r.pool, &story, `SELECT `+storyColumns+` FROM stories WHERE id = $1`, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Story not found", logFields...)
			return nil, domain.ErrNotFound
		}
		r.logger.Error("Failed to fetch story", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка получения истории %s: %w", id, err)
	}
	if err := r.attachEntries(ctx, []*domain.StorySnapshot{&story}); err != nil {
		r.logger.Error("Failed to fetch story entries", append(logFields, zap.Error(err))...)
		return nil, err
	}
	return &story, nil
}

// ListByParticipant возвращает истории, где участник создатель или партнер, свежие первыми.
func (r *pgStoryRepository) ListByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.StorySnapshot, error) {
	query := `SELECT ` + storyColumns + ` FROM stories
        WHERE creator_id = $1 OR partner_id = $1
        ORDER BY updated_at DESC`
	return r.list(ctx, query, participantID, zap.String("participantID", participantID.String()))
}

func (r *pgStoryRepository) ListByParentPrompt(ctx context.Context, parentPromptID uuid.UUID) ([]domain.StorySnapshot, error) {
	query := `SELECT ` + storyColumns + ` FROM stories
        WHERE parent_prompt_id = $1
        ORDER BY created_at ASC`
	return r.list(ctx, query, parentPromptID, zap.String("parentPromptID", parentPromptID.String()))
}

func (r *pgStoryRepository) FindBySessionCode(ctx context.Context, code string) (*domain.StorySnapshot, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM stories WHERE session_code = $1`, code).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("Failed to find story by session code", zap.Error(err))
		return nil, fmt.Errorf("ошибка поиска истории по коду: %w", err)
	}
	return r.FetchStory(ctx, id)
}

func (r *pgStoryRepository) list(ctx context.Context, query string, arg uuid.UUID, field zap.Field) ([]domain.StorySnapshot, error) {
	r.logger.Debug("Listing stories", field)

	var stories []domain.StorySnapshot
	if err := pgxscan.Select(ctx, r.pool, &stories, query, arg); err != nil {
		r.logger.Error("Failed to list stories", field, zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка историй: %w", err)
	}
	ptrs := make([]*domain.StorySnapshot, len(stories))
	for i := range stories {
		ptrs[i] = &stories[i]
	}
	if err := r.attachEntries(ctx, ptrs); err != nil {
		r.logger.Error("Failed to list story entries", field, zap.Error(err))
		return nil, err
	}
	r.logger.Debug("Stories listed", field, zap.Int("count", len(stories)))
	return stories, nil
}

// attachEntries подгружает записи одним запросом для всех историй.
func (r *pgStoryRepository) attachEntries(ctx context.Context, stories []*domain.StorySnapshot) error {
	if len(stories) == 0 {
		return nil
	}
	ids := lo.Map(stories, func(s *domain.StorySnapshot, _ int) uuid.UUID { return s.ID })

	var entries []domain.StoryEntry
	query := `SELECT ` + entryColumns + ` FROM story_entries WHERE story_id = ANY($1) ORDER BY story_id, created_at ASC`
	if err := pgxscan.Select(ctx, r.pool, &entries, query, ids); err != nil {
		return fmt.Errorf("ошибка получения записей историй: %w", err)
	}
	byStory := lo.GroupBy(entries, func(e domain.StoryEntry) uuid.UUID { return e.StoryID })
	for _, s := range stories {
		s.Entries = byStory[s.ID]
		if s.Entries == nil {
			s.Entries = []domain.StoryEntry{}
		}
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e domain.StoryEntry) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO story_entries (`+entryColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, e.ID, e.StoryID, e.Content, e.ParticipantID, e.ParticipantName, e.CreatedAt, e.MediaURL)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// mapWriteError переводит нарушения уникальности в доменные ошибки.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "stories_branch_author_uidx":
			return fmt.Errorf("%w: participant already has a branch in this group", domain.ErrAlreadyPartnered)
		default:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}
