package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStats - серия дней с активностью и общее число слов участника.
type UserStats struct {
	UserID           uuid.UUID `json:"userId" db:"user_id"`
	CurrentStreak    int       `json:"currentStreak" db:"current_streak"`
	LongestStreak    int       `json:"longestStreak" db:"longest_streak"`
	LastActivityDate time.Time `json:"lastActivityDate" db:"last_activity_date"`
	TotalStories     int       `json:"totalStories" db:"total_stories"`
	TotalWords       int       `json:"totalWords" db:"total_words"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// NewUserStats returns the stats of a participant's very first activity.
func NewUserStats(userID uuid.UUID, at time.Time) UserStats {
	at = at.UTC()
	return UserStats{
		UserID:           userID,
		CurrentStreak:    1,
		LongestStreak:    1,
		LastActivityDate: dateOf(at),
		TotalStories:     1,
		TotalWords:       1,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// RecordActivity учитывает одно добавленное слово в момент at.
// Тот же день - только счетчик слов, следующий день - серия растет, пропуск - серия с 1.
func (u *UserStats) RecordActivity(at time.Time) {
	at = at.UTC()
	today := dateOf(at)
	last := dateOf(u.LastActivityDate)

	switch {
	case today.Equal(last):
	case today.Equal(last.AddDate(0, 0, 1)):
		u.CurrentStreak++
		u.LongestStreak = max(u.LongestStreak, u.CurrentStreak)
		u.LastActivityDate = today
	case today.After(last):
		u.CurrentStreak = 1
		u.LastActivityDate = today
	}
	u.TotalWords++
	u.UpdatedAt = at
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
