package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Ключи gin-контекста
const (
	participantIDKey   = "participant_id"
	participantNameKey = "participant_name"
)

// ParticipantFromContext возвращает участника, которого установил JWTAuth.
func ParticipantFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(participantIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// ParticipantNameFromContext - отображаемое имя из токена, пустая строка если его нет.
func ParticipantNameFromContext(c *gin.Context) string {
	return c.GetString(participantNameKey)
}
