package messaging

import (
	"fmt"

	"wordchain-server/internal/domain"

	"github.com/google/uuid"
)

const (
	PushTypeYourTurn = "your_turn"
	yourTurnTitle    = "Your turn!"
)

// PushNotificationPayload - сообщение в очередь push-уведомлений.
// Доставку на устройства выполняет внешний сервис уведомлений.
type PushNotificationPayload struct {
	UserID       uuid.UUID         `json:"user_id"`
	DeviceTokens []string          `json:"device_tokens,omitempty"`
	Notification PushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// PushNotification содержит то, что видит пользователь.
type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewYourTurnPayload builds the "your turn" push for the participant who now holds the turn.
func NewYourTurnPayload(ev domain.TurnPassed) PushNotificationPayload {
	name := ev.FromName
	if name == "" {
		name = domain.DefaultParticipantName
	}
	return PushNotificationPayload{
		UserID: ev.ToID,
		Notification: PushNotification{
			Title: yourTurnTitle,
			Body:  fmt.Sprintf("%s added a word to %q", name, ev.StoryTitle),
		},
		Data: map[string]string{
			"type":       PushTypeYourTurn,
			"storyId":    ev.StoryID.String(),
			"storyTitle": ev.StoryTitle,
		},
	}
}
