package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"
	"wordchain-server/internal/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishAttempts = 3
	publishTimeout  = 10 * time.Second
	appID           = "wordchain-server"
)

// Channel - часть *amqp.Channel, нужная издателю.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ Channel = (*amqp.Channel)(nil)

type rabbitMQPushPublisher struct {
	channel   Channel
	queueName string
	logger    *zap.Logger
}

var _ interfaces.TurnNotifier = (*rabbitMQPushPublisher)(nil)

// NewRabbitMQPushPublisher creates a TurnNotifier that queues push requests.
// Очередь объявляется потребителем, издатель ее не создает.
func NewRabbitMQPushPublisher(ch Channel, queueName string, logger *zap.Logger) interfaces.TurnNotifier {
	return &rabbitMQPushPublisher{channel: ch, queueName: queueName, logger: logger.Named("PushPublisher")}
}

// DeclarePushQueue объявляет durable очередь push-уведомлений.
func DeclarePushQueue(ch *amqp.Channel, queueName string) error {
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

func (p *rabbitMQPushPublisher) NotifyTurn(ctx context.Context, ev domain.TurnPassed) error {
	payload := NewYourTurnPayload(ev)
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("Failed to marshal push payload", zap.String("userID", payload.UserID.String()), zap.Error(err))
		return fmt.Errorf("ошибка маршалинга PushNotificationPayload: %w", err)
	}
	if err := p.publish(ctx, body); err != nil {
		metrics.TurnNotifications.WithLabelValues("failed").Inc()
		return err
	}
	metrics.TurnNotifications.WithLabelValues("sent").Inc()
	p.logger.Debug("Turn notification queued",
		zap.String("userID", payload.UserID.String()),
		zap.String("storyID", ev.StoryID.String()))
	return nil
}

func (p *rabbitMQPushPublisher) publish(ctx context.Context, body []byte) error {
	if p.channel == nil {
		return errors.New("канал RabbitMQ не инициализирован")
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx,
			"",
			p.queueName,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
				Timestamp:    time.Now(),
				AppId:        appID,
			},
		)
		if err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.String("queue", p.queueName), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < publishAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("ошибка публикации в очередь %s: %w", p.queueName, ctx.Err())
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("ошибка публикации в очередь %s после retries: %w", p.queueName, err)
}
