package messaging

import (
	"context"
	"sync"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/interfaces"
	"wordchain-server/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPushDebounce - окно, в котором несколько ходов по одной истории дают одно уведомление.
const DefaultPushDebounce = 500 * time.Millisecond

type pendingPush struct {
	timer *time.Timer
	event domain.TurnPassed
}

// DebouncedNotifier держит последнее событие по истории и отправляет его после паузы.
type DebouncedNotifier struct {
	next    interfaces.TurnNotifier
	window  time.Duration
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingPush
	closed  bool
}

var _ interfaces.TurnNotifier = (*DebouncedNotifier)(nil)

func NewDebouncedNotifier(next interfaces.TurnNotifier, window time.Duration, logger *zap.Logger) *DebouncedNotifier {
	if window <= 0 {
		window = DefaultPushDebounce
	}
	return &DebouncedNotifier{
		next:    next,
		window:  window,
		logger:  logger.Named("DebouncedNotifier"),
		timeout: publishTimeout,
		pending: make(map[uuid.UUID]*pendingPush),
	}
}

// NotifyTurn ставит событие в очередь и сразу возвращает nil.
func (d *DebouncedNotifier) NotifyTurn(_ context.Context, ev domain.TurnPassed) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if p, ok := d.pending[ev.StoryID]; ok {
		p.event = ev
		p.timer.Reset(d.window)
		metrics.TurnNotifications.WithLabelValues("coalesced").Inc()
		return nil
	}
	d.pending[ev.StoryID] = &pendingPush{
		event: ev,
		timer: time.AfterFunc(d.window, func() { d.fire(ev.StoryID) }),
	}
	return nil
}

func (d *DebouncedNotifier) fire(storyID uuid.UUID) {
	d.mu.Lock()
	p, ok := d.pending[storyID]
	if ok {
		delete(d.pending, storyID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	d.send(p.event)
}

func (d *DebouncedNotifier) send(ev domain.TurnPassed) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.next.NotifyTurn(ctx, ev); err != nil {
		d.logger.Warn("Failed to deliver turn notification",
			zap.String("storyID", ev.StoryID.String()),
			zap.String("toID", ev.ToID.String()),
			zap.Error(err))
	}
}

// Close отправляет отложенные уведомления и перестает принимать новые.
func (d *DebouncedNotifier) Close() {
	d.mu.Lock()
	d.closed = true
	pending := d.pending
	d.pending = make(map[uuid.UUID]*pendingPush)
	d.mu.Unlock()

	// fire, не успевший взять mu, уже не найдет событие, поэтому отправляем все
	for _, p := range pending {
		p.timer.Stop()
		d.send(p.event)
	}
}
