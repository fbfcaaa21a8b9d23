package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wordchain-server/internal/domain"
	"wordchain-server/internal/metrics"

	"go.uber.org/zap"
)

// write выполняет запись в бэкенд с линейно растущей паузой между попытками.
// Отказы по правилам истории не повторяются и возвращаются как есть.
func (e *Engine) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := e.retry(ctx, op, fn)
	if err != nil && !domain.IsRejection(err) && !errors.Is(err, domain.ErrTimeout) {
		metrics.PersistenceFailures.WithLabelValues(op).Inc()
	}
	return err
}

// read повторяет чтения так же, как записи.
func (e *Engine) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.retry(ctx, op, fn)
}

func (e *Engine) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.WriteMaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.WriteRetries.WithLabelValues(op).Inc()
			e.logger.Warn("Retrying backend call",
				zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(lastErr))
			if err := sleepCtx(ctx, time.Duration(attempt-1)*e.cfg.WriteRetryBackoff); err != nil {
				return timeoutError(op, err, lastErr)
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if domain.IsRejection(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return timeoutError(op, ctxErr, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %w", domain.ErrPersistence, op, e.cfg.WriteMaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func timeoutError(op string, ctxErr, lastErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		if lastErr != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrTimeout, op, lastErr)
		}
		return fmt.Errorf("%w: %s", domain.ErrTimeout, op)
	}
	return ctxErr
}
