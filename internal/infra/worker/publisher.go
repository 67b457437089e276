package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lms-payments/internal/domain/ports/adapter"
	"lms-payments/internal/infra/metrics"
)

var _ adapter.EventPublisher = (*AsyncPublisher)(nil)

// AsyncPublisher hands events to a Pool so callers return as soon as state is
// committed. A full queue drops the event; delivery is best effort anyway.
type AsyncPublisher struct {
	next    adapter.EventPublisher
	pool    *Pool
	timeout time.Duration
	log     *zerolog.Logger
}

func NewAsyncPublisher(next adapter.EventPublisher, pool *Pool, timeout time.Duration, logger *zerolog.Logger) *AsyncPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := logger.With().Str("component", "AsyncPublisher").Logger()
	return &AsyncPublisher{next: next, pool: pool, timeout: timeout, log: &l}
}

// Publish only fails when the event could not be queued. Broker failures
// are logged and counted by the worker.
// The request context is not carried over since it usually ends first.
func (a *AsyncPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	err := a.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.next.Publish(ctx, routingKey, payload); err != nil {
			metrics.IncEventPublished(routingKey, "error")
			a.log.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
			return nil
		}
		metrics.IncEventPublished(routingKey, "sent")
		return nil
	})
	metrics.SetEventQueueDepth(a.pool.Pending())
	if err != nil {
		metrics.IncEventPublished(routingKey, "dropped")
		return err
	}
	return nil
}
