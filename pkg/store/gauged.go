package store

import (
	"context"
	"time"

	"github.com/emohunter/trustanchor/pkg/anchor"
)

// GaugeFunc reports a change in the number of unresolved retry entries.
type GaugeFunc func(ctx context.Context, delta int64)

// GaugedRetryQueue wraps a RetryQueue with a membership gauge: +1 on a
// successful Enqueue, -1 on a successful Resolve. The anchor adapter
// writes through the wrapper, so the pending-anchor gauge tracks the
// backlog without the queue backends knowing about metrics.
type GaugedRetryQueue struct {
	queue RetryQueue
	gauge GaugeFunc
}

func NewGaugedRetryQueue(queue RetryQueue, gauge GaugeFunc) *GaugedRetryQueue {
	return &GaugedRetryQueue{queue: queue, gauge: gauge}
}

func (g *GaugedRetryQueue) Enqueue(ctx context.Context, e *anchor.RetryEntry) error {
	if err := g.queue.Enqueue(ctx, e); err != nil {
		return err
	}
	g.gauge(ctx, 1)
	return nil
}

func (g *GaugedRetryQueue) Due(ctx context.Context, limit int) ([]*anchor.RetryEntry, error) {
	return g.queue.Due(ctx, limit)
}

func (g *GaugedRetryQueue) MarkAttempt(ctx context.Context, id, lastError string, nextRetry time.Time) error {
	return g.queue.MarkAttempt(ctx, id, lastError, nextRetry)
}

func (g *GaugedRetryQueue) Resolve(ctx context.Context, id string) error {
	if err := g.queue.Resolve(ctx, id); err != nil {
		return err
	}
	g.gauge(ctx, -1)
	return nil
}
