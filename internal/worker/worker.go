package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/dispatcher"
	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
)

// Worker is a single goroutine that pulls items from the priority queue,
// applies per-channel rate limiting, and runs the delivery attempt.
type Worker struct {
	id      int
	q       *queue.PriorityQueue
	svc     *dispatcher.Service
	limiter *ratelimiter.ChannelLimiters
	logger  *zap.Logger
}

func NewWorker(id int, q *queue.PriorityQueue, svc *dispatcher.Service, limiter *ratelimiter.ChannelLimiters, logger *zap.Logger) *Worker {
	return &Worker{id: id, q: q, svc: svc, limiter: limiter, logger: logger}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	// Block until the channel's provider limiter grants a token. Wait only
	// errors when ctx is cancelled, meaning shutdown.
	if err := w.limiter.Wait(ctx, item.Channel); err != nil {
		return
	}

	err := w.svc.Deliver(ctx, item)
	if err == nil || errors.Is(err, domain.ErrLeaseNotAcquired) {
		return
	}
	w.logger.Error("delivery attempt errored",
		zap.String("notification_id", item.NotificationID),
		zap.String("channel", string(item.Channel)),
		zap.Error(err))
}
