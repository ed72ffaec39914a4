// Package worker runs the shared delivery pool. All workers are identical;
// channel distinctions are handled by the rate limiter and the item's
// Channel field.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/dispatcher"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/ratelimiter"
)

// Pool manages the lifecycle of all workers. They share one priority
// queue; the queue's double-select pattern handles ordering internally.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

func NewPool(count int, q *queue.PriorityQueue, svc *dispatcher.Service, limiter *ratelimiter.ChannelLimiters, logger *zap.Logger) *Pool {
	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = NewWorker(i, q, svc, limiter, logger.With(zap.Int("worker_id", i)))
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines. Cancelling ctx triggers a
// graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
