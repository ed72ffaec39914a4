// Package scheduler runs the periodic sweeps that keep the notification
// state machine moving without any in-memory timer state: due retries,
// expiry, and stale delivery leases are all driven from the database, so
// they survive restarts.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/webhook"
)

// Hooks carries the metric callbacks for sweep outcomes.
type Hooks struct {
	OnRequeued func(count int)
	OnExpired  func(count int)
	OnReleased func(count int)
}

func (h *Hooks) fill() {
	if h.OnRequeued == nil {
		h.OnRequeued = func(int) {}
	}
	if h.OnExpired == nil {
		h.OnExpired = func(int) {}
	}
	if h.OnReleased == nil {
		h.OnReleased = func(int) {}
	}
}

// Scheduler ticks at a fixed interval and performs three sweeps per tick:
// lease and re-enqueue due retries, expire overdue rows, and return stale
// SENDING leases to PENDING.
type Scheduler struct {
	repo         repository.NotificationRepository
	q            *queue.PriorityQueue
	webhooks     *webhook.Notifier
	interval     time.Duration
	batchLimit   int
	leaseTimeout time.Duration
	hooks        Hooks
	logger       *zap.Logger
	now          func() time.Time
}

func New(
	repo repository.NotificationRepository,
	q *queue.PriorityQueue,
	webhooks *webhook.Notifier,
	interval time.Duration,
	batchLimit int,
	leaseTimeout time.Duration,
	hooks Hooks,
	logger *zap.Logger,
) *Scheduler {
	hooks.fill()
	return &Scheduler{
		repo:         repo,
		q:            q,
		webhooks:     webhooks,
		interval:     interval,
		batchLimit:   batchLimit,
		leaseTimeout: leaseTimeout,
		hooks:        hooks,
		logger:       logger,
		now:          time.Now,
	}
}

// Run ticks every interval until ctx is cancelled. The first sweep happens
// one interval after start, not immediately, so a restarting instance does
// not stampede the database.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full sweep. Exported so tests can drive the scheduler
// without waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	s.sweepDueRetries(ctx, now)
	s.sweepExpired(ctx, now)
	s.sweepStaleLeases(ctx, now)
}

// sweepDueRetries leases up to batchLimit due PENDING rows and hands them to
// the worker pool. The rows are already SENDING when enqueued, so the items
// carry the Leased flag and workers skip the usual lease step.
func (s *Scheduler) sweepDueRetries(ctx context.Context, now time.Time) {
	batch, err := s.repo.LeaseDueRetries(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Error("due-retry sweep failed", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}

	requeued := 0
	for _, n := range batch {
		err := s.q.Enqueue(queue.Item{
			NotificationID: n.ID,
			Channel:        n.Channel,
			Priority:       n.Priority,
			Leased:         true,
		})
		if err != nil {
			// The lease is held but no worker will pick it up this tick;
			// the stale-lease sweep returns it to PENDING later.
			s.logger.Warn("could not re-enqueue due retry",
				zap.String("notification_id", n.ID), zap.Error(err))
			continue
		}
		requeued++
	}

	s.hooks.OnRequeued(requeued)
	s.logger.Info("re-enqueued due retries",
		zap.Int("leased", len(batch)), zap.Int("requeued", requeued))
}

// sweepExpired transitions overdue rows to EXPIRED and fires the terminal
// webhook for each.
func (s *Scheduler) sweepExpired(ctx context.Context, now time.Time) {
	expired, err := s.repo.ExpireOverdue(ctx, now)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, n := range expired {
		s.webhooks.Fire(ctx, n, webhook.EventFailed, n.Channel)
	}

	s.hooks.OnExpired(len(expired))
	s.logger.Info("expired overdue notifications", zap.Int("count", len(expired)))
}

// sweepStaleLeases returns SENDING rows whose lease outlived the window to
// PENDING with an immediate retry, covering workers that died mid-attempt.
func (s *Scheduler) sweepStaleLeases(ctx context.Context, now time.Time) {
	released, err := s.repo.ReleaseStaleLeases(ctx, now.Add(-s.leaseTimeout))
	if err != nil {
		s.logger.Error("stale-lease sweep failed", zap.Error(err))
		return
	}
	if released == 0 {
		return
	}
	s.hooks.OnReleased(released)
	s.logger.Warn("released stale delivery leases", zap.Int("count", released))
}
