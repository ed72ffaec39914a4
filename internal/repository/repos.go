package repository

import (
	"context"
	"time"

	"github.com/notifyhub/dispatch/internal/domain"
)

// NotificationRepository defines all persistence operations for the
// notification state machine. The pgx implementation lives in
// pg_notification_repo.go; tests use the hand-written in-memory mock.
//
// Every mutation is a single-row conditional update keyed by id; the
// WHERE status=... guards are what serialize transitions across workers.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)

	// Lease atomically moves a PENDING row to SENDING. It reports false when
	// another worker already holds the row (or the row left PENDING).
	Lease(ctx context.Context, id string) (bool, error)

	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	SetProviderMessageID(ctx context.Context, id, providerMsgID string) error
	MarkFailed(ctx context.Context, id, errorCode, errorMessage string) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorCode, errorMessage string) error

	// LeaseDueRetries picks up to limit PENDING rows whose next_retry_at has
	// passed and atomically marks them SENDING, so concurrent sweepers never
	// pick the same row. Results are ordered priority DESC, next_retry_at ASC.
	LeaseDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error)

	// ExpireOverdue transitions PENDING/SENDING rows past expires_at to
	// EXPIRED and returns them so terminal webhooks can fire.
	ExpireOverdue(ctx context.Context, now time.Time) ([]*domain.Notification, error)

	// ReleaseStaleLeases returns SENDING rows whose lease outlived the
	// window to PENDING with an immediate next_retry_at.
	ReleaseStaleLeases(ctx context.Context, olderThan time.Time) (int, error)

	// ForceRetry resets a FAILED or EXPIRED row to PENDING with
	// retry_count=0. Reports false when the row is not in a terminal
	// retryable state.
	ForceRetry(ctx context.Context, id string) (bool, error)
}

// ClientRepository resolves and maintains API clients.
type ClientRepository interface {
	GetByAPIKeyHash(ctx context.Context, hash string) (*domain.APIClient, error)
	TouchLastUsed(ctx context.Context, clientID int) error
}

// TemplateRepository looks up message templates.
type TemplateRepository interface {
	GetActiveByCodeAndChannel(ctx context.Context, code string, channel domain.Channel) (*domain.MessageTemplate, error)
}

// ChannelConfigRepository reads and maintains per-channel configuration.
type ChannelConfigRepository interface {
	Get(ctx context.Context, channel domain.Channel) (*domain.ChannelConfig, error)
	IncrementDailySent(ctx context.Context, channel domain.Channel) error
	SetHealth(ctx context.Context, channel domain.Channel, status domain.HealthStatus, at time.Time) error
}

// AuditRepository records best-effort audit trail entries.
type AuditRepository interface {
	Record(ctx context.Context, rec *domain.AuditRecord) error
}
