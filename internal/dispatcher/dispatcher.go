// Package dispatcher holds the core service: it accepts validated send
// requests, persists them, and drives delivery attempts through the channel
// router and the notification state machine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/channel"
	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/template"
	"github.com/notifyhub/dispatch/internal/webhook"
)

// Backoff is the fixed retry schedule. Attempt n (1-based) waits
// Backoff[n-1]; attempts beyond the table use the last entry.
var Backoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	240 * time.Minute,
}

// backoffFor returns the delay before retry attempt n (1-based).
func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(Backoff) {
		attempt = len(Backoff)
	}
	return Backoff[attempt-1]
}

const defaultMaxRetries = 5

// Hooks carries the metric callbacks injected by main. All fields are
// optional; nil hooks are replaced with no-ops.
type Hooks struct {
	OnSent      func(ch domain.Channel, latency time.Duration)
	OnFailed    func(ch domain.Channel, errorCode string)
	OnRetried   func(ch domain.Channel)
	OnFallback  func(from, to domain.Channel)
	OnSubmitted func(ch domain.Channel)
}

func (h *Hooks) fill() {
	if h.OnSent == nil {
		h.OnSent = func(domain.Channel, time.Duration) {}
	}
	if h.OnFailed == nil {
		h.OnFailed = func(domain.Channel, string) {}
	}
	if h.OnRetried == nil {
		h.OnRetried = func(domain.Channel) {}
	}
	if h.OnFallback == nil {
		h.OnFallback = func(domain.Channel, domain.Channel) {}
	}
	if h.OnSubmitted == nil {
		h.OnSubmitted = func(domain.Channel) {}
	}
}

// Service is the dispatch core shared by the HTTP handlers, the worker pool
// and the retry scheduler.
type Service struct {
	notifications repository.NotificationRepository
	clients       repository.ClientRepository
	templates     repository.TemplateRepository
	audit         repository.AuditRepository
	router        *channel.Router
	q             *queue.PriorityQueue
	webhooks      *webhook.Notifier
	ttl           time.Duration
	hooks         Hooks
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(
	notifications repository.NotificationRepository,
	clients repository.ClientRepository,
	templates repository.TemplateRepository,
	audit repository.AuditRepository,
	router *channel.Router,
	q *queue.PriorityQueue,
	webhooks *webhook.Notifier,
	ttl time.Duration,
	hooks Hooks,
	logger *zap.Logger,
) *Service {
	hooks.fill()
	return &Service{
		notifications: notifications,
		clients:       clients,
		templates:     templates,
		audit:         audit,
		router:        router,
		q:             q,
		webhooks:      webhooks,
		ttl:           ttl,
		hooks:         hooks,
		logger:        logger,
		now:           time.Now,
	}
}

// Submit validates, persists and enqueues one notification. The HTTP
// response returns as soon as the row is durable; delivery happens on the
// worker pool.
func (s *Service) Submit(ctx context.Context, client *domain.APIClient, req *domain.SendRequest, clientIP string) (*domain.SubmitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !client.ChannelAllowed(req.Channel) {
		return nil, domain.ErrChannelNotAllowed
	}

	// Idempotent replay: a key we have already seen returns the original
	// row's identity instead of creating a duplicate.
	if req.IdempotencyKey != "" {
		existing, err := s.notifications.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			return &domain.SubmitResponse{
				NotificationID: existing.ID,
				Status:         existing.Status,
				CreatedAt:      existing.CreatedAt,
			}, nil
		}
	}

	subject, body, err := s.resolveContent(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expires := now.Add(s.ttl)
	n := &domain.Notification{
		ID:         uuid.NewString(),
		ClientID:   client.ID,
		Channel:    req.Channel,
		Recipient:  req.Recipient,
		Body:       body,
		Status:     domain.StatusPending,
		Priority:   req.Priority,
		MaxRetries: defaultMaxRetries,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  &expires,
	}
	if subject != "" {
		n.Subject = &subject
	}
	if req.IdempotencyKey != "" {
		n.IdempotencyKey = &req.IdempotencyKey
	}
	if req.CallbackURL != "" {
		n.CallbackURL = &req.CallbackURL
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		// Two concurrent submits with the same key can both miss the lookup
		// above; the partial unique index breaks the tie.
		if errors.Is(err, domain.ErrDuplicateIdempotency) && req.IdempotencyKey != "" {
			existing, lookupErr := s.notifications.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return &domain.SubmitResponse{
					NotificationID: existing.ID,
					Status:         existing.Status,
					CreatedAt:      existing.CreatedAt,
				}, nil
			}
		}
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	s.recordAudit(ctx, domain.AuditSendNotification, n.ID, client.ID, clientIP,
		fmt.Sprintf("channel=%s priority=%s", n.Channel, n.Priority))
	if err := s.clients.TouchLastUsed(ctx, client.ID); err != nil {
		s.logger.Warn("failed to touch client last_used_at",
			zap.Int("client_id", client.ID), zap.Error(err))
	}

	if err := s.q.Enqueue(queue.Item{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
	}); err != nil {
		// The row is durable; the client keeps the 202 and the stale-lease
		// sweep plus expiry bound how long it can linger unprocessed.
		s.logger.Warn("enqueue failed after persist",
			zap.String("notification_id", n.ID), zap.Error(err))
	}

	s.hooks.OnSubmitted(n.Channel)
	s.logger.Info("notification accepted",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("priority", string(n.Priority)),
		zap.String("recipient", domain.MaskRecipient(n.Channel, n.Recipient)))

	return &domain.SubmitResponse{
		NotificationID: n.ID,
		Status:         n.Status,
		CreatedAt:      n.CreatedAt,
	}, nil
}

// resolveContent applies the template, when one is referenced, and re-checks
// the content rules that Validate relaxed for templated requests.
func (s *Service) resolveContent(ctx context.Context, req *domain.SendRequest) (subject, body string, err error) {
	subject, body = req.Subject, req.Message
	if req.TemplateCode == "" {
		return subject, body, nil
	}

	tmpl, err := s.templates.GetActiveByCodeAndChannel(ctx, req.TemplateCode, req.Channel)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", "", domain.ErrTemplateNotFound
		}
		return "", "", fmt.Errorf("template lookup: %w", err)
	}
	if err := template.Validate(tmpl, req.TemplateVariables); err != nil {
		return "", "", err
	}

	rendered := template.Render(tmpl, req.TemplateVariables)
	if subject == "" {
		subject = rendered.Subject
	}
	if body == "" {
		body = rendered.Body
	}

	if body == "" {
		return "", "", domain.ErrMissingBody
	}
	if req.Channel == domain.ChannelEmail && subject == "" {
		return "", "", domain.ErrMissingSubject
	}
	return subject, body, nil
}

// Deliver runs one delivery attempt. Unless the item was already leased by
// the retry sweeper, it first takes the PENDING -> SENDING lease; losing
// that race means another worker owns the row and this attempt is a no-op.
func (s *Service) Deliver(ctx context.Context, item queue.Item) error {
	log := s.logger.With(zap.String("notification_id", item.NotificationID))

	if !item.Leased {
		ok, err := s.notifications.Lease(ctx, item.NotificationID)
		if err != nil {
			return fmt.Errorf("lease: %w", err)
		}
		if !ok {
			log.Debug("lease not acquired, skipping")
			return domain.ErrLeaseNotAcquired
		}
	}

	n, err := s.notifications.GetByID(ctx, item.NotificationID)
	if err != nil {
		return fmt.Errorf("fetch notification: %w", err)
	}
	if n.Status != domain.StatusSending {
		log.Debug("row left SENDING before the attempt", zap.String("status", string(n.Status)))
		return nil
	}

	subject := ""
	if n.Subject != nil {
		subject = *n.Subject
	}

	start := s.now()
	result := s.router.SendWithFallback(ctx, n.Channel, n.Recipient, subject, n.Body)
	latency := s.now().Sub(start)

	if result.OK {
		return s.completeSend(ctx, n, result, latency)
	}
	return s.handleFailure(ctx, n, result)
}

func (s *Service) completeSend(ctx context.Context, n *domain.Notification, result channel.SendResult, latency time.Duration) error {
	now := s.now().UTC()
	if err := s.notifications.MarkSent(ctx, n.ID, now); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.ProviderMsgID != "" {
		if err := s.notifications.SetProviderMessageID(ctx, n.ID, result.ProviderMsgID); err != nil {
			s.logger.Warn("failed to store provider message id",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
		n.ProviderMsgID = &result.ProviderMsgID
	}
	n.Status = domain.StatusSent
	n.SentAt = &now

	if result.UsedChannel != n.Channel {
		s.hooks.OnFallback(n.Channel, result.UsedChannel)
	}
	s.hooks.OnSent(result.UsedChannel, latency)
	s.logger.Info("notification sent",
		zap.String("notification_id", n.ID),
		zap.String("channel", string(result.UsedChannel)),
		zap.String("provider_msg_id", result.ProviderMsgID),
		zap.Duration("latency", latency))

	s.webhooks.Fire(ctx, n, webhook.EventSent, result.UsedChannel)
	return nil
}

// handleFailure schedules a retry when the failure is transient and the
// budget allows another attempt; otherwise the row goes terminal FAILED.
func (s *Service) handleFailure(ctx context.Context, n *domain.Notification, result channel.SendResult) error {
	log := s.logger.With(
		zap.String("notification_id", n.ID),
		zap.String("error_code", result.ErrorCode))

	if result.Retryable && n.RetryCount+1 < n.MaxRetries {
		attempt := n.RetryCount + 1
		nextRetry := s.now().UTC().Add(backoffFor(attempt))
		if err := s.notifications.ScheduleRetry(ctx, n.ID, attempt, nextRetry, result.ErrorCode, result.ErrorMessage); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		s.hooks.OnRetried(n.Channel)
		log.Warn("transient failure, retry scheduled",
			zap.Int("attempt", attempt),
			zap.Time("next_retry_at", nextRetry))
		return nil
	}

	if err := s.notifications.MarkFailed(ctx, n.ID, result.ErrorCode, result.ErrorMessage); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n.Status = domain.StatusFailed
	n.ErrorCode = &result.ErrorCode
	n.ErrorMessage = &result.ErrorMessage

	s.hooks.OnFailed(n.Channel, result.ErrorCode)
	log.Warn("notification failed terminally",
		zap.Int("retry_count", n.RetryCount),
		zap.Bool("retryable", result.Retryable))

	s.webhooks.Fire(ctx, n, webhook.EventFailed, result.UsedChannel)
	return nil
}

// Status returns the masked status view of a notification. Clients can only
// see their own rows.
func (s *Service) Status(ctx context.Context, clientID int, id string) (*domain.StatusResponse, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.ClientID != clientID {
		return nil, domain.ErrNotFound
	}
	return &domain.StatusResponse{
		ID:            n.ID,
		Status:        n.Status,
		Channel:       n.Channel,
		Recipient:     domain.MaskRecipient(n.Channel, n.Recipient),
		CreatedAt:     n.CreatedAt,
		SentAt:        n.SentAt,
		RetryCount:    n.RetryCount,
		ErrorMessage:  n.ErrorMessage,
		ProviderMsgID: n.ProviderMsgID,
	}, nil
}

// List returns the client's notifications, newest first, with the total row
// count for pagination. Recipients are masked.
func (s *Service) List(ctx context.Context, clientID int, filter domain.ListFilter) ([]*domain.StatusResponse, int, error) {
	filter.ClientID = &clientID
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	rows, total, err := s.notifications.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*domain.StatusResponse, 0, len(rows))
	for _, n := range rows {
		out = append(out, &domain.StatusResponse{
			ID:            n.ID,
			Status:        n.Status,
			Channel:       n.Channel,
			Recipient:     domain.MaskRecipient(n.Channel, n.Recipient),
			CreatedAt:     n.CreatedAt,
			SentAt:        n.SentAt,
			RetryCount:    n.RetryCount,
			ErrorMessage:  n.ErrorMessage,
			ProviderMsgID: n.ProviderMsgID,
		})
	}
	return out, total, nil
}

// ForceRetry pulls a FAILED or EXPIRED notification back to PENDING with a
// fresh retry budget and enqueues it immediately. This is the only exit
// from a terminal state.
func (s *Service) ForceRetry(ctx context.Context, clientID int, id, clientIP string) (*domain.SubmitResponse, error) {
	n, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.ClientID != clientID {
		return nil, domain.ErrNotFound
	}

	ok, err := s.notifications.ForceRetry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("force retry: %w", err)
	}
	if !ok {
		return nil, domain.ErrNotRetryable
	}

	s.recordAudit(ctx, domain.AuditForceRetry, id, clientID, clientIP,
		fmt.Sprintf("previous_status=%s", n.Status))

	if err := s.q.Enqueue(queue.Item{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
	}); err != nil {
		s.logger.Warn("enqueue failed after force retry",
			zap.String("notification_id", n.ID), zap.Error(err))
	}

	s.logger.Info("force retry accepted",
		zap.String("notification_id", n.ID),
		zap.String("previous_status", string(n.Status)))

	return &domain.SubmitResponse{
		NotificationID: n.ID,
		Status:         domain.StatusPending,
		CreatedAt:      n.CreatedAt,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, action domain.AuditAction, entityID string, clientID int, clientIP, detail string) {
	rec := &domain.AuditRecord{
		ID:        uuid.NewString(),
		Action:    action,
		EntityID:  entityID,
		ClientID:  &clientID,
		ClientIP:  clientIP,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Warn("audit write failed",
			zap.String("action", string(action)),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
}
