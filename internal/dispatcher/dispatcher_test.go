package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/channel"
	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/queue"
	"github.com/notifyhub/dispatch/internal/repository"
	"github.com/notifyhub/dispatch/internal/webhook"
)

// scriptedAdapter returns a fixed outcome for every send.
type scriptedAdapter struct {
	name  domain.Channel
	msgID string
	err   *channel.Error
	calls int
}

func (a *scriptedAdapter) Send(context.Context, string, string, string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return a.msgID, nil
}
func (a *scriptedAdapter) HealthCheck(context.Context) bool { return true }
func (a *scriptedAdapter) Name() domain.Channel             { return a.name }
func (a *scriptedAdapter) IsEnabled(context.Context) bool   { return true }
func (a *scriptedAdapter) IsConfigured() bool               { return true }

type fixture struct {
	svc           *Service
	notifications *repository.MockNotificationRepository
	clients       *repository.MockClientRepository
	audit         *repository.MockAuditRepository
	q             *queue.PriorityQueue
	client        *domain.APIClient
}

func newFixture(t *testing.T, templates []*domain.MessageTemplate, adapters ...channel.Adapter) *fixture {
	t.Helper()

	client := &domain.APIClient{
		ID:         1,
		Name:       "acme",
		APIKeyHash: domain.HashAPIKey("key"),
		Active:     true,
		RateLimit:  100,
	}
	notifications := repository.NewMockNotificationRepository()
	clients := repository.NewMockClientRepository(client)
	audit := repository.NewMockAuditRepository()
	configs := repository.NewMockChannelConfigRepository()
	q := queue.New()

	if len(adapters) == 0 {
		adapters = []channel.Adapter{
			&scriptedAdapter{name: domain.ChannelEmail, msgID: "m1"},
		}
	}
	router := channel.NewRouter(configs, zap.NewNop(), adapters...)
	webhooks := webhook.NewNotifier("secret", time.Second, zap.NewNop())

	svc := NewService(
		notifications, clients, repository.NewMockTemplateRepository(templates...),
		audit, router, q, webhooks,
		24*time.Hour, Hooks{}, zap.NewNop(),
	)
	return &fixture{
		svc:           svc,
		notifications: notifications,
		clients:       clients,
		audit:         audit,
		q:             q,
		client:        client,
	}
}

func emailRequest() *domain.SendRequest {
	return &domain.SendRequest{
		Channel:   domain.ChannelEmail,
		Recipient: "user@example.com",
		Subject:   "Hello",
		Message:   "Hi there",
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Submit(ctx, f.client, emailRequest(), "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", resp.Status)
	}

	n, err := f.notifications.GetByID(ctx, resp.NotificationID)
	if err != nil {
		t.Fatal(err)
	}
	if n.Status != domain.StatusPending || n.MaxRetries != 5 {
		t.Fatalf("unexpected row %+v", n)
	}
	if n.ExpiresAt == nil || !n.ExpiresAt.After(n.CreatedAt) {
		t.Fatal("expires_at should default to created_at + TTL")
	}

	if _, ok := f.q.Dequeue(ctx); !ok {
		t.Fatal("notification was not enqueued")
	}
	if len(f.audit.Records) != 1 || f.audit.Records[0].Action != domain.AuditSendNotification {
		t.Fatalf("audit trail missing, got %+v", f.audit.Records)
	}
	if f.audit.Records[0].ClientIP != "10.0.0.1" {
		t.Fatal("audit record should carry the caller address")
	}
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := emailRequest()
	req.IdempotencyKey = "order-42"

	first, err := f.svc.Submit(ctx, f.client, req, "")
	if err != nil {
		t.Fatal(err)
	}

	replay := emailRequest()
	replay.IdempotencyKey = "order-42"
	second, err := f.svc.Submit(ctx, f.client, replay, "")
	if err != nil {
		t.Fatal(err)
	}
	if second.NotificationID != first.NotificationID {
		t.Fatalf("replay created a new row: %s != %s", second.NotificationID, first.NotificationID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("replay must return the original created_at")
	}
}

// Two concurrent submits with the same key can both pass the lookup before
// either insert commits; the unique index rejects the loser, which must then
// return the winner's row instead of an error.
func TestSubmit_IdempotentInsertRace(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := emailRequest()
	req.IdempotencyKey = "order-42"
	winner, err := f.svc.Submit(ctx, f.client, req, "")
	if err != nil {
		t.Fatal(err)
	}

	// The loser's pre-insert lookup misses, its insert hits the unique
	// index, and the post-insert lookup resolves the winner.
	f.notifications.IdempotencyMisses = 1
	loser := emailRequest()
	loser.IdempotencyKey = "order-42"
	resp, err := f.svc.Submit(ctx, f.client, loser, "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.NotificationID != winner.NotificationID {
		t.Fatalf("race loser created a new row: %s != %s", resp.NotificationID, winner.NotificationID)
	}

	_, total, err := f.notifications.List(ctx, domain.ListFilter{Page: 1, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("expected a single persisted row, got %d", total)
	}
}

func TestSubmit_ChannelNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	f.client.AllowedChannels = []domain.Channel{domain.ChannelSMS}

	_, err := f.svc.Submit(context.Background(), f.client, emailRequest(), "")
	if !errors.Is(err, domain.ErrChannelNotAllowed) {
		t.Fatalf("expected ErrChannelNotAllowed, got %v", err)
	}
}

func TestSubmit_ValidationFailureRejected(t *testing.T) {
	f := newFixture(t, nil)
	req := emailRequest()
	req.Recipient = "not-an-email"

	_, err := f.svc.Submit(context.Background(), f.client, req, "")
	if !errors.Is(err, domain.ErrRecipientFormat) {
		t.Fatalf("expected ErrRecipientFormat, got %v", err)
	}
}

func TestSubmit_TemplateRendering(t *testing.T) {
	tmpl := &domain.MessageTemplate{
		Code:            "welcome",
		Channel:         domain.ChannelEmail,
		SubjectTemplate: "Welcome {{name}}",
		BodyTemplate:    "Hello {{name}}, glad to have you.",
		Variables:       []string{"name"},
		Active:          true,
	}
	f := newFixture(t, []*domain.MessageTemplate{tmpl})
	ctx := context.Background()

	req := &domain.SendRequest{
		Channel:           domain.ChannelEmail,
		Recipient:         "user@example.com",
		TemplateCode:      "welcome",
		TemplateVariables: map[string]string{"name": "Ada"},
	}
	resp, err := f.svc.Submit(ctx, f.client, req, "")
	if err != nil {
		t.Fatal(err)
	}

	n, _ := f.notifications.GetByID(ctx, resp.NotificationID)
	if n.Subject == nil || *n.Subject != "Welcome Ada" {
		t.Fatalf("subject = %v", n.Subject)
	}
	if n.Body != "Hello Ada, glad to have you." {
		t.Fatalf("body = %q", n.Body)
	}
}

func TestSubmit_TemplateMissingVariable(t *testing.T) {
	tmpl := &domain.MessageTemplate{
		Code:         "welcome",
		Channel:      domain.ChannelEmail,
		BodyTemplate: "Hello {{name}}",
		Variables:    []string{"name"},
		Active:       true,
	}
	f := newFixture(t, []*domain.MessageTemplate{tmpl})

	req := &domain.SendRequest{
		Channel:      domain.ChannelEmail,
		Recipient:    "user@example.com",
		TemplateCode: "welcome",
	}
	_, err := f.svc.Submit(context.Background(), f.client, req, "")
	if !errors.Is(err, domain.ErrInvalidTemplateArgs) {
		t.Fatalf("expected ErrInvalidTemplateArgs, got %v", err)
	}
}

func TestSubmit_TemplateNotFound(t *testing.T) {
	f := newFixture(t, nil)
	req := &domain.SendRequest{
		Channel:      domain.ChannelEmail,
		Recipient:    "user@example.com",
		TemplateCode: "missing",
	}
	_, err := f.svc.Submit(context.Background(), f.client, req, "")
	if !errors.Is(err, domain.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func submitAndDequeue(t *testing.T, f *fixture) (queue.Item, string) {
	t.Helper()
	resp, err := f.svc.Submit(context.Background(), f.client, emailRequest(), "")
	if err != nil {
		t.Fatal(err)
	}
	item, ok := f.q.Dequeue(context.Background())
	if !ok {
		t.Fatal("queue empty after submit")
	}
	return item, resp.NotificationID
}

func TestDeliver_Success(t *testing.T) {
	adapter := &scriptedAdapter{name: domain.ChannelEmail, msgID: "prov-9"}
	f := newFixture(t, nil, adapter)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)
	if err := f.svc.Deliver(ctx, item); err != nil {
		t.Fatal(err)
	}

	n, _ := f.notifications.GetByID(ctx, id)
	if n.Status != domain.StatusSent {
		t.Fatalf("status = %s, want SENT", n.Status)
	}
	if n.SentAt == nil {
		t.Fatal("sent_at not set")
	}
	if n.ProviderMsgID == nil || *n.ProviderMsgID != "prov-9" {
		t.Fatalf("provider_message_id = %v", n.ProviderMsgID)
	}
}

func TestDeliver_TransientFailureSchedulesRetry(t *testing.T) {
	adapter := &scriptedAdapter{
		name: domain.ChannelEmail,
		err:  &channel.Error{Code: "SMTP_ERROR", Message: "boom", Retryable: true},
	}
	// No SMS adapter registered, so the fallback fails too and the primary
	// error is reported.
	f := newFixture(t, nil, adapter)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)
	if err := f.svc.Deliver(ctx, item); err != nil {
		t.Fatal(err)
	}

	n, _ := f.notifications.GetByID(ctx, id)
	if n.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", n.Status)
	}
	if n.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", n.RetryCount)
	}
	if n.NextRetryAt == nil {
		t.Fatal("next_retry_at not set")
	}
	wait := time.Until(*n.NextRetryAt)
	if wait < 50*time.Second || wait > 70*time.Second {
		t.Fatalf("first retry should be about a minute out, got %v", wait)
	}
	if n.ErrorCode == nil || *n.ErrorCode != "SMTP_ERROR" {
		t.Fatalf("error_code = %v", n.ErrorCode)
	}
}

func TestDeliver_TerminalFailureFails(t *testing.T) {
	adapter := &scriptedAdapter{
		name: domain.ChannelEmail,
		err:  &channel.Error{Code: "INVALID_RECIPIENT", Message: "bad address", Retryable: false},
	}
	f := newFixture(t, nil, adapter)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)
	if err := f.svc.Deliver(ctx, item); err != nil {
		t.Fatal(err)
	}

	n, _ := f.notifications.GetByID(ctx, id)
	if n.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", n.Status)
	}
	if n.RetryCount != 0 {
		t.Fatalf("terminal failure must not burn retries, retry_count = %d", n.RetryCount)
	}
}

func TestDeliver_RetriesExhausted(t *testing.T) {
	adapter := &scriptedAdapter{
		name: domain.ChannelEmail,
		err:  &channel.Error{Code: "SMTP_ERROR", Message: "boom", Retryable: true},
	}
	f := newFixture(t, nil, adapter)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)

	// Drive the row through every allowed retry.
	for {
		if err := f.svc.Deliver(ctx, item); err != nil {
			t.Fatal(err)
		}
		n, _ := f.notifications.GetByID(ctx, id)
		if n.Status == domain.StatusFailed {
			if n.RetryCount != n.MaxRetries-1 {
				t.Fatalf("failed at retry_count=%d with max_retries=%d", n.RetryCount, n.MaxRetries)
			}
			return
		}
		if n.Status != domain.StatusPending {
			t.Fatalf("unexpected status %s", n.Status)
		}
		// Re-lease for the next attempt as the sweeper would.
		if ok, _ := f.notifications.Lease(ctx, id); !ok {
			t.Fatal("re-lease failed")
		}
		item.Leased = true
	}
}

func TestDeliver_FallbackUsed(t *testing.T) {
	email := &scriptedAdapter{
		name: domain.ChannelEmail,
		err:  &channel.Error{Code: "SMTP_ERROR", Message: "down", Retryable: true},
	}
	sms := &scriptedAdapter{name: domain.ChannelSMS, msgID: "sm-7"}
	f := newFixture(t, nil, email, sms)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)
	if err := f.svc.Deliver(ctx, item); err != nil {
		t.Fatal(err)
	}

	n, _ := f.notifications.GetByID(ctx, id)
	if n.Status != domain.StatusSent {
		t.Fatalf("status = %s, want SENT via fallback", n.Status)
	}
	if n.ProviderMsgID == nil || *n.ProviderMsgID != "sm-7" {
		t.Fatalf("provider_message_id = %v", n.ProviderMsgID)
	}
	if sms.calls != 1 {
		t.Fatal("fallback adapter was not used")
	}
}

func TestDeliver_LeaseLost(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)

	// Another worker takes the lease first.
	if ok, _ := f.notifications.Lease(ctx, id); !ok {
		t.Fatal("setup lease failed")
	}

	err := f.svc.Deliver(ctx, item)
	if !errors.Is(err, domain.ErrLeaseNotAcquired) {
		t.Fatalf("expected ErrLeaseNotAcquired, got %v", err)
	}
}

func TestStatus_MasksRecipientAndScopesClient(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, id := submitAndDequeue(t, f)

	resp, err := f.svc.Status(ctx, f.client.ID, id)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Recipient != "us***@example.com" {
		t.Fatalf("recipient = %q, want masked", resp.Recipient)
	}

	if _, err := f.svc.Status(ctx, 999, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign client should get not found, got %v", err)
	}
}

func TestForceRetry(t *testing.T) {
	adapter := &scriptedAdapter{
		name: domain.ChannelEmail,
		err:  &channel.Error{Code: "INVALID_RECIPIENT", Message: "bad", Retryable: false},
	}
	f := newFixture(t, nil, adapter)
	ctx := context.Background()

	item, id := submitAndDequeue(t, f)
	if err := f.svc.Deliver(ctx, item); err != nil {
		t.Fatal(err)
	}

	resp, err := f.svc.ForceRetry(ctx, f.client.ID, id, "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", resp.Status)
	}

	n, _ := f.notifications.GetByID(ctx, id)
	if n.Status != domain.StatusPending || n.RetryCount != 0 {
		t.Fatalf("force retry must reset the row, got %+v", n)
	}
	if n.NextRetryAt == nil || !n.NextRetryAt.After(n.UpdatedAt) {
		t.Fatal("next_retry_at must be strictly after updated_at")
	}
	if _, ok := f.q.Dequeue(ctx); !ok {
		t.Fatal("force retry should re-enqueue")
	}

	var found bool
	for _, rec := range f.audit.Records {
		if rec.Action == domain.AuditForceRetry && rec.EntityID == id {
			found = true
		}
	}
	if !found {
		t.Fatal("force retry should be audited")
	}
}

func TestForceRetry_NonTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, id := submitAndDequeue(t, f)

	_, err := f.svc.ForceRetry(ctx, f.client.ID, id, "")
	if !errors.Is(err, domain.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable for a PENDING row, got %v", err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, 60 * time.Minute},
		{5, 240 * time.Minute},
		{6, 240 * time.Minute}, // clamped
		{0, time.Minute},
	}
	for _, tt := range tests {
		if got := backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
