package channel

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// stubAdapter lets router tests script the outcome per channel.
type stubAdapter struct {
	name       domain.Channel
	msgID      string
	err        *Error
	healthy    bool
	configured bool
	calls      int
}

func (s *stubAdapter) Send(context.Context, string, string, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.msgID, nil
}
func (s *stubAdapter) HealthCheck(context.Context) bool { return s.healthy }
func (s *stubAdapter) Name() domain.Channel             { return s.name }
func (s *stubAdapter) IsEnabled(context.Context) bool   { return true }
func (s *stubAdapter) IsConfigured() bool               { return s.configured }

func newTestRouter(configs repository.ChannelConfigRepository, adapters ...Adapter) *Router {
	return NewRouter(configs, zap.NewNop(), adapters...)
}

func TestRouter_SendSuccess(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	email := &stubAdapter{name: domain.ChannelEmail, msgID: "m1", configured: true}
	r := newTestRouter(configs, email)

	res := r.Send(context.Background(), domain.ChannelEmail, "a@b.com", "s", "b")
	if !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ProviderMsgID != "m1" || res.UsedChannel != domain.ChannelEmail {
		t.Fatalf("unexpected result %+v", res)
	}

	cfg, _ := configs.Get(context.Background(), domain.ChannelEmail)
	if cfg.DailySentCount != 1 {
		t.Fatalf("daily counter = %d, want 1", cfg.DailySentCount)
	}
}

func TestRouter_SendUnknownChannel(t *testing.T) {
	r := newTestRouter(repository.NewMockChannelConfigRepository())
	res := r.Send(context.Background(), domain.ChannelEmail, "a@b.com", "s", "b")
	if res.OK || res.ErrorCode != "UNKNOWN_CHANNEL" {
		t.Fatalf("expected UNKNOWN_CHANNEL, got %+v", res)
	}
	if res.Retryable {
		t.Fatal("UNKNOWN_CHANNEL must be terminal")
	}
}

func TestRouter_SendDisabledChannel(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	configs.Set(&domain.ChannelConfig{Channel: domain.ChannelSMS, Enabled: false})
	sms := &stubAdapter{name: domain.ChannelSMS, msgID: "m", configured: true}
	r := newTestRouter(configs, sms)

	res := r.Send(context.Background(), domain.ChannelSMS, "+15551234567", "", "b")
	if res.OK || res.ErrorCode != "CHANNEL_DISABLED" {
		t.Fatalf("expected CHANNEL_DISABLED, got %+v", res)
	}
	if sms.calls != 0 {
		t.Fatal("disabled channel must not reach the adapter")
	}
}

func TestRouter_SendDailyLimit(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	limit := 10
	configs.Set(&domain.ChannelConfig{
		Channel:        domain.ChannelEmail,
		Enabled:        true,
		DailyLimit:     &limit,
		DailySentCount: 10,
	})
	email := &stubAdapter{name: domain.ChannelEmail, msgID: "m", configured: true}
	r := newTestRouter(configs, email)

	res := r.Send(context.Background(), domain.ChannelEmail, "a@b.com", "s", "b")
	if res.OK || res.ErrorCode != "DAILY_LIMIT_EXCEEDED" {
		t.Fatalf("expected DAILY_LIMIT_EXCEEDED, got %+v", res)
	}
	if res.Retryable {
		t.Fatal("DAILY_LIMIT_EXCEEDED must be terminal")
	}
	if email.calls != 0 {
		t.Fatal("capped channel must not reach the adapter")
	}
}

func TestRouter_FallbackOnRetryableFailure(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	email := &stubAdapter{
		name:       domain.ChannelEmail,
		err:        &Error{Code: "SMTP_ERROR", Message: "boom", Retryable: true},
		configured: true,
	}
	sms := &stubAdapter{name: domain.ChannelSMS, msgID: "sm1", configured: true}
	r := newTestRouter(configs, email, sms)

	res := r.SendWithFallback(context.Background(), domain.ChannelEmail, "a@b.com", "s", "b")
	if !res.OK {
		t.Fatalf("expected fallback success, got %+v", res)
	}
	if res.UsedChannel != domain.ChannelSMS {
		t.Fatalf("used channel = %s, want SMS", res.UsedChannel)
	}
	if res.ProviderMsgID != "sm1" {
		t.Fatalf("msgID = %q", res.ProviderMsgID)
	}
}

func TestRouter_NoFallbackOnTerminalFailure(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	email := &stubAdapter{
		name:       domain.ChannelEmail,
		err:        &Error{Code: "INVALID_RECIPIENT", Message: "bad address", Retryable: false},
		configured: true,
	}
	sms := &stubAdapter{name: domain.ChannelSMS, msgID: "sm1", configured: true}
	r := newTestRouter(configs, email, sms)

	res := r.SendWithFallback(context.Background(), domain.ChannelEmail, "a@b.com", "s", "b")
	if res.OK {
		t.Fatal("terminal failure must not succeed via fallback")
	}
	if res.ErrorCode != "INVALID_RECIPIENT" {
		t.Fatalf("error code = %s", res.ErrorCode)
	}
	if sms.calls != 0 {
		t.Fatal("fallback adapter must not be called on a terminal failure")
	}
}

func TestRouter_FallbackFailureReportsPrimary(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	email := &stubAdapter{
		name:       domain.ChannelEmail,
		err:        &Error{Code: "SMTP_ERROR", Message: "primary down", Retryable: true},
		configured: true,
	}
	sms := &stubAdapter{
		name:       domain.ChannelSMS,
		err:        &Error{Code: "SERVER_ERROR", Message: "secondary down", Retryable: true},
		configured: true,
	}
	r := newTestRouter(configs, email, sms)

	res := r.SendWithFallback(context.Background(), domain.ChannelEmail, "a@b.com", "s", "b")
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.ErrorCode != "SMTP_ERROR" || res.UsedChannel != domain.ChannelEmail {
		t.Fatalf("should report the primary failure, got %+v", res)
	}
	if sms.calls != 1 {
		t.Fatal("fallback should have been attempted once")
	}
}

func TestRouter_HealthCheckAll(t *testing.T) {
	configs := repository.NewMockChannelConfigRepository()
	email := &stubAdapter{name: domain.ChannelEmail, healthy: true, configured: true}
	sms := &stubAdapter{name: domain.ChannelSMS, healthy: false, configured: true}
	whatsapp := &stubAdapter{name: domain.ChannelWhatsApp, configured: false}
	r := newTestRouter(configs, email, sms, whatsapp)

	got := r.HealthCheckAll(context.Background())

	if got[domain.ChannelEmail] != domain.HealthHealthy {
		t.Errorf("email = %s", got[domain.ChannelEmail])
	}
	if got[domain.ChannelSMS] != domain.HealthUnhealthy {
		t.Errorf("sms = %s", got[domain.ChannelSMS])
	}
	if _, ok := got[domain.ChannelWhatsApp]; ok {
		t.Error("unconfigured adapter must be skipped")
	}

	cfg, _ := configs.Get(context.Background(), domain.ChannelEmail)
	if cfg.HealthStatus != domain.HealthHealthy || cfg.LastHealthCheck == nil {
		t.Error("health outcome should be recorded on the config row")
	}
}
