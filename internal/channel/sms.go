package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// SMSConfig carries the SMS gateway credentials (Twilio-compatible API).
type SMSConfig struct {
	APIURL     string // base URL up to /Accounts
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

// SMSAdapter delivers notifications through a form-encoded SMS gateway API.
type SMSAdapter struct {
	cfg        SMSConfig
	configs    repository.ChannelConfigRepository
	httpClient *http.Client
	logger     *zap.Logger
}

func NewSMSAdapter(cfg SMSConfig, configs repository.ChannelConfigRepository, logger *zap.Logger) *SMSAdapter {
	return &SMSAdapter{
		cfg:        cfg,
		configs:    configs,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (a *SMSAdapter) Name() domain.Channel { return domain.ChannelSMS }

func (a *SMSAdapter) IsConfigured() bool {
	return a.cfg.AccountSID != "" && a.cfg.AuthToken != "" && a.cfg.FromNumber != ""
}

func (a *SMSAdapter) IsEnabled(ctx context.Context) bool {
	cfg, err := a.configs.Get(ctx, domain.ChannelSMS)
	return err == nil && cfg.Enabled
}

func (a *SMSAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	masked := domain.MaskRecipient(domain.ChannelSMS, recipient)
	a.logger.Info("sending sms", zap.String("recipient", masked))

	if !a.IsConfigured() {
		return "", &Error{Code: "NOT_CONFIGURED", Message: "SMS gateway not configured", Retryable: false}
	}

	form := url.Values{}
	form.Set("To", NormalizePhone(recipient))
	form.Set("From", a.cfg.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/%s/Messages.json", a.cfg.APIURL, a.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Code: "API_ERROR", Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &Error{Code: "API_ERROR", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			SID    string `json:"sid"`
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", &Error{Code: "API_ERROR", Message: "malformed gateway response", Retryable: true}
		}
		a.logger.Info("sms sent",
			zap.String("recipient", masked),
			zap.String("provider_msg_id", out.SID),
			zap.String("status", out.Status))
		return out.SID, nil
	case resp.StatusCode == http.StatusBadRequest:
		return "", &Error{
			Code:      "INVALID_RECIPIENT",
			Message:   fmt.Sprintf("SMS gateway rejected the request (status %d)", resp.StatusCode),
			Retryable: false,
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &Error{
			Code:      "SERVER_ERROR",
			Message:   fmt.Sprintf("SMS gateway status %d", resp.StatusCode),
			Retryable: true,
		}
	default:
		return "", &Error{
			Code:      "API_ERROR",
			Message:   fmt.Sprintf("SMS gateway status %d", resp.StatusCode),
			Retryable: false,
		}
	}
}

func (a *SMSAdapter) HealthCheck(ctx context.Context) bool {
	if !a.IsConfigured() {
		return false
	}
	endpoint := fmt.Sprintf("%s/%s.json", a.cfg.APIURL, a.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("sms health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

var nonPhoneChars = regexp.MustCompile(`[^+0-9]`)

// NormalizePhone converts a free-form phone number to E.164: non-digits are
// stripped, a leading 8 on an 11-digit national number becomes +7, and a
// missing plus is prefixed.
func NormalizePhone(phone string) string {
	normalized := nonPhoneChars.ReplaceAllString(phone, "")
	if normalized == "" {
		return normalized
	}
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	if strings.HasPrefix(normalized, "8") && len(normalized) == 11 {
		return "+7" + normalized[1:]
	}
	return "+" + normalized
}

var _ Adapter = (*SMSAdapter)(nil)
