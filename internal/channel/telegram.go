package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/dispatch/internal/domain"
	"github.com/notifyhub/dispatch/internal/repository"
)

// TelegramConfig carries Bot API credentials.
type TelegramConfig struct {
	BotToken string
	APIURL   string // e.g. https://api.telegram.org; tests point this at a local server
	Timeout  time.Duration
}

// TelegramAdapter delivers notifications through the Telegram Bot API.
// Recipients are chat ids; Markdown formatting is enabled.
type TelegramAdapter struct {
	cfg        TelegramConfig
	configs    repository.ChannelConfigRepository
	httpClient *http.Client
	logger     *zap.Logger
}

func NewTelegramAdapter(cfg TelegramConfig, configs repository.ChannelConfigRepository, logger *zap.Logger) *TelegramAdapter {
	return &TelegramAdapter{
		cfg:        cfg,
		configs:    configs,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (a *TelegramAdapter) Name() domain.Channel { return domain.ChannelTelegram }

func (a *TelegramAdapter) IsConfigured() bool { return a.cfg.BotToken != "" }

func (a *TelegramAdapter) IsEnabled(ctx context.Context) bool {
	cfg, err := a.configs.Get(ctx, domain.ChannelTelegram)
	return err == nil && cfg.Enabled
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (a *TelegramAdapter) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	masked := domain.MaskRecipient(domain.ChannelTelegram, recipient)
	a.logger.Info("sending telegram message", zap.String("recipient", masked))

	if !a.IsConfigured() {
		return "", &Error{Code: "NOT_CONFIGURED", Message: "Telegram bot token not configured", Retryable: false}
	}

	text := body
	if subject != "" {
		text = "*" + EscapeMarkdown(subject) + "*\n\n" + body
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":    recipient,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return "", &Error{Code: "API_ERROR", Message: err.Error(), Retryable: false}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", a.cfg.APIURL, a.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Code: "API_ERROR", Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures are transient.
		return "", &Error{Code: "API_ERROR", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil && resp.StatusCode < 300 {
		return "", &Error{Code: "API_ERROR", Message: "malformed Telegram response", Retryable: true}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300 && tr.OK:
		msgID := fmt.Sprintf("%d", tr.Result.MessageID)
		a.logger.Info("telegram message sent",
			zap.String("recipient", masked), zap.String("provider_msg_id", msgID))
		return msgID, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &Error{
			Code:      "SERVER_ERROR",
			Message:   fmt.Sprintf("Telegram API status %d: %s", resp.StatusCode, tr.Description),
			Retryable: true,
		}
	case resp.StatusCode >= 400:
		code := "API_ERROR"
		if isUnknownRecipient(tr.Description) {
			code = "INVALID_RECIPIENT"
		}
		return "", &Error{
			Code:      code,
			Message:   fmt.Sprintf("Telegram API status %d: %s", resp.StatusCode, tr.Description),
			Retryable: false,
		}
	default:
		return "", &Error{
			Code:      "API_ERROR",
			Message:   "Telegram API error: " + tr.Description,
			Retryable: true,
		}
	}
}

func (a *TelegramAdapter) HealthCheck(ctx context.Context) bool {
	if !a.IsConfigured() {
		return false
	}
	url := fmt.Sprintf("%s/bot%s/getMe", a.cfg.APIURL, a.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.Warn("telegram health check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return false
	}
	return tr.OK
}

// isUnknownRecipient reports whether a Bot API error description points at
// the chat id rather than the payload. The API reports addressing problems
// only through this text.
func isUnknownRecipient(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "chat not found") ||
		strings.Contains(d, "user not found") ||
		strings.Contains(d, "bot was blocked") ||
		strings.Contains(d, "user is deactivated")
}

var markdownEscaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"`", "\\`",
)

// EscapeMarkdown escapes the Markdown control characters Telegram parses in
// the bolded subject line.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

var _ Adapter = (*TelegramAdapter)(nil)
